package config

import "github.com/tonimelisma/gdrive-go/internal/gdrive"

// Default values for every config key.
const (
	defaultLogLevel = "info"
	defaultTimeout  = "30s"
	defaultCacheTTL = "5m"
	defaultPageSize = gdrive.DefaultPageSize
)

// DefaultConfig returns a Config with every key at its default.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{LogLevel: defaultLogLevel},
		Network: NetworkConfig{
			Timeout:       defaultTimeout,
			APIBaseURL:    gdrive.DefaultAPIBaseURL,
			UploadBaseURL: gdrive.DefaultUploadBaseURL,
			UserInfoURL:   gdrive.DefaultUserInfoURL,
		},
		Cache:   CacheConfig{TTL: defaultCacheTTL},
		Listing: ListingConfig{PageSize: defaultPageSize},
	}
}
