// Package config loads gdrive-go's settings: the TOML application config,
// environment overrides, and the Google OAuth client secrets file.
package config

import "time"

// Config is the parsed application config file. Every section is optional;
// DefaultConfig fills the gaps.
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
	Cache     CacheConfig     `toml:"cache"`
	Listing   ListingConfig   `toml:"listing"`
	Transfers TransfersConfig `toml:"transfers"`
}

// LoggingConfig controls the stderr logger.
type LoggingConfig struct {
	LogLevel string `toml:"log_level" validate:"oneof=debug info warn error"`
}

// NetworkConfig controls HTTP behavior and endpoints. Timeout bounds
// metadata calls only; transfers run until done or canceled.
type NetworkConfig struct {
	Timeout       string `toml:"timeout" validate:"duration"`
	APIBaseURL    string `toml:"api_base_url" validate:"required,url"`
	UploadBaseURL string `toml:"upload_base_url" validate:"required,url"`
	UserInfoURL   string `toml:"user_info_url" validate:"required,url"`
}

// CacheConfig controls the folder listing cache.
type CacheConfig struct {
	TTL string `toml:"ttl" validate:"duration"`
}

// ListingConfig controls folder listing requests.
type ListingConfig struct {
	PageSize int `toml:"page_size" validate:"min=1,max=1000"`
}

// TransfersConfig controls where downloads land by default.
type TransfersConfig struct {
	DownloadDir string `toml:"download_dir"` // current directory when empty
}

// TimeoutDuration returns the parsed metadata timeout.
func (n *NetworkConfig) TimeoutDuration() time.Duration {
	return mustDuration(n.Timeout)
}

// TTLDuration returns the parsed cache TTL.
func (c *CacheConfig) TTLDuration() time.Duration {
	return mustDuration(c.TTL)
}

// mustDuration parses a duration that validation has already accepted.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
