package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "GDRIVE_GO_CONFIG"
	EnvSecrets  = "GDRIVE_GO_SECRETS"
	EnvLogLevel = "GDRIVE_GO_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // GDRIVE_GO_CONFIG: config file path
	SecretsPath string // GDRIVE_GO_SECRETS: client secrets file path
	LogLevel    string // GDRIVE_GO_LOG_LEVEL: debug|info|warn|error
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		SecretsPath: os.Getenv(EnvSecrets),
		LogLevel:    os.Getenv(EnvLogLevel),
	}
}

// CLIOverrides holds values from command-line flags. Empty means unset.
type CLIOverrides struct {
	ConfigPath  string
	SecretsPath string
	LogLevel    string
}
