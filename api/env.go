package api

// Environment variables consulted at the CLI boundary.
// The core itself reads no environment variables; region and platform
// selection is always explicit.
const (
	// LogLevelEnv is the environment variable used to set the log level.
	LogLevelEnv = "TWINTAIL_LOGGING"
	// ConfigFileEnv is the environment variable used to set the configuration file.
	ConfigFileEnv = "TWINTAIL_CONFIG_FILE"
)
