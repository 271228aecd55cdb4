package api

import (
	"errors"
	"regexp"
	"strings"
)

// GlobalConfig is the configuration shared by all subcommands.
// It can be read from a JSON file or passed as command-line flags.
type GlobalConfig struct {
	// Server selects the region deployment. One of "japan", "global".
	Server string `json:"server,omitempty"`
	// Platform the credentials belong to. One of "android", "ios".
	Platform string `json:"platform,omitempty"`
	// Version is the app version string ("X.Y.Z") used during the handshake.
	Version string `json:"version,omitempty"`
	// Hash is the app hash (a UUID) used during the handshake.
	Hash string `json:"hash,omitempty"`
	// Concurrency is the number of pipeline workers.
	// Zero means one worker per logical CPU, capped at 32.
	Concurrency int `json:"concurrency,omitempty"`
	// Retry is the per-request retry budget.
	Retry int `json:"retry,omitempty"`
	// ConnectTimeoutSeconds is the per-request connect timeout.
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds,omitempty"`
	// ReadTimeoutSeconds is the per-request read timeout.
	ReadTimeoutSeconds int `json:"read_timeout_seconds,omitempty"`
	// Filter restricts fetched assetbundles to names matching this regex.
	Filter string `json:"filter,omitempty"`
	// Log level. One of "error", "warning", "basic", "debug".
	// Note that some messages are always printed, regardless of the log level (e.g. errors).
	LogLevel string `json:"log_level,omitempty"`
}

func (c GlobalConfig) Validate() error {
	issues := []string{}
	if _, ok := RegionFromString(c.Server); !ok {
		issues = append(issues, `server must be one of "japan", "global"`)
	}
	if _, ok := PlatformFromString(c.Platform); !ok {
		issues = append(issues, `platform must be one of "android", "ios"`)
	}
	if c.Concurrency < 0 {
		issues = append(issues, `concurrency must be a non-negative integer`)
	}
	if c.Retry < 0 {
		issues = append(issues, `retry must be a non-negative integer`)
	}
	if c.Filter != "" {
		if _, err := regexp.Compile(c.Filter); err != nil {
			issues = append(issues, "filter must be a valid regular expression: "+err.Error())
		}
	}
	switch c.LogLevel {
	case "", "error", "warning", "basic", "debug": // allowed
	default:
		issues = append(issues, `log_level must be one of "error", "warning", "basic", "debug"`)
	}

	if len(issues) > 0 {
		return errors.New("config validation failed: \n  " + strings.Join(issues, "\n  "))
	}
	return nil
}

// Region returns the parsed server region.
// Validate must have accepted the config first.
func (c GlobalConfig) Region() Region {
	region, _ := RegionFromString(c.Server)
	return region
}

// AppPlatform returns the parsed platform.
// Validate must have accepted the config first.
func (c GlobalConfig) AppPlatform() Platform {
	platform, _ := PlatformFromString(c.Platform)
	return platform
}

// Credentials assembles the app credentials for the handshake.
func (c GlobalConfig) Credentials() AppCredentials {
	return AppCredentials{
		Version:  c.Version,
		Hash:     c.Hash,
		Platform: c.AppPlatform(),
	}
}

type ConfigReader interface {
	Read(baseConfig GlobalConfig) (GlobalConfig, error)
}

func ReadConfig(reader ConfigReader, config GlobalConfig) (GlobalConfig, error) {
	return reader.Read(config)
}

func DefaultConfig() GlobalConfig {
	return GlobalConfig{
		Server:                "japan",
		Platform:              "android",
		Concurrency:           0, // one worker per logical CPU
		Retry:                 3,
		ConnectTimeoutSeconds: 10,
		ReadTimeoutSeconds:    30,
		LogLevel:              "basic",
	}
}

var ErrConfigNotFound = errors.New("config file not found")
