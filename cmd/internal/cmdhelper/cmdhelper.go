package cmdhelper

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/internal/logging"
)

// Exit codes of the tool.
const (
	ExitSuccess        = 0
	ExitUsage          = 1
	ExitPartialFailure = 2
	ExitFatal          = 3
	ExitInterrupt      = 130
)

// Usagef reports a usage error and returns the usage exit code.
func Usagef(format string, args ...any) int {
	printErr(format, args...)
	return ExitUsage
}

// Fatalf reports a fatal error and returns the fatal exit code.
func Fatalf(format string, args ...any) int {
	printErr(format, args...)
	return ExitFatal
}

func printErr(format string, args ...any) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	fmt.Fprintf(os.Stderr, format, args...)
}

type OSConfigReader struct {
	ConfigPath string
}

func (r OSConfigReader) Read(config api.GlobalConfig) (api.GlobalConfig, error) {
	file, err := os.Open(r.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, api.ErrConfigNotFound
		}
		return config, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	err = decoder.Decode(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

type FlagPreset uint

const (
	FlagPresetNone    FlagPreset = 0
	FlagPresetSession            = 1 << iota
	FlagPresetPipeline
	FlagPresetFilter
)

func globalFlags(flagSet *flag.FlagSet, preset FlagPreset) *api.GlobalConfig {
	config := &api.GlobalConfig{}
	flagSet.StringVar(&config.LogLevel, "log_level", "", `Log level. One of "error", "warning", "basic", "debug"`)
	if preset&FlagPresetSession != 0 {
		flagSet.StringVar(&config.Server, "server", "", `Game server region. One of "japan", "global"`)
		flagSet.StringVar(&config.Platform, "platform", "", `App platform. One of "android", "ios"`)
		flagSet.StringVar(&config.Version, "version", "", `App version string ("X.Y.Z") for the handshake`)
		flagSet.StringVar(&config.Hash, "hash", "", "App hash (a UUID) for the handshake")
	}
	if preset&FlagPresetPipeline != 0 {
		flagSet.IntVar(&config.Concurrency, "concurrency", 0, "Number of parallel workers. Zero means one per logical CPU")
		flagSet.IntVar(&config.Retry, "retry", 0, "Per-request retry budget")
	}
	if preset&FlagPresetFilter != 0 {
		flagSet.StringVar(&config.Filter, "filter", "", "Only fetch assetbundles whose name matches this regex")
	}
	return config
}

// InjectGlobalFlagsAndConfigure registers the shared flags on flagSet,
// parses args and merges the optional JSON config file under them.
func InjectGlobalFlagsAndConfigure(args []string, flagSet *flag.FlagSet, preset FlagPreset) (api.GlobalConfig, error) {
	var configPath string
	ignoreMissing := true

	if configPathEnv, ok := os.LookupEnv(api.ConfigFileEnv); ok {
		configPath = configPathEnv
		ignoreMissing = false
	}
	flagSet.Func("config", "Path to the config file", func(configPathFlag string) error {
		configPath = configPathFlag
		ignoreMissing = false
		return nil
	})

	flagConfig := globalFlags(flagSet, preset)
	if err := flagSet.Parse(args); err != nil {
		return api.GlobalConfig{}, err
	}

	fileConfig, err := readConfigFileOrDefault(configPath, ignoreMissing)
	if err != nil {
		return api.GlobalConfig{}, err
	}

	config, err := mergeConfigs(fileConfig, *flagConfig)
	if err != nil {
		return api.GlobalConfig{}, err
	}

	// --log_level outranks the environment, which outranks the config file.
	if _, fromEnv := os.LookupEnv(api.LogLevelEnv); !fromEnv || flagConfig.LogLevel != "" {
		logging.SetLevel(logging.FromString(config.LogLevel))
	}
	return config, config.Validate()
}

func readConfigFileOrDefault(configPath string, ignoreMissing bool) (api.GlobalConfig, error) {
	config := api.DefaultConfig()

	if ignoreMissing && configPath == "" {
		// default config (parse if exists)
		configPath = ".twintail.json"
	}
	configReader := OSConfigReader{ConfigPath: configPath}
	config, err := api.ReadConfig(configReader, config)
	if ignoreMissing && err == api.ErrConfigNotFound {
		return config, nil
	} else if err != nil {
		return api.GlobalConfig{}, fmt.Errorf("reading config from %s: %w", configPath, err)
	}
	return config, nil
}

func mergeConfigs(base, overlay api.GlobalConfig) (api.GlobalConfig, error) {
	overlayJSON, err := json.Marshal(overlay)
	if err != nil {
		return api.GlobalConfig{}, err
	}

	decoder := json.NewDecoder(bytes.NewReader(overlayJSON))
	decoder.DisallowUnknownFields()

	merged := base
	err = decoder.Decode(&merged)
	if err != nil {
		return api.GlobalConfig{}, err
	}
	return merged, nil
}
