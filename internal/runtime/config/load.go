package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. STONEKIT_APP_DEBUG=true.
const EnvPrefix = "STONEKIT"

// Load reads options from path (yaml, json or toml by extension), applies
// environment overrides, defaults and validation. An empty path, or a path
// that does not exist, yields the validated defaults.
func Load(path string) (*Options, error) {
	v := viper.New()
	setupViper(v, path)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	opts := &Options{}
	if found {
		if err := v.Unmarshal(opts, viper.DecodeHook(decodeHooks())); err != nil {
			return nil, fmt.Errorf("stonekit: failed to unmarshal config: %w", err)
		}
	}
	ApplyDefaults(opts)

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func setupViper(v *viper.Viper, path string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if v.ConfigFileUsed() == "" {
		return false, nil
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stonekit: failed to read config file: %w", err)
	}
	return true, nil
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
