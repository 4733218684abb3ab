// Package conftools loads configuration from a YAML file, the environment and flags through viper.
package conftools

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const redacted = "***REDACTED***"

func decoderHook(dc *mapstructure.DecoderConfig) {
	dc.TagName = "json"
	dc.ErrorUnused = true
	dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Initialize makes configuration options readable from the environment, prefixed with
// the upper-cased application name, and from an optional YAML file named after it.
func Initialize(name string) {
	viper.SetEnvPrefix(name)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetConfigName(name)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/" + name)
	viper.AddConfigPath(".")
}

// Load parses the command line and decodes every known key into cfg.
// A missing configuration file is not an error.
func Load(cfg interface{}) error {
	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("read configuration file: %w", err)
	}

	flag.Parse()

	err = viper.BindPFlags(flag.CommandLine)
	if err != nil {
		return err
	}

	return Decode(cfg)
}

// Decode unmarshals the current viper settings into cfg without touching flags.
func Decode(cfg interface{}) error {
	err := viper.Unmarshal(cfg, decoderHook)
	if err != nil {
		return fmt.Errorf("decode configuration: %w", err)
	}
	return nil
}

// Format returns one "key: value" line per option, sorted by key, with secrets redacted.
func Format(secrets []string) []string {
	hidden := make(map[string]bool, len(secrets))
	for _, key := range secrets {
		hidden[key] = true
	}

	keys := viper.AllKeys()
	sort.Strings(keys)

	printed := make([]string, 0, len(keys))
	for _, key := range keys {
		value := viper.Get(key)
		if hidden[key] {
			value = redacted
		}
		printed = append(printed, fmt.Sprintf("%s: %v", key, value))
	}
	return printed
}
