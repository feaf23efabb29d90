package main

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"
)

// Config holds the application configuration
type Config struct {
	Socket      string `mapstructure:"socket"`
	Tag         string `mapstructure:"tag"`
	Selector    string `mapstructure:"selector"`
	Flags       string `mapstructure:"flags"`
	LogLevel    string `mapstructure:"log_level"`
	Color       bool   `mapstructure:"color"`
	Concurrency int    `mapstructure:"concurrency"`
	History     string `mapstructure:"history"`
}

// newViper returns a viper instance with every default set.
func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("socket", filepath.Join(os.TempDir(), "domwrap.sock"))
	v.SetDefault("tag", defaultTag)
	v.SetDefault("selector", defaultSelector)
	v.SetDefault("flags", "g")
	v.SetDefault("log_level", "info")
	v.SetDefault("color", true)
	v.SetDefault("concurrency", runtime.NumCPU())
	v.SetDefault("history", "")

	v.SetEnvPrefix("DOMWRAP")
	v.AutomaticEnv()
	return v
}

// loadConfig reads cfgFile, or domwrap.yaml from the usual places when it
// is empty. A missing default file is not an error.
func loadConfig(v *viper.Viper, cfgFile string) (Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("domwrap")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "domwrap"))
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, errors.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Errorf("decoding config: %w", err)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return cfg, nil
}
