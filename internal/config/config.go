// This file defines the configuration structure for the application.
package config

import (
	// use Viper for loading the config.yml file.
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Cache struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"cache"`
	Downloads struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"downloads"`
	Plugins struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"plugins"`
	Updates struct {
		// Interval in minutes between scans for due subscriptions.
		ScanInterval int    `mapstructure:"scan_interval"`
		UserAgent    string `mapstructure:"user_agent"`
		// When enabled, subscriptions without a channel icon fall back to a
		// favicon service keyed on the channel host.
		Favicons bool `mapstructure:"favicons"`
		// Read, non-favourite articles whose last read time is older than
		// this many days are removed by the expiry sweep. 0 disables it.
		ExpiryDays int `mapstructure:"expiry_days"`
	} `mapstructure:"updates"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")

	// Environment variable overrides. FEEDHAVEN_DATABASE_PATH overrides
	// the `database.path` key, and so on.
	viper.SetEnvPrefix("FEEDHAVEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("port", 8090)
	viper.SetDefault("database.path", "./feedhaven.db")
	viper.SetDefault("cache.path", "./cache")
	viper.SetDefault("downloads.path", "./downloads")
	viper.SetDefault("plugins.path", "./plugins")
	viper.SetDefault("updates.scan_interval", 5)
	viper.SetDefault("updates.user_agent", "feedhaven/1.0")
	viper.SetDefault("updates.favicons", true)
	viper.SetDefault("updates.expiry_days", 0)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error and use defaults
		} else {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
