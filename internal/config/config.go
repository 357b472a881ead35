// This file defines the configuration structure for the application.
package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Throttle struct {
		// RequestsPerSecond is the default throttle for submitted tasks
		// that do not set their own. -1 means unthrottled.
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		BatchSize         int     `mapstructure:"batch_size"`
	} `mapstructure:"throttle"`
	Tasks struct {
		// Finished tasks stay visible in the API for this many minutes
		// before the prune job removes them.
		RetentionMinutes     int `mapstructure:"retention_minutes"`
		PruneIntervalMinutes int `mapstructure:"prune_interval_minutes"`
	} `mapstructure:"tasks"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct. Environment
// variables with a "SCROLLPACE_" prefix override file values, e.g.
// SCROLLPACE_DATABASE_PATH overrides `database.path`.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("SCROLLPACE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("port", 8080)
	viper.SetDefault("database.path", "./scrollpace.db")
	viper.SetDefault("throttle.requests_per_second", -1)
	viper.SetDefault("throttle.batch_size", 500)
	viper.SetDefault("tasks.retention_minutes", 60)
	viper.SetDefault("tasks.prune_interval_minutes", 10)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
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

// Watch re-reads the config file whenever it changes on disk and hands
// the fresh Config to onChange. Only throttle defaults and task
// retention take effect live; port and database path need a restart.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("Config file changed: %s", e.Name)
		var config Config
		if err := viper.Unmarshal(&config); err != nil {
			log.Printf("Ignoring config change, unmarshal failed: %v", err)
			return
		}
		onChange(&config)
	})
	viper.WatchConfig()
}
