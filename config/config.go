// Package config loads runtime configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime's configuration tree.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Data struct {
		// Dir is the root for all runtime persistence (state, checkpoints,
		// progress, execution logs, retry records).
		Dir string `mapstructure:"dir"`
	} `mapstructure:"data"`

	Checkpoint struct {
		AutoInterval time.Duration `mapstructure:"auto_interval"`
	} `mapstructure:"checkpoint"`

	Progress struct {
		CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
		BroadcastInterval  time.Duration `mapstructure:"broadcast_interval"`
		HistoryWindow      int           `mapstructure:"history_window"`
	} `mapstructure:"progress"`

	Retry struct {
		MaxRetries   int           `mapstructure:"max_retries"`
		InitialDelay time.Duration `mapstructure:"initial_delay"`
		MaxDelay     time.Duration `mapstructure:"max_delay"`
	} `mapstructure:"retry"`

	Index struct {
		// Driver selects the execution index backend: "memory", "sqlite",
		// or "mysql".
		Driver string `mapstructure:"driver"`
		// DSN is the SQLite path or MySQL DSN.
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"index"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Load reads wrenchai.yaml (from path, the working directory, or
// $HOME/.wrenchai) plus WRENCHAI_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("wrenchai")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.wrenchai")
	}
	v.SetEnvPrefix("WRENCHAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file is fine; defaults plus env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("data.dir", "data")
	v.SetDefault("checkpoint.auto_interval", 5*time.Minute)
	v.SetDefault("progress.checkpoint_interval", 30*time.Second)
	v.SetDefault("progress.broadcast_interval", 2*time.Second)
	v.SetDefault("progress.history_window", 10)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", time.Second)
	v.SetDefault("retry.max_delay", time.Minute)
	v.SetDefault("index.driver", "sqlite")
	v.SetDefault("index.dsn", "")
	v.SetDefault("log.level", "info")
}
