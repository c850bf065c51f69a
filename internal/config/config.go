package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address      string `yaml:"address"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		EventChannel string `yaml:"event_channel"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	API struct {
		Enabled bool   `yaml:"enabled"`
		Port    int    `yaml:"port"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"api"`

	Engine struct {
		ScanIntervalSeconds      int     `yaml:"scan_interval_seconds"`
		ReconcileIntervalSeconds int     `yaml:"reconcile_interval_seconds"`
		AutoCheckoutGraceMinutes int     `yaml:"auto_checkout_grace_minutes"`
		BookingTimeoutSeconds    int     `yaml:"booking_timeout_seconds"`
		EventRatePerSecond       float64 `yaml:"event_rate_per_second"`
		EventBurst               int     `yaml:"event_burst"`
	} `yaml:"engine"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/gymflow.db"
	}
	if cfg.Redis.EventChannel == "" {
		cfg.Redis.EventChannel = "gymflow:events"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ScanInterval() time.Duration {
	if c.Engine.ScanIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Engine.ScanIntervalSeconds) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	if c.Engine.ReconcileIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Engine.ReconcileIntervalSeconds) * time.Second
}

func (c *Config) AutoCheckoutGrace() time.Duration {
	if c.Engine.AutoCheckoutGraceMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Engine.AutoCheckoutGraceMinutes) * time.Minute
}

func (c *Config) BookingTimeout() time.Duration {
	if c.Engine.BookingTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Engine.BookingTimeoutSeconds) * time.Second
}
