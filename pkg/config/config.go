package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(td)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the engine configuration, loaded from yaml and overridable via
// ROOMLINE_* environment variables.
type Config struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Engine struct {
		// LocalUserID enables heuristic echo matching for this user.
		LocalUserID string `yaml:"local_user_id"`
		// TimeZone is the IANA zone used for day dividers; default UTC.
		TimeZone string `yaml:"time_zone"`

		PendingPerTarget int      `yaml:"pending_per_target"`
		PendingMaxAge    Duration `yaml:"pending_max_age"`
		EchoMatchWindow  Duration `yaml:"echo_match_window"`
		FailedEchoMaxAge Duration `yaml:"failed_echo_max_age"`

		QueueCapacity    int `yaml:"queue_capacity"`
		BatchSize        int `yaml:"batch_size"`
		SubscriberBuffer int `yaml:"subscriber_buffer"`
	} `yaml:"engine"`

	Janitor struct {
		Enabled bool `yaml:"enabled"`
		// Cron defaults to every ten minutes when enabled.
		Cron string `yaml:"cron"`
	} `yaml:"janitor"`

	Telemetry struct {
		// Addr enables a standalone metrics listener when non-empty,
		// e.g. "127.0.0.1:9464".
		Addr string `yaml:"addr"`
	} `yaml:"telemetry"`
}

// Load reads the yaml file at path (skipped when path is empty) and applies
// environment overrides.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ROOMLINE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ROOMLINE_LOCAL_USER_ID"); v != "" {
		cfg.Engine.LocalUserID = v
	}
	if v := os.Getenv("ROOMLINE_TIME_ZONE"); v != "" {
		cfg.Engine.TimeZone = v
	}
	if v := os.Getenv("ROOMLINE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.QueueCapacity = n
		}
	}
	if v := os.Getenv("ROOMLINE_JANITOR_CRON"); v != "" {
		cfg.Janitor.Cron = v
		cfg.Janitor.Enabled = true
	}
	if v := os.Getenv("ROOMLINE_TELEMETRY_ADDR"); v != "" {
		cfg.Telemetry.Addr = v
	}
}

// Zone resolves the configured display time zone, defaulting to UTC.
func (c Config) Zone() (*time.Location, error) {
	if c.Engine.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Engine.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", c.Engine.TimeZone, err)
	}
	return loc, nil
}
