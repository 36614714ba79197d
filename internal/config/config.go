package config

import (
	"fmt"
	"time"

	"automation-engine/internal/provider"
	"automation-engine/internal/service/trial"
	pkgconfig "automation-engine/pkg/config"
	"automation-engine/pkg/otel"
)

type LogConfig struct {
	Level string `yaml:"level"`
}

// DispatchConfig tunes sending, draining and reconciliation.
type DispatchConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	DrainInterval     time.Duration `yaml:"drain_interval"`
	DrainBatchSize    int           `yaml:"drain_batch_size"`
	ReconcilePageSize int           `yaml:"reconcile_page_size"`
	ReconcileMaxPages int           `yaml:"reconcile_max_pages"`
	DedupTTL          time.Duration `yaml:"dedup_ttl"`
	RetryTTL          time.Duration `yaml:"retry_ttl"`
	Prefetch          int           `yaml:"prefetch"`
	HealthPort        string        `yaml:"health_port"`
}

// OutboxConfig tunes publication of automation.rule_fired events.
type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type SettingsConfig struct {
	// EncryptionKey is the base64 secretbox key for stored provider API keys.
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	DB       pkgconfig.DBConfig     `yaml:"db"`
	MQ       pkgconfig.MQConfig     `yaml:"mq"`
	Redis    pkgconfig.RedisConfig  `yaml:"redis"`
	JWT      pkgconfig.JWTConfig    `yaml:"jwt"`
	Server   pkgconfig.ServerConfig `yaml:"server"`
	Log      LogConfig              `yaml:"log"`
	Provider provider.Config        `yaml:"provider"`
	Dispatch DispatchConfig         `yaml:"dispatch"`
	Trial    trial.Config           `yaml:"trial"`
	Settings SettingsConfig         `yaml:"settings"`
	Tracing  otel.Config            `yaml:"tracing"`
	Outbox   OutboxConfig           `yaml:"outbox"`
}

// Load reads config/<CONFIG_ENV>.yaml over config/base.yaml and applies env overrides.
func Load() (*Config, error) {
	dir := pkgconfig.GetEnv("CONFIG_DIR", "config")
	raw, err := pkgconfig.LoadConfig(pkgconfig.GetConfigEnv(), dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := pkgconfig.Decode(raw, &cfg); err != nil {
		return nil, err
	}

	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideJWTFromEnv(&cfg.JWT)
	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	if key := pkgconfig.GetEnv("SETTINGS_ENCRYPTION_KEY", ""); key != "" {
		cfg.Settings.EncryptionKey = key
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	d := &c.Dispatch
	if d.Concurrency <= 0 {
		d.Concurrency = 8
	}
	if d.DrainInterval <= 0 {
		d.DrainInterval = time.Minute
	}
	if d.DrainBatchSize <= 0 {
		d.DrainBatchSize = 100
	}
	if d.ReconcilePageSize <= 0 {
		d.ReconcilePageSize = 100
	}
	if d.ReconcileMaxPages <= 0 {
		d.ReconcileMaxPages = 50
	}
	if d.DedupTTL <= 0 {
		d.DedupTTL = 24 * time.Hour
	}
	if d.RetryTTL <= 0 {
		d.RetryTTL = time.Hour
	}
	if d.Prefetch <= 0 {
		d.Prefetch = 10
	}
	if d.HealthPort == "" {
		d.HealthPort = ":8081"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "automation-engine"
	}
	if c.Trial.Interval <= 0 {
		c.Trial.Interval = time.Hour
	}
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Settings.EncryptionKey == "" {
		return fmt.Errorf("settings.encryption_key is required")
	}
	return nil
}
