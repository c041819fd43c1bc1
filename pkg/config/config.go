// Package config loads the service configuration from the environment.
// Every knob has a CODEFORWARD_ prefixed variable and a sensible default,
// so an empty environment yields a runnable (if channel-less) service.
package config

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sethvargo/go-envconfig"

	"github.com/kart-io/codeforward/pkg/channel"
	"github.com/kart-io/codeforward/pkg/persistence"
)

// Storage backend names.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config is the full service configuration.
type Config struct {
	ListenAddr string `env:"CODEFORWARD_LISTEN_ADDR, default=:8080"`
	LogLevel   string `env:"CODEFORWARD_LOG_LEVEL, default=info"`
	Workers    int    `env:"CODEFORWARD_WORKERS, default=4"`

	Storage StorageConfig `env:", prefix=CODEFORWARD_STORAGE_"`
	Email   EmailConfig   `env:", prefix=CODEFORWARD_EMAIL_"`
	Push    PushConfig    `env:", prefix=CODEFORWARD_PUSH_"`
	Metrics MetricsConfig `env:", prefix=CODEFORWARD_METRICS_"`
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	Backend       string `env:"BACKEND, default=file"`
	Dir           string `env:"DIR, default=data"`
	RedisAddr     string `env:"REDIS_ADDR, default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB, default=0"`
}

// EmailConfig is the email channel's environment surface.
type EmailConfig struct {
	Enabled   bool   `env:"ENABLED, default=false"`
	Address   string `env:"ADDRESS"`
	Secret    string `env:"SECRET"`
	Recipient string `env:"RECIPIENT"`
	Host      string `env:"HOST"`
	Port      int    `env:"PORT"`
	SSLPort   int    `env:"SSL_PORT"`
}

// PushConfig is the push channel's environment surface.
type PushConfig struct {
	Enabled   bool   `env:"ENABLED, default=false"`
	AccessKey string `env:"ACCESS_KEY"`
	Endpoint  string `env:"ENDPOINT"`
}

// MetricsConfig switches metric export on.
type MetricsConfig struct {
	Enabled bool `env:"ENABLED, default=false"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the cross-field constraints envconfig cannot express.
// Channel credentials are deliberately not checked here; an enabled but
// invalid channel degrades to disabled per message instead of blocking
// startup.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ListenAddr, validation.Required),
		validation.Field(&c.Workers, validation.Min(1)),
		validation.Field(&c.Storage),
	)
}

// Validate checks the backend selection.
func (c StorageConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required,
			validation.In(BackendMemory, BackendFile, BackendRedis)),
	)
}

// EmailChannel converts the environment surface to the channel config.
func (c *Config) EmailChannel() channel.EmailConfig {
	return channel.EmailConfig{
		Address:   c.Email.Address,
		Secret:    c.Email.Secret,
		Recipient: c.Email.Recipient,
		Host:      c.Email.Host,
		Port:      c.Email.Port,
		SSLPort:   c.Email.SSLPort,
		Enable:    c.Email.Enabled,
	}
}

// PushChannel converts the environment surface to the channel config.
func (c *Config) PushChannel() channel.PushConfig {
	return channel.PushConfig{
		AccessKey: c.Push.AccessKey,
		Endpoint:  c.Push.Endpoint,
		Enable:    c.Push.Enabled,
	}
}

// OpenStore builds the configured persistence backend.
func (c *Config) OpenStore(ctx context.Context) (persistence.Store, error) {
	switch c.Storage.Backend {
	case BackendMemory:
		return persistence.NewMemoryStore(), nil
	case BackendRedis:
		return persistence.NewRedisStore(ctx, persistence.RedisConfig{
			Address:  c.Storage.RedisAddr,
			Password: c.Storage.RedisPassword,
			DB:       c.Storage.RedisDB,
		})
	default:
		return persistence.NewFileStore(c.Storage.Dir)
	}
}
