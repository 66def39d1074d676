package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{
		Service:  &ServiceConfig{},
		Redis:    &RedisConfig{},
		Postgres: &PostgresConfig{},
		Typing:   &TypingConfig{},
		Logger:   &LoggerConfig{},
		Tracer:   &TracerConfig{},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Typing.Timeout <= 0 {
		errs = append(errs, errors.New("TYPING_TIMEOUT must be positive"))
	}
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("REDIS_URL is required when redis is enabled"))
	}
	return errors.Join(errs...)
}
