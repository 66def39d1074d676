package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(env.Options{Environment: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, "chatrelay", cfg.Service.Name)
	assert.Equal(t, ":8080", cfg.Service.Add)
	assert.Equal(t, 3*time.Second, cfg.Typing.Timeout)
	assert.Equal(t, 25, cfg.Postgres.MaxOpenConns)
	assert.Equal(t, 720*time.Hour, cfg.Redis.PresenceTTL)
	assert.True(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Tracer.Enabled)
	assert.Empty(t, cfg.SecretToken)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := parse(env.Options{Environment: map[string]string{
		"SERVICE_NAME":      "relay-test",
		"TYPING_TIMEOUT":    "250ms",
		"DB_MAX_OPEN_CONNS": "7",
		"REDIS_ENABLED":     "false",
		"JWT_SECRET":        "s3cret",
	}})
	require.NoError(t, err)

	assert.Equal(t, "relay-test", cfg.Service.Name)
	assert.Equal(t, 250*time.Millisecond, cfg.Typing.Timeout)
	assert.Equal(t, 7, cfg.Postgres.MaxOpenConns)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "s3cret", cfg.SecretToken)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad duration": {"TYPING_TIMEOUT": "soon"},
		"bad int":      {"DB_MAX_OPEN_CONNS": "many"},
		"zero typing":  {"TYPING_TIMEOUT": "0s"},
	}
	for name, environ := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parse(env.Options{Environment: environ})
			assert.Error(t, err)
		})
	}
}

func TestLoad_ReadsProcessEnv(t *testing.T) {
	t.Setenv("SERVICE_NAME", "from-env")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Service.Name)
}
