package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.IdleThreshold())
	assert.Equal(t, 30*time.Second, cfg.PingInterval())
	assert.Equal(t, 64, cfg.SessionQueueDepth)
	assert.Equal(t, 4096, cfg.MaxBodyBytes)
	assert.Equal(t, 300*time.Second, cfg.HTTPKeepAlive())
	assert.Equal(t, time.Second, cfg.CoalesceWindow())
}

func TestLoad_JWTSecret(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		provider    string
		secret      string
		wantErr     bool
	}{
		{"development keeps the built-in secret", "development", "jwt", "", false},
		{"production rejects the built-in secret", "production", "jwt", DevelopmentJWTSecret, true},
		{"production accepts a private secret", "production", "jwt", "s3cr3t-from-vault", false},
		{"firebase ignores the jwt secret", "production", "firebase", DevelopmentJWTSecret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", tt.environment)
			t.Setenv("AUTH_PROVIDER", tt.provider)
			if tt.secret != "" {
				t.Setenv("JWT_SECRET", tt.secret)
			}

			cfg, err := Load()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "JWT_SECRET")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, cfg.AuthProvider)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("IDLE_THRESHOLD_MINUTES", "10")
	t.Setenv("PING_INTERVAL_SECONDS", "15")
	t.Setenv("SESSION_QUEUE_DEPTH", "8")
	t.Setenv("MAX_BODY_BYTES", "0")
	t.Setenv("DB_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.IdleThreshold())
	assert.Equal(t, 15*time.Second, cfg.PingInterval())
	assert.Equal(t, 8, cfg.SessionQueueDepth)
	assert.Equal(t, 4096, cfg.MaxBodyBytes, "non-positive values fall back to the default")
	assert.Equal(t, "memory", cfg.DBDriver)
}
