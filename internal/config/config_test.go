package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, DriverLocal, cfg.BusDriver)
	assert.Equal(t, DriverLog, cfg.MailerDriver)
	assert.Equal(t, time.Hour, cfg.NotificationFollowUpDelay)
	assert.Equal(t, 3, cfg.NotificationMaxRetries)
	assert.Equal(t, 30*24*time.Hour, cfg.NotificationRetention)
	assert.Equal(t, 15*time.Minute, cfg.PresenceInactiveAfter)
	assert.InDelta(t, 10.0, cfg.WSEventsPerSecond, 0.001)
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.UsesNATS())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/dm")
	t.Setenv("PRESENCE_DRIVER", "nats")
	t.Setenv("NOTIFICATION_FOLLOW_UP_DELAY", "90m")
	t.Setenv("NOTIFICATION_MAX_RETRIES", "5")
	t.Setenv("WS_EVENTS_PER_SECOND", "2.5")
	t.Setenv("SMTP_PORT", "not-a-number")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,https://admin.example.com")

	cfg := Load()
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 90*time.Minute, cfg.NotificationFollowUpDelay)
	assert.Equal(t, 5, cfg.NotificationMaxRetries)
	assert.InDelta(t, 2.5, cfg.WSEventsPerSecond, 0.001)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.True(t, cfg.UsesNATS())
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"postgres without url", func(c *Config) { c.StoreDriver = DriverPostgres }, "DATABASE_URL"},
		{"unknown store", func(c *Config) { c.StoreDriver = "sqlite" }, "STORE_DRIVER"},
		{"unknown presence", func(c *Config) { c.PresenceDriver = "etcd" }, "PRESENCE_DRIVER"},
		{"unknown bus", func(c *Config) { c.BusDriver = "kafka" }, "BUS_DRIVER"},
		{"brevo without key", func(c *Config) { c.MailerDriver = DriverBrevo }, "BREVO_API_KEY"},
		{"unknown mailer", func(c *Config) { c.MailerDriver = "pigeon" }, "MAILER_DRIVER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			cfg.DatabaseURL = ""
			cfg.BrevoAPIKey = ""
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
