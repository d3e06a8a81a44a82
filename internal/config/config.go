// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Driver names.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverNATS     = "nats"
	DriverLocal    = "local"
	DriverLog      = "log"
	DriverSMTP     = "smtp"
	DriverBrevo    = "brevo"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// JWT settings
	JWTSecret string

	// Storage
	StoreDriver    string
	DatabaseURL    string
	PresenceDriver string
	RedisURL       string

	// Broadcast and NATS settings
	BusDriver    string
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Email
	MailerDriver  string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	BrevoAPIKey   string
	BrevoBaseURL  string
	EmailFrom     string
	EmailFromName string

	// Notifications
	NotificationWorkers        int
	NotificationFollowUpDelay  time.Duration
	NotificationMaxRetries     int
	NotificationRetryBaseDelay time.Duration
	NotificationRetention      time.Duration
	PresenceInactiveAfter      time.Duration

	// Media
	MediaBaseURL           string
	MediaS3Bucket          string
	MediaS3Region          string
	MediaS3Endpoint        string
	MediaS3AccessKeyID     string
	MediaS3SecretAccessKey string
	MediaPresignTTL        time.Duration

	// Websocket sessions
	WSEventsPerSecond float64
	WSSendBuffer      int

	// HTTP
	AllowedOrigins []string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Storage
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		PresenceDriver: strings.ToLower(getEnv("PRESENCE_DRIVER", DriverMemory)),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Broadcast and NATS
		BusDriver:    strings.ToLower(getEnv("BUS_DRIVER", DriverLocal)),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Email
		MailerDriver:  strings.ToLower(getEnv("MAILER_DRIVER", DriverLog)),
		SMTPHost:      getEnv("SMTP_HOST", "localhost"),
		SMTPPort:      getIntEnv("SMTP_PORT", 587),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		BrevoAPIKey:   getEnv("BREVO_API_KEY", ""),
		BrevoBaseURL:  getEnv("BREVO_BASE_URL", "https://api.brevo.com"),
		EmailFrom:     getEnv("EMAIL_FROM", "noreply@localhost"),
		EmailFromName: getEnv("EMAIL_FROM_NAME", "Messages"),

		// Notifications
		NotificationWorkers:        getIntEnv("NOTIFICATION_WORKERS", 4),
		NotificationFollowUpDelay:  getDurationEnv("NOTIFICATION_FOLLOW_UP_DELAY", time.Hour),
		NotificationMaxRetries:     getIntEnv("NOTIFICATION_MAX_RETRIES", 3),
		NotificationRetryBaseDelay: getDurationEnv("NOTIFICATION_RETRY_BASE_DELAY", time.Minute),
		NotificationRetention:      getDurationEnv("NOTIFICATION_RETENTION", 30*24*time.Hour),
		PresenceInactiveAfter:      getDurationEnv("PRESENCE_INACTIVE_AFTER", 15*time.Minute),

		// Media
		MediaBaseURL:           getEnv("MEDIA_BASE_URL", "http://localhost:8080/media"),
		MediaS3Bucket:          getEnv("MEDIA_S3_BUCKET", ""),
		MediaS3Region:          getEnv("MEDIA_S3_REGION", "us-east-1"),
		MediaS3Endpoint:        getEnv("MEDIA_S3_ENDPOINT", ""),
		MediaS3AccessKeyID:     getEnv("MEDIA_S3_ACCESS_KEY_ID", ""),
		MediaS3SecretAccessKey: getEnv("MEDIA_S3_SECRET_ACCESS_KEY", ""),
		MediaPresignTTL:        getDurationEnv("MEDIA_PRESIGN_TTL", time.Hour),

		// Websocket sessions
		WSEventsPerSecond: getFloatEnv("WS_EVENTS_PER_SECOND", 10),
		WSSendBuffer:      getIntEnv("WS_SEND_BUFFER", 256),

		// HTTP
		AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", nil),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate checks driver names and the settings each driver needs.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.PresenceDriver {
	case DriverMemory, DriverRedis, DriverNATS:
	default:
		return fmt.Errorf("unknown PRESENCE_DRIVER %q", c.PresenceDriver)
	}

	switch c.BusDriver {
	case DriverLocal, DriverNATS:
	default:
		return fmt.Errorf("unknown BUS_DRIVER %q", c.BusDriver)
	}

	switch c.MailerDriver {
	case DriverLog, DriverSMTP:
	case DriverBrevo:
		if c.BrevoAPIKey == "" {
			return fmt.Errorf("BREVO_API_KEY is required for MAILER_DRIVER=%s", c.MailerDriver)
		}
	default:
		return fmt.Errorf("unknown MAILER_DRIVER %q", c.MailerDriver)
	}
	return nil
}

// UsesNATS reports whether any component needs a NATS connection.
func (c *Config) UsesNATS() bool {
	return c.BusDriver == DriverNATS || c.PresenceDriver == DriverNATS
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
