package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ServerPort  string
	Environment string

	DBDriver             string
	DBDSN                string
	DBMaxOpenConns       int
	DBMaxIdleConns       int
	DBConnMaxLifetimeSec int

	AuthProvider               string
	JWTSecret                  string
	FirebaseProject            string
	FirebaseServiceAccountJSON string
	FirebaseServiceAccountPath string

	IdleThresholdMinutes  int
	SweepIntervalSeconds  int
	PingIntervalSeconds   int
	PongTimeoutSeconds    int
	WriteTimeoutSeconds   int
	StoreTimeoutSeconds   int
	DrainTimeoutSeconds   int
	SessionQueueDepth     int
	MaxBodyBytes          int
	MaxProtocolViolations int
	CoalesceWindowMs      int
	HTTPKeepAliveSeconds  int

	RateLimitMessagesPerMinute int
	RateLimitTypingPerMinute   int
	RateLimitHTTPPerMinute     int
}

// DevelopmentJWTSecret is the built-in JWT secret. It is only accepted when
// ENVIRONMENT=development.
const DevelopmentJWTSecret = "your-secret-key"

var defaults = map[string]interface{}{
	"SERVER_PORT":                    "8080",
	"ENVIRONMENT":                    "development",
	"DB_DRIVER":                      "postgres",
	"DB_DSN":                         "host=localhost user=postgres password=postgres dbname=timbermart port=5432 sslmode=disable TimeZone=UTC",
	"DB_MAX_OPEN_CONNS":              25,
	"DB_MAX_IDLE_CONNS":              10,
	"DB_CONN_MAX_LIFETIME_SECONDS":   3600,
	"AUTH_PROVIDER":                  "jwt",
	"JWT_SECRET":                     DevelopmentJWTSecret,
	"FIREBASE_PROJECT_ID":            "",
	"FIREBASE_SERVICE_ACCOUNT_JSON":  "",
	"FIREBASE_SERVICE_ACCOUNT_PATH":  "",
	"IDLE_THRESHOLD_MINUTES":         5,
	"SWEEP_INTERVAL_SECONDS":         60,
	"PING_INTERVAL_SECONDS":          30,
	"PONG_TIMEOUT_SECONDS":           30,
	"WRITE_TIMEOUT_SECONDS":          5,
	"STORE_TIMEOUT_SECONDS":          3,
	"DRAIN_TIMEOUT_SECONDS":          2,
	"SESSION_QUEUE_DEPTH":            64,
	"MAX_BODY_BYTES":                 4096,
	"MAX_PROTOCOL_VIOLATIONS":        5,
	"COALESCE_WINDOW_MS":             1000,
	"HTTP_KEEP_ALIVE_SECONDS":        300,
	"RATE_LIMIT_MESSAGES_PER_MINUTE": 60,
	"RATE_LIMIT_TYPING_PER_MINUTE":   60,
	"RATE_LIMIT_HTTP_PER_MINUTE":     300,
}

// Load reads an optional .env file and resolves every setting from the
// environment, falling back to defaults.
func Load() (*Config, error) {
	godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	config := &Config{
		ServerPort:  v.GetString("SERVER_PORT"),
		Environment: v.GetString("ENVIRONMENT"),

		DBDriver:             v.GetString("DB_DRIVER"),
		DBDSN:                v.GetString("DB_DSN"),
		DBMaxOpenConns:       v.GetInt("DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:       v.GetInt("DB_MAX_IDLE_CONNS"),
		DBConnMaxLifetimeSec: v.GetInt("DB_CONN_MAX_LIFETIME_SECONDS"),

		AuthProvider:               v.GetString("AUTH_PROVIDER"),
		JWTSecret:                  v.GetString("JWT_SECRET"),
		FirebaseProject:            v.GetString("FIREBASE_PROJECT_ID"),
		FirebaseServiceAccountJSON: v.GetString("FIREBASE_SERVICE_ACCOUNT_JSON"),
		FirebaseServiceAccountPath: v.GetString("FIREBASE_SERVICE_ACCOUNT_PATH"),

		IdleThresholdMinutes:  positive(v.GetInt("IDLE_THRESHOLD_MINUTES"), 5),
		SweepIntervalSeconds:  positive(v.GetInt("SWEEP_INTERVAL_SECONDS"), 60),
		PingIntervalSeconds:   positive(v.GetInt("PING_INTERVAL_SECONDS"), 30),
		PongTimeoutSeconds:    positive(v.GetInt("PONG_TIMEOUT_SECONDS"), 30),
		WriteTimeoutSeconds:   positive(v.GetInt("WRITE_TIMEOUT_SECONDS"), 5),
		StoreTimeoutSeconds:   positive(v.GetInt("STORE_TIMEOUT_SECONDS"), 3),
		DrainTimeoutSeconds:   positive(v.GetInt("DRAIN_TIMEOUT_SECONDS"), 2),
		SessionQueueDepth:     positive(v.GetInt("SESSION_QUEUE_DEPTH"), 64),
		MaxBodyBytes:          positive(v.GetInt("MAX_BODY_BYTES"), 4096),
		MaxProtocolViolations: positive(v.GetInt("MAX_PROTOCOL_VIOLATIONS"), 5),
		CoalesceWindowMs:      positive(v.GetInt("COALESCE_WINDOW_MS"), 1000),
		HTTPKeepAliveSeconds:  positive(v.GetInt("HTTP_KEEP_ALIVE_SECONDS"), 300),

		RateLimitMessagesPerMinute: positive(v.GetInt("RATE_LIMIT_MESSAGES_PER_MINUTE"), 60),
		RateLimitTypingPerMinute:   positive(v.GetInt("RATE_LIMIT_TYPING_PER_MINUTE"), 60),
		RateLimitHTTPPerMinute:     positive(v.GetInt("RATE_LIMIT_HTTP_PER_MINUTE"), 300),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if (c.AuthProvider != "jwt" && c.AuthProvider != "") || c.IsDevelopment() {
		return nil
	}
	if c.JWTSecret == "" || c.JWTSecret == DevelopmentJWTSecret {
		return fmt.Errorf("JWT_SECRET must be set to a private value when ENVIRONMENT=%s", c.Environment)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

func (c *Config) PongTimeout() time.Duration {
	return time.Duration(c.PongTimeoutSeconds) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

func (c *Config) CoalesceWindow() time.Duration {
	return time.Duration(c.CoalesceWindowMs) * time.Millisecond
}

func (c *Config) HTTPKeepAlive() time.Duration {
	return time.Duration(c.HTTPKeepAliveSeconds) * time.Second
}

func (c *Config) DBConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifetimeSec) * time.Second
}

func positive(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
