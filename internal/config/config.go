package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/Erenimo3442/GroupChatting/pkg/config"
)

// Config holds all configuration for the chat service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CHAT_HTTP_PORT" envDefault:"8080"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"chat"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"chat_secret"`
	PostgresDB   string `env:"CHAT_DB_NAME" envDefault:"chat_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Connection pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINS" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINS" envDefault:"30"`

	// MongoDB (message store)
	MongoURI string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB  string `env:"MONGO_DB_NAME" envDefault:"chat_messages"`

	// Redis (membership cache)
	RedisEnabled bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisAddr    string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass    string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB      int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT
	JWTSecret        string `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTAccessExpiry  string `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry string `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`

	// File storage
	UploadDir     string `env:"UPLOAD_DIR" envDefault:"./uploads"`
	UploadBaseURL string `env:"UPLOAD_BASE_URL" envDefault:"/api/v1/files"`
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE_BYTES" envDefault:"10485760"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OpenTelemetry tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load chat config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if _, err := time.ParseDuration(cfg.JWTAccessExpiry); err != nil {
		return nil, fmt.Errorf("invalid JWT access expiry: %w", err)
	}
	if _, err := time.ParseDuration(cfg.JWTRefreshExpiry); err != nil {
		return nil, fmt.Errorf("invalid JWT refresh expiry: %w", err)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if cfg.Environment != "development" {
		if cfg.JWTSecret == "change-this-to-a-secure-secret" {
			return nil, fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(cfg.JWTSecret))
		}
	}

	return cfg, nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// AccessExpiry returns the parsed access token lifetime.
func (c *Config) AccessExpiry() time.Duration {
	d, _ := time.ParseDuration(c.JWTAccessExpiry)
	return d
}

// RefreshExpiry returns the parsed refresh token lifetime.
func (c *Config) RefreshExpiry() time.Duration {
	d, _ := time.ParseDuration(c.JWTRefreshExpiry)
	return d
}
