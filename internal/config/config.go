package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string `mapstructure:"PORT"`
	Env             string `mapstructure:"ENV"`
	BaseURL         string `mapstructure:"BASE_URL"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32  `mapstructure:"DB_MIN_CONNS"`
	DBConnLifeMin   int    `mapstructure:"DB_CONN_LIFETIME_MIN"`
	DBConnIdleMin   int    `mapstructure:"DB_CONN_IDLE_MIN"`
	QueryTimeoutMS  int    `mapstructure:"QUERY_TIMEOUT_MS"`
	DefaultPageSize int    `mapstructure:"DEFAULT_PAGE_SIZE"`
	MaxPageSize     int    `mapstructure:"MAX_PAGE_SIZE"`
	AuthIssuer      string `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL     string `mapstructure:"AUTH_JWKS_URL"`
	JWTSigningKey   string `mapstructure:"JWT_SIGNING_KEY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("BASE_URL", "http://localhost:8000/fhir/R4")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_CONN_LIFETIME_MIN", 60)
	v.SetDefault("DB_CONN_IDLE_MIN", 30)
	v.SetDefault("QUERY_TIMEOUT_MS", 30000)
	v.SetDefault("DEFAULT_PAGE_SIZE", 20)
	v.SetDefault("MAX_PAGE_SIZE", 1000)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BASE_URL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DB_CONN_LIFETIME_MIN")
	v.BindEnv("DB_CONN_IDLE_MIN")
	v.BindEnv("QUERY_TIMEOUT_MS")
	v.BindEnv("DEFAULT_PAGE_SIZE")
	v.BindEnv("MAX_PAGE_SIZE")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("JWT_SIGNING_KEY")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Unsigned bearer tokens are accepted. Do NOT use in production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// QueryTimeout returns the search query timeout as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}

// ConnLifetime returns the maximum connection lifetime for the pool.
func (c *Config) ConnLifetime() time.Duration {
	return time.Duration(c.DBConnLifeMin) * time.Minute
}

// ConnIdleTime returns the maximum idle time before a pooled connection
// is closed.
func (c *Config) ConnIdleTime() time.Duration {
	return time.Duration(c.DBConnIdleMin) * time.Minute
}

// Validate checks that the configuration is safe to run. In production a
// JWT signing key or issuer must be configured so that requester identity
// claims are verified rather than trusted.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthIssuer == "" && c.JWTSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or JWT_SIGNING_KEY must be set when ENV=production; " +
			"refusing to start without verifiable authentication")
	}
	if c.DefaultPageSize < 1 || c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be between 1 and MAX_PAGE_SIZE (%d), got %d",
			c.MaxPageSize, c.DefaultPageSize)
	}
	return nil
}
