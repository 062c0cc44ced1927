package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL      string   `mapstructure:"REDIS_URL"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	Tenants       []string `mapstructure:"AGGREGATE_TENANTS"`
	JWTSigningKey string   `mapstructure:"JWT_SIGNING_KEY"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Queue engine knobs.
	DefaultServiceRate float64 `mapstructure:"QUEUE_DEFAULT_SERVICE_RATE"` // appointments/hour
	MinSampleSize      int     `mapstructure:"QUEUE_MIN_SAMPLE_SIZE"`
	RateWindowDays     int     `mapstructure:"QUEUE_RATE_WINDOW_DAYS"`
	OperatingHours     float64 `mapstructure:"QUEUE_OPERATING_HOURS"` // per day
	LockTimeoutMS      int     `mapstructure:"QUEUE_LOCK_TIMEOUT_MS"`

	// Cache TTLs, distinct per derived-value category.
	StatusTTL      time.Duration `mapstructure:"CACHE_STATUS_TTL"`
	ServiceRateTTL time.Duration `mapstructure:"CACHE_SERVICE_RATE_TTL"`
	ArrivalRateTTL time.Duration `mapstructure:"CACHE_ARRIVAL_RATE_TTL"`

	// Local hour at which the daily metrics aggregation runs.
	AggregateHour int `mapstructure:"AGGREGATE_HOUR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("QUEUE_DEFAULT_SERVICE_RATE", 4.0)
	v.SetDefault("QUEUE_MIN_SAMPLE_SIZE", 5)
	v.SetDefault("QUEUE_RATE_WINDOW_DAYS", 7)
	v.SetDefault("QUEUE_OPERATING_HOURS", 8.0)
	v.SetDefault("QUEUE_LOCK_TIMEOUT_MS", 3000)
	v.SetDefault("CACHE_STATUS_TTL", "30s")
	v.SetDefault("CACHE_SERVICE_RATE_TTL", "1h")
	v.SetDefault("CACHE_ARRIVAL_RATE_TTL", "5m")
	v.SetDefault("AGGREGATE_HOUR", 20)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("AGGREGATE_TENANTS")
	v.BindEnv("JWT_SIGNING_KEY")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("QUEUE_DEFAULT_SERVICE_RATE")
	v.BindEnv("QUEUE_MIN_SAMPLE_SIZE")
	v.BindEnv("QUEUE_RATE_WINDOW_DAYS")
	v.BindEnv("QUEUE_OPERATING_HOURS")
	v.BindEnv("QUEUE_LOCK_TIMEOUT_MS")
	v.BindEnv("CACHE_STATUS_TTL")
	v.BindEnv("CACHE_SERVICE_RATE_TTL")
	v.BindEnv("CACHE_ARRIVAL_RATE_TTL")
	v.BindEnv("AGGREGATE_HOUR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.Tenants == nil {
		if tenants := v.GetString("AGGREGATE_TENANTS"); tenants != "" {
			cfg.Tenants = strings.Split(tenants, ",")
		}
	}
	if len(cfg.Tenants) == 0 {
		cfg.Tenants = []string{cfg.DefaultTenant}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get staff access.")
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

// Validate checks that the configuration is safe to run. Outside development
// a JWT signing key is mandatory so that real authentication is enforced,
// and the queueing parameters must be usable by the analytics engine.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV is not development")
	}
	if c.DefaultServiceRate <= 0 {
		return fmt.Errorf("QUEUE_DEFAULT_SERVICE_RATE must be positive, got %v", c.DefaultServiceRate)
	}
	if c.OperatingHours <= 0 {
		return fmt.Errorf("QUEUE_OPERATING_HOURS must be positive, got %v", c.OperatingHours)
	}
	if c.RateWindowDays <= 0 {
		return fmt.Errorf("QUEUE_RATE_WINDOW_DAYS must be positive, got %d", c.RateWindowDays)
	}
	if c.MinSampleSize < 0 {
		return fmt.Errorf("QUEUE_MIN_SAMPLE_SIZE must not be negative, got %d", c.MinSampleSize)
	}
	if c.AggregateHour < 0 || c.AggregateHour > 23 {
		return fmt.Errorf("AGGREGATE_HOUR must be between 0 and 23, got %d", c.AggregateHour)
	}
	return nil
}
