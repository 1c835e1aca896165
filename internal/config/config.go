package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port       string `mapstructure:"PORT"`
	Env        string `mapstructure:"ENV"`
	Store      string `mapstructure:"STORE"` // memory | sqlite | postgres
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	FacilityTZ  string `mapstructure:"FACILITY_TZ"`
	DayRollover string `mapstructure:"DAY_ROLLOVER"` // HH:MM local pivot

	PinMin int `mapstructure:"PIN_MIN"`
	PinMax int `mapstructure:"PIN_MAX"`

	NoShowSeconds       int `mapstructure:"NO_SHOW_SECONDS"`
	CallIntervalSeconds int `mapstructure:"CALL_INTERVAL_SECONDS"`
	ClinicCapacity      int `mapstructure:"CLINIC_CAPACITY"`

	CronSecret string `mapstructure:"CRON_SECRET"`
	JWTSecret  string `mapstructure:"JWT_SECRET"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", "memory")
	v.SetDefault("SQLITE_PATH", "qflow.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("FACILITY_TZ", "Asia/Qatar")
	v.SetDefault("DAY_ROLLOVER", "05:00")
	v.SetDefault("PIN_MIN", 1)
	v.SetDefault("PIN_MAX", 20)
	v.SetDefault("NO_SHOW_SECONDS", 600)
	v.SetDefault("CALL_INTERVAL_SECONDS", 60)
	v.SetDefault("CLINIC_CAPACITY", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("STORE")
	v.BindEnv("SQLITE_PATH")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("FACILITY_TZ")
	v.BindEnv("DAY_ROLLOVER")
	v.BindEnv("PIN_MIN")
	v.BindEnv("PIN_MAX")
	v.BindEnv("NO_SHOW_SECONDS")
	v.BindEnv("CALL_INTERVAL_SECONDS")
	v.BindEnv("CLINIC_CAPACITY")
	v.BindEnv("CRON_SECRET")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
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

// Validate checks that the configuration is safe to run. The postgres
// binding needs a DSN, the PIN space must be a bounded two-digit range,
// and production refuses to expose the scheduler tick without a cron
// secret.
func (c *Config) Validate() error {
	switch c.Store {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is \"postgres\"")
		}
	default:
		return fmt.Errorf("STORE must be \"memory\", \"sqlite\", or \"postgres\", got %q", c.Store)
	}

	if c.PinMin < 0 || c.PinMax > 99 || c.PinMin > c.PinMax {
		return fmt.Errorf("PIN range must satisfy 0 <= PIN_MIN <= PIN_MAX <= 99, got %d..%d", c.PinMin, c.PinMax)
	}
	if c.NoShowSeconds <= 0 {
		return fmt.Errorf("NO_SHOW_SECONDS must be positive, got %d", c.NoShowSeconds)
	}
	if c.ClinicCapacity <= 0 {
		return fmt.Errorf("CLINIC_CAPACITY must be positive, got %d", c.ClinicCapacity)
	}
	if c.IsProduction() && c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required in production so the scheduler tick endpoint is not open")
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}
