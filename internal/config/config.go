package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/hms/hms/internal/domain/scheduling"
)

// Booking lock backends.
const (
	LockLocal    = "local"
	LockRedis    = "redis"
	LockPostgres = "postgres"
	LockNone     = "none"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TLSEnabled     bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`

	WorkStartHour          int    `mapstructure:"WORK_START_HOUR"`
	WorkEndHour            int    `mapstructure:"WORK_END_HOUR"`
	SlotStepMinutes        int    `mapstructure:"SLOT_STEP_MINUTES"`
	DefaultDurationMinutes int    `mapstructure:"DEFAULT_DURATION_MINUTES"`
	HospitalTimezone       string `mapstructure:"HOSPITAL_TIMEZONE"`
	StrictOverlap          bool   `mapstructure:"STRICT_OVERLAP"`

	BookingLock     string        `mapstructure:"BOOKING_LOCK"`
	BookingLockWait time.Duration `mapstructure:"BOOKING_LOCK_WAIT"`
	BookingLockTTL  time.Duration `mapstructure:"BOOKING_LOCK_TTL"`

	BreakerFailureThreshold uint32        `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerTimeout          time.Duration `mapstructure:"BREAKER_TIMEOUT"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"WORK_START_HOUR", "WORK_END_HOUR", "SLOT_STEP_MINUTES", "DEFAULT_DURATION_MINUTES",
	"HOSPITAL_TIMEZONE", "STRICT_OVERLAP",
	"BOOKING_LOCK", "BOOKING_LOCK_WAIT", "BOOKING_LOCK_TTL",
	"BREAKER_FAILURE_THRESHOLD", "BREAKER_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	def := scheduling.DefaultSlotConfig()
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("WORK_START_HOUR", def.WorkStartHour)
	v.SetDefault("WORK_END_HOUR", def.WorkEndHour)
	v.SetDefault("SLOT_STEP_MINUTES", def.SlotStepMinutes)
	v.SetDefault("DEFAULT_DURATION_MINUTES", def.DefaultDurationMinutes)
	v.SetDefault("HOSPITAL_TIMEZONE", "UTC")
	v.SetDefault("STRICT_OVERLAP", false)
	v.SetDefault("BOOKING_LOCK", LockLocal)
	v.SetDefault("BOOKING_LOCK_WAIT", "5s")
	v.SetDefault("BOOKING_LOCK_TTL", "10s")
	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_TIMEOUT", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in DEVELOPMENT mode (ENV=development): every request gets admin access")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}

	if _, err := c.SlotConfig(); err != nil {
		return err
	}

	switch c.BookingLock {
	case LockLocal, LockPostgres, LockNone:
	case LockRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when BOOKING_LOCK is %q", LockRedis)
		}
	default:
		return fmt.Errorf("BOOKING_LOCK must be one of %q, %q, %q or %q, got %q",
			LockLocal, LockRedis, LockPostgres, LockNone, c.BookingLock)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}

// SlotConfig builds the booking grid, resolving HOSPITAL_TIMEZONE.
func (c *Config) SlotConfig() (scheduling.SlotConfig, error) {
	loc, err := time.LoadLocation(c.HospitalTimezone)
	if err != nil {
		return scheduling.SlotConfig{}, fmt.Errorf("HOSPITAL_TIMEZONE %q: %w", c.HospitalTimezone, err)
	}
	sc := scheduling.SlotConfig{
		WorkStartHour:          c.WorkStartHour,
		WorkEndHour:            c.WorkEndHour,
		SlotStepMinutes:        c.SlotStepMinutes,
		DefaultDurationMinutes: c.DefaultDurationMinutes,
		Location:               loc,
		StrictOverlap:          c.StrictOverlap,
	}
	if err := sc.Validate(); err != nil {
		return scheduling.SlotConfig{}, err
	}
	return sc, nil
}

// BreakerConfig returns the store circuit breaker settings.
func (c *Config) BreakerConfig() scheduling.BreakerConfig {
	bc := scheduling.DefaultBreakerConfig()
	if c.BreakerFailureThreshold > 0 {
		bc.FailureThreshold = c.BreakerFailureThreshold
	}
	if c.BreakerTimeout > 0 {
		bc.Timeout = c.BreakerTimeout
	}
	return bc
}
