package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`
	JWTSecret    string `mapstructure:"JWT_SECRET"`

	SMTPHost    string `mapstructure:"SMTP_HOST"`
	SMTPPort    int    `mapstructure:"SMTP_PORT"`
	SMTPUser    string `mapstructure:"SMTP_USER"`
	SMTPPass    string `mapstructure:"SMTP_PASS"`
	MailFrom    string `mapstructure:"MAIL_FROM"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// Notification pipeline tuning. The defaults are the product behavior;
	// overrides exist for tests and staging.
	NotifyDelay    time.Duration `mapstructure:"NOTIFY_DELAY"`
	ActiveGrace    time.Duration `mapstructure:"ACTIVE_GRACE"`
	CooldownWindow time.Duration `mapstructure:"COOLDOWN_WINDOW"`

	WorkerCount int           `mapstructure:"WORKER_COUNT"`
	WorkerPoll  time.Duration `mapstructure:"WORKER_POLL"`
	JobLease    time.Duration `mapstructure:"JOB_LEASE"`
	JobMaxTries int           `mapstructure:"JOB_MAX_TRIES"`
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
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MAIL_FROM", "no-reply@careinbox.local")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("NOTIFY_DELAY", "2m")
	v.SetDefault("ACTIVE_GRACE", "2m")
	v.SetDefault("COOLDOWN_WINDOW", "6h")
	v.SetDefault("WORKER_COUNT", 4)
	v.SetDefault("WORKER_POLL", "5s")
	v.SetDefault("JOB_LEASE", "1m")
	v.SetDefault("JOB_MAX_TRIES", 4)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
		"JWT_SECRET", "SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS",
		"MAIL_FROM", "CORS_ORIGINS", "NOTIFY_DELAY", "ACTIVE_GRACE",
		"COOLDOWN_WINDOW", "WORKER_COUNT", "WORKER_POLL", "JOB_LEASE",
		"JOB_MAX_TRIES",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
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

// Validate checks that the configuration is safe to run. Production requires
// either a JWKS-backed issuer or a shared JWT secret, and a configured SMTP
// relay so unread-message reminders can actually be delivered.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.AuthIssuer == "" && c.JWTSecret == "" {
			return fmt.Errorf("AUTH_ISSUER or JWT_SECRET must be set in production; refusing to start without authentication")
		}
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required in production")
		}
	}
	if c.NotifyDelay <= 0 {
		return fmt.Errorf("NOTIFY_DELAY must be positive, got %s", c.NotifyDelay)
	}
	if c.ActiveGrace <= 0 {
		return fmt.Errorf("ACTIVE_GRACE must be positive, got %s", c.ActiveGrace)
	}
	if c.CooldownWindow <= 0 {
		return fmt.Errorf("COOLDOWN_WINDOW must be positive, got %s", c.CooldownWindow)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	return nil
}
