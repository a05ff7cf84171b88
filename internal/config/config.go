// Package config provides configuration management using viper.
// It supports loading from YAML files, a local .env file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"promo-rewards/internal/earnings"
	"promo-rewards/internal/model"
	"promo-rewards/internal/referral"
	"promo-rewards/internal/spin"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Levels    []LevelConfig   `mapstructure:"levels"`
	Referral  ReferralConfig  `mapstructure:"referral"`
	Spin      SpinConfig      `mapstructure:"spin"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
// An empty Host selects the in-memory store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig limits ad callbacks per user. Disabled when Redis is not configured.
type RateLimitConfig struct {
	AdEventsPerWindow int           `mapstructure:"ad_events_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// AuthConfig holds the shared secrets of the HTTP API. An empty secret locks its routes.
type AuthConfig struct {
	CallbackSecret string        `mapstructure:"callback_secret"` // HMAC key of ad network callbacks
	ServiceSecret  string        `mapstructure:"service_secret"`  // HS256 key of backend service tokens
	AdminSecret    string        `mapstructure:"admin_secret"`    // HS256 key of admin tokens
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	ClockSkew      time.Duration `mapstructure:"clock_skew"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// JobsConfig holds background job schedules.
type JobsConfig struct {
	ReconcileSchedule string `mapstructure:"reconcile_schedule"` // empty disables the job
	Timezone          string `mapstructure:"timezone"`
}

// LevelConfig is one row of the level table. Money values are decimal strings.
// An empty MaxBalanceCap means unbounded.
type LevelConfig struct {
	Level               int    `mapstructure:"level"`
	UpgradeFee          string `mapstructure:"upgrade_fee"`
	MaxBalanceCap       string `mapstructure:"max_balance_cap"`
	RevenueSharePercent string `mapstructure:"revenue_share_percent"`
}

// ReferralConfig holds the referral milestone table.
type ReferralConfig struct {
	Tiers []TierConfig `mapstructure:"tiers"`
}

// TierConfig is one referral milestone.
type TierConfig struct {
	Threshold int    `mapstructure:"threshold"`
	Bonus     string `mapstructure:"bonus"`
}

// SpinConfig holds the prize wheel table.
type SpinConfig struct {
	MinPrize string          `mapstructure:"min_prize"`
	MaxPrize string          `mapstructure:"max_prize"`
	DailyCap string          `mapstructure:"daily_cap"`
	Segments []SegmentConfig `mapstructure:"segments"`
}

// SegmentConfig is one wheel segment.
type SegmentConfig struct {
	Prize       string `mapstructure:"prize"`
	Probability string `mapstructure:"probability"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, REDIS_ADDR, LOG_LEVEL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "rewards")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "rewards")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ratelimit.ad_events_per_window", 60)
	v.SetDefault("ratelimit.window", "1m")

	v.SetDefault("auth.callback_secret", "")
	v.SetDefault("auth.service_secret", "")
	v.SetDefault("auth.admin_secret", "")
	v.SetDefault("auth.max_body_bytes", 1<<20)
	v.SetDefault("auth.clock_skew", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("jobs.reconcile_schedule", "0 3 * * *")
	v.SetDefault("jobs.timezone", "UTC")
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// LevelPlans converts the level table. An empty table yields the defaults.
func (c *Config) LevelPlans() ([]earnings.LevelPlan, error) {
	if len(c.Levels) == 0 {
		return earnings.DefaultLevelPlans(), nil
	}

	plans := make([]earnings.LevelPlan, 0, len(c.Levels))
	for _, l := range c.Levels {
		fee, err := parseMoney("upgrade_fee", l.UpgradeFee, true)
		if err != nil {
			return nil, err
		}
		share, err := parseMoney("revenue_share_percent", l.RevenueSharePercent, false)
		if err != nil {
			return nil, err
		}
		p := earnings.LevelPlan{Level: l.Level, UpgradeFee: fee, RevenueSharePercent: share}
		if strings.TrimSpace(l.MaxBalanceCap) != "" {
			limit, err := parseMoney("max_balance_cap", l.MaxBalanceCap, false)
			if err != nil {
				return nil, err
			}
			p.MaxBalanceCap = &limit
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// ReferralTiers converts the referral table. An empty table yields the defaults.
func (c *Config) ReferralTiers() ([]referral.Tier, error) {
	if len(c.Referral.Tiers) == 0 {
		return referral.DefaultTiers(), nil
	}

	tiers := make([]referral.Tier, 0, len(c.Referral.Tiers))
	for _, t := range c.Referral.Tiers {
		bonus, err := parseMoney("referral bonus", t.Bonus, false)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, referral.Tier{Threshold: t.Threshold, Bonus: bonus})
	}
	return tiers, nil
}

// WheelConfig converts the spin settings. Unset fields keep their defaults.
func (c *Config) WheelConfig() (spin.Config, error) {
	out := spin.DefaultConfig()

	bounds := []struct {
		field string
		raw   string
		dst   *decimal.Decimal
	}{
		{"spin.min_prize", c.Spin.MinPrize, &out.MinPrize},
		{"spin.max_prize", c.Spin.MaxPrize, &out.MaxPrize},
		{"spin.daily_cap", c.Spin.DailyCap, &out.DailyCap},
	}
	for _, b := range bounds {
		if strings.TrimSpace(b.raw) == "" {
			continue
		}
		d, err := parseMoney(b.field, b.raw, false)
		if err != nil {
			return spin.Config{}, err
		}
		*b.dst = d
	}

	if len(c.Spin.Segments) > 0 {
		out.Segments = make([]spin.Segment, 0, len(c.Spin.Segments))
		for _, s := range c.Spin.Segments {
			prize, err := parseMoney("spin segment prize", s.Prize, false)
			if err != nil {
				return spin.Config{}, err
			}
			p, err := parseMoney("spin segment probability", s.Probability, false)
			if err != nil {
				return spin.Config{}, err
			}
			out.Segments = append(out.Segments, spin.Segment{Prize: prize, Probability: p})
		}
	}
	return out, nil
}

func parseMoney(field, raw string, emptyIsZero bool) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" && emptyIsZero {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a decimal", model.ErrConfiguration, field, raw)
	}
	return d, nil
}
