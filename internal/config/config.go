// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"telegram-subscription-billing/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ProviderConfig struct {
	ShopID            string        `yaml:"shop_id"`
	SecretKey         string        `yaml:"secret_key"`
	ReturnURL         string        `yaml:"return_url"`
	RequestTimeoutSec int           `yaml:"request_timeout_sec"`
	WebhookDedupTTL   time.Duration `yaml:"webhook_dedup_ttl"` // >= provider retry horizon
}

// TariffConfig prices one plan. Money stays a decimal string end to end.
type TariffConfig struct {
	AmountValue    string `yaml:"amount_value"`
	AmountCurrency string `yaml:"amount_currency"`
}

type BillingConfig struct {
	DisplayTZ             string                  `yaml:"display_tz"`
	TrialHoursDefault     int                     `yaml:"trial_hours_default"`
	RetryMinGapHours      int                     `yaml:"retry_min_gap_hours"`
	RetryAttemptsPer24h   int                     `yaml:"retry_attempts_per_24h_cap"`
	RetryFailCap          int                     `yaml:"retry_fail_cap"`
	GraceFailThreshold    int                     `yaml:"grace_fail_threshold"`
	FreePassLimit         int                     `yaml:"free_pass_limit"`
	FreePassWindow        time.Duration           `yaml:"free_pass_window"`
	NotifyTTLDays         int                     `yaml:"notify_ttl_days"`
	TrialAmountValue      string                  `yaml:"trial_amount_value"`
	RecurringAgreementRef string                  `yaml:"recurring_agreement_ref"`
	Tariffs               map[string]TariffConfig `yaml:"tariffs"`
}

type SchedulerConfig struct {
	PeriodSec     int `yaml:"period_sec"`
	BatchLimit    int `yaml:"batch_limit"`
	Workers       int `yaml:"workers"`
	NotifyTickSec int `yaml:"notify_tick_sec"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Provider  ProviderConfig  `yaml:"provider"`
	Billing   BillingConfig   `yaml:"billing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// GuardRules converts the retry settings into domain guard rules.
func (c *Config) GuardRules() model.GuardRules {
	return model.GuardRules{
		MinAttemptGap:  time.Duration(c.Billing.RetryMinGapHours) * time.Hour,
		AttemptsPer24h: c.Billing.RetryAttemptsPer24h,
		FailCap:        c.Billing.RetryFailCap,
	}
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Billing.DisplayTZ == "" {
		cfg.Billing.DisplayTZ = "Europe/Moscow"
	}
	if cfg.Billing.TrialHoursDefault <= 0 {
		cfg.Billing.TrialHoursDefault = 72
	}
	if cfg.Billing.RetryMinGapHours <= 0 {
		cfg.Billing.RetryMinGapHours = 12
	}
	if cfg.Billing.RetryAttemptsPer24h <= 0 {
		cfg.Billing.RetryAttemptsPer24h = 2
	}
	if cfg.Billing.RetryFailCap <= 0 {
		cfg.Billing.RetryFailCap = 6
	}
	if cfg.Billing.GraceFailThreshold <= 0 {
		cfg.Billing.GraceFailThreshold = 3
	}
	if cfg.Billing.FreePassLimit <= 0 {
		cfg.Billing.FreePassLimit = 5
	}
	if cfg.Billing.FreePassWindow <= 0 {
		cfg.Billing.FreePassWindow = 7 * 24 * time.Hour
	}
	if cfg.Billing.NotifyTTLDays <= 0 {
		cfg.Billing.NotifyTTLDays = 14
	}
	if cfg.Scheduler.PeriodSec <= 0 {
		cfg.Scheduler.PeriodSec = 60
	}
	if cfg.Scheduler.BatchLimit <= 0 {
		cfg.Scheduler.BatchLimit = 100
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.NotifyTickSec <= 0 {
		cfg.Scheduler.NotifyTickSec = 300
	}
	if cfg.Provider.RequestTimeoutSec <= 0 {
		cfg.Provider.RequestTimeoutSec = 30
	}
	if cfg.Provider.WebhookDedupTTL <= 0 {
		cfg.Provider.WebhookDedupTTL = 14 * 24 * time.Hour
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
