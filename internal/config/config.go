package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultPort                  = "8080"
	DefaultPerIdentityLimit      = 20
	DefaultWindowSeconds         = 60
	DefaultGlobalDailyCap        = 5000
	DefaultPenaltyPercent        = 5
	DefaultCouponTTLMinutes      = 15
	DefaultCouponMinPercent      = 5
	DefaultCouponMaxPercent      = 30
	DefaultSearchTopK            = 5
	DefaultSearchTimeoutSeconds  = 5
	DefaultCollabTimeoutSeconds  = 20
	DefaultAttemptTimeoutSeconds = 15
	DefaultMaxAttempts           = 2
)

// DefaultBackoffMs is the wait applied after each retryable provider failure.
var DefaultBackoffMs = []int{1000, 2000}

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Providers      []ProviderConfig     `yaml:"providers"`
	ProviderPolicy ProviderPolicyConfig `yaml:"provider_policy"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Haggle         HaggleConfig         `yaml:"haggle"`
	Coupons        CouponConfig         `yaml:"coupons"`
	Search         SearchConfig         `yaml:"search"`
	Collaborators  CollaboratorsConfig  `yaml:"collaborators"`
	Redis          RedisConfig          `yaml:"redis"`
	Profiles       ProfilesConfig       `yaml:"profiles"`
	Logging        LoggingConfig        `yaml:"logging"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	Env            string   `yaml:"env"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProviderConfig describes one language-model credential. Several entries may
// share a name to rotate keys against the same backend.
type ProviderConfig struct {
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Display  string `yaml:"display"`
	Priority int    `yaml:"priority"`
}

type ProviderPolicyConfig struct {
	MaxAttempts           int   `yaml:"max_attempts"`
	BackoffMs             []int `yaml:"backoff_ms"`
	AttemptTimeoutSeconds int   `yaml:"attempt_timeout_seconds"`
}

type RateLimitConfig struct {
	PerIdentity    int `yaml:"per_identity"`
	WindowSeconds  int `yaml:"window_seconds"`
	GlobalDailyCap int `yaml:"global_daily_cap"`
}

type HaggleConfig struct {
	PenaltyPercent float64 `yaml:"penalty_percent"`
}

type CouponConfig struct {
	TTLMinutes int    `yaml:"ttl_minutes"`
	MinPercent int    `yaml:"min_percent"`
	MaxPercent int    `yaml:"max_percent"`
	KeyPrefix  string `yaml:"key_prefix"`
}

type SearchConfig struct {
	URL            string `yaml:"url"`
	TopK           int    `yaml:"top_k"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type CollaboratorsConfig struct {
	CartURL        string `yaml:"cart_url"`
	ImageURL       string `yaml:"image_url"`
	OutfitURL      string `yaml:"outfit_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ProfilesConfig struct {
	DSN string `yaml:"dsn"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads a YAML file, expanding ${VAR} references from the
// environment before decoding.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML bytes and applies defaults.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.ProviderPolicy.MaxAttempts <= 0 {
		c.ProviderPolicy.MaxAttempts = DefaultMaxAttempts
	}
	if len(c.ProviderPolicy.BackoffMs) == 0 {
		c.ProviderPolicy.BackoffMs = append([]int(nil), DefaultBackoffMs...)
	}
	if c.ProviderPolicy.AttemptTimeoutSeconds <= 0 {
		c.ProviderPolicy.AttemptTimeoutSeconds = DefaultAttemptTimeoutSeconds
	}
	if c.RateLimit.PerIdentity <= 0 {
		c.RateLimit.PerIdentity = DefaultPerIdentityLimit
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = DefaultWindowSeconds
	}
	if c.RateLimit.GlobalDailyCap <= 0 {
		c.RateLimit.GlobalDailyCap = DefaultGlobalDailyCap
	}
	if c.Haggle.PenaltyPercent <= 0 {
		c.Haggle.PenaltyPercent = DefaultPenaltyPercent
	}
	if c.Coupons.TTLMinutes <= 0 {
		c.Coupons.TTLMinutes = DefaultCouponTTLMinutes
	}
	if c.Coupons.MinPercent <= 0 {
		c.Coupons.MinPercent = DefaultCouponMinPercent
	}
	if c.Coupons.MaxPercent <= 0 {
		c.Coupons.MaxPercent = DefaultCouponMaxPercent
	}
	if c.Coupons.KeyPrefix == "" {
		c.Coupons.KeyPrefix = "shopkeeper:coupon:"
	}
	if c.Search.TopK <= 0 {
		c.Search.TopK = DefaultSearchTopK
	}
	if c.Search.TimeoutSeconds <= 0 {
		c.Search.TimeoutSeconds = DefaultSearchTimeoutSeconds
	}
	if c.Collaborators.TimeoutSeconds <= 0 {
		c.Collaborators.TimeoutSeconds = DefaultCollabTimeoutSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate rejects settings that cannot be corrected by defaults. An empty
// provider list is allowed here; chat turns fail fast on it instead.
func (c *Config) Validate() error {
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("providers[%d] (%s): base_url is required", i, p.Name)
		}
		if p.Model == "" {
			return fmt.Errorf("providers[%d] (%s): model is required", i, p.Name)
		}
	}
	if c.Coupons.MinPercent > c.Coupons.MaxPercent {
		return fmt.Errorf("coupons: min_percent %d exceeds max_percent %d", c.Coupons.MinPercent, c.Coupons.MaxPercent)
	}
	return nil
}

// Window returns the per-identity sliding window.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Backoff returns the configured backoff schedule.
func (p ProviderPolicyConfig) Backoff() []time.Duration {
	out := make([]time.Duration, len(p.BackoffMs))
	for i, ms := range p.BackoffMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

func (p ProviderPolicyConfig) AttemptTimeout() time.Duration {
	return time.Duration(p.AttemptTimeoutSeconds) * time.Second
}

func (c CouponConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}
