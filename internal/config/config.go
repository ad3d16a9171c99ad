// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"

	defaultLockTTL           = 5 * time.Minute
	defaultMaxLocksPerHolder = 4
	defaultCompletionCron    = "0 * * * *"
	defaultLockEvictionCron  = "* * * * *"
	defaultDedupWindow       = 30 * time.Second
	defaultKeepAlive         = 25 * time.Second
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Filename string `yaml:"filename"`
}

type LocksConfig struct {
	Backend      string        `yaml:"backend"`
	TTL          time.Duration `yaml:"ttl"`
	MaxPerHolder int           `yaml:"max_per_holder"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	Password  string `yaml:"-"` // Loaded from environment
}

type RealtimeConfig struct {
	// LegacyJoinAllClubs lets connections without a club_id join every
	// club room the identity can access. Remove once all clients send club_id.
	LegacyJoinAllClubs bool          `yaml:"legacy_join_all_clubs"`
	DedupWindow        time.Duration `yaml:"dedup_window"`
	KeepAlive          time.Duration `yaml:"keep_alive"`
	BufferSize         int           `yaml:"buffer_size"`
}

type SweepsConfig struct {
	CompletionCron   string `yaml:"completion_cron"`
	LockEvictionCron string `yaml:"lock_eviction_cron"`
}

type AMQPConfig struct {
	Exchange     string `yaml:"exchange"`
	PaymentQueue string `yaml:"payment_queue"`
	URL          string `yaml:"-"` // Loaded from environment
}

type EmailConfig struct {
	Region string `yaml:"region"`
	Sender string `yaml:"sender"`
}

// Secrets are never read from the yaml file.
type Secrets struct {
	AppSecretKey        string `envconfig:"APP_SECRET_KEY"`
	JWTSecret           string `envconfig:"JWT_SECRET"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	PaymentCallbackKey  string `envconfig:"PAYMENT_CALLBACK_KEY"`
	RedisPassword       string `envconfig:"REDIS_PASSWORD"`
	AMQPURL             string `envconfig:"AMQP_URL"`
	AWSAccessKeyID      string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey  string `envconfig:"AWS_SECRET_ACCESS_KEY"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
		BaseURL     string `yaml:"base_url"`
		TrustProxy  bool   `yaml:"trust_proxy"`
		SecretKey   string `yaml:"-"` // Loaded from environment
	} `yaml:"app"`

	Database DatabaseConfig `yaml:"database"`
	Locks    LocksConfig    `yaml:"locks"`
	Redis    RedisConfig    `yaml:"redis"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Sweeps   SweepsConfig   `yaml:"sweeps"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Email    EmailConfig    `yaml:"email"`

	Features struct {
		EnableTracing bool   `yaml:"enable_tracing"`
		EnableDebug   bool   `yaml:"enable_debug"`
		OTLPEndpoint  string `yaml:"otlp_endpoint"`
	} `yaml:"features"`

	Secrets Secrets `yaml:"-"`
}

// Load loads both .env and yaml configuration
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := envconfig.Process("", &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("error loading secrets from environment: %w", err)
	}
	cfg.App.SecretKey = cfg.Secrets.AppSecretKey
	cfg.Redis.Password = cfg.Secrets.RedisPassword
	cfg.AMQP.URL = cfg.Secrets.AMQPURL

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes yaml and fills defaults. It does not touch the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Locks.Backend == "" {
		c.Locks.Backend = LockBackendMemory
	}
	if c.Locks.TTL <= 0 {
		c.Locks.TTL = defaultLockTTL
	}
	if c.Locks.MaxPerHolder == 0 {
		c.Locks.MaxPerHolder = defaultMaxLocksPerHolder
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "courtside"
	}
	if c.Realtime.DedupWindow <= 0 {
		c.Realtime.DedupWindow = defaultDedupWindow
	}
	if c.Realtime.KeepAlive <= 0 {
		c.Realtime.KeepAlive = defaultKeepAlive
	}
	if c.Realtime.BufferSize <= 0 {
		c.Realtime.BufferSize = 32
	}
	if c.Sweeps.CompletionCron == "" {
		c.Sweeps.CompletionCron = defaultCompletionCron
	}
	if c.Sweeps.LockEvictionCron == "" {
		c.Sweeps.LockEvictionCron = defaultLockEvictionCron
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "courtside.events"
	}
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.App.Port == 0 {
		return fmt.Errorf("app port is required")
	}
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Filename == "" {
			return fmt.Errorf("database filename is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch c.Locks.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unsupported lock backend: %s", c.Locks.Backend)
	}
	if c.Locks.MaxPerHolder < 0 {
		return fmt.Errorf("locks max_per_holder must be 0 or greater")
	}

	if _, err := cron.ParseStandard(c.Sweeps.CompletionCron); err != nil {
		return fmt.Errorf("invalid completion_cron %q: %w", c.Sweeps.CompletionCron, err)
	}
	if _, err := cron.ParseStandard(c.Sweeps.LockEvictionCron); err != nil {
		return fmt.Errorf("invalid lock_eviction_cron %q: %w", c.Sweeps.LockEvictionCron, err)
	}

	if c.Secrets.JWTSecret == "" && c.App.Environment != "development" {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}

	return nil
}
