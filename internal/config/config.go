// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"fleet-maintenance/internal/domain/model"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`   // trace|debug|info|warn|error
	Format   string `yaml:"format" envconfig:"FORMAT"` // json|console
	Sampling bool   `yaml:"sampling" envconfig:"SAMPLING"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER"` // postgres | memory
}

type DatabaseConfig struct {
	URL      string `yaml:"url" envconfig:"URL"`
	MaxConns int32  `yaml:"max_conns" envconfig:"MAX_CONNS"`
}

type RedisConfig struct {
	URL      string `yaml:"url" envconfig:"URL"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
	// CacheTTL bounds how long company lookups stay cached.
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

type GuardConfig struct {
	Store string `yaml:"store" envconfig:"STORE"` // memory | redis
}

type SecurityConfig struct {
	EncryptionKey string        `yaml:"encryption_key" envconfig:"ENCRYPTION_KEY"`
	JWTSecret     string        `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	TokenTTL      time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
}

type BruteForceConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" envconfig:"FAILURE_THRESHOLD"`
	Window           time.Duration `yaml:"window" envconfig:"WINDOW"`
	CaptchaTTL       time.Duration `yaml:"captcha_ttl" envconfig:"CAPTCHA_TTL"`
	RapidFireWindow  time.Duration `yaml:"rapid_fire_window" envconfig:"RAPID_FIRE_WINDOW"`
}

type CaptchaConfig struct {
	Provider  string        `yaml:"provider" envconfig:"PROVIDER"` // recaptcha | hcaptcha | test
	Secret    string        `yaml:"secret" envconfig:"SECRET"`
	VerifyURL string        `yaml:"verify_url" envconfig:"VERIFY_URL"`
	TestToken string        `yaml:"test_token" envconfig:"TEST_TOKEN"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

type CodeSharingConfig struct {
	IPThreshold int           `yaml:"ip_threshold" envconfig:"IP_THRESHOLD"`
	TrackerTTL  time.Duration `yaml:"tracker_ttl" envconfig:"TRACKER_TTL"`
}

type ActivationConfig struct {
	GenerationAttempts   int           `yaml:"generation_attempts" envconfig:"GENERATION_ATTEMPTS"`
	DefaultExpiryDays    int           `yaml:"default_expiry_days" envconfig:"DEFAULT_EXPIRY_DAYS"`
	ExtendedExpiryDays   int           `yaml:"extended_expiry_days" envconfig:"EXTENDED_EXPIRY_DAYS"`
	RegenerationLimit    int           `yaml:"regeneration_limit" envconfig:"REGENERATION_LIMIT"`
	ReminderLookahead    time.Duration `yaml:"reminder_lookahead" envconfig:"REMINDER_LOOKAHEAD"`
	VerificationTTL      time.Duration `yaml:"verification_ttl" envconfig:"VERIFICATION_TTL"`
	VerificationAttempts int           `yaml:"verification_attempts" envconfig:"VERIFICATION_ATTEMPTS"`
	NotificationBatch    int           `yaml:"notification_batch" envconfig:"NOTIFICATION_BATCH"`
	ActivationURLPrefix  string        `yaml:"activation_url_prefix" envconfig:"ACTIVATION_URL_PREFIX"`
}

type EmailConfig struct {
	Provider      string        `yaml:"provider" envconfig:"PROVIDER"` // sendgrid | log
	APIKey        string        `yaml:"api_key" envconfig:"API_KEY"`
	FromAddress   string        `yaml:"from_address" envconfig:"FROM_ADDRESS"`
	FromName      string        `yaml:"from_name" envconfig:"FROM_NAME"`
	BatchSize     int           `yaml:"batch_size" envconfig:"BATCH_SIZE"`
	MaxAttempts   int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	SendTimeout   time.Duration `yaml:"send_timeout" envconfig:"SEND_TIMEOUT"`
	ClaimTTL      time.Duration `yaml:"claim_ttl" envconfig:"CLAIM_TTL"` // 0: derived from batch size and send timeout
	RatePerSecond float64       `yaml:"rate_per_second" envconfig:"RATE_PER_SECOND"`
	Burst         int           `yaml:"burst" envconfig:"BURST"`
	RetentionDays int           `yaml:"retention_days" envconfig:"RETENTION_DAYS"`
	RetryAfter    time.Duration `yaml:"retry_failed_after" envconfig:"RETRY_FAILED_AFTER"`
}

type AuditConfig struct {
	Workers       int           `yaml:"workers" envconfig:"WORKERS"`
	RetentionDays int           `yaml:"retention_days" envconfig:"RETENTION_DAYS"`
	StatsWindow   time.Duration `yaml:"stats_window" envconfig:"STATS_WINDOW"`
}

type SchedulerConfig struct {
	DrainSpec    string        `yaml:"drain_spec" envconfig:"DRAIN_SPEC"`
	ReminderSpec string        `yaml:"reminder_spec" envconfig:"REMINDER_SPEC"`
	ExpirySpec   string        `yaml:"expiry_spec" envconfig:"EXPIRY_SPEC"`
	SweepSpec    string        `yaml:"sweep_spec" envconfig:"SWEEP_SPEC"`
	CleanupSpec  string        `yaml:"cleanup_spec" envconfig:"CLEANUP_SPEC"`
	JobTimeout   time.Duration `yaml:"job_timeout" envconfig:"JOB_TIMEOUT"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Log         LogConfig         `yaml:"log" envconfig:"LOG"`
	Storage     StorageConfig     `yaml:"storage" envconfig:"STORAGE"`
	Database    DatabaseConfig    `yaml:"database" envconfig:"DATABASE"`
	Redis       RedisConfig       `yaml:"redis" envconfig:"REDIS"`
	Guard       GuardConfig       `yaml:"guard" envconfig:"GUARD"`
	Security    SecurityConfig    `yaml:"security" envconfig:"SECURITY"`
	BruteForce  BruteForceConfig  `yaml:"brute_force" envconfig:"BRUTE_FORCE"`
	Captcha     CaptchaConfig     `yaml:"captcha" envconfig:"CAPTCHA"`
	CodeSharing CodeSharingConfig `yaml:"code_sharing" envconfig:"CODE_SHARING"`
	Activation  ActivationConfig  `yaml:"activation" envconfig:"ACTIVATION"`
	Email       EmailConfig       `yaml:"email" envconfig:"EMAIL"`
	Audit       AuditConfig       `yaml:"audit" envconfig:"AUDIT"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" envconfig:"SCHEDULER"`

	RateLimits map[string]model.RateLimitPolicy `yaml:"rate_limits" ignored:"true"`

	Runtime RuntimeConfig `yaml:"-" ignored:"true"`
}

// EnvPrefix prefixes every environment override, e.g. FLEET_DATABASE_URL.
const EnvPrefix = "FLEET"

// LoadConfig reads the YAML file at path, applies FLEET_* environment
// overrides, fills defaults and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !(errors.Is(err, os.ErrNotExist) && dev) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	c.Server.ReadTimeout = orDuration(c.Server.ReadTimeout, 15*time.Second)
	c.Server.WriteTimeout = orDuration(c.Server.WriteTimeout, 15*time.Second)
	c.Server.RequestTimeout = orDuration(c.Server.RequestTimeout, 10*time.Second)
	c.Server.ShutdownTimeout = orDuration(c.Server.ShutdownTimeout, 30*time.Second)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
		if c.Runtime.Dev && c.Database.URL == "" {
			c.Storage.Driver = "memory"
		}
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Guard.Store == "" {
		c.Guard.Store = "memory"
	}
	c.Redis.CacheTTL = orDuration(c.Redis.CacheTTL, 10*time.Minute)
	c.Security.TokenTTL = orDuration(c.Security.TokenTTL, 12*time.Hour)

	c.BruteForce.FailureThreshold = orInt(c.BruteForce.FailureThreshold, 3)
	c.BruteForce.Window = orDuration(c.BruteForce.Window, time.Hour)
	c.BruteForce.CaptchaTTL = orDuration(c.BruteForce.CaptchaTTL, time.Hour)
	c.BruteForce.RapidFireWindow = orDuration(c.BruteForce.RapidFireWindow, time.Second)

	if c.Captcha.Provider == "" {
		c.Captcha.Provider = "recaptcha"
		if c.Runtime.Dev {
			c.Captcha.Provider = "test"
		}
	}
	if c.Captcha.TestToken == "" {
		c.Captcha.TestToken = "test-captcha-token"
	}
	c.Captcha.Timeout = orDuration(c.Captcha.Timeout, 5*time.Second)

	c.CodeSharing.IPThreshold = orInt(c.CodeSharing.IPThreshold, 3)
	c.CodeSharing.TrackerTTL = orDuration(c.CodeSharing.TrackerTTL, 24*time.Hour)

	c.Activation.GenerationAttempts = orInt(c.Activation.GenerationAttempts, 10)
	c.Activation.DefaultExpiryDays = orInt(c.Activation.DefaultExpiryDays, 30)
	c.Activation.ExtendedExpiryDays = orInt(c.Activation.ExtendedExpiryDays, 60)
	c.Activation.RegenerationLimit = orInt(c.Activation.RegenerationLimit, 3)
	c.Activation.ReminderLookahead = orDuration(c.Activation.ReminderLookahead, 48*time.Hour)
	c.Activation.VerificationTTL = orDuration(c.Activation.VerificationTTL, 15*time.Minute)
	c.Activation.VerificationAttempts = orInt(c.Activation.VerificationAttempts, 5)
	c.Activation.NotificationBatch = orInt(c.Activation.NotificationBatch, 100)

	if c.Email.Provider == "" {
		c.Email.Provider = "sendgrid"
		if c.Runtime.Dev {
			c.Email.Provider = "log"
		}
	}
	if c.Email.FromName == "" {
		c.Email.FromName = "Fleet Maintenance"
	}
	c.Email.BatchSize = orInt(c.Email.BatchSize, 10)
	c.Email.MaxAttempts = orInt(c.Email.MaxAttempts, 3)
	c.Email.SendTimeout = orDuration(c.Email.SendTimeout, 30*time.Second)
	if c.Email.RatePerSecond <= 0 {
		c.Email.RatePerSecond = 5
	}
	c.Email.Burst = orInt(c.Email.Burst, 5)
	c.Email.RetentionDays = orInt(c.Email.RetentionDays, 30)
	c.Email.RetryAfter = orDuration(c.Email.RetryAfter, 60*time.Minute)

	c.Audit.Workers = orInt(c.Audit.Workers, 2)
	c.Audit.RetentionDays = orInt(c.Audit.RetentionDays, 90)
	c.Audit.StatsWindow = orDuration(c.Audit.StatsWindow, 24*time.Hour)

	c.Scheduler.DrainSpec = orString(c.Scheduler.DrainSpec, "@every 1m")
	c.Scheduler.ReminderSpec = orString(c.Scheduler.ReminderSpec, "@hourly")
	c.Scheduler.ExpirySpec = orString(c.Scheduler.ExpirySpec, "@hourly")
	c.Scheduler.SweepSpec = orString(c.Scheduler.SweepSpec, "@hourly")
	c.Scheduler.CleanupSpec = orString(c.Scheduler.CleanupSpec, "0 3 * * *")
	c.Scheduler.JobTimeout = orDuration(c.Scheduler.JobTimeout, 5*time.Minute)

	// Named limiters missing from the file keep their stock policy.
	defaults := model.DefaultRateLimitPolicies()
	if c.RateLimits == nil {
		c.RateLimits = make(map[string]model.RateLimitPolicy, len(defaults))
	}
	for name, p := range defaults {
		cur, ok := c.RateLimits[name]
		if !ok || cur.Points <= 0 {
			c.RateLimits[name] = p
			continue
		}
		if cur.Duration <= 0 {
			cur.Duration = p.Duration
		}
		c.RateLimits[name] = cur
	}
}

// Validate performs minimal validation after defaults have been applied.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Guard.Store {
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis.url is required when guard.store is redis")
		}
	case "memory":
	default:
		return fmt.Errorf("guard.store %q is not supported", c.Guard.Store)
	}
	if c.Security.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("security.jwt_secret is required")
	}
	if k := len(c.Security.EncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return fmt.Errorf("security.encryption_key must be 16, 24 or 32 bytes; got %d", k)
	}
	switch strings.ToLower(c.Email.Provider) {
	case "sendgrid":
		if c.Email.APIKey == "" {
			return errors.New("email.api_key is required for the sendgrid provider")
		}
	case "log":
	default:
		return fmt.Errorf("email.provider %q is not supported", c.Email.Provider)
	}
	if c.Captcha.Provider != "test" && c.Captcha.Secret == "" {
		return errors.New("captcha.secret is required unless captcha.provider is test")
	}
	return nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
