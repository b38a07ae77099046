// Package config reads the server configuration from the environment and
// an optional YAML file with engine tuning.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Database struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     string
	SSLMode  string
}

type AWS struct {
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

type Stripe struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Engine holds the knobs of the booking engine itself.
type Engine struct {
	// InitialPercent is the share of the total price collected before pickup.
	InitialPercent int64  `yaml:"initial_percent"`
	Currency       string `yaml:"currency"`
	// RequestTimeout is how long a booking may stay requested before the
	// sweep rejects it.
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollMaxAttempts int           `yaml:"poll_max_attempts"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	EventBatchSize  int           `yaml:"event_batch_size"`
}

type Config struct {
	Port         string
	LogLevel     string
	BaseURL      string
	UploadDir    string
	JWTSecret    string
	RedisURL     string
	FirebasePath string
	Database     Database
	AWS          AWS
	Stripe       Stripe
	Engine       Engine
}

// DefaultEngine is used for anything the YAML file and environment leave unset.
func DefaultEngine() Engine {
	return Engine{
		InitialPercent:  30,
		Currency:        "usd",
		RequestTimeout:  24 * time.Hour,
		SweepInterval:   5 * time.Minute,
		PollInterval:    10 * time.Second,
		PollMaxAttempts: 216,
		SessionTTL:      35 * time.Minute,
		EventBatchSize:  50,
	}
}

// Load builds the configuration. engineFile may be empty. Environment
// variables win over the file.
func Load(engineFile string) (*Config, error) {
	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		BaseURL:      getenv("BASE_URL", "http://localhost:8080"),
		UploadDir:    getenv("UPLOAD_DIR", "./uploads"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		RedisURL:     os.Getenv("REDIS_URL"),
		FirebasePath: os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH"),
		Database: Database{
			Host:     getenv("DB_HOST", "localhost"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
			Port:     getenv("DB_PORT", "5432"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},
		AWS: AWS{
			Region:    os.Getenv("AWS_REGION"),
			AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Bucket:    os.Getenv("AWS_S3_BUCKET"),
		},
		Stripe: Stripe{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    os.Getenv("STRIPE_SUCCESS_URL"),
			CancelURL:     os.Getenv("STRIPE_CANCEL_URL"),
		},
		Engine: DefaultEngine(),
	}

	if engineFile != "" {
		raw, err := os.ReadFile(engineFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read engine config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg.Engine); err != nil {
			return nil, fmt.Errorf("failed to parse engine config: %w", err)
		}
	}

	if err := cfg.applyEngineEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	if cfg.Stripe.SecretKey != "" {
		if err := cfg.Engine.ValidateStripe(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyEngineEnv() error {
	var err error
	if v := os.Getenv("ENGINE_INITIAL_PERCENT"); v != "" {
		if c.Engine.InitialPercent, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("ENGINE_INITIAL_PERCENT: %w", err)
		}
	}
	if v := os.Getenv("ENGINE_CURRENCY"); v != "" {
		c.Engine.Currency = v
	}
	durations := map[string]*time.Duration{
		"ENGINE_REQUEST_TIMEOUT": &c.Engine.RequestTimeout,
		"ENGINE_SWEEP_INTERVAL":  &c.Engine.SweepInterval,
		"ENGINE_POLL_INTERVAL":   &c.Engine.PollInterval,
		"ENGINE_SESSION_TTL":     &c.Engine.SessionTTL,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			if *dst, err = time.ParseDuration(v); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	ints := map[string]*int{
		"ENGINE_POLL_MAX_ATTEMPTS": &c.Engine.PollMaxAttempts,
		"ENGINE_EVENT_BATCH_SIZE":  &c.Engine.EventBatchSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			if *dst, err = strconv.Atoi(v); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

func (e Engine) Validate() error {
	switch {
	case e.InitialPercent <= 0 || e.InitialPercent > 99:
		return errors.New("initial_percent must be between 1 and 99")
	case e.Currency == "":
		return errors.New("currency is required")
	case e.RequestTimeout <= 0, e.SweepInterval <= 0, e.PollInterval <= 0, e.SessionTTL <= 0:
		return errors.New("durations must be positive")
	case e.PollMaxAttempts <= 0:
		return errors.New("poll_max_attempts must be positive")
	case e.EventBatchSize <= 0:
		return errors.New("event_batch_size must be positive")
	case e.PollBudget() < e.SessionTTL:
		return fmt.Errorf("poll_interval x poll_max_attempts (%s) must cover session_ttl (%s)", e.PollBudget(), e.SessionTTL)
	}
	return nil
}

// PollBudget is how long a checkout is watched before it is expired.
func (e Engine) PollBudget() time.Duration {
	return e.PollInterval * time.Duration(e.PollMaxAttempts)
}

// Stripe refuses a Checkout expires_at less than 30 minutes or more than
// 24 hours after creation. The lower bound keeps a minute of slack for the
// clock and the round trip.
const (
	minStripeSessionTTL = 31 * time.Minute
	maxStripeSessionTTL = 24 * time.Hour
)

// ValidateStripe checks the settings Stripe Checkout places limits on.
func (e Engine) ValidateStripe() error {
	if e.SessionTTL < minStripeSessionTTL || e.SessionTTL > maxStripeSessionTTL {
		return fmt.Errorf("session_ttl %s is outside the %s to %s Stripe allows", e.SessionTTL, minStripeSessionTTL, maxStripeSessionTTL)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
