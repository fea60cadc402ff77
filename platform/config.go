package platform

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueConfig configures the priority queue (C4).
type QueueConfig struct {
	MaxSize            int           `yaml:"max_size" env:"APM_QUEUE_MAX_SIZE" default:"10000"`
	QueueDir           string        `yaml:"queue_dir" env:"APM_QUEUE_DIR" default:".apm-auto/queues"`
	CompactionInterval time.Duration `yaml:"compaction_interval" env:"APM_QUEUE_COMPACTION_INTERVAL" default:"60s"`
}

// DeliveryConfig configures the delivery tracker (C5).
type DeliveryConfig struct {
	MaxRetries     int           `yaml:"max_retries" env:"APM_DELIVERY_MAX_RETRIES" default:"3"`
	BaseRetryDelay time.Duration `yaml:"base_retry_delay" env:"APM_DELIVERY_BASE_DELAY" default:"1s"`
	MaxRetryDelay  time.Duration `yaml:"max_retry_delay" env:"APM_DELIVERY_MAX_DELAY" default:"4s"`
	StateDir       string        `yaml:"state_dir" env:"APM_DELIVERY_STATE_DIR" default:".apm-auto/queues"`
}

// ResilienceConfig configures the error handler and circuit breaker (C6).
type ResilienceConfig struct {
	DLQPath                 string                   `yaml:"dlq_path" env:"APM_DLQ_PATH" default:".apm-auto/queues"`
	EnableRetries           bool                     `yaml:"enable_retries" env:"APM_ENABLE_RETRIES" default:"true"`
	CircuitBreakerThreshold int                      `yaml:"circuit_breaker_threshold" env:"APM_CB_THRESHOLD" default:"5"`
	CircuitBreakerTimeout   time.Duration            `yaml:"circuit_breaker_timeout" env:"APM_CB_TIMEOUT" default:"60s"`
	RetryPolicies           map[string]RetryPolicyCfg `yaml:"retry_policies"`
}

// RetryPolicyCfg overrides the default per-message-type retry policy.
type RetryPolicyCfg struct {
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DLQConfig configures the dead letter queue (C7).
type DLQConfig struct {
	MaxSize           int           `yaml:"max_size" env:"APM_DLQ_MAX_SIZE" default:"1000"`
	RetentionDays     int           `yaml:"retention_days" env:"APM_DLQ_RETENTION_DAYS" default:"7"`
	WarningThreshold  int           `yaml:"warning_threshold" env:"APM_DLQ_WARNING_THRESHOLD" default:"10"`
	CriticalThreshold int           `yaml:"critical_threshold" env:"APM_DLQ_CRITICAL_THRESHOLD" default:"100"`
	DLQDir            string        `yaml:"dlq_dir" env:"APM_DLQ_DIR" default:".apm-auto/queues"`
}

// Config aggregates every component's configuration. Defaults are applied
// first, then the optional YAML file, then environment variables, then any
// functional Option passed to Load — each layer overrides the previous one,
// extending the teacher's config precedence (core.Config) with the YAML layer.
type Config struct {
	Queue      QueueConfig      `yaml:"queue"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Resilience ResilienceConfig `yaml:"resilience"`
	DLQ        DLQConfig        `yaml:"dlq"`
}

// Option mutates a Config; passed to Load after defaults+env+YAML have
// been applied, giving callers the highest-priority override layer.
type Option func(*Config)

// DefaultConfig returns a Config populated with the struct tag defaults.
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			MaxSize:            10000,
			QueueDir:           ".apm-auto/queues",
			CompactionInterval: 60 * time.Second,
		},
		Delivery: DeliveryConfig{
			MaxRetries:     3,
			BaseRetryDelay: time.Second,
			MaxRetryDelay:  4 * time.Second,
			StateDir:       ".apm-auto/queues",
		},
		Resilience: ResilienceConfig{
			DLQPath:                 ".apm-auto/queues",
			EnableRetries:           true,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   60 * time.Second,
		},
		DLQ: DLQConfig{
			MaxSize:           1000,
			RetentionDays:     7,
			WarningThreshold:  10,
			CriticalThreshold: 100,
			DLQDir:            ".apm-auto/queues",
		},
	}
}

// Load builds a Config from defaults, then a YAML file (if yamlPath is
// non-empty), then environment variables, then the supplied Options, in
// that priority order (later layers win).
func Load(yamlPath string, opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("platform: reading config file %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("platform: parsing config file %s: %w", yamlPath, err)
		}
	}

	applyEnv(cfg)

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("APM_QUEUE_MAX_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxSize = n
		}
	}
	if v, ok := os.LookupEnv("APM_QUEUE_DIR"); ok {
		cfg.Queue.QueueDir = v
	}
	if v, ok := os.LookupEnv("APM_QUEUE_COMPACTION_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.CompactionInterval = d
		}
	}
	if v, ok := os.LookupEnv("APM_DELIVERY_MAX_RETRIES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Delivery.MaxRetries = n
		}
	}
	if v, ok := os.LookupEnv("APM_DELIVERY_BASE_DELAY"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Delivery.BaseRetryDelay = d
		}
	}
	if v, ok := os.LookupEnv("APM_DELIVERY_MAX_DELAY"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Delivery.MaxRetryDelay = d
		}
	}
	if v, ok := os.LookupEnv("APM_DELIVERY_STATE_DIR"); ok {
		cfg.Delivery.StateDir = v
	}
	if v, ok := os.LookupEnv("APM_DLQ_PATH"); ok {
		cfg.Resilience.DLQPath = v
	}
	if v, ok := os.LookupEnv("APM_ENABLE_RETRIES"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Resilience.EnableRetries = b
		}
	}
	if v, ok := os.LookupEnv("APM_CB_THRESHOLD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Resilience.CircuitBreakerThreshold = n
		}
	}
	if v, ok := os.LookupEnv("APM_CB_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Resilience.CircuitBreakerTimeout = d
		}
	}
	if v, ok := os.LookupEnv("APM_DLQ_MAX_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DLQ.MaxSize = n
		}
	}
	if v, ok := os.LookupEnv("APM_DLQ_RETENTION_DAYS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DLQ.RetentionDays = n
		}
	}
	if v, ok := os.LookupEnv("APM_DLQ_WARNING_THRESHOLD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DLQ.WarningThreshold = n
		}
	}
	if v, ok := os.LookupEnv("APM_DLQ_CRITICAL_THRESHOLD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DLQ.CriticalThreshold = n
		}
	}
	if v, ok := os.LookupEnv("APM_DLQ_DIR"); ok {
		cfg.DLQ.DLQDir = v
	}
}

// WithQueueMaxSize overrides the queue's maximum size.
func WithQueueMaxSize(n int) Option {
	return func(c *Config) { c.Queue.MaxSize = n }
}

// WithQueueDir overrides the directory used for durable queue logs.
func WithQueueDir(dir string) Option {
	return func(c *Config) {
		c.Queue.QueueDir = dir
		c.Delivery.StateDir = dir
		c.Resilience.DLQPath = dir
		c.DLQ.DLQDir = dir
	}
}
