package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Broadcast struct {
		GlobalDeadline time.Duration `yaml:"global_deadline"`
		AccountTimeout time.Duration `yaml:"account_timeout"`
		JournalBuffer  int           `yaml:"journal_buffer"`
	} `yaml:"broadcast"`
	Tokens struct {
		ExpiryBuffer       time.Duration `yaml:"expiry_buffer"`
		BatchSize          int           `yaml:"batch_size"`
		RefreshConcurrency int           `yaml:"refresh_concurrency"`
		SweepSchedule      string        `yaml:"sweep_schedule"`
	} `yaml:"tokens"`
	Queue struct {
		Concurrency   int           `yaml:"concurrency"`
		PerJobTimeout time.Duration `yaml:"per_job_timeout"`
		MaxRetries    int           `yaml:"max_retries"`
	} `yaml:"queue"`
	Journal struct {
		Backend string `yaml:"backend"` // memory | clickhouse | kafka | both
	} `yaml:"journal"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		OutcomeTopic string   `yaml:"outcome_topic"`
		LogTopic     string   `yaml:"log_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Broker struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"broker"`
	Instruments struct {
		CacheTTL time.Duration `yaml:"cache_ttl"`
		Redis    struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"instruments"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("JOURNAL_BACKEND"); v != "" {
		c.Journal.Backend = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		c.Broker.BaseURL = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Instruments.Redis.Addr = v
		c.Instruments.Redis.Enabled = true
	}

	return c, nil
}

// applyDefaults fills the externally tunable knobs that were omitted.
func (c *Config) applyDefaults() {
	if c.Broadcast.GlobalDeadline <= 0 {
		c.Broadcast.GlobalDeadline = 2000 * time.Millisecond
	}
	if c.Broadcast.AccountTimeout <= 0 {
		c.Broadcast.AccountTimeout = 500 * time.Millisecond
	}
	if c.Broadcast.JournalBuffer <= 0 {
		c.Broadcast.JournalBuffer = 1000
	}
	if c.Tokens.ExpiryBuffer <= 0 {
		c.Tokens.ExpiryBuffer = 30 * time.Minute
	}
	if c.Tokens.BatchSize <= 0 {
		c.Tokens.BatchSize = 50
	}
	if c.Tokens.RefreshConcurrency <= 0 {
		c.Tokens.RefreshConcurrency = 5
	}
	if c.Tokens.SweepSchedule == "" {
		c.Tokens.SweepSchedule = "0 8,20 * * *"
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 10
	}
	if c.Queue.PerJobTimeout <= 0 {
		c.Queue.PerJobTimeout = 30 * time.Second
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Journal.Backend == "" {
		c.Journal.Backend = "memory"
	}
	if c.Broker.Timeout <= 0 {
		c.Broker.Timeout = 10 * time.Second
	}
	if c.Instruments.CacheTTL <= 0 {
		c.Instruments.CacheTTL = 12 * time.Hour
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Journal.Backend {
	case "memory", "clickhouse", "kafka", "both":
	default:
		return fmt.Errorf("journal.backend must be 'memory', 'clickhouse', 'kafka', or 'both', got '%s'", c.Journal.Backend)
	}
	if c.Journal.Backend == "kafka" || c.Journal.Backend == "both" {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers required for journal backend '%s'", c.Journal.Backend)
		}
		if c.Kafka.OutcomeTopic == "" {
			return fmt.Errorf("kafka.outcome_topic is required")
		}
	}
	if c.Journal.Backend == "clickhouse" || c.Journal.Backend == "both" {
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host required for journal backend '%s'", c.Journal.Backend)
		}
	}
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Broadcast.AccountTimeout > c.Broadcast.GlobalDeadline {
		return fmt.Errorf("broadcast.account_timeout must not exceed broadcast.global_deadline")
	}
	return nil
}
