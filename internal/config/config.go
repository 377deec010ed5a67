package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Adapter names accepted in provider kind configuration.
const (
	AdapterDubbing   = "dubbing"
	AdapterTranslate = "translate"
	AdapterWatermark = "watermark"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and topology configuration.
// The dispatch queue hands freshly submitted jobs to the worker; the
// events exchange fans job-state transitions back to the API processes.
type RabbitMQConfig struct {
	Host           string           `yaml:"host"`
	Port           int              `yaml:"port"`
	User           string           `yaml:"user"`
	Password       string           `yaml:"password"`
	VHost          string           `yaml:"vhost"`
	Dispatch       DispatchConfig   `yaml:"dispatch"`
	EventsExchange string           `yaml:"events_exchange"`
	Connection     ConnectionConfig `yaml:"connection"`
	Publish        PublishConfig    `yaml:"publish"`
	Consumer       ConsumerConfig   `yaml:"consumer"`
}

// DispatchConfig holds the dispatch handoff exchange/queue configuration
type DispatchConfig struct {
	Exchange   string `yaml:"exchange"`
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	SweepBatchSize    int           `yaml:"sweep_batch_size"`
	ResumeBatchSize   int           `yaml:"resume_batch_size"`
	PendingStaleAfter time.Duration `yaml:"pending_stale_after"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// ProvidersConfig maps job kinds to their provider settings.
type ProvidersConfig struct {
	Kinds map[string]KindConfig `yaml:"kinds"`
}

// KindConfig is the static per-kind configuration: which adapter serves
// the kind and the tracking parameters for its jobs.
type KindConfig struct {
	Adapter        string        `yaml:"adapter"`
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	TimeoutCeiling time.Duration `yaml:"timeout_ceiling"`
	MaxRetries     int           `yaml:"max_retries"`
}

// APIKey resolves the kind's provider credential from the environment.
func (k KindConfig) APIKey() string {
	if k.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(k.APIKeyEnv)
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	for kind, kc := range c.Providers.Kinds {
		if kc.RequestTimeout <= 0 {
			kc.RequestTimeout = 30 * time.Second
		}
		if kc.PollInterval <= 0 {
			kc.PollInterval = 5 * time.Second
		}
		if kc.TimeoutCeiling <= 0 {
			kc.TimeoutCeiling = 10 * time.Minute
		}
		if kc.MaxRetries <= 0 {
			kc.MaxRetries = 3
		}
		c.Providers.Kinds[kind] = kc
	}

	if c.Worker.SweepInterval <= 0 {
		c.Worker.SweepInterval = 5 * time.Minute
	}
	if c.Worker.SweepBatchSize <= 0 {
		c.Worker.SweepBatchSize = 100
	}
	if c.Worker.ResumeBatchSize <= 0 {
		c.Worker.ResumeBatchSize = 500
	}
	if c.Worker.PendingStaleAfter <= 0 {
		c.Worker.PendingStaleAfter = time.Minute
	}
}

// ValidateAPIConfig checks the configuration required by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateShared()
}

// ValidateWorkerConfig checks the configuration required by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.SweepInterval <= 0 {
		return fmt.Errorf("worker sweep_interval must be greater than 0")
	}

	if c.Worker.SweepBatchSize <= 0 {
		return fmt.Errorf("worker sweep_batch_size must be greater than 0")
	}

	return c.validateShared()
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Dispatch.Exchange == "" {
		return fmt.Errorf("rabbitmq dispatch exchange is required")
	}

	if c.RabbitMQ.Dispatch.Queue == "" {
		return fmt.Errorf("rabbitmq dispatch queue is required")
	}

	if c.RabbitMQ.EventsExchange == "" {
		return fmt.Errorf("rabbitmq events exchange is required")
	}

	if len(c.Providers.Kinds) == 0 {
		return fmt.Errorf("at least one provider kind is required")
	}

	for kind, kc := range c.Providers.Kinds {
		switch kc.Adapter {
		case AdapterDubbing, AdapterTranslate, AdapterWatermark:
		default:
			return fmt.Errorf("provider kind %q has unknown adapter %q", kind, kc.Adapter)
		}

		if kc.BaseURL == "" {
			return fmt.Errorf("provider kind %q requires a base_url", kind)
		}
	}

	return nil
}
