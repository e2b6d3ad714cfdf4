package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/service"
	"github.com/climsoft/climsoft-web-sub003/internal/worker"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	RabbitMQ  RabbitMQConfig   `yaml:"rabbitmq"`
	Logging   LoggingConfig    `yaml:"logging"`
	App       AppConfig        `yaml:"app"`
	Auth      AuthConfig       `yaml:"auth"`
	Worker    WorkerConfig     `yaml:"worker"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the job store connection. Driver is "postgres" (default) or "sqlite".
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
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
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AuthConfig guards the admin API. An empty secret disables authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	BatchSize          int           `yaml:"batch_size"`
	Concurrency        int           `yaml:"concurrency"`
	JobTimeout         time.Duration `yaml:"job_timeout"`
	LeaseDuration      time.Duration `yaml:"lease_duration"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	DefaultMaxAttempts int           `yaml:"default_max_attempts"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	CleanupCron        string        `yaml:"cleanup_cron"`
	RetentionDays      int           `yaml:"retention_days"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	ForwardJobNames    []string      `yaml:"forward_job_names"`
}

// ScheduleConfig creates a job each time Cron fires
type ScheduleConfig struct {
	Name        string         `yaml:"name"`
	JobType     string         `yaml:"job_type"`
	Cron        string         `yaml:"cron"`
	Payload     map[string]any `yaml:"payload"`
	MaxAttempts int            `yaml:"max_attempts"`
}

// Load reads and parses the configuration file.
// ${VAR} references are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks the settings shared by both services
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateAPIConfig checks the configuration of the admin API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the configuration of the worker service.
// Zero values fall back to worker defaults, negative ones are rejected.
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	w := c.Worker

	if w.PollInterval < 0 {
		return fmt.Errorf("worker poll_interval must not be negative")
	}

	if w.BatchSize < 0 {
		return fmt.Errorf("worker batch_size must not be negative")
	}

	if w.Concurrency < 0 {
		return fmt.Errorf("worker concurrency must not be negative")
	}

	if w.JobTimeout < 0 {
		return fmt.Errorf("worker job_timeout must not be negative")
	}

	if w.LeaseDuration < 0 {
		return fmt.Errorf("worker lease_duration must not be negative")
	}

	if w.HeartbeatInterval < 0 {
		return fmt.Errorf("worker heartbeat_interval must not be negative")
	}

	lease := w.LeaseDuration
	if lease == 0 {
		lease = service.DefaultLeaseDuration
	}
	heartbeat := w.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = worker.DefaultHeartbeatInterval
	}
	if heartbeat >= lease {
		return fmt.Errorf("worker heartbeat_interval (%s) must be shorter than lease_duration (%s)", heartbeat, lease)
	}

	if w.DefaultMaxAttempts < 0 {
		return fmt.Errorf("worker default_max_attempts must not be negative")
	}

	if w.RetentionDays < 0 {
		return fmt.Errorf("worker retention_days must not be negative")
	}

	if w.CleanupCron != "" {
		if _, err := cron.ParseStandard(w.CleanupCron); err != nil {
			return fmt.Errorf("invalid worker cleanup_cron %q: %w", w.CleanupCron, err)
		}
	}

	if len(w.ForwardJobNames) > 0 && !c.RabbitMQ.Enabled {
		return fmt.Errorf("worker forward_job_names requires rabbitmq to be enabled")
	}

	// Forwarded jobs share the exchange with triggers; a forward routed to the
	// trigger key would be consumed again as a new job.
	for _, name := range w.ForwardJobNames {
		if worker.ForwardRoutingPrefix+name == c.RabbitMQ.RoutingKey {
			return fmt.Errorf("worker forward job %q would publish to the trigger routing_key %q", name, c.RabbitMQ.RoutingKey)
		}
	}

	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("schedule #%d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("schedule %q is defined twice", s.Name)
		}
		seen[s.Name] = true

		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("schedule %q: invalid cron %q: %w", s.Name, s.Cron, err)
		}
		if s.MaxAttempts < 0 {
			return fmt.Errorf("schedule %q: max_attempts must not be negative", s.Name)
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
		return nil
	case "", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
