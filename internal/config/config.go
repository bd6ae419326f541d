package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/murdok1982/hispanshield/internal/analysis/scoring"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
	Reputation ReputationConfig `yaml:"reputation"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Rules      RulesConfig      `yaml:"rules"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Triage     TriageConfig     `yaml:"triage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadMB     int64         `yaml:"max_upload_mb"`
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

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
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

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// StorageConfig holds object storage settings for artifact bytes
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration. StaleClaimAfter is
// the window after which a claimed job with no progress may be taken
// over by another worker; zero means the storage default.
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	DynamicTimeout  time.Duration `yaml:"dynamic_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StaleClaimAfter time.Duration `yaml:"stale_claim_after"`
}

// ReputationConfig holds the hash-lookup collaborator settings
type ReputationConfig struct {
	APIURL  string        `yaml:"api_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SandboxConfig holds the detonation sandbox collaborator settings
type SandboxConfig struct {
	APIURL         string        `yaml:"api_url"`
	APIToken       string        `yaml:"api_token"`
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	SubmitAttempts int           `yaml:"submit_attempts"`
	SubmitDelay    time.Duration `yaml:"submit_delay"`
}

// RulesConfig holds the rule-matching engine collaborator settings
type RulesConfig struct {
	APIURL  string        `yaml:"api_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ScoringConfig holds the tunable scoring policy. Zero values fall back
// to the stock policy so a minimal config stays valid.
type ScoringConfig struct {
	Thresholds       scoring.LevelThresholds `yaml:"thresholds"`
	EntropyThreshold float64                 `yaml:"entropy_threshold"`
	EntropyPoints    int                     `yaml:"entropy_points"`
	ImportPoints     int                     `yaml:"import_points"`
	HighRiskImports  []string                `yaml:"high_risk_imports"`
}

// TriageConfig holds the triage decision tunables
type TriageConfig struct {
	ShortCircuitEnabled bool    `yaml:"short_circuit_enabled"`
	ShortCircuitScore   int     `yaml:"short_circuit_score"`
	IngestRatio         float64 `yaml:"ingest_ratio"`
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

	return &config, nil
}

// ScoringPolicy builds the effective scoring policy: configured values
// where present, stock policy everywhere else.
func (c *Config) ScoringPolicy() scoring.Policy {
	policy := scoring.DefaultPolicy()

	if c.Scoring.Thresholds != (scoring.LevelThresholds{}) {
		policy.Levels = c.Scoring.Thresholds
	}
	if c.Scoring.EntropyThreshold > 0 {
		policy.EntropyThreshold = c.Scoring.EntropyThreshold
	}
	if c.Scoring.EntropyPoints > 0 {
		policy.EntropyPoints = c.Scoring.EntropyPoints
	}
	if c.Scoring.ImportPoints > 0 {
		policy.ImportPoints = c.Scoring.ImportPoints
	}
	if len(c.Scoring.HighRiskImports) > 0 {
		policy.HighRiskImports = c.Scoring.HighRiskImports
	}

	return policy
}

// ValidateAPIConfig checks the configuration the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	return nil
}

// ValidateWorkerConfig checks the configuration the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.DynamicTimeout <= 0 {
		return fmt.Errorf("worker dynamic_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Sandbox.PollInterval <= 0 {
		return fmt.Errorf("sandbox poll_interval must be greater than 0")
	}

	if c.Worker.StaleClaimAfter != 0 && c.Worker.StaleClaimAfter <= c.Worker.DynamicTimeout {
		return fmt.Errorf("worker stale_claim_after must exceed dynamic_timeout")
	}

	if c.Triage.ShortCircuitEnabled && (c.Triage.ShortCircuitScore <= 0 || c.Triage.ShortCircuitScore > 100) {
		return fmt.Errorf("triage short_circuit_score must be in (0, 100] when short-circuiting is enabled")
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	return nil
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

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	return nil
}
