package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/cuongbtq/storybook-be/internal/retry"
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
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Payment  PaymentConfig  `yaml:"payment"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
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
	AutoMigrate     bool          `yaml:"auto_migrate"`
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
	DeadLetter string `yaml:"dead_letter"`
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
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	UseTLS       bool          `yaml:"use_tls"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig holds S3-compatible object storage settings
type StorageConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	UseSSL        bool          `yaml:"use_ssl"`
	PublicBaseURL string        `yaml:"public_base_url"`
	URLExpiry     time.Duration `yaml:"url_expiry"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

// GeminiConfig holds generative model settings
type GeminiConfig struct {
	APIKey     string `yaml:"api_key"`
	ImageModel string `yaml:"image_model"`
	TextModel  string `yaml:"text_model"`
}

// PipelineConfig holds orchestration constants
type PipelineConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	SceneCount   int           `yaml:"scene_count"`
	KeyScenes    []int         `yaml:"key_scenes"`
	SceneDelay   time.Duration `yaml:"scene_delay"`
	DefaultStyle string        `yaml:"default_style"`
	AgeBand      string        `yaml:"age_band"`
}

// PaymentConfig holds payment webhook settings
type PaymentConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
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
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	BusyDelay         time.Duration `yaml:"busy_delay"`
}

// envOverrides maps secret-bearing environment variables onto config fields
var envOverrides = []struct {
	key   string
	field func(*Config) *string
}{
	{"DATABASE_PASSWORD", func(c *Config) *string { return &c.Database.Password }},
	{"RABBITMQ_PASSWORD", func(c *Config) *string { return &c.RabbitMQ.Password }},
	{"REDIS_PASSWORD", func(c *Config) *string { return &c.Redis.Password }},
	{"STORAGE_ACCESS_KEY", func(c *Config) *string { return &c.Storage.AccessKey }},
	{"STORAGE_SECRET_KEY", func(c *Config) *string { return &c.Storage.SecretKey }},
	{"GEMINI_API_KEY", func(c *Config) *string { return &c.Gemini.APIKey }},
	{"STRIPE_WEBHOOK_SECRET", func(c *Config) *string { return &c.Payment.WebhookSecret }},
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

	config.applyEnv()
	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyEnv() {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.field(c) = v
		}
	}
}

// applyDefaults fills pipeline constants that were left out of the file
func (c *Config) applyDefaults() {
	p := &c.Pipeline
	policy := retry.DefaultPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = policy.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = policy.BaseDelay
	}
	if p.CallTimeout == 0 {
		p.CallTimeout = policy.CallTimeout
	}
	if p.SceneCount == 0 {
		p.SceneCount = 14
	}
	if len(p.KeyScenes) == 0 {
		p.KeyScenes = []int{0, 1, 7, 13}
	}
	if p.SceneDelay == 0 {
		p.SceneDelay = 2 * time.Second
	}
	if p.DefaultStyle == "" {
		p.DefaultStyle = "pixar_3d"
	}
	if p.AgeBand == "" {
		p.AgeBand = "4-6"
	}
}

// Validate checks the settings both services depend on
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
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

// ValidateAPIConfig checks the settings used by the API service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.validateRedis(); err != nil {
		return err
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	return c.Gemini.validate()
}

// ValidateWorkerConfig checks the settings used by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.validateRedis(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.LockTTL != 0 && c.Worker.LockTTL <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker lock_ttl must be longer than heartbeat_interval")
	}

	if c.Worker.BusyDelay < 0 {
		return fmt.Errorf("worker busy_delay must not be negative")
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	if err := c.Gemini.validate(); err != nil {
		return err
	}

	return c.Pipeline.validate()
}

// validate requires a public base URL. Stored references outlive any
// presigned URL, so artifacts are only ever referenced through it.
func (s StorageConfig) validate() error {
	if s.Endpoint == "" || s.Bucket == "" {
		return fmt.Errorf("storage endpoint and bucket are required")
	}

	if s.PublicBaseURL == "" {
		return fmt.Errorf("storage public_base_url is required")
	}

	u, err := url.Parse(s.PublicBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("storage public_base_url must be an absolute http(s) URL: %q", s.PublicBaseURL)
	}

	return nil
}

func (g GeminiConfig) validate() error {
	if g.APIKey == "" {
		return fmt.Errorf("gemini api_key is required")
	}

	if g.ImageModel == "" || g.TextModel == "" {
		return fmt.Errorf("gemini image_model and text_model are required")
	}

	return nil
}

func (c *Config) validateRedis() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	return nil
}

func (p PipelineConfig) validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("pipeline max_attempts must be at least 1")
	}

	if p.BaseDelay < 0 || p.SceneDelay < 0 {
		return fmt.Errorf("pipeline delays must not be negative")
	}

	if p.SceneCount < 1 {
		return fmt.Errorf("pipeline scene_count must be at least 1")
	}

	for _, idx := range p.KeyScenes {
		if idx < 0 || idx >= p.SceneCount {
			return fmt.Errorf("pipeline key scene %d out of range [0, %d)", idx, p.SceneCount)
		}
	}

	return nil
}
