package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the entire application configuration
type Config struct {
	Env        string              `json:"env"`
	Port       int                 `json:"port"`
	AppName    string              `json:"app_name"`
	Scanner    ScannerConfig       `json:"scanner"`
	Cache      CacheConfig         `json:"cache"`
	MarketData MarketDataConfig    `json:"market_data"`
	Redis      RedisConfig         `json:"redis"`
	MongoDB    MongoDBConfig       `json:"mongodb"`
	RabbitMQ   RabbitMQConfig      `json:"rabbitmq"`
	NATS       NATSConfig          `json:"nats"`
	S3         S3Config            `json:"s3"`
	Logging    LoggingConfig       `json:"logging"`
	CORS       CORSConfig          `json:"cors"`
	Auth       AuthConfig          `json:"auth"`
	Universe   map[string][]string `json:"universe"`
}

// ScannerConfig controls the batch scan engine
type ScannerConfig struct {
	MaxConcurrentJobs    int  `json:"max_concurrent_jobs"`
	CallsPerMinute       int  `json:"calls_per_minute"`
	RetentionHours       int  `json:"retention_hours"`
	SnapshotTTLHours     int  `json:"snapshot_ttl_hours"`
	SweepIntervalSeconds int  `json:"sweep_interval_seconds"`
	MaxErrorLength       int  `json:"max_error_length"`
	ResumeOnStart        bool `json:"resume_on_start"`
}

// Retention is how long terminal jobs stay in memory after completing
func (c ScannerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// SnapshotTTL is the expiry of durable job snapshots
func (c ScannerConfig) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLHours) * time.Hour
}

func (c ScannerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// CacheConfig holds the per-tier TTLs of the market data cache
type CacheConfig struct {
	MemoryTTLSeconds      int `json:"memory_ttl_seconds"`
	RemoteTTLSeconds      int `json:"remote_ttl_seconds"`
	JobProgressTTLSeconds int `json:"job_progress_ttl_seconds"`
	SweepIntervalSeconds  int `json:"sweep_interval_seconds"`
}

func (c CacheConfig) MemoryTTL() time.Duration {
	return time.Duration(c.MemoryTTLSeconds) * time.Second
}

func (c CacheConfig) RemoteTTL() time.Duration {
	return time.Duration(c.RemoteTTLSeconds) * time.Second
}

func (c CacheConfig) JobProgressTTL() time.Duration {
	return time.Duration(c.JobProgressTTLSeconds) * time.Second
}

func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// MarketDataConfig contains market data provider settings
type MarketDataConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Timeframe      string `json:"timeframe"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// MongoDBConfig contains MongoDB connection details. An empty URI disables the archive.
type MongoDBConfig struct {
	URI            string `json:"uri"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	DB             string `json:"db"`
	ArchiveTTLDays int    `json:"archive_ttl_days"`
}

// RabbitMQConfig contains RabbitMQ connection and topology settings. An empty host disables it.
type RabbitMQConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	VHost         string `json:"vhost"`
	ExchangeName  string `json:"exchange_name"`
	QueueName     string `json:"queue_name"`
	EventExchange string `json:"event_exchange"`
	PrefetchCount int    `json:"prefetch_count"`
}

// NATSConfig enables lifecycle events on NATS when URL is set
type NATSConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// S3Config enables result export when Bucket is set
type S3Config struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Prefix          string `json:"prefix"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// AuthConfig holds hex encoded SHA-256 hashes of accepted API keys.
// Authentication is disabled when the list is empty.
type AuthConfig struct {
	APIKeyHashes []string `json:"api_key_hashes"`
}

// LoadConfig reads configuration from the specified file path, fills in
// defaults and applies environment overrides
func LoadConfig(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.ApplyDefaults()
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns a configuration with every default applied, for runs without a config file
func Default() *Config {
	var config Config
	config.ApplyDefaults()
	return &config
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.AppName == "" {
		c.AppName = "screener"
	}

	if c.Scanner.MaxConcurrentJobs == 0 {
		c.Scanner.MaxConcurrentJobs = 3
	}
	if c.Scanner.CallsPerMinute == 0 {
		c.Scanner.CallsPerMinute = 75
	}
	if c.Scanner.RetentionHours == 0 {
		c.Scanner.RetentionHours = 24
	}
	if c.Scanner.SnapshotTTLHours == 0 {
		c.Scanner.SnapshotTTLHours = 6
	}
	if c.Scanner.SweepIntervalSeconds == 0 {
		c.Scanner.SweepIntervalSeconds = 600
	}
	if c.Scanner.MaxErrorLength == 0 {
		c.Scanner.MaxErrorLength = 200
	}

	if c.Cache.MemoryTTLSeconds == 0 {
		c.Cache.MemoryTTLSeconds = 120
	}
	if c.Cache.RemoteTTLSeconds == 0 {
		c.Cache.RemoteTTLSeconds = 300
	}
	if c.Cache.JobProgressTTLSeconds == 0 {
		c.Cache.JobProgressTTLSeconds = 1800
	}
	if c.Cache.SweepIntervalSeconds == 0 {
		c.Cache.SweepIntervalSeconds = 60
	}

	if c.MarketData.Timeframe == "" {
		c.MarketData.Timeframe = "daily"
	}
	if c.MarketData.TimeoutSeconds == 0 {
		c.MarketData.TimeoutSeconds = 30
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "screener"
	}

	if c.MongoDB.DB == "" {
		c.MongoDB.DB = "screener"
	}
	if c.MongoDB.ArchiveTTLDays == 0 {
		c.MongoDB.ArchiveTTLDays = 30
	}

	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = 5672
	}
	if c.RabbitMQ.ExchangeName == "" {
		c.RabbitMQ.ExchangeName = "screener"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "scan_requests"
	}
	if c.RabbitMQ.EventExchange == "" {
		c.RabbitMQ.EventExchange = "screener.events"
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "screener.scans"
	}

	if c.S3.Prefix == "" {
		c.S3.Prefix = "scans"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// ApplyEnv overrides secrets and endpoints from SCREENER_* environment variables
func (c *Config) ApplyEnv() {
	setString(&c.MarketData.APIKey, "SCREENER_MARKETDATA_API_KEY")
	setString(&c.MarketData.BaseURL, "SCREENER_MARKETDATA_BASE_URL")
	setString(&c.Redis.Address, "SCREENER_REDIS_ADDRESS")
	setString(&c.Redis.Password, "SCREENER_REDIS_PASSWORD")
	setString(&c.MongoDB.URI, "SCREENER_MONGODB_URI")
	setString(&c.MongoDB.Password, "SCREENER_MONGODB_PASSWORD")
	setString(&c.RabbitMQ.Host, "SCREENER_RABBITMQ_HOST")
	setString(&c.RabbitMQ.Password, "SCREENER_RABBITMQ_PASSWORD")
	setString(&c.NATS.URL, "SCREENER_NATS_URL")
	setString(&c.S3.Bucket, "SCREENER_S3_BUCKET")
	setString(&c.S3.AccessKeyID, "SCREENER_S3_ACCESS_KEY_ID")
	setString(&c.S3.SecretAccessKey, "SCREENER_S3_SECRET_ACCESS_KEY")
	setString(&c.Logging.Level, "SCREENER_LOG_LEVEL")

	if v := os.Getenv("SCREENER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate checks that the configuration has usable values
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if c.Scanner.MaxConcurrentJobs < 1 {
		return fmt.Errorf("config error: 'scanner.max_concurrent_jobs' must be at least 1")
	}
	if c.Scanner.CallsPerMinute < 1 {
		return fmt.Errorf("config error: 'scanner.calls_per_minute' must be at least 1")
	}
	if c.Scanner.RetentionHours < 0 || c.Scanner.SnapshotTTLHours < 0 || c.Scanner.SweepIntervalSeconds < 0 {
		return fmt.Errorf("config error: scanner durations must be non-negative")
	}
	if c.Cache.MemoryTTLSeconds < 0 || c.Cache.RemoteTTLSeconds < 0 || c.Cache.JobProgressTTLSeconds < 0 {
		return fmt.Errorf("config error: cache TTLs must be non-negative")
	}
	if c.Cache.MemoryTTLSeconds > c.Cache.RemoteTTLSeconds {
		return fmt.Errorf("config error: 'cache.memory_ttl_seconds' must not exceed 'cache.remote_ttl_seconds'")
	}
	if c.MarketData.TimeoutSeconds < 0 {
		return fmt.Errorf("config error: 'market_data.timeout_seconds' must be non-negative")
	}
	for index, symbols := range c.Universe {
		if len(symbols) == 0 {
			return fmt.Errorf("config error: universe index %q has no symbols", index)
		}
	}
	return nil
}
