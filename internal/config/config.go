package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Stores         StoresConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Dedup          DedupConfig
	RateLimit      RateLimitConfig
	Dispatch       DispatchConfig
	Retry          RetryConfig
	DLQ            DLQConfig
	Security       SecurityConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

type StoresConfig struct {
	Redis RedisConfig   `mapstructure:"redis"`
	Mongo MongoDBConfig `mapstructure:"mongodb"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	GroupID      string   `mapstructure:"group_id"`
	EgressTopic  string   `mapstructure:"egress_topic"`
	IngressTopic string   `mapstructure:"ingress_topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DedupConfig controls the rolling idempotency window. OnStoreError picks
// the fallback when the external store is unreachable: "allow" lets the
// message through (at-least-once), "deny" rejects it.
type DedupConfig struct {
	WindowSeconds int    `mapstructure:"window_seconds"`
	OnStoreError  string `mapstructure:"on_store_error"`
	Backend       string `mapstructure:"backend"`
}

type RateLimitConfig struct {
	DefaultTier     string            `mapstructure:"default_tier"`
	TenantTiers     map[string]string `mapstructure:"tenant_tiers"`
	CleanupInterval time.Duration     `mapstructure:"cleanup_interval"`
	MaxIdle         time.Duration     `mapstructure:"max_idle"`
}

type DispatchConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	ConsumerTimeout time.Duration `mapstructure:"consumer_timeout"`
	// FairnessFloor bounds how many consecutive higher-priority messages
	// may be served before a lower class gets a turn.
	FairnessFloor int `mapstructure:"fairness_floor"`
}

type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	JitterFraction  float64       `mapstructure:"jitter_fraction"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type DLQConfig struct {
	RetentionDays int    `mapstructure:"retention_days"`
	Backend       string `mapstructure:"backend"`
}

type SecurityConfig struct {
	RequireSignature bool   `mapstructure:"require_signature"`
	SharedSecret     string `mapstructure:"shared_secret"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
