package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("dedup.window_seconds", 86400)
	viper.SetDefault("dedup.on_store_error", "deny")
	viper.SetDefault("dedup.backend", "memory")

	viper.SetDefault("ratelimit.default_tier", "free")
	viper.SetDefault("ratelimit.cleanup_interval", "5m")
	viper.SetDefault("ratelimit.max_idle", "10m")

	viper.SetDefault("dispatch.workers", 8)
	viper.SetDefault("dispatch.queue_size", 1024)
	viper.SetDefault("dispatch.consumer_timeout", "30s")
	viper.SetDefault("dispatch.fairness_floor", 8)

	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.initial_interval", "1s")
	viper.SetDefault("retry.max_interval", "30s")
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("retry.jitter_fraction", 0.2)
	viper.SetDefault("retry.poll_interval", "250ms")

	viper.SetDefault("dlq.retention_days", 14)
	viper.SetDefault("dlq.backend", "memory")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.egress_topic", "BROKER_KAFKA_EGRESS_TOPIC")
	viper.BindEnv("broker.kafka.ingress_topic", "BROKER_KAFKA_INGRESS_TOPIC")

	viper.BindEnv("stores.redis.host", "STORES_REDIS_HOST")
	viper.BindEnv("stores.redis.port", "STORES_REDIS_PORT")
	viper.BindEnv("stores.redis.password", "STORES_REDIS_PASSWORD")
	viper.BindEnv("stores.redis.db", "STORES_REDIS_DB")

	viper.BindEnv("stores.mongodb.uri", "STORES_MONGODB_URI")
	viper.BindEnv("stores.mongodb.database", "STORES_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("security.shared_secret", "SECURITY_SHARED_SECRET")
	viper.BindEnv("security.require_signature", "SECURITY_REQUIRE_SIGNATURE")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		cfg.Broker.Kafka.Brokers = brokers
	}
	return nil
}
