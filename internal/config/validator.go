package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}
	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}
	if err := validateDedup(cfg.Dedup); err != nil {
		errs = append(errs, err)
	}
	if err := validateRetry(cfg.Retry); err != nil {
		errs = append(errs, err)
	}
	if err := validateDispatch(cfg.Dispatch); err != nil {
		errs = append(errs, err)
	}
	if err := validateDLQ(cfg.DLQ); err != nil {
		errs = append(errs, err)
	}
	if err := validateSecurity(cfg.Security); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}
	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "", "none":
		return nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return &ValidationError{
				Field:   "broker.kafka.brokers",
				Message: "at least one broker address is required",
			}
		}
		if cfg.Kafka.EgressTopic == "" && cfg.Kafka.IngressTopic == "" {
			return &ValidationError{
				Field:   "broker.kafka",
				Message: "an egress or ingress topic is required",
			}
		}
		return nil
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type %q", cfg.Type),
		}
	}
}

func validateDedup(cfg DedupConfig) error {
	if cfg.WindowSeconds <= 0 {
		return &ValidationError{
			Field:   "dedup.window_seconds",
			Message: "dedup window must be positive",
		}
	}
	switch cfg.OnStoreError {
	case "allow", "deny":
	default:
		return &ValidationError{
			Field:   "dedup.on_store_error",
			Message: fmt.Sprintf("must be 'allow' or 'deny', got %q", cfg.OnStoreError),
		}
	}
	switch cfg.Backend {
	case "memory", "redis":
	default:
		return &ValidationError{
			Field:   "dedup.backend",
			Message: fmt.Sprintf("must be 'memory' or 'redis', got %q", cfg.Backend),
		}
	}
	return nil
}

func validateRetry(cfg RetryConfig) error {
	if cfg.MaxRetries < 0 {
		return &ValidationError{
			Field:   "retry.max_retries",
			Message: "max retries cannot be negative",
		}
	}
	if cfg.Multiplier < 1.0 {
		return &ValidationError{
			Field:   "retry.multiplier",
			Message: "multiplier must be at least 1.0",
		}
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction > 1 {
		return &ValidationError{
			Field:   "retry.jitter_fraction",
			Message: "jitter fraction must be within [0, 1]",
		}
	}
	return nil
}

func validateDispatch(cfg DispatchConfig) error {
	if cfg.Workers <= 0 {
		return &ValidationError{
			Field:   "dispatch.workers",
			Message: "worker count must be positive",
		}
	}
	if cfg.FairnessFloor <= 0 {
		return &ValidationError{
			Field:   "dispatch.fairness_floor",
			Message: "fairness floor must be positive",
		}
	}
	return nil
}

func validateDLQ(cfg DLQConfig) error {
	if cfg.RetentionDays <= 0 {
		return &ValidationError{
			Field:   "dlq.retention_days",
			Message: "retention must be positive",
		}
	}
	switch cfg.Backend {
	case "memory", "mongodb":
	default:
		return &ValidationError{
			Field:   "dlq.backend",
			Message: fmt.Sprintf("must be 'memory' or 'mongodb', got %q", cfg.Backend),
		}
	}
	return nil
}

func validateSecurity(cfg SecurityConfig) error {
	if cfg.RequireSignature && cfg.SharedSecret == "" {
		return &ValidationError{
			Field:   "security.shared_secret",
			Message: "shared secret is required when signature verification is enabled",
		}
	}
	return nil
}
