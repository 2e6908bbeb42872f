package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup = "dedup:"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	HeaderMessageID  = "X-Message-ID"
	HeaderTraceID    = "X-Trace-ID"
	HeaderTenantID   = "X-Tenant-ID"
	HeaderSignature  = "X-Signature"
	HeaderRetryAfter = "Retry-After"
)
