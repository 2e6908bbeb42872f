package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publish_total",
			Help: "Total number of publish attempts (count)",
		},
		[]string{"tenant_id", "event_type", "status"},
	)

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bus_publish_duration_ms",
			Help:    "Publish pipeline duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	ConsumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_consume_total",
			Help: "Total number of consumer invocations (count)",
		},
		[]string{"tenant_id", "event_type", "status"},
	)

	ConsumeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bus_consume_duration_ms",
			Help:    "Consumer invocation duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"event_type", "status"},
	)

	ErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_errors_total",
			Help: "Total number of pipeline errors (count)",
		},
		[]string{"stage", "code"},
	)

	DedupHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_dedup_hits_total",
			Help: "Total number of idempotent replays collapsed by the dedup window (count)",
		},
		[]string{"tenant_id"},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_rate_limit_decisions_total",
			Help: "Total number of rate limiter decisions (count)",
		},
		[]string{"tenant_id", "decision"},
	)

	IngressRateLimitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_ingress_rate_limit_total",
			Help: "Total number of per-client ingress rate limiter decisions (count)",
		},
		[]string{"decision"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_retry_attempts_total",
			Help: "Total number of delivery retry attempts (count)",
		},
		[]string{"event_type", "consumer_id"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_dlq_messages_total",
			Help: "Total number of messages moved to the dead letter queue (count)",
		},
		[]string{"tenant_id", "event_type", "reason"},
	)

	ExpiredMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_expired_messages_total",
			Help: "Total number of messages dropped because their ttl elapsed (count)",
		},
		[]string{"tenant_id", "event_type", "stage"},
	)

	OversizedPayloadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_oversized_payload_total",
			Help: "Total number of payloads exceeding the soft size cap (count)",
		},
		[]string{"tenant_id"},
	)

	DispatchQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_dispatch_queue_size",
			Help: "Current size of the dispatch queue (count)",
		},
	)

	DispatchQueueWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bus_dispatch_queue_wait_duration_ms",
			Help:    "Duration messages wait in the dispatch queue in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_fallback_usage_total",
			Help: "Total number of times store-error fallback strategies were used (count)",
		},
		[]string{"component", "strategy", "reason"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of envelopes written to Kafka (count)",
		},
		[]string{"topic"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of envelopes read from Kafka (count)",
		},
		[]string{"topic"},
	)
)

func RegisterBusMetrics() {
	prometheus.MustRegister(PublishTotal)
	prometheus.MustRegister(PublishDuration)
	prometheus.MustRegister(ConsumeTotal)
	prometheus.MustRegister(ConsumeDuration)
	prometheus.MustRegister(ErrorTotal)
	prometheus.MustRegister(DedupHitsTotal)
	prometheus.MustRegister(RateLimitDecisionsTotal)
	prometheus.MustRegister(IngressRateLimitTotal)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(ExpiredMessagesTotal)
	prometheus.MustRegister(OversizedPayloadTotal)
	prometheus.MustRegister(DispatchQueueSize)
	prometheus.MustRegister(DispatchQueueWaitDuration)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func ObservePublishDuration(duration time.Duration, status string) {
	PublishDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveConsumeDuration(eventType, status string, duration time.Duration) {
	ConsumeDuration.WithLabelValues(eventType, status).Observe(float64(duration.Milliseconds()))
}

func SetDispatchQueueSize(size int) {
	DispatchQueueSize.Set(float64(size))
}

func ObserveQueueWait(duration time.Duration) {
	DispatchQueueWaitDuration.Observe(float64(duration.Milliseconds()))
}
