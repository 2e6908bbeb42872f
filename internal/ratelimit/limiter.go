package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"contextbus/internal/config"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/metrics"
)

// tenantLimiter is the per-tenant state: one token bucket plus a daily
// counter that resets at UTC midnight. Mutation is serialized per tenant,
// never across the pipeline.
type tenantLimiter struct {
	mu       sync.Mutex
	bucket   *rate.Limiter
	tier     Tier
	dayKey   string
	daily    int64
	lastSeen time.Time
}

// Limiter enforces per-tenant rate tiers. Tenants get a lazily created
// limiter; idle entries are evicted by a background cleanup so the map
// does not grow with every tenant ever seen.
type Limiter struct {
	mu          sync.RWMutex
	tenants     map[string]*tenantLimiter
	defaultTier Tier
	tenantTiers map[string]string
	stopCleanup chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

func NewLimiter(cfg config.RateLimitConfig) (*Limiter, error) {
	defaultTier, ok := TierByName(cfg.DefaultTier)
	if !ok {
		return nil, fmt.Errorf("unknown rate limit tier %q", cfg.DefaultTier)
	}
	for tenant, tierName := range cfg.TenantTiers {
		if _, ok := TierByName(tierName); !ok {
			return nil, fmt.Errorf("unknown rate limit tier %q for tenant %s", tierName, tenant)
		}
	}

	l := &Limiter{
		tenants:     make(map[string]*tenantLimiter),
		defaultTier: defaultTier,
		tenantTiers: cfg.TenantTiers,
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 10 * time.Minute
	}
	go l.cleanup(cleanupInterval, maxIdle)

	return l, nil
}

// Acquire consumes n tokens for the tenant, or reports why it cannot.
// The daily ceiling is checked first and independently of the bucket;
// RetryAfter on a rate rejection comes from the bucket's refill rate.
func (l *Limiter) Acquire(tenantID string, n int) error {
	tl := l.tenantFor(tenantID)

	tl.mu.Lock()
	defer tl.mu.Unlock()

	now := l.now().UTC()
	tl.lastSeen = now

	dayKey := now.Format("2006-01-02")
	if tl.dayKey != dayKey {
		tl.dayKey = dayKey
		tl.daily = 0
	}

	if tl.tier.DailyQuota > 0 && tl.daily+int64(n) > tl.tier.DailyQuota {
		metrics.RateLimitDecisionsTotal.WithLabelValues(tenantID, "quota_exceeded").Inc()
		return buserrors.ErrQuotaExceeded.
			WithDetail("daily_quota", tl.tier.DailyQuota).
			WithRetryAfter(untilMidnight(now))
	}

	res := tl.bucket.ReserveN(now, n)
	if !res.OK() {
		metrics.RateLimitDecisionsTotal.WithLabelValues(tenantID, "rate_limited").Inc()
		return buserrors.ErrRateLimited.
			WithDetail("burst", tl.tier.Burst).
			WithRetryAfter(time.Duration(float64(n)/tl.tier.Rate*float64(time.Second)) + time.Second)
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		metrics.RateLimitDecisionsTotal.WithLabelValues(tenantID, "rate_limited").Inc()
		return buserrors.ErrRateLimited.
			WithDetail("burst", tl.tier.Burst).
			WithRetryAfter(ceilSecond(delay))
	}

	tl.daily += int64(n)
	metrics.RateLimitDecisionsTotal.WithLabelValues(tenantID, "allowed").Inc()
	return nil
}

// TierFor reports the tier assigned to a tenant.
func (l *Limiter) TierFor(tenantID string) Tier {
	if name, ok := l.tenantTiers[tenantID]; ok {
		if tier, ok := TierByName(name); ok {
			return tier
		}
	}
	return l.defaultTier
}

func (l *Limiter) tenantFor(tenantID string) *tenantLimiter {
	l.mu.RLock()
	tl, exists := l.tenants[tenantID]
	l.mu.RUnlock()
	if exists {
		return tl
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if tl, exists = l.tenants[tenantID]; exists {
		return tl
	}

	tier := l.TierFor(tenantID)
	tl = &tenantLimiter{
		bucket:   rate.NewLimiter(rate.Limit(tier.Rate), tier.Burst),
		tier:     tier,
		lastSeen: l.now(),
	}
	l.tenants[tenantID] = tl
	return tl
}

func (l *Limiter) cleanup(interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(l.now(), maxIdle)
		case <-l.stopCleanup:
			return
		}
	}
}

// evictIdle drops limiters idle past maxIdle. A tenant that consumed
// quota in the current UTC day is kept until the day rolls over, so
// eviction can never reset the daily counter mid-day.
func (l *Limiter) evictIdle(now time.Time, maxIdle time.Duration) {
	today := now.UTC().Format("2006-01-02")

	l.mu.Lock()
	defer l.mu.Unlock()
	for tenantID, tl := range l.tenants {
		tl.mu.Lock()
		idle := now.Sub(tl.lastSeen)
		usedToday := tl.dayKey == today && tl.daily > 0
		tl.mu.Unlock()
		if idle > maxIdle && !usedToday {
			delete(l.tenants, tenantID)
		}
	}
}

func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
}

func untilMidnight(now time.Time) time.Duration {
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return midnight.Sub(now)
}

func ceilSecond(d time.Duration) time.Duration {
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
