package ratelimit

// Tier is a tenant's rate plan: sustained rate, burst capacity, and a
// daily ceiling enforced independently of the token bucket. DailyQuota 0
// means unlimited.
type Tier struct {
	Name       string
	Rate       float64
	Burst      int
	DailyQuota int64
}

var (
	TierFree = Tier{
		Name:       "free",
		Rate:       10,
		Burst:      50,
		DailyQuota: 50_000,
	}
	TierPro = Tier{
		Name:       "pro",
		Rate:       100,
		Burst:      500,
		DailyQuota: 1_000_000,
	}
	TierEnterprise = Tier{
		Name:       "enterprise",
		Rate:       1000,
		Burst:      5000,
		DailyQuota: 0,
	}
)

func TierByName(name string) (Tier, bool) {
	switch name {
	case "free":
		return TierFree, true
	case "pro":
		return TierPro, true
	case "enterprise":
		return TierEnterprise, true
	}
	return Tier{}, false
}
