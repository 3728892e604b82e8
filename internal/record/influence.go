package record

import "time"

// TierPolicy holds the thresholds that route records between tiers.
type TierPolicy struct {
	MinInfluenceHot  float64 // hot when influence exceeds this
	MinInfluenceWarm float64 // warm when influence exceeds this
	RecencyHotDays   int     // hot while younger than this
	RecencyWarmDays  int     // warm while younger than this
}

// DefaultTierPolicy matches the shipped configuration defaults.
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{
		MinInfluenceHot:  0.7,
		MinInfluenceWarm: 0.3,
		RecencyHotDays:   7,
		RecencyWarmDays:  30,
	}
}

// ComputeInfluence derives the composite influence weight from quality and
// attention: clamp(0.05, 1.0, 0.05 + 0.95*(0.6*quality + 0.4*attention)).
func ComputeInfluence(quality, attention float64) float64 {
	w := 0.05 + 0.95*(0.6*quality+0.4*attention)
	if w < 0.05 {
		return 0.05
	}
	if w > 1.0 {
		return 1.0
	}
	return w
}

// TierFor is the pure routing function: hot when influential or fresh, warm
// when moderately so, cold otherwise.
func (p TierPolicy) TierFor(influence float64, ageDays int) Tier {
	if influence > p.MinInfluenceHot || ageDays < p.RecencyHotDays {
		return TierHot
	}
	if influence > p.MinInfluenceWarm || ageDays < p.RecencyWarmDays {
		return TierWarm
	}
	return TierCold
}

// Route assigns influence and tier on the record in place.
func (p TierPolicy) Route(r *Record, now time.Time) {
	r.Influence = ComputeInfluence(r.Quality, r.Attention)
	r.Tier = p.TierFor(r.Influence, r.AgeDays(now))
}
