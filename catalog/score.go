package catalog

import "math"

var tierBase = map[Tier]float64{
	TierMinimal: 0.2,
	TierBasic:   0.4,
	TierRich:    0.6,
}

// QualityScore computes a bounded quality score in [0,1] from documentation
// tier, 30-day download volume, and repository star count. Deterministic,
// no side effects; recomputed whenever any input changes.
//
//	score = min(1, tierBase + min(0.3, log10(downloads+1)/10) + min(0.1, log10(stars+1)/10))
func QualityScore(tier Tier, downloads, stars int64) float64 {
	base, ok := tierBase[tier]
	if !ok {
		base = tierBase[TierMinimal]
	}
	score := base + logTerm(downloads, 0.3) + logTerm(stars, 0.1)
	return math.Min(1, score)
}

func logTerm(n int64, cap float64) float64 {
	if n < 0 {
		n = 0
	}
	return math.Min(cap, math.Log10(float64(n)+1)/10)
}
