package profile

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL STAIRCASE
// ══════════════════════════════════════════════════════════════════════════════

// Level is a user level derived from total points. Always >= 1.
type Level int

// Tier is one step of the staircase.
type Tier struct {
	Level Level
	// MinPoints is the inclusive lower bound of the tier.
	MinPoints int
	// NextThreshold is the point total that reaches the next tier.
	NextThreshold int
}

// tiers is ordered from the highest to the lowest tier.
var tiers = []Tier{
	{Level: 10, MinPoints: 10000, NextThreshold: 15000},
	{Level: 9, MinPoints: 7500, NextThreshold: 10000},
	{Level: 8, MinPoints: 5000, NextThreshold: 7500},
	{Level: 7, MinPoints: 3500, NextThreshold: 5000},
	{Level: 6, MinPoints: 2000, NextThreshold: 3500},
	{Level: 5, MinPoints: 1000, NextThreshold: 2000},
	{Level: 4, MinPoints: 500, NextThreshold: 1000},
	{Level: 3, MinPoints: 250, NextThreshold: 500},
	{Level: 2, MinPoints: 100, NextThreshold: 250},
	{Level: 1, MinPoints: 0, NextThreshold: 100},
}

// MaxLevel is the top of the staircase.
const MaxLevel Level = 10

// Tiers returns a copy of the staircase, lowest tier first.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	for i := range tiers {
		out[len(tiers)-1-i] = tiers[i]
	}
	return out
}

// ResolveTier returns the tier the point total falls into.
// Negative totals are clamped to the first tier.
func ResolveTier(points int) Tier {
	for _, t := range tiers {
		if points >= t.MinPoints {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// ResolveLevel maps a point total to its level and the threshold of the next level.
// It is total over all integers and monotonic in points.
func ResolveLevel(points int) (Level, int) {
	t := ResolveTier(points)
	return t.Level, t.NextThreshold
}

// ProgressPercent returns how far the points are into the current tier, 0..100.
// At the top tier it keeps counting toward the final threshold and caps at 100.
func ProgressPercent(points int) int {
	t := ResolveTier(points)
	span := t.NextThreshold - t.MinPoints
	if span <= 0 {
		return 100
	}
	done := points - t.MinPoints
	if done < 0 {
		done = 0
	}
	pct := done * 100 / span
	if pct > 100 {
		pct = 100
	}
	return pct
}
