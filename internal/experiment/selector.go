package experiment

import "math"

// scoreTolerance is the float tolerance within which two scores count as
// tied. Ties break to the earliest-published variant: all variants share the
// same evaluation cutoff, so the first-published one accrued its engagement
// over the longest window.
const scoreTolerance = 1e-9

// selectWinner picks the index of the eligible variant with the highest
// score, or nil when no variant is eligible. A variant is eligible iff it has
// a defined score at or above the threshold. The decision is deterministic:
// the same scored set and threshold always yield the same outcome.
func selectWinner(variants []VariantResult, threshold float64) *int {
	var best *int
	for i := range variants {
		v := &variants[i]
		if v.Score == nil || v.PublishedAt == nil {
			continue
		}
		if *v.Score < threshold {
			continue
		}
		if best == nil {
			idx := i
			best = &idx
			continue
		}
		b := &variants[*best]
		switch {
		case *v.Score > *b.Score+scoreTolerance:
			idx := i
			best = &idx
		case math.Abs(*v.Score-*b.Score) <= scoreTolerance && v.PublishedAt.Before(*b.PublishedAt):
			idx := i
			best = &idx
		}
	}
	return best
}
