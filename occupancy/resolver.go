package occupancy

import (
	"cmp"

	"golang.org/x/exp/slices"
)

// Strategy selects the algorithm used to resolve occupancy. Both strategies
// return the same value for the same input; they differ only in cost.
type Strategy string

const (
	// StrategyRefine splits a working partition of the block's span once per
	// overlapping interval. O(k²) in the number of overlapping intervals.
	StrategyRefine Strategy = "refine"
	// StrategySweep sorts interval boundaries and sums the active demands of
	// each elementary segment. O(k²) worst case, but no partition copying.
	StrategySweep Strategy = "sweep"
)

var validStrategies = map[Strategy]bool{
	StrategyRefine: true,
	StrategySweep:  true,
}

// IsValidStrategy returns true if name is a recognized strategy.
func IsValidStrategy(name string) bool {
	return validStrategies[Strategy(name)]
}

// ResolveFunc computes the occupancy of span given the prior intervals on the
// same SM.
type ResolveFunc func(span Span, prior []Interval) float64

// resolver returns the ResolveFunc for s. Unknown strategies fall back to
// refinement.
func (s Strategy) resolver() ResolveFunc {
	if s == StrategySweep {
		return ResolveSweep
	}
	return Resolve
}

// partition is a piece of the queried span with a constant accumulated demand.
type partition struct {
	start float64
	end   float64
	value float64
}

// Resolve returns the maximum total demand of intervals in prior that overlap
// any single instant of span. Intervals that do not strictly overlap span are
// ignored, so prior may be a superset of the overlapping set.
//
// The span starts as one partition with value 0. Each overlapping interval
// splits every partition it touches at its clipped boundaries and adds its
// demand to the covered pieces. Every boundary is the start or end of some
// interval, so the value is constant within each final partition and the
// maximum over partitions is the pointwise maximum.
func Resolve(span Span, prior []Interval) float64 {
	if span.Width() <= 0 {
		return 0
	}
	parts := []partition{{start: span.Start, end: span.End}}
	for _, iv := range prior {
		if !iv.Span().Overlaps(span) {
			continue
		}
		parts = refine(parts, iv.Span().Intersect(span), iv.Demand)
	}
	best := 0.0
	for _, p := range parts {
		best = max(best, p.value)
	}
	return best
}

// refine returns a new partition set in which every partition intersecting sub
// is split into the pieces before, inside and after sub. Pieces inside sub
// gain demand. parts is not modified.
func refine(parts []partition, sub Span, demand float64) []partition {
	next := make([]partition, 0, len(parts)+2)
	for _, p := range parts {
		if !(p.start < sub.End && p.end > sub.Start) {
			next = append(next, p)
			continue
		}
		next = appendPiece(next, p.start, sub.Start, p.value)
		next = appendPiece(next, max(p.start, sub.Start), min(p.end, sub.End), p.value+demand)
		next = appendPiece(next, sub.End, p.end, p.value)
	}
	return next
}

// appendPiece appends [start, end) unless it is empty.
func appendPiece(parts []partition, start, end, value float64) []partition {
	if end <= start {
		return parts
	}
	return append(parts, partition{start: start, end: end, value: value})
}

// boundary is one edge of a clipped interval in a sweep. idx is the
// interval's position among the clipped intervals.
type boundary struct {
	at    float64
	idx   int
	start bool
}

// ResolveSweep computes the same value as Resolve by sweeping sorted interval
// boundaries instead of refining a partition. All boundaries at one instant are
// applied before the following segment is measured, so touching intervals
// never stack. Each segment sums its active demands in prior order, the order
// Resolve accumulates them in, so both strategies round identically.
func ResolveSweep(span Span, prior []Interval) float64 {
	if span.Width() <= 0 {
		return 0
	}
	demands := make([]float64, 0, len(prior))
	edges := make([]boundary, 0, 2*len(prior))
	for _, iv := range prior {
		if !iv.Span().Overlaps(span) {
			continue
		}
		clipped := iv.Span().Intersect(span)
		if clipped.Width() <= 0 {
			continue
		}
		idx := len(demands)
		demands = append(demands, iv.Demand)
		edges = append(edges,
			boundary{at: clipped.Start, idx: idx, start: true},
			boundary{at: clipped.End, idx: idx})
	}
	slices.SortStableFunc(edges, func(a, b boundary) int {
		return cmp.Compare(a.at, b.at)
	})

	active := make([]bool, len(demands))
	best := 0.0
	for i := 0; i < len(edges); {
		at := edges[i].at
		for ; i < len(edges) && edges[i].at == at; i++ {
			active[edges[i].idx] = edges[i].start
		}
		if i == len(edges) {
			break
		}
		sum := 0.0
		for j, on := range active {
			if on {
				sum += demands[j]
			}
		}
		best = max(best, sum)
	}
	return best
}
