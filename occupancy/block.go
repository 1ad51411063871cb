package occupancy

import (
	"errors"
	"fmt"
)

// ErrInvertedSpan is returned when a block or interval starts after it ends.
var ErrInvertedSpan = errors.New("span starts after it ends")

// Span is a closed-open time range [Start, End) in seconds.
type Span struct {
	Start float64
	End   float64
}

// Width returns End - Start.
func (s Span) Width() float64 {
	return s.End - s.Start
}

// Overlaps reports whether s and o share a non-empty intersection.
// Spans that only touch (s.End == o.Start) do not overlap.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && s.End > o.Start
}

// Intersect returns the intersection of s and o. The result has zero or
// negative width when the spans do not overlap.
func (s Span) Intersect(o Span) Span {
	return Span{Start: max(s.Start, o.Start), End: min(s.End, o.End)}
}

// Block is one executed unit of GPU work. Blocks are values; nothing in this
// module mutates a Block after NewBlock returns it.
type Block struct {
	Start      float64 // seconds
	End        float64 // seconds, >= Start
	SM         int     // SM the block was resident on
	Demand     float64 // threads or shared-memory bytes, depending on Metric
	KernelName string
	ID         int // index of the block within its kernel launch

	Stream int // index of the owning stream within its benchmark
	Seq    int // position in source enumeration order (stream, kernel, block)
}

// NewBlock creates a Block. The only check performed is start <= end; other
// validation belongs to the trace loader.
func NewBlock(start, end float64, sm int, demand float64, kernelName string, id int) (Block, error) {
	if start > end {
		return Block{}, fmt.Errorf("block %s:%d [%g, %g): %w", kernelName, id, start, end, ErrInvertedSpan)
	}
	return Block{
		Start:      start,
		End:        end,
		SM:         sm,
		Demand:     demand,
		KernelName: kernelName,
		ID:         id,
	}, nil
}

// Span returns the block's time range.
func (b Block) Span() Span {
	return Span{Start: b.Start, End: b.End}
}

// Interval returns the ledger interval this block contributes to its SM.
func (b Block) Interval() Interval {
	return Interval{
		Start:   b.Start,
		End:     b.End,
		Demand:  b.Demand,
		SM:      b.SM,
		BlockID: b.ID,
		Seq:     b.Seq,
	}
}

func (b Block) String() string {
	return fmt.Sprintf("%s:%d (stream %d, SM %d, [%g, %g))", b.KernelName, b.ID, b.Stream, b.SM, b.Start, b.End)
}

// Metric selects which per-block resource demand is accumulated.
type Metric string

const (
	// MetricThreads measures demand in threads per block.
	MetricThreads Metric = "threads"
	// MetricSharedMem measures demand in bytes of shared memory per block.
	MetricSharedMem Metric = "sharedmem"
)

// Platform per-SM capacities.
const (
	DefaultSMThreads   = 2048
	DefaultSMSharedMem = 65536
)

var validMetrics = map[Metric]bool{
	MetricThreads:   true,
	MetricSharedMem: true,
}

// IsValidMetric returns true if name is a recognized metric.
func IsValidMetric(name string) bool {
	return validMetrics[Metric(name)]
}

// DefaultCapacity returns the per-SM capacity of m on the reference platform.
func (m Metric) DefaultCapacity() float64 {
	switch m {
	case MetricSharedMem:
		return DefaultSMSharedMem
	default:
		return DefaultSMThreads
	}
}

// BlockOccupancy pairs a block with its computed competing occupancy.
type BlockOccupancy struct {
	Block     Block
	Occupancy float64
}
