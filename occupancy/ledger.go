package occupancy

import (
	"errors"
	"fmt"

	"github.com/google/btree"
	"golang.org/x/exp/slices"
)

// ErrSMOutOfRange is returned when an SM index falls outside [0, NumSMs).
var ErrSMOutOfRange = errors.New("SM index out of range")

// ledgerDegree is the btree degree used for every per-SM index.
const ledgerDegree = 16

// Interval is a closed-open span of demand contributed to one SM by one block.
type Interval struct {
	Start   float64
	End     float64
	Demand  float64
	SM      int
	BlockID int
	Seq     int // source position of the contributing block
}

// Span returns the interval's time range.
func (iv Interval) Span() Span {
	return Span{Start: iv.Start, End: iv.End}
}

// ledgerItem orders intervals by start time, then by the order in which they
// were recorded, so equal start times never collide in the tree.
type ledgerItem struct {
	iv    Interval
	order int
}

func (a *ledgerItem) Less(than btree.Item) bool {
	b := than.(*ledgerItem)
	if a.iv.Start != b.iv.Start {
		return a.iv.Start < b.iv.Start
	}
	return a.order < b.order
}

// smLedger holds the intervals recorded for one SM.
type smLedger struct {
	tree     *btree.BTree
	recorded int
}

// Ledger accumulates, per SM, the intervals contributed by blocks processed so
// far. It only grows: intervals are never removed or mutated.
//
// A Ledger is not safe for concurrent use on the same SM. Different SMs share
// no state, so goroutines that each own a disjoint set of SMs may use one
// Ledger concurrently.
type Ledger struct {
	sms []smLedger
}

// NewLedger creates an empty ledger for numSMs SMs.
func NewLedger(numSMs int) (*Ledger, error) {
	if numSMs <= 0 {
		return nil, fmt.Errorf("ledger needs at least one SM, got %d", numSMs)
	}
	l := &Ledger{sms: make([]smLedger, numSMs)}
	for i := range l.sms {
		l.sms[i].tree = btree.New(ledgerDegree)
	}
	return l, nil
}

// NumSMs returns the number of SMs the ledger was configured with.
func (l *Ledger) NumSMs() int {
	return len(l.sms)
}

func (l *Ledger) checkSM(sm int) error {
	if sm < 0 || sm >= len(l.sms) {
		return fmt.Errorf("SM %d not in [0, %d): %w", sm, len(l.sms), ErrSMOutOfRange)
	}
	return nil
}

// Record appends iv to the ledger of iv.SM.
func (l *Ledger) Record(iv Interval) error {
	if err := l.checkSM(iv.SM); err != nil {
		return err
	}
	if iv.Start > iv.End {
		return fmt.Errorf("interval [%g, %g) on SM %d: %w", iv.Start, iv.End, iv.SM, ErrInvertedSpan)
	}
	s := &l.sms[iv.SM]
	s.tree.ReplaceOrInsert(&ledgerItem{iv: iv, order: s.recorded})
	s.recorded++
	return nil
}

// Len returns the number of intervals recorded on sm, or 0 if sm is out of
// range.
func (l *Ledger) Len(sm int) int {
	if l.checkSM(sm) != nil {
		return 0
	}
	return l.sms[sm].recorded
}

// QueryOverlaps returns every interval recorded on sm that strictly overlaps
// span, in the order they were recorded. The ledger is not modified.
func (l *Ledger) QueryOverlaps(sm int, span Span) ([]Interval, error) {
	if err := l.checkSM(sm); err != nil {
		return nil, err
	}
	var found []*ledgerItem
	// Every item starting before span.End is a candidate; order -1 sorts
	// ahead of all recorded items sharing that start time.
	pivot := &ledgerItem{iv: Interval{Start: span.End}, order: -1}
	l.sms[sm].tree.AscendLessThan(pivot, func(i btree.Item) bool {
		item := i.(*ledgerItem)
		if item.iv.End > span.Start {
			found = append(found, item)
		}
		return true
	})
	slices.SortFunc(found, func(a, b *ledgerItem) int {
		return a.order - b.order
	})
	out := make([]Interval, len(found))
	for i, item := range found {
		out[i] = item.iv
	}
	return out, nil
}

// SMCount derives the number of SMs from a device's maximum resident thread
// count and the per-SM thread capacity.
func SMCount(maxResidentThreads, perSMThreads int) (int, error) {
	if perSMThreads <= 0 {
		return 0, fmt.Errorf("per-SM thread capacity must be positive, got %d", perSMThreads)
	}
	n := maxResidentThreads / perSMThreads
	if n <= 0 {
		return 0, fmt.Errorf("max_resident_threads %d yields no SMs at %d threads/SM", maxResidentThreads, perSMThreads)
	}
	return n, nil
}
