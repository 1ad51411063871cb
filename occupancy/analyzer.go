package occupancy

import (
	"cmp"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Order controls which blocks count as "prior" when resolving a block.
type Order string

const (
	// OrderSource processes blocks in the order they are given (stream,
	// kernel, block enumeration). A block sees only blocks enumerated before
	// it, even if they started later in wall-clock time.
	OrderSource Order = "source"
	// OrderChronological processes each SM's blocks sorted by start time,
	// ties broken by source position.
	OrderChronological Order = "chronological"
)

var validOrders = map[Order]bool{
	OrderSource:        true,
	OrderChronological: true,
}

// IsValidOrder returns true if name is a recognized processing order.
func IsValidOrder(name string) bool {
	return validOrders[Order(name)]
}

// Config groups the options of one analysis pass.
type Config struct {
	Metric   Metric   // demand metric the blocks were built with; informational for the core
	Order    Order    // "" means OrderSource
	Strategy Strategy // "" means StrategyRefine
	Workers  int      // goroutines used across SMs; <= 1 means serial
}

// Validate checks that all names in the config are recognized.
func (c Config) Validate() error {
	if c.Metric != "" && !validMetrics[c.Metric] {
		return fmt.Errorf("unknown metric %q", c.Metric)
	}
	if c.Order != "" && !validOrders[c.Order] {
		return fmt.Errorf("unknown order %q", c.Order)
	}
	if c.Strategy != "" && !validStrategies[c.Strategy] {
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	return nil
}

// Sink consumes resolved blocks, typically a presentation layer.
type Sink interface {
	Emit(BlockOccupancy) error
}

// Analyzer runs one occupancy pass over a fixed set of blocks. It owns a fresh
// Ledger per Run, so an Analyzer may be reused for several block sets with
// the same SM count.
type Analyzer struct {
	numSMs  int
	cfg     Config
	resolve ResolveFunc
}

// NewAnalyzer creates an Analyzer for a device with numSMs SMs.
func NewAnalyzer(numSMs int, cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if numSMs <= 0 {
		return nil, fmt.Errorf("analyzer needs at least one SM, got %d", numSMs)
	}
	if cfg.Order == "" {
		cfg.Order = OrderSource
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyRefine
	}
	return &Analyzer{numSMs: numSMs, cfg: cfg, resolve: cfg.Strategy.resolver()}, nil
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Run resolves the occupancy of every block. The result is indexed like
// blocks. sink may be nil. Run fails before resolving anything if a block is
// assigned to an SM outside [0, numSMs); it never returns partial results.
func (a *Analyzer) Run(blocks []Block, sink Sink) ([]BlockOccupancy, error) {
	perSM := make([][]int, a.numSMs)
	for i, b := range blocks {
		if b.SM < 0 || b.SM >= a.numSMs {
			return nil, fmt.Errorf("block %s: SM %d not in [0, %d): %w", b, b.SM, a.numSMs, ErrSMOutOfRange)
		}
		perSM[b.SM] = append(perSM[b.SM], i)
	}
	if a.cfg.Order == OrderChronological {
		for _, idxs := range perSM {
			slices.SortStableFunc(idxs, func(x, y int) int {
				return cmp.Compare(blocks[x].Start, blocks[y].Start)
			})
		}
	}

	ledger, err := NewLedger(a.numSMs)
	if err != nil {
		return nil, err
	}
	results := make([]BlockOccupancy, len(blocks))

	if a.cfg.Workers <= 1 {
		if err := a.runSerial(blocks, perSM, ledger, results, sink); err != nil {
			return nil, err
		}
		return results, nil
	}

	if err := a.runParallel(blocks, perSM, ledger, results); err != nil {
		return nil, err
	}
	if sink != nil {
		for _, r := range results {
			if err := sink.Emit(r); err != nil {
				return nil, fmt.Errorf("emitting block %s: %w", r.Block, err)
			}
		}
	}
	return results, nil
}

// runSerial processes blocks one at a time in the configured order. In source
// order this is simply the input order; in chronological order SMs are
// visited one after another.
func (a *Analyzer) runSerial(blocks []Block, perSM [][]int, ledger *Ledger, results []BlockOccupancy, sink Sink) error {
	var order []int
	if a.cfg.Order == OrderSource {
		order = make([]int, len(blocks))
		for i := range order {
			order[i] = i
		}
	} else {
		order = make([]int, 0, len(blocks))
		for _, idxs := range perSM {
			order = append(order, idxs...)
		}
	}
	for _, i := range order {
		r, err := a.step(blocks[i], ledger)
		if err != nil {
			return err
		}
		results[i] = r
		if sink != nil {
			if err := sink.Emit(r); err != nil {
				return fmt.Errorf("emitting block %s: %w", r.Block, err)
			}
		}
	}
	return nil
}

// workerCount returns the number of goroutines runParallel starts: never more
// than one per SM.
func (a *Analyzer) workerCount() int {
	return max(1, min(a.cfg.Workers, a.numSMs))
}

// runParallel hands each SM to one of workerCount goroutines. Each SM's
// blocks are still processed strictly in order by a single goroutine, and
// every goroutine writes only the result slots of its own SMs.
func (a *Analyzer) runParallel(blocks []Block, perSM [][]int, ledger *Ledger, results []BlockOccupancy) error {
	sms := make(chan int)
	errs := make([]error, a.numSMs)
	var wg sync.WaitGroup
	for w := 0; w < a.workerCount(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sm := range sms {
				for _, i := range perSM[sm] {
					r, err := a.step(blocks[i], ledger)
					if err != nil {
						errs[sm] = err
						break
					}
					results[i] = r
				}
				logrus.Debugf("SM %d: resolved %d blocks", sm, len(perSM[sm]))
			}
		}()
	}
	for sm := range perSM {
		sms <- sm
	}
	close(sms)
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// step resolves b against the ledger and then records b's own interval.
func (a *Analyzer) step(b Block, ledger *Ledger) (BlockOccupancy, error) {
	prior, err := ledger.QueryOverlaps(b.SM, b.Span())
	if err != nil {
		return BlockOccupancy{}, fmt.Errorf("block %s: %w", b, err)
	}
	occ := a.resolve(b.Span(), prior)
	if err := ledger.Record(b.Interval()); err != nil {
		return BlockOccupancy{}, fmt.Errorf("block %s: %w", b, err)
	}
	return BlockOccupancy{Block: b, Occupancy: occ}, nil
}
