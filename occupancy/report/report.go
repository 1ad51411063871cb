// Package report turns analysis results into rows a timeline renderer can lay
// out directly, plus per-SM and per-stream summaries.
package report

import (
	"fmt"

	"github.com/gpusched/blocksbysm/occupancy"
	"github.com/gpusched/blocksbysm/occupancy/trace"
)

// PlotMargin is the fraction of trace time appended after the last block end
// when sizing the time axis.
const PlotMargin = 0.05

// Row is one block prepared for stacked rendering. StackBottom and StackTop
// are fractions of the SM's capacity: competing demand is drawn first and the
// block sits on top of it.
type Row struct {
	Stream         int     `json:"stream" yaml:"stream"`
	StreamLabel    string  `json:"stream_label" yaml:"stream_label"`
	TID            string  `json:"tid" yaml:"tid"`
	Kernel         string  `json:"kernel" yaml:"kernel"`
	BlockID        int     `json:"block_id" yaml:"block_id"`
	SM             int     `json:"sm" yaml:"sm"`
	Start          float64 `json:"start" yaml:"start"`
	End            float64 `json:"end" yaml:"end"`
	Demand         float64 `json:"demand" yaml:"demand"`
	Occupancy      float64 `json:"occupancy" yaml:"occupancy"`
	StackBottom    float64 `json:"stack_bottom" yaml:"stack_bottom"`
	StackTop       float64 `json:"stack_top" yaml:"stack_top"`
	Oversubscribed bool    `json:"oversubscribed,omitempty" yaml:"oversubscribed,omitempty"`
}

// Report holds the rows and summary of one scenario.
type Report struct {
	Scenario string           `json:"scenario" yaml:"scenario"`
	Metric   occupancy.Metric `json:"metric" yaml:"metric"`
	Order    occupancy.Order  `json:"order" yaml:"order"`
	Capacity float64          `json:"capacity" yaml:"capacity"`
	NumSMs   int              `json:"num_sms" yaml:"num_sms"`
	Streams  []StreamInfo     `json:"streams" yaml:"streams"`
	Summary  *Summary         `json:"summary" yaml:"summary"`
	Rows     []Row            `json:"rows,omitempty" yaml:"rows,omitempty"`
}

// StreamInfo labels one stream for a legend.
type StreamInfo struct {
	Index       int     `json:"index" yaml:"index"`
	Label       string  `json:"label" yaml:"label"`
	TID         string  `json:"tid" yaml:"tid"`
	ReleaseTime float64 `json:"release_time" yaml:"release_time"`
	Source      string  `json:"source,omitempty" yaml:"source,omitempty"`
}

// Legend returns the display name of the stream, e.g. "Stream 1 (matmul)".
func (si StreamInfo) Legend() string {
	return fmt.Sprintf("Stream %d (%s)", si.Index+1, si.Label)
}

// Build assembles a Report for benchmark b from the analyzer's results.
// capacity is the per-SM capacity of the metric the blocks were built with;
// it must be positive.
func Build(b *trace.Benchmark, numSMs int, cfg occupancy.Config, results []occupancy.BlockOccupancy, capacity float64) (*Report, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("SM capacity must be positive, got %g", capacity)
	}
	r := &Report{
		Scenario: b.Name,
		Metric:   cfg.Metric,
		Order:    cfg.Order,
		Capacity: capacity,
		NumSMs:   numSMs,
		Rows:     make([]Row, 0, len(results)),
	}
	for i, s := range b.Streams {
		r.Streams = append(r.Streams, StreamInfo{
			Index:       i,
			Label:       s.Label,
			TID:         s.TID,
			ReleaseTime: s.ReleaseTime,
			Source:      s.Source,
		})
	}
	for _, res := range results {
		blk := res.Block
		if blk.Stream < 0 || blk.Stream >= len(b.Streams) {
			return nil, fmt.Errorf("block %s references stream %d of %d", blk, blk.Stream, len(b.Streams))
		}
		s := b.Streams[blk.Stream]
		top := (res.Occupancy + blk.Demand) / capacity
		r.Rows = append(r.Rows, Row{
			Stream:         blk.Stream,
			StreamLabel:    s.Label,
			TID:            s.TID,
			Kernel:         blk.KernelName,
			BlockID:        blk.ID,
			SM:             blk.SM,
			Start:          blk.Start,
			End:            blk.End,
			Demand:         blk.Demand,
			Occupancy:      res.Occupancy,
			StackBottom:    res.Occupancy / capacity,
			StackTop:       top,
			Oversubscribed: top > 1,
		})
	}
	r.Summary = Summarize(r)
	if start, end, ok := b.Bounds(); ok {
		r.Summary.FirstStart = start
		r.Summary.LastEnd = end
		r.Summary.PlotSpan = end * (1 + PlotMargin)
	}
	return r, nil
}

// RowsForSM returns the rows of blocks that ran on sm, in report order.
func (r *Report) RowsForSM(sm int) []Row {
	var out []Row
	for _, row := range r.Rows {
		if row.SM == sm {
			out = append(out, row)
		}
	}
	return out
}
