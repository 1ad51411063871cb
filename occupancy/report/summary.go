package report

import (
	"gonum.org/v1/gonum/floats"
)

// SMSummary aggregates the rows of one SM.
type SMSummary struct {
	SM     int `json:"sm" yaml:"sm"`
	Blocks int `json:"blocks" yaml:"blocks"`
	// PeakOccupancy is the largest competing occupancy of any block.
	PeakOccupancy float64 `json:"peak_occupancy" yaml:"peak_occupancy"`
	// PeakDemand is the largest occupancy plus own demand of any block.
	PeakDemand float64 `json:"peak_demand" yaml:"peak_demand"`
	// Oversubscribed counts blocks whose stack exceeds the SM capacity.
	Oversubscribed int `json:"oversubscribed" yaml:"oversubscribed"`
}

// StreamSummary counts the blocks of one stream.
type StreamSummary struct {
	Stream int    `json:"stream" yaml:"stream"`
	Label  string `json:"label" yaml:"label"`
	Blocks int    `json:"blocks" yaml:"blocks"`
}

// Summary aggregates a Report.
type Summary struct {
	TotalBlocks int             `json:"total_blocks" yaml:"total_blocks"`
	BusySMs     int             `json:"busy_sms" yaml:"busy_sms"`
	PeakDemand  float64         `json:"peak_demand" yaml:"peak_demand"`
	FirstStart  float64         `json:"first_start" yaml:"first_start"`
	LastEnd     float64         `json:"last_end" yaml:"last_end"`
	PlotSpan    float64         `json:"plot_span" yaml:"plot_span"` // LastEnd plus PlotMargin, the time axis extent
	SMs         []SMSummary     `json:"sms" yaml:"sms"`
	Streams     []StreamSummary `json:"streams" yaml:"streams"`
}

// Summarize computes aggregate statistics from a Report's rows.
// Safe for nil or empty reports (returns zero-value fields).
func Summarize(r *Report) *Summary {
	summary := &Summary{}
	if r == nil {
		return summary
	}

	summary.TotalBlocks = len(r.Rows)
	summary.SMs = make([]SMSummary, r.NumSMs)
	occ := make([][]float64, r.NumSMs)
	stacked := make([][]float64, r.NumSMs)
	for i := range summary.SMs {
		summary.SMs[i].SM = i
	}
	summary.Streams = make([]StreamSummary, len(r.Streams))
	for i, s := range r.Streams {
		summary.Streams[i] = StreamSummary{Stream: s.Index, Label: s.Label}
	}

	for _, row := range r.Rows {
		if row.SM >= 0 && row.SM < len(summary.SMs) {
			sm := &summary.SMs[row.SM]
			sm.Blocks++
			if row.Oversubscribed {
				sm.Oversubscribed++
			}
			occ[row.SM] = append(occ[row.SM], row.Occupancy)
			stacked[row.SM] = append(stacked[row.SM], row.Occupancy+row.Demand)
		}
		if row.Stream >= 0 && row.Stream < len(summary.Streams) {
			summary.Streams[row.Stream].Blocks++
		}
	}

	peaks := make([]float64, 0, len(summary.SMs))
	for i := range summary.SMs {
		if len(occ[i]) == 0 {
			continue
		}
		summary.BusySMs++
		summary.SMs[i].PeakOccupancy = floats.Max(occ[i])
		summary.SMs[i].PeakDemand = floats.Max(stacked[i])
		peaks = append(peaks, summary.SMs[i].PeakDemand)
	}
	if len(peaks) > 0 {
		summary.PeakDemand = floats.Max(peaks)
	}

	return summary
}
