package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Format names an output encoding for reports.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

var validFormats = map[Format]bool{
	FormatTable: true,
	FormatJSON:  true,
	FormatYAML:  true,
}

// IsValidFormat returns true if name is a recognized output format.
func IsValidFormat(name string) bool {
	return validFormats[Format(name)]
}

// Options controls what Write emits.
type Options struct {
	Format      Format
	SummaryOnly bool // omit per-block rows
}

// Write encodes reports to w in the requested format.
func Write(w io.Writer, reports []*Report, opts Options) error {
	if opts.SummaryOnly {
		trimmed := make([]*Report, len(reports))
		for i, r := range reports {
			cp := *r
			cp.Rows = nil
			trimmed[i] = &cp
		}
		reports = trimmed
	}
	switch opts.Format {
	case FormatJSON:
		return WriteJSON(w, reports)
	case FormatYAML:
		return WriteYAML(w, reports)
	case FormatTable, "":
		for _, r := range reports {
			if err := WriteTable(w, r); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", opts.Format)
	}
}

// WriteJSON writes reports as an indented JSON array.
func WriteJSON(w io.Writer, reports []*Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("encoding JSON report: %w", err)
	}
	return nil
}

// WriteYAML writes reports as a YAML sequence.
func WriteYAML(w io.Writer, reports []*Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("encoding YAML report: %w", err)
	}
	return enc.Close()
}

var (
	headerColor = color.New(color.Bold)
	warnColor   = color.New(color.FgRed, color.Bold)
)

// errWriter keeps the first write error and drops every later write.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

// WriteTable writes a human-readable report. Blocks whose stack exceeds the
// SM capacity are highlighted; highlighting is off when stdout is not a
// terminal.
func WriteTable(out io.Writer, r *Report) error {
	w := &errWriter{w: out}
	s := r.Summary
	if s == nil {
		s = Summarize(r)
	}
	headerColor.Fprintf(w, "=== Scenario: %s (%s, %s order, capacity %g/SM) ===\n",
		r.Scenario, r.Metric, r.Order, r.Capacity)
	fmt.Fprintf(w, "Blocks: %d on %d/%d SMs, time %.3fs .. %.3fs\n", s.TotalBlocks, s.BusySMs, r.NumSMs, s.FirstStart, s.LastEnd)
	for _, si := range r.Streams {
		fmt.Fprintf(w, "  %s tid=%s release=%.3fs\n", si.Legend(), si.TID, si.ReleaseTime)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SM\tBLOCKS\tPEAK OCCUPANCY\tPEAK DEMAND\tOVERSUBSCRIBED")
	for _, sm := range s.SMs {
		fmt.Fprintf(tw, "%d\t%d\t%g\t%g\t%d\n", sm.SM, sm.Blocks, sm.PeakOccupancy, sm.PeakDemand, sm.Oversubscribed)
	}
	_ = tw.Flush()

	if len(r.Rows) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "STREAM\tKERNEL\tBLOCK\tSM\tSTART\tEND\tDEMAND\tOCCUPANCY\tSTACK")
		for _, row := range r.Rows {
			stack := fmt.Sprintf("%.2f-%.2f", row.StackBottom, row.StackTop)
			if row.Oversubscribed {
				stack = warnColor.Sprint(stack)
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%.6f\t%.6f\t%g\t%g\t%s\n",
				row.Stream+1, row.Kernel, row.BlockID, row.SM, row.Start, row.End, row.Demand, row.Occupancy, stack)
		}
		_ = tw.Flush()
	}
	fmt.Fprintln(w)
	if w.err != nil {
		return fmt.Errorf("writing table report: %w", w.err)
	}
	return nil
}
