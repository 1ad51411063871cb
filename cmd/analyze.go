package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"

	"github.com/gpusched/blocksbysm/occupancy"
	"github.com/gpusched/blocksbysm/occupancy/report"
	"github.com/gpusched/blocksbysm/occupancy/trace"
)

// traceSink logs every resolved block at trace level.
type traceSink struct {
	scenario string
}

func (s traceSink) Emit(r occupancy.BlockOccupancy) error {
	logrus.Tracef("[%s] %s occupancy=%g demand=%g", s.scenario, r.Block, r.Occupancy, r.Block.Demand)
	return nil
}

// AnalyzeBenchmark runs one occupancy pass over b and builds its report.
func AnalyzeBenchmark(b *trace.Benchmark, cfg AnalysisConfig) (*report.Report, error) {
	numSMs, err := b.NumSMs(cfg.SMThreadCapacity)
	if err != nil {
		return nil, err
	}
	blocks, err := b.Blocks(occupancy.Metric(cfg.Metric))
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", b.Name, err)
	}
	a, err := occupancy.NewAnalyzer(numSMs, cfg.OccupancyConfig())
	if err != nil {
		return nil, err
	}

	var sink occupancy.Sink
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		sink = traceSink{scenario: b.Name}
	}
	results, err := a.Run(blocks, sink)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", b.Name, err)
	}
	logrus.Debugf("Scenario %q: %d streams, %d blocks on %d SMs", b.Name, len(b.Streams), len(blocks), numSMs)
	return report.Build(b, numSMs, a.Config(), results, cfg.Capacity())
}

// AnalyzeDir loads every trace in cfg.ResultsDir and analyzes each scenario
// group once.
func AnalyzeDir(cfg AnalysisConfig) ([]*report.Report, error) {
	benchmarks, err := trace.LoadBenchmarks(cfg.ResultsDir)
	if err != nil {
		return nil, err
	}
	reports := make([]*report.Report, 0, len(benchmarks))
	for _, b := range benchmarks {
		r, err := AnalyzeBenchmark(b, cfg)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// writeReports writes to path, or to stdout when path is empty. A file whose
// write fails is removed when the process exits through atexit.
func writeReports(path string, reports []*report.Report, opts report.Options) error {
	if path == "" {
		return report.Write(os.Stdout, reports, opts)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	cleanup := atexit.Register(func() { _ = os.Remove(path) })

	if err := report.Write(f, reports, opts); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	if err := cleanup.Cancel(); err != nil {
		logrus.Warnf("cancelling cleanup of %s: %v", path, err)
	}
	logrus.Infof("Wrote %d scenario reports to %s", len(reports), path)
	return nil
}
