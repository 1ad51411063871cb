package trace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// DefaultResultsDir is where trace files are looked for when no directory is
// given.
const DefaultResultsDir = "./results"

// FindFiles returns the trace files (*.json and snappy *.json.sz) directly
// inside dir, sorted by name.
func FindFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("reading results directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("results path %s is not a directory", dir)
	}
	var files []string
	for _, pattern := range []string{"*.json", "*" + CompressedSuffix} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("globbing %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return files, nil
}

// LoadDir loads every trace file in dir, in file-name order.
func LoadDir(dir string) ([]*Stream, error) {
	files, err := FindFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		logrus.Warnf("LoadDir: no trace files found in %s", dir)
	}
	streams := make([]*Stream, 0, len(files))
	for _, path := range files {
		s, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}
	return streams, nil
}

// GroupByScenario merges streams sharing a scenario name into one Benchmark.
// Benchmarks appear in the order their scenario was first seen and keep their
// streams in input order, which fixes the stream indices used for analysis.
func GroupByScenario(streams []*Stream) []*Benchmark {
	var out []*Benchmark
	byName := make(map[string]*Benchmark)
	for _, s := range streams {
		b, ok := byName[s.ScenarioName]
		if !ok {
			b = &Benchmark{Name: s.ScenarioName}
			byName[s.ScenarioName] = b
			out = append(out, b)
		}
		b.Streams = append(b.Streams, s)
	}
	return out
}

// LoadBenchmarks loads dir and groups its streams by scenario.
func LoadBenchmarks(dir string) ([]*Benchmark, error) {
	streams, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	benchmarks := GroupByScenario(streams)
	logrus.Infof("Loaded %d trace files into %d scenarios from %s", len(streams), len(benchmarks), dir)
	return benchmarks, nil
}
