// Package testutil provides shared test infrastructure for the occupancy
// packages. It locates the repository's testdata fixtures and loads the
// expected-occupancy golden file.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// GoldenDataset represents the structure of testdata/expected_occupancy.json.
type GoldenDataset struct {
	Scenarios []GoldenScenario `json:"scenarios"`
}

// GoldenScenario is the expected per-block occupancy of one scenario under
// one metric and processing order, listed in source order.
type GoldenScenario struct {
	Scenario  string    `json:"scenario"`
	Metric    string    `json:"metric"`
	Order     string    `json:"order"`
	Occupancy []float64 `json:"occupancy"`
}

// TestdataDir returns the absolute path of the repository's testdata
// directory. The path is resolved relative to this source file.
func TestdataDir(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	// Navigate from occupancy/internal/testutil/ to repo root testdata/
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata")
}

// ResultsDir returns the directory holding the fixture trace files.
func ResultsDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(TestdataDir(t), "results")
}

// LoadGoldenDataset loads the expected occupancy values from testdata.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	path := filepath.Join(TestdataDir(t), "expected_occupancy.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}

	return &dataset
}

// WriteFile writes content to name inside a fresh temporary directory and
// returns the file's path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
