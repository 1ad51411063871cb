package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"
)

// ErrMalformed is returned for trace records that are missing required fields
// or whose per-block arrays disagree with the declared block count.
var ErrMalformed = errors.New("malformed trace")

// CompressedSuffix marks trace files stored in snappy framed format.
const CompressedSuffix = ".json.sz"

// rawStream mirrors the on-disk trace record. Pointer fields are required and
// checked for presence after decoding.
type rawStream struct {
	ScenarioName       *string           `json:"scenario_name"`
	TID                *string           `json:"TID"`
	Label              string            `json:"label"`
	ReleaseTime        *float64          `json:"release_time"`
	MaxResidentThreads *int              `json:"max_resident_threads"`
	Times              []json.RawMessage `json:"times"`
}

// rawKernel mirrors one kernel entry of the "times" array.
type rawKernel struct {
	KernelName   *string   `json:"kernel_name"`
	KernelTimes  []float64 `json:"kernel_times"`
	BlockCount   *int      `json:"block_count"`
	ThreadCount  *int      `json:"thread_count"`
	SharedMemory *int      `json:"shared_memory"`
	BlockTimes   []float64 `json:"block_times"`
	BlockSMIDs   []int     `json:"block_smids"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Parse decodes one trace record. The first entry of "times" describes the
// whole process rather than a kernel and is skipped, as is any entry carrying
// "cpu_times".
func Parse(r io.Reader) (*Stream, error) {
	var raw rawStream
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrMalformed, err)
	}
	switch {
	case raw.ScenarioName == nil:
		return nil, malformed("missing scenario_name")
	case raw.TID == nil:
		return nil, malformed("missing TID")
	case raw.ReleaseTime == nil:
		return nil, malformed("missing release_time")
	case raw.MaxResidentThreads == nil:
		return nil, malformed("missing max_resident_threads")
	case *raw.MaxResidentThreads < 0:
		return nil, malformed("negative max_resident_threads %d", *raw.MaxResidentThreads)
	case raw.Times == nil:
		return nil, malformed("missing times")
	}

	s := &Stream{
		ScenarioName:       *raw.ScenarioName,
		TID:                *raw.TID,
		Label:              raw.Label,
		ReleaseTime:        *raw.ReleaseTime,
		MaxResidentThreads: *raw.MaxResidentThreads,
	}
	if len(raw.Times) == 0 {
		return s, nil
	}
	skipped := 0
	for i, entry := range raw.Times[1:] {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil {
			return nil, fmt.Errorf("%w: times[%d]: %v", ErrMalformed, i+1, err)
		}
		if _, ok := fields["cpu_times"]; ok {
			skipped++
			continue
		}
		k, err := parseKernel(entry)
		if err != nil {
			return nil, fmt.Errorf("times[%d]: %w", i+1, err)
		}
		s.Kernels = append(s.Kernels, k)
	}
	if skipped > 0 {
		logrus.Debugf("Parse: skipped %d CPU timing entries in stream %s", skipped, s.TID)
	}
	return s, nil
}

func parseKernel(entry json.RawMessage) (*Kernel, error) {
	var raw rawKernel
	if err := json.Unmarshal(entry, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case raw.KernelName == nil:
		return nil, malformed("missing kernel_name")
	case len(raw.KernelTimes) != 2:
		return nil, malformed("kernel %s: kernel_times has %d values, want 2", *raw.KernelName, len(raw.KernelTimes))
	case raw.BlockCount == nil:
		return nil, malformed("kernel %s: missing block_count", *raw.KernelName)
	case raw.ThreadCount == nil:
		return nil, malformed("kernel %s: missing thread_count", *raw.KernelName)
	case raw.SharedMemory == nil:
		return nil, malformed("kernel %s: missing shared_memory", *raw.KernelName)
	}
	name, n := *raw.KernelName, *raw.BlockCount
	switch {
	case n < 0:
		return nil, malformed("kernel %s: negative block_count %d", name, n)
	case *raw.ThreadCount < 0:
		return nil, malformed("kernel %s: negative thread_count %d", name, *raw.ThreadCount)
	case *raw.SharedMemory < 0:
		return nil, malformed("kernel %s: negative shared_memory %d", name, *raw.SharedMemory)
	case len(raw.BlockTimes) != 2*n:
		return nil, malformed("kernel %s: %d block_times for %d blocks", name, len(raw.BlockTimes), n)
	case len(raw.BlockSMIDs) != n:
		return nil, malformed("kernel %s: %d block_smids for %d blocks", name, len(raw.BlockSMIDs), n)
	}

	k := &Kernel{
		Name:         name,
		LaunchStart:  raw.KernelTimes[0],
		LaunchEnd:    raw.KernelTimes[1],
		BlockCount:   n,
		ThreadCount:  *raw.ThreadCount,
		SharedMemory: *raw.SharedMemory,
		Blocks:       make([]BlockTiming, n),
	}
	for i := 0; i < n; i++ {
		bt := BlockTiming{
			ID:    i,
			Start: raw.BlockTimes[2*i],
			End:   raw.BlockTimes[2*i+1],
			SM:    raw.BlockSMIDs[i],
		}
		if bt.Start > bt.End {
			return nil, malformed("kernel %s: block %d starts at %g after it ends at %g", name, i, bt.Start, bt.End)
		}
		if bt.SM < 0 {
			return nil, malformed("kernel %s: block %d has negative SM id %d", name, i, bt.SM)
		}
		k.Blocks[i] = bt
	}
	return k, nil
}

// LoadFile reads one trace file. Files ending in CompressedSuffix are
// decompressed with snappy's framed format.
func LoadFile(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, CompressedSuffix) {
		r = snappy.NewReader(f)
	}
	s, err := Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Source = path
	logrus.Debugf("LoadFile: %s: scenario %q, %d kernels, %d blocks", path, s.ScenarioName, len(s.Kernels), s.BlockCount())
	return s, nil
}
