// Package trace loads GPU block execution traces into streams and benchmarks.
// It depends only on the occupancy package's Block type; callers decide how
// the resulting blocks are analyzed or presented.
package trace

import (
	"errors"
	"fmt"

	"github.com/gpusched/blocksbysm/occupancy"
)

// ErrNoStreams is returned when a benchmark has no streams to derive device
// properties from.
var ErrNoStreams = errors.New("benchmark has no streams")

// BlockTiming is one block of a kernel launch as recorded in a trace.
type BlockTiming struct {
	ID    int // index within the kernel launch
	Start float64
	End   float64
	SM    int
}

// Kernel is one kernel launch within a stream.
type Kernel struct {
	Name         string
	LaunchStart  float64 // kernel_times[0]
	LaunchEnd    float64 // kernel_times[1]
	BlockCount   int
	ThreadCount  int // threads per block
	SharedMemory int // shared memory bytes per block
	Blocks       []BlockTiming
}

// Demand returns the per-block demand of the kernel under metric m.
func (k *Kernel) Demand(m occupancy.Metric) float64 {
	if m == occupancy.MetricSharedMem {
		return float64(k.SharedMemory)
	}
	return float64(k.ThreadCount)
}

// Bounds returns the earliest block start and latest block end. ok is false
// when the kernel has no blocks.
func (k *Kernel) Bounds() (start, end float64, ok bool) {
	for i, b := range k.Blocks {
		if i == 0 || b.Start < start {
			start = b.Start
		}
		if i == 0 || b.End > end {
			end = b.End
		}
	}
	return start, end, len(k.Blocks) > 0
}

// Stream is the parsed content of one trace file: an independent sequence of
// kernels issued by one host thread.
type Stream struct {
	Source             string // file the stream was loaded from, if any
	ScenarioName       string
	TID                string
	Label              string
	ReleaseTime        float64
	MaxResidentThreads int
	Kernels            []*Kernel
}

// Bounds returns the earliest block start and latest block end over all
// kernels. ok is false when no kernel has blocks.
func (s *Stream) Bounds() (start, end float64, ok bool) {
	for _, k := range s.Kernels {
		ks, ke, kok := k.Bounds()
		if !kok {
			continue
		}
		if !ok || ks < start {
			start = ks
		}
		if !ok || ke > end {
			end = ke
		}
		ok = true
	}
	return start, end, ok
}

// BlockCount returns the number of blocks over all kernels.
func (s *Stream) BlockCount() int {
	n := 0
	for _, k := range s.Kernels {
		n += len(k.Blocks)
	}
	return n
}

// Benchmark is one scenario: every stream recorded under the same scenario
// name, in load order.
type Benchmark struct {
	Name    string
	Streams []*Stream
}

// Bounds returns the earliest block start and latest block end over all
// streams.
func (b *Benchmark) Bounds() (start, end float64, ok bool) {
	for _, s := range b.Streams {
		ss, se, sok := s.Bounds()
		if !sok {
			continue
		}
		if !ok || ss < start {
			start = ss
		}
		if !ok || se > end {
			end = se
		}
		ok = true
	}
	return start, end, ok
}

// NumSMs derives the device's SM count from the first stream's
// max_resident_threads.
func (b *Benchmark) NumSMs(perSMThreads int) (int, error) {
	if len(b.Streams) == 0 {
		return 0, fmt.Errorf("scenario %q: %w", b.Name, ErrNoStreams)
	}
	n, err := occupancy.SMCount(b.Streams[0].MaxResidentThreads, perSMThreads)
	if err != nil {
		return 0, fmt.Errorf("scenario %q: %w", b.Name, err)
	}
	return n, nil
}

// Blocks flattens the benchmark into analysis order: streams by index, then
// kernels and blocks as they appear in each trace. Demand is taken from
// metric m.
func (b *Benchmark) Blocks(m occupancy.Metric) ([]occupancy.Block, error) {
	var out []occupancy.Block
	for si, s := range b.Streams {
		for _, k := range s.Kernels {
			demand := k.Demand(m)
			for _, bt := range k.Blocks {
				blk, err := occupancy.NewBlock(bt.Start, bt.End, bt.SM, demand, k.Name, bt.ID)
				if err != nil {
					return nil, fmt.Errorf("stream %d (%s): %w", si, s.Source, err)
				}
				blk.Stream = si
				blk.Seq = len(out)
				out = append(out, blk)
			}
		}
	}
	return out, nil
}
