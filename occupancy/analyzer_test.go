package occupancy

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustBlock builds a block and assigns its source position.
func mustBlock(t *testing.T, seq int, start, end float64, sm int, demand float64) Block {
	t.Helper()
	b, err := NewBlock(start, end, sm, demand, "k", seq)
	require.NoError(t, err)
	b.Seq = seq
	return b
}

func occupancies(results []BlockOccupancy) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Occupancy
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero value", Config{}, false},
		{"all set", Config{Metric: MetricSharedMem, Order: OrderChronological, Strategy: StrategySweep, Workers: 4}, false},
		{"bad metric", Config{Metric: "registers"}, true},
		{"bad order", Config{Order: "random"}, true},
		{"bad strategy", Config{Strategy: "magic"}, true},
		{"negative workers", Config{Workers: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewAnalyzer_Defaults(t *testing.T) {
	a, err := NewAnalyzer(2, Config{})
	require.NoError(t, err)
	assert.Equal(t, OrderSource, a.Config().Order)
	assert.Equal(t, StrategyRefine, a.Config().Strategy)
}

func TestNewAnalyzer_NoSMs_ReturnsError(t *testing.T) {
	_, err := NewAnalyzer(0, Config{})
	assert.Error(t, err)
}

func TestAnalyzer_Run_ReferenceScenario(t *testing.T) {
	// GIVEN A=[0,2)/500 and B=[1,3)/300 on SM 0, followed by three probes
	blocks := []Block{
		mustBlock(t, 0, 0.0, 2.0, 0, 500),
		mustBlock(t, 1, 1.0, 3.0, 0, 300),
		mustBlock(t, 2, 1.5, 1.8, 0, 0),
		mustBlock(t, 3, 2.5, 3.5, 0, 0),
		mustBlock(t, 4, 4.0, 5.0, 0, 0),
	}
	a, err := NewAnalyzer(1, Config{})
	require.NoError(t, err)

	// WHEN analyzed in source order
	results, err := a.Run(blocks, nil)
	require.NoError(t, err)

	// THEN A sees nothing, B sees A, and the probes match the reference values
	assert.Equal(t, []float64{0, 500, 800, 300, 0}, occupancies(results))
}

func TestAnalyzer_Run_FirstBlockOnEachSM_Zero(t *testing.T) {
	// GIVEN overlapping blocks that are each alone on their SM
	blocks := []Block{
		mustBlock(t, 0, 0, 10, 0, 1024),
		mustBlock(t, 1, 0, 10, 1, 1024),
		mustBlock(t, 2, 0, 10, 2, 1024),
	}
	a, err := NewAnalyzer(3, Config{})
	require.NoError(t, err)

	results, err := a.Run(blocks, nil)
	require.NoError(t, err)

	// THEN no cross-SM demand is counted
	assert.Equal(t, []float64{0, 0, 0}, occupancies(results))
}

func TestAnalyzer_Run_OwnIntervalNeverCounted(t *testing.T) {
	blocks := []Block{mustBlock(t, 0, 0, 1, 0, 2048)}
	a, err := NewAnalyzer(1, Config{})
	require.NoError(t, err)

	results, err := a.Run(blocks, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, results[0].Occupancy)
}

func TestAnalyzer_Run_InvalidSM_NoPartialResult(t *testing.T) {
	// GIVEN a valid block followed by one on a nonexistent SM
	blocks := []Block{
		mustBlock(t, 0, 0, 1, 0, 128),
		mustBlock(t, 1, 0, 1, 5, 128),
	}
	a, err := NewAnalyzer(2, Config{})
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	sink := NewMockSink(ctrl)
	// no Emit calls are expected

	// WHEN analyzed
	results, err := a.Run(blocks, sink)

	// THEN the run fails before anything is emitted
	assert.ErrorIs(t, err, ErrSMOutOfRange)
	assert.Nil(t, results)
}

func TestAnalyzer_Run_SourceOrder_LaterStartedBlockHidesEarlierOne(t *testing.T) {
	// GIVEN a block enumerated first that starts after a block enumerated second
	blocks := []Block{
		mustBlock(t, 0, 5, 10, 0, 256), // enumerated first, runs later
		mustBlock(t, 1, 0, 6, 0, 512),  // enumerated second, runs earlier
	}

	// WHEN processed in source order
	src, err := NewAnalyzer(1, Config{Order: OrderSource})
	require.NoError(t, err)
	results, err := src.Run(blocks, nil)
	require.NoError(t, err)

	// THEN only the second-enumerated block sees the overlap
	assert.Equal(t, []float64{0, 256}, occupancies(results))

	// WHEN processed chronologically
	chrono, err := NewAnalyzer(1, Config{Order: OrderChronological})
	require.NoError(t, err)
	results, err = chrono.Run(blocks, nil)
	require.NoError(t, err)

	// THEN the later-starting block sees the earlier-starting one; results stay
	// indexed like the input
	assert.Equal(t, []float64{512, 0}, occupancies(results))
	assert.Equal(t, 0, results[0].Block.Seq)
}

func TestAnalyzer_Run_ChronologicalTies_KeepSourceOrder(t *testing.T) {
	blocks := []Block{
		mustBlock(t, 0, 1, 2, 0, 100),
		mustBlock(t, 1, 1, 2, 0, 200),
	}
	a, err := NewAnalyzer(1, Config{Order: OrderChronological})
	require.NoError(t, err)

	results, err := a.Run(blocks, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 100}, occupancies(results))
}

func TestAnalyzer_Run_SinkReceivesBlocksInProcessingOrder(t *testing.T) {
	blocks := []Block{
		mustBlock(t, 0, 0, 2, 0, 500),
		mustBlock(t, 1, 1, 3, 1, 300),
		mustBlock(t, 2, 1, 3, 0, 300),
	}
	a, err := NewAnalyzer(2, Config{})
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	sink := NewMockSink(ctrl)
	gomock.InOrder(
		sink.EXPECT().Emit(BlockOccupancy{Block: blocks[0], Occupancy: 0}).Return(nil),
		sink.EXPECT().Emit(BlockOccupancy{Block: blocks[1], Occupancy: 0}).Return(nil),
		sink.EXPECT().Emit(BlockOccupancy{Block: blocks[2], Occupancy: 500}).Return(nil),
	)

	_, err = a.Run(blocks, sink)
	require.NoError(t, err)
}

func TestAnalyzer_Run_SinkError_AbortsRun(t *testing.T) {
	blocks := []Block{
		mustBlock(t, 0, 0, 1, 0, 1),
		mustBlock(t, 1, 0, 1, 0, 1),
	}
	a, err := NewAnalyzer(1, Config{})
	require.NoError(t, err)

	boom := errors.New("renderer closed")
	ctrl := gomock.NewController(t)
	sink := NewMockSink(ctrl)
	sink.EXPECT().Emit(gomock.Any()).Return(boom).Times(1)

	results, err := a.Run(blocks, sink)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, results)
}

func TestAnalyzer_Run_Parallel_MatchesSerial(t *testing.T) {
	// GIVEN a random multi-SM workload
	rng := rand.New(rand.NewSource(1))
	const numSMs = 8
	blocks := make([]Block, 400)
	for i := range blocks {
		start := float64(rng.Intn(100)) / 10
		blocks[i] = mustBlock(t, i, start, start+float64(1+rng.Intn(30))/10, rng.Intn(numSMs), float64(64*(1+rng.Intn(16))))
	}

	for _, order := range []Order{OrderSource, OrderChronological} {
		for _, strategy := range []Strategy{StrategyRefine, StrategySweep} {
			serial, err := NewAnalyzer(numSMs, Config{Order: order, Strategy: strategy})
			require.NoError(t, err)
			parallel, err := NewAnalyzer(numSMs, Config{Order: order, Strategy: strategy, Workers: 4})
			require.NoError(t, err)

			// WHEN analyzed serially and in parallel
			want, err := serial.Run(blocks, nil)
			require.NoError(t, err)
			got, err := parallel.Run(blocks, nil)
			require.NoError(t, err)

			// THEN results are identical
			assert.Equal(t, want, got, "order=%s strategy=%s", order, strategy)
		}
	}
}

func TestAnalyzer_WorkerCount_ClampedToSMs(t *testing.T) {
	tests := []struct {
		name    string
		numSMs  int
		workers int
		want    int
	}{
		{"serial", 4, 0, 1},
		{"fewer workers than SMs", 8, 3, 3},
		{"one per SM", 4, 4, 4},
		{"far more workers than SMs", 2, 100_000_000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAnalyzer(tt.numSMs, Config{Workers: tt.workers})
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.workerCount())
		})
	}
}

func TestAnalyzer_Run_HugeWorkerCount_MatchesSerial(t *testing.T) {
	// GIVEN a two-SM workload and a worker count far above the SM count
	blocks := []Block{
		mustBlock(t, 0, 0, 2, 0, 512),
		mustBlock(t, 1, 0.5, 1.5, 1, 512),
		mustBlock(t, 2, 1, 3, 0, 256),
		mustBlock(t, 3, 0, 1, 1, 256),
	}
	a, err := NewAnalyzer(2, Config{Workers: 100_000_000})
	require.NoError(t, err)

	// WHEN run
	got, err := a.Run(blocks, nil)
	require.NoError(t, err)

	// THEN results match the serial source-order values
	assert.Equal(t, []float64{0, 0, 512, 512}, occupancies(got))
}

func TestAnalyzer_Run_Parallel_EmitsInInputOrder(t *testing.T) {
	blocks := []Block{
		mustBlock(t, 0, 0, 1, 1, 10),
		mustBlock(t, 1, 0, 1, 0, 20),
		mustBlock(t, 2, 0, 1, 1, 30),
	}
	a, err := NewAnalyzer(2, Config{Workers: 2})
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	sink := NewMockSink(ctrl)
	gomock.InOrder(
		sink.EXPECT().Emit(BlockOccupancy{Block: blocks[0], Occupancy: 0}).Return(nil),
		sink.EXPECT().Emit(BlockOccupancy{Block: blocks[1], Occupancy: 0}).Return(nil),
		sink.EXPECT().Emit(BlockOccupancy{Block: blocks[2], Occupancy: 10}).Return(nil),
	)

	_, err = a.Run(blocks, sink)
	require.NoError(t, err)
}

func TestAnalyzer_Run_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	blocks := make([]Block, 200)
	for i := range blocks {
		start := rng.Float64() * 10
		blocks[i] = mustBlock(t, i, start, start+rng.Float64(), rng.Intn(4), rng.Float64()*1000)
	}
	a, err := NewAnalyzer(4, Config{})
	require.NoError(t, err)

	first, err := a.Run(blocks, nil)
	require.NoError(t, err)
	second, err := a.Run(blocks, nil)
	require.NoError(t, err)

	// THEN repeated runs agree bit for bit, and the analyzer does not leak
	// ledger state between runs
	assert.Equal(t, first, second)
}
