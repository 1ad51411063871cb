package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gpusched/blocksbysm/occupancy"
	"github.com/gpusched/blocksbysm/occupancy/report"
	"github.com/gpusched/blocksbysm/occupancy/trace"
)

// AnalysisConfig is the full analysis configuration. It can be loaded from a
// YAML file and is overridden by explicitly set CLI flags.
// All fields must be listed here to satisfy KnownFields(true) strict parsing.
type AnalysisConfig struct {
	ResultsDir          string `yaml:"results_dir"`
	Metric              string `yaml:"metric"`
	Order               string `yaml:"order"`
	Strategy            string `yaml:"strategy"`
	Workers             int    `yaml:"workers"`
	SMThreadCapacity    int    `yaml:"sm_thread_capacity"`
	SMSharedMemCapacity int    `yaml:"sm_shared_mem_capacity"`
	Format              string `yaml:"format"`
	SummaryOnly         bool   `yaml:"summary_only"`
	Addr                string `yaml:"addr"`
}

// DefaultAnalysisConfig returns the configuration used when neither a config
// file nor flags say otherwise.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		ResultsDir:          trace.DefaultResultsDir,
		Metric:              string(occupancy.MetricThreads),
		Order:               string(occupancy.OrderSource),
		Strategy:            string(occupancy.StrategyRefine),
		Workers:             1,
		SMThreadCapacity:    occupancy.DefaultSMThreads,
		SMSharedMemCapacity: occupancy.DefaultSMSharedMem,
		Format:              string(report.FormatTable),
		Addr:                ":8089",
	}
}

// LoadAnalysisConfig decodes the YAML file at path on top of base. Fields
// absent from the file keep base's values; unknown fields are an error.
func LoadAnalysisConfig(path string, base AnalysisConfig) (AnalysisConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading analysis config: %w", err)
	}
	cfg := base
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return base, fmt.Errorf("parsing analysis config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that all names and ranges in the config are valid.
func (c AnalysisConfig) Validate() error {
	if !occupancy.IsValidMetric(c.Metric) {
		return fmt.Errorf("unknown metric %q (want threads or sharedmem)", c.Metric)
	}
	if !occupancy.IsValidOrder(c.Order) {
		return fmt.Errorf("unknown order %q (want source or chronological)", c.Order)
	}
	if !occupancy.IsValidStrategy(c.Strategy) {
		return fmt.Errorf("unknown strategy %q (want refine or sweep)", c.Strategy)
	}
	if !report.IsValidFormat(c.Format) {
		return fmt.Errorf("unknown format %q (want table, json or yaml)", c.Format)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.SMThreadCapacity <= 0 {
		return fmt.Errorf("sm_thread_capacity must be positive, got %d", c.SMThreadCapacity)
	}
	if c.SMSharedMemCapacity <= 0 {
		return fmt.Errorf("sm_shared_mem_capacity must be positive, got %d", c.SMSharedMemCapacity)
	}
	return nil
}

// Capacity returns the per-SM capacity of the configured metric.
func (c AnalysisConfig) Capacity() float64 {
	if occupancy.Metric(c.Metric) == occupancy.MetricSharedMem {
		return float64(c.SMSharedMemCapacity)
	}
	return float64(c.SMThreadCapacity)
}

// OccupancyConfig converts c into the core analyzer's configuration.
func (c AnalysisConfig) OccupancyConfig() occupancy.Config {
	return occupancy.Config{
		Metric:   occupancy.Metric(c.Metric),
		Order:    occupancy.Order(c.Order),
		Strategy: occupancy.Strategy(c.Strategy),
		Workers:  c.Workers,
	}
}

// resolveConfig builds the effective configuration for cmd: defaults, then
// the --config file if given, then every flag the user set explicitly, then
// the optional positional results directory.
func resolveConfig(cmd *cobra.Command, args []string) (AnalysisConfig, error) {
	cfg := DefaultAnalysisConfig()
	if configPath != "" {
		loaded, err := LoadAnalysisConfig(configPath, cfg)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("metric") {
		cfg.Metric = flagConfig.Metric
	}
	if flags.Changed("order") {
		cfg.Order = flagConfig.Order
	}
	if flags.Changed("strategy") {
		cfg.Strategy = flagConfig.Strategy
	}
	if flags.Changed("workers") {
		cfg.Workers = flagConfig.Workers
	}
	if flags.Changed("sm-threads") {
		cfg.SMThreadCapacity = flagConfig.SMThreadCapacity
	}
	if flags.Changed("sm-shared-mem") {
		cfg.SMSharedMemCapacity = flagConfig.SMSharedMemCapacity
	}
	if flags.Changed("format") {
		cfg.Format = flagConfig.Format
	}
	if flags.Changed("summary-only") {
		cfg.SummaryOnly = flagConfig.SummaryOnly
	}
	if flags.Changed("addr") {
		cfg.Addr = flagConfig.Addr
	}
	if len(args) == 1 {
		cfg.ResultsDir = args[0]
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
