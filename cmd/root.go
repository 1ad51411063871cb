package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/gpusched/blocksbysm/occupancy"
	"github.com/gpusched/blocksbysm/occupancy/report"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	// CLI flags shared by every command
	configPath string // YAML analysis config
	logLevel   string // Log verbosity level

	// flagConfig receives flag values; resolveConfig copies only the flags the
	// user set explicitly over the defaults and config file.
	flagConfig = DefaultAnalysisConfig()

	outputPath string // analyze: write report here instead of stdout
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "blocksbysm",
	Short: "Competing SM occupancy analysis for GPU block traces",
	Long: `blocksbysm reads GPU block execution traces, groups them by scenario and
computes, for every block, the concurrent demand of other blocks on the same SM.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)
		return nil
	},
}

// analyzeCmd analyzes every scenario in a results directory
var analyzeCmd = &cobra.Command{
	Use:   "analyze [results directory]",
	Short: "Compute per-block competing occupancy for every scenario",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, args)
		if err != nil {
			return err
		}
		log := logrus.WithField("run", xid.New().String())
		log.Infof("Analyzing %s (metric=%s, order=%s, strategy=%s, workers=%d)",
			cfg.ResultsDir, cfg.Metric, cfg.Order, cfg.Strategy, cfg.Workers)

		startTime := time.Now()
		reports, err := AnalyzeDir(cfg)
		if err != nil {
			return err
		}
		opts := report.Options{Format: report.Format(cfg.Format), SummaryOnly: cfg.SummaryOnly}
		if err := writeReports(outputPath, reports, opts); err != nil {
			return err
		}
		log.Infof("Analysis complete: %d scenarios in %v", len(reports), time.Since(startTime))
		return nil
	},
}

// serveCmd analyzes every scenario once and serves the reports over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve [results directory]",
	Short: "Serve per-block occupancy reports as JSON over HTTP",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, args)
		if err != nil {
			return err
		}
		logrus.WithField("run", xid.New().String()).Infof("Analyzing %s for serving", cfg.ResultsDir)
		reports, err := AnalyzeDir(cfg)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serveReports(ctx, cfg.Addr, reports)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "blocksbysm", Version)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML analysis config file")
	pf.StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Analysis options
	pf.StringVar(&flagConfig.Metric, "metric", flagConfig.Metric, "Demand metric: threads or sharedmem")
	pf.StringVar(&flagConfig.Order, "order", flagConfig.Order, "Processing order: source (trace enumeration) or chronological (per-SM start time)")
	pf.StringVar(&flagConfig.Strategy, "strategy", flagConfig.Strategy, "Occupancy algorithm: refine or sweep")
	pf.IntVar(&flagConfig.Workers, "workers", flagConfig.Workers, "Goroutines used across SMs")
	pf.IntVar(&flagConfig.SMThreadCapacity, "sm-threads", occupancy.DefaultSMThreads, "Thread capacity of one SM; also derives the SM count")
	pf.IntVar(&flagConfig.SMSharedMemCapacity, "sm-shared-mem", occupancy.DefaultSMSharedMem, "Shared memory bytes of one SM")

	// Output options
	analyzeCmd.Flags().StringVar(&flagConfig.Format, "format", flagConfig.Format, "Output format: table, json or yaml")
	analyzeCmd.Flags().BoolVar(&flagConfig.SummaryOnly, "summary-only", false, "Omit per-block rows")
	analyzeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the report to this file instead of stdout")

	serveCmd.Flags().StringVar(&flagConfig.Addr, "addr", flagConfig.Addr, "Listen address")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
