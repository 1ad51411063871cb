package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gpusched/blocksbysm/occupancy/trace"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert trace files between plain and compressed storage",
	Long:  "Convert trace files between plain JSON (*.json) and snappy framed JSON (*.json.sz). Each file is validated before it is rewritten; outputs are written next to their inputs.",
}

var convertRemoveSource bool

// --- blocksbysm convert compress ---

var convertCompressCmd = &cobra.Command{
	Use:   "compress FILE...",
	Short: "Compress *.json traces to *.json.sz",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return convertFiles(args, trace.CompressFile)
	},
}

// --- blocksbysm convert decompress ---

var convertDecompressCmd = &cobra.Command{
	Use:   "decompress FILE...",
	Short: "Decompress *.json.sz traces to *.json",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return convertFiles(args, trace.DecompressFile)
	},
}

// convertFiles applies convert to every path in order and stops at the first
// failure. With --remove, each source is deleted once its output is written.
func convertFiles(paths []string, convert func(string) (string, error)) error {
	for _, src := range paths {
		dst, err := convert(src)
		if err != nil {
			return err
		}
		logrus.Infof("Converted %s -> %s", src, dst)
		if convertRemoveSource {
			if err := os.Remove(src); err != nil {
				return fmt.Errorf("removing %s: %w", src, err)
			}
		}
	}
	return nil
}

func init() {
	convertCmd.PersistentFlags().BoolVar(&convertRemoveSource, "remove", false, "Delete each source file after a successful conversion")

	convertCmd.AddCommand(convertCompressCmd)
	convertCmd.AddCommand(convertDecompressCmd)

	rootCmd.AddCommand(convertCmd)
}
