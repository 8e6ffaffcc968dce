// uartstress — serial transport stress-testing and measurement harness.
//
// Drives a COBS-framed, checksummed UART protocol against a device: paced
// echo bursts, baud-rate sweeps, scenario-based stress runs with a
// pass/warn/fail verdict, and live status-table snapshots. Produces
// structured JSON result artifacts alongside console progress.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/output"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "uartstress",
		Short:   "Serial transport stress-testing and measurement harness",
		Version: version,
		Long: `uartstress — single Go binary driving a COBS-framed, checksummed
UART protocol against a device.

Runs paced echo bursts, baud-rate sweeps, full scenario-based stress
suites with a pass/warn/fail verdict, and on-demand status-table
snapshots. The burst, sweep and stress commands write a JSON result
artifact under --output-dir.`,
	}

	rootCmd.AddCommand(
		newBurstCmd(),
		newSweepCmd(),
		newStressCmd(),
		newStatusCmd(),
		newSendCmd(),
		newMCPCmd(),
		newCapabilitiesCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// deviceFlags holds the flags common to every run command.
type deviceFlags struct {
	device  string
	baud    int
	quiet   bool
	verbose bool
	outDir  string
}

func addDeviceFlags(cmd *cobra.Command, f *deviceFlags) {
	cmd.Flags().StringVarP(&f.device, "device", "d", "/dev/ttyUSB0", "Serial device path")
	cmd.Flags().IntVarP(&f.baud, "baud", "b", 115200, "Initial baud rate")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Suppress progress output")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().StringVarP(&f.outDir, "output-dir", "o", "./results", "Directory for JSON result artifacts")
}

func newProgress(f deviceFlags) *output.VerboseProgress {
	return output.NewVerboseProgress(!f.quiet, f.verbose)
}

func runID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
