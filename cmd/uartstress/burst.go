package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/burst"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/harness"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/output"
)

func newBurstCmd() *cobra.Command {
	var flags deviceFlags
	var (
		numTimes int
		samples  int
		length   int
		minWait  time.Duration
		maxWait  time.Duration
		waitTime time.Duration
		jitter   bool
	)

	cmd := &cobra.Command{
		Use:   "burst",
		Short: "Run paced echo bursts against the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := newProgress(flags)
			sess, err := harness.Open(flags.device, flags.baud)
			if err != nil {
				return fmt.Errorf("open %s: %w", flags.device, err)
			}
			defer sess.Close()

			progress.Log("opened %s at %d baud", flags.device, flags.baud)

			cfg := burst.Config{
				NumTimes: numTimes,
				MinWait:  minWait,
				MaxWait:  maxWait,
				WaitTime: waitTime,
				Samples:  samples,
				Length:   length,
				Jitter:   jitter,
				Baudrate: flags.baud,
			}
			ctrl := burst.New(sess.Meter(), sess.Pipeline(), sess.Tables())
			results, err := ctrl.Run(cfg)
			if err != nil {
				return fmt.Errorf("burst run: %w", err)
			}

			for _, r := range results {
				progress.Log("iteration %d: sent=%d received=%d dropped=%d p95=%.2fms",
					r.Iteration, r.Sent, r.Received, r.Dropped, r.Latency.P95Ms)
			}

			path, err := burst.WriteJSON(results, flags.outDir, runID())
			if err != nil {
				return fmt.Errorf("write results: %w", err)
			}
			progress.Log("wrote %s", path)
			return output.WriteJSON(results, "-")
		},
	}

	addDeviceFlags(cmd, &flags)
	cmd.Flags().IntVar(&numTimes, "iterations", 1, "Number of burst iterations")
	cmd.Flags().IntVar(&samples, "samples", 100, "Echoes to publish per iteration")
	cmd.Flags().IntVar(&length, "length", 16, "Echo message length in bytes")
	cmd.Flags().DurationVar(&minWait, "min-wait", 5*time.Millisecond, "Minimum inter-message wait")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 5*time.Millisecond, "Maximum inter-message wait")
	cmd.Flags().DurationVar(&waitTime, "settle", 200*time.Millisecond, "Settle time before the post-iteration status snapshot")
	cmd.Flags().BoolVar(&jitter, "jitter", false, "Add random jitter to the inter-message wait")
	return cmd
}
