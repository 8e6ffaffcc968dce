package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/baudsweep"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/harness"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/output"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/transport"
)

func newSweepCmd() *cobra.Command {
	var flags deviceFlags
	var (
		samples  int
		length   int
		waitTime time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Sweep baud rates, sampling echoes and a status snapshot at each rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := newProgress(flags)
			sess, err := harness.Open(flags.device, flags.baud)
			if err != nil {
				return fmt.Errorf("open %s: %w", flags.device, err)
			}
			defer sess.Close()

			cfg := baudsweep.Config{
				BaudRates: transport.DefaultBaudRates,
				Samples:   samples,
				Length:    length,
				WaitTime:  waitTime,
			}
			ctrl := baudsweep.New(sess, sess.Meter(), sess.Pipeline(), sess.Tables(), sess.Meter().HandleMessage)
			records := ctrl.Run(cfg, flags.baud)

			for _, r := range records {
				if r.Skipped {
					progress.Log("baud %d: skipped (%s)", r.Baudrate, r.Reason)
					continue
				}
				progress.Log("baud %d: sent=%d received=%d p95=%.2fms", r.Baudrate, r.Sent, r.Received, r.Latency.P95Ms)
			}

			path, err := baudsweep.WriteJSON(records, flags.outDir, runID())
			if err != nil {
				return fmt.Errorf("write results: %w", err)
			}
			progress.Log("wrote %s", path)
			return output.WriteJSON(records, "-")
		},
	}

	addDeviceFlags(cmd, &flags)
	cmd.Flags().IntVar(&samples, "samples", 20, "Echoes to publish at each baud rate")
	cmd.Flags().IntVar(&length, "length", 16, "Echo message length in bytes")
	cmd.Flags().DurationVar(&waitTime, "settle", 200*time.Millisecond, "Settle time before each rate's status snapshot")
	return cmd
}
