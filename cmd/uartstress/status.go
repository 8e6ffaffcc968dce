package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/harness"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/output"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/status"
)

func newStatusCmd() *cobra.Command {
	var flags deviceFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Request a single status-table snapshot and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := newProgress(flags)
			sess, err := harness.Open(flags.device, flags.baud)
			if err != nil {
				return fmt.Errorf("open %s: %w", flags.device, err)
			}
			defer sess.Close()

			progress.Log("requesting snapshot from %s", flags.device)
			snap := sess.RequestSnapshot(status.DefaultTimeout)
			if !snap.Complete {
				progress.Log("snapshot incomplete: statistics=%d/%d tasks=%d/%d",
					snap.StatisticsReceived, status.NumStatisticsSlots, snap.TasksReceived, status.NumTaskSlots)
			}

			for i, name := range status.StatisticsSlotNames {
				if !snap.StatisticsKnown[i] {
					continue
				}
				fmt.Printf("%-32s %s = %d\n", status.StatisticsLabel(name), name, snap.Statistics[i])
			}
			for i, name := range status.TaskSlotNames {
				if !snap.TasksKnown[i] {
					continue
				}
				t := snap.Tasks[i]
				fmt.Printf("%-24s time=%d%% abs=%dus watermark=%d\n", name, t.PercentTime, t.AbsoluteTimeUs, t.HighWatermark)
			}

			return output.WriteJSON(snap, "-")
		},
	}

	addDeviceFlags(cmd, &flags)
	return cmd
}
