package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/harness"
)

func newSendCmd() *cobra.Command {
	var flags deviceFlags
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <hex>",
		Short: "Send an arbitrary hex payload through the checksum+COBS path",
		Long: `Decodes <hex> (whitespace tolerated, e.g. "0017aa" or "00 17 aa") to bytes,
checksums and COBS-frames it, and writes it to the device for ad-hoc
manual probing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := newProgress(flags)
			sess, err := harness.Open(flags.device, flags.baud)
			if err != nil {
				return fmt.Errorf("open %s: %w", flags.device, err)
			}
			defer sess.Close()

			if err := sess.Pipeline().SendHex(args[0]); err != nil {
				return err
			}
			progress.Log("sent %s", args[0])

			time.Sleep(wait)
			return nil
		},
	}

	addDeviceFlags(cmd, &flags)
	cmd.Flags().DurationVar(&wait, "wait", 200*time.Millisecond, "Time to wait for a response before closing the device")
	return cmd
}
