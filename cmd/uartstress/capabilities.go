package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/transport"
)

func newCapabilitiesCmd() *cobra.Command {
	var device string

	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Show supported baud rates and whether the device is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Supported baud rates:")
			for _, rate := range transport.DefaultBaudRates {
				fmt.Printf("  %d\n", rate)
			}

			if device == "" {
				return nil
			}
			if _, err := os.Stat(device); err != nil {
				fmt.Printf("\nDevice %s: not reachable (%v)\n", device, err)
				return nil
			}
			fmt.Printf("\nDevice %s: present\n", device)
			return nil
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "Optional device path to probe for reachability")
	return cmd
}
