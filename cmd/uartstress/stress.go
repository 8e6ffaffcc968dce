package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/harness"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/stress"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/telemetry"
)

func newStressCmd() *cobra.Command {
	var flags deviceFlags
	var configPath string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run the scenario-based stress suite and print a pass/warn/fail verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := newProgress(flags)

			cfg := stress.DefaultStressConfig()
			if configPath != "" {
				loaded, err := stress.LoadConfig(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			if cfg.OutputDir == "" || cmd.Flags().Changed("output-dir") {
				cfg.OutputDir = flags.outDir
			}

			sess, err := harness.Open(flags.device, flags.baud)
			if err != nil {
				return fmt.Errorf("open %s: %w", flags.device, err)
			}
			defer sess.Close()

			progress.Log("running %d scenarios against %s", len(cfg.Scenarios), flags.device)

			if metricsAddr != "" {
				collector := telemetry.NewCollector(sess.Pipeline().Statistics(), sess.Meter(),
					prometheus.Labels{"device": flags.device})
				metricsSrv := telemetry.NewServer(metricsAddr, collector)
				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				go func() {
					if err := metricsSrv.Serve(ctx); err != nil {
						progress.Log("metrics server stopped: %v", err)
					}
				}()
				progress.Log("serving metrics on %s/metrics", metricsAddr)
			}

			runner := stress.New(sess.Meter(), sess.Pipeline(), sess.Port(), sess, sess.Meter().HandleMessage, sess.Tables())
			result := runner.Run(cfg, uuid.NewString())

			path, err := stress.WriteJSON(result, cfg.OutputDir)
			if err != nil {
				return fmt.Errorf("write results: %w", err)
			}
			progress.Log("wrote %s", path)

			stress.PrintSummary(result, log.New(os.Stdout, "", 0))

			if result.Verdict == stress.VerdictFail {
				os.Exit(1)
			}
			return nil
		},
	}

	addDeviceFlags(cmd, &flags)
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a StressConfig JSON document (defaults to the five canonical scenarios)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9123) for the duration of the run; disabled if empty")
	return cmd
}
