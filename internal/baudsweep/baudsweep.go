// Package baudsweep implements the baud-rate sweep controller (C9):
// stepping through a list of baud rates, re-establishing the pipeline at
// each, and recording one latency record per rate.
package baudsweep

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/burst"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/clock"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/latency"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/status"
)

// stabiliseDelay is how long the sweep waits after a baud-rate change
// before publishing, letting the wire settle.
const stabiliseDelay = 500 * time.Millisecond

// wireOverheadBytes mirrors burst's constant: 2 COBS-overhead bytes, the
// delimiter, and a one-byte safety margin.
const wireOverheadBytes = 4

// Rebinder reconfigures the transport's baud rate and re-registers the
// message handler, since reconfiguring necessarily replaces the pipeline's
// workers. Satisfied by a small adapter over transport.Port + pipeline.
type Rebinder interface {
	SetBaudRate(rate int) error
	Rebind(handler func(command int, decoded []byte, raw []byte))
}

// Config parameterises a sweep run.
type Config struct {
	BaudRates []int
	Samples   int
	Length    int
	WaitTime  time.Duration
}

// Record is one rate's result.
type Record struct {
	Baudrate int                    `json:"baudrate"`
	Skipped  bool                   `json:"skipped"`
	Reason   string                 `json:"reason,omitempty"`
	Sent     int                    `json:"sent"`
	Received int                    `json:"received"`
	Latency  burst.LatencyStatsMS   `json:"latency"`
	Delta    status.Delta           `json:"delta"`
}

// Controller runs a baud-rate sweep.
type Controller struct {
	rebind    Rebinder
	publisher burst.Publisher
	requester status.Requester
	tables    *status.Tables
	clk       clock.Clock
	handler   func(command int, decoded []byte, raw []byte)
}

// New constructs a Controller. handler is the message handler to re-bind
// after every baud-rate change (typically meter.HandleMessage).
func New(rebind Rebinder, publisher burst.Publisher, requester status.Requester, tables *status.Tables, handler func(command int, decoded []byte, raw []byte)) *Controller {
	return &Controller{
		rebind:    rebind,
		publisher: publisher,
		requester: requester,
		tables:    tables,
		clk:       clock.Default,
		handler:   handler,
	}
}

// Run sweeps cfg.BaudRates, restoring originalBaud and re-binding the
// handler once more at the end.
func (c *Controller) Run(cfg Config, originalBaud int) []Record {
	records := make([]Record, 0, len(cfg.BaudRates))

	for _, rate := range cfg.BaudRates {
		c.publisher.Reset()
		pre := status.RequestSnapshot(c.requester, c.tables, status.DefaultTimeout, c.clk)

		if err := c.rebind.SetBaudRate(rate); err != nil {
			log.Printf("baudsweep: set baud %d: %v, skipping", rate, err)
			records = append(records, Record{Baudrate: rate, Skipped: true, Reason: err.Error()})
			continue
		}
		c.rebind.Rebind(c.handler)
		sleep(stabiliseDelay)

		minDelay := minUARTDelay(cfg.Length, rate)
		for i := 0; i < cfg.Samples; i++ {
			c.publisher.Publish(uint16(i), cfg.Length)
			sleep(minDelay)
		}
		sleep(cfg.WaitTime)

		post := status.RequestSnapshot(c.requester, c.tables, status.DefaultTimeout, c.clk)
		records = append(records, Record{
			Baudrate: rate,
			Sent:     c.publisher.SentCount(),
			Received: c.publisher.ReceivedCount(),
			Latency:  latencyStatsMS(c.publisher.Latencies()),
			Delta:    status.ComputeDelta(pre.Snapshot, post.Snapshot),
		})
	}

	if err := c.rebind.SetBaudRate(originalBaud); err != nil {
		log.Printf("baudsweep: restore original baud %d: %v", originalBaud, err)
	}
	c.rebind.Rebind(c.handler)

	return records
}

func latencyStatsMS(latencies []time.Duration) burst.LatencyStatsMS {
	stats := latency.Summarize(latencies)
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return burst.LatencyStatsMS{AvgMs: ms(stats.Avg), MinMs: ms(stats.Min), MaxMs: ms(stats.Max), P95Ms: ms(stats.P95)}
}

// minUARTDelay computes the minimum inter-message delay for samples of
// length bytes at rate baud.
func minUARTDelay(length, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	seconds := float64(length+wireOverheadBytes) * 10 / float64(rate)
	return time.Duration(seconds * float64(time.Second))
}

var sleep = time.Sleep

// WriteJSON serialises records to "<run-id>_baud_sweep.json" under dir.
func WriteJSON(records []Record, dir string, runID string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("baudsweep: create results dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_baud_sweep.json", runID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("baudsweep: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return "", fmt.Errorf("baudsweep: encode records: %w", err)
	}
	return path, nil
}
