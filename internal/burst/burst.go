// Package burst implements the burst controller (C8): a paced echo publish
// loop with optional jitter, a minimum UART drain-time computation, and a
// timestamped JSON result artifact.
package burst

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/clock"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/latency"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/protocol"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/status"
)

// wireOverheadBytes accounts for the 2 COBS-overhead bytes, the trailing
// delimiter, and a one-byte safety margin when computing the minimum
// per-message delay needed to drain the UART transmit buffer.
const wireOverheadBytes = 4

// Publisher is the echo-side surface a burst iteration drives; satisfied
// by *latency.Meter.
type Publisher interface {
	Reset()
	Publish(counter uint16, messageLength int)
	Outstanding() int
	SentCount() int
	ReceivedCount() int
	Latencies() []time.Duration
}

// Config parameterises a multi-iteration burst run.
type Config struct {
	NumTimes int
	MinWait  time.Duration
	MaxWait  time.Duration
	WaitTime time.Duration
	Samples  int
	Length   int
	Jitter   bool
	Baudrate int
}

// MaxSamples is the largest burst size supported: counters are 16-bit and
// must stay unique within a burst.
const MaxSamples = 65536

// LatencyStatsMS is the millisecond-denominated JSON form of latency.Stats.
type LatencyStatsMS struct {
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	P95Ms float64 `json:"p95_ms"`
}

func toLatencyStatsMS(s latency.Stats) LatencyStatsMS {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return LatencyStatsMS{AvgMs: ms(s.Avg), MinMs: ms(s.Min), MaxMs: ms(s.Max), P95Ms: ms(s.P95)}
}

// Result is one burst iteration's record.
type Result struct {
	Iteration         int             `json:"iteration"`
	StartedAt         time.Time       `json:"started_at"`
	EndedAt           time.Time       `json:"ended_at"`
	Samples           int             `json:"samples"`
	Length            int             `json:"length"`
	Sent              int             `json:"sent"`
	Received          int             `json:"received"`
	Dropped           int             `json:"dropped"`
	BitrateBps        float64         `json:"bitrate_bps"`
	Latency           LatencyStatsMS  `json:"latency"`
	OutstandingSeries []int           `json:"outstanding_series"`
	OutstandingMax    int             `json:"outstanding_max"`
	PreSnapshot       status.Snapshot `json:"pre_snapshot"`
	PostSnapshot      status.Snapshot `json:"post_snapshot"`
	Delta             status.Delta    `json:"delta"`
}

// Controller runs burst iterations against a publisher and status tables.
type Controller struct {
	publisher Publisher
	requester status.Requester
	tables    *status.Tables
	clk       clock.Clock
	rand      *rand.Rand
}

// New constructs a Controller. requester is used to request status
// snapshots before/after each iteration.
func New(publisher Publisher, requester status.Requester, tables *status.Tables) *Controller {
	return &Controller{
		publisher: publisher,
		requester: requester,
		tables:    tables,
		clk:       clock.Default,
		rand:      rand.New(rand.NewSource(1)),
	}
}

// Run executes cfg.NumTimes burst iterations and returns one Result per
// iteration. Samples above MaxSamples are clamped.
func (c *Controller) Run(cfg Config) ([]Result, error) {
	samples := cfg.Samples
	if samples > MaxSamples {
		samples = MaxSamples
	}
	length := protocol.ClampMessageLength(cfg.Length)
	minDrain := minDrainDelay(length, cfg.Baudrate)

	results := make([]Result, 0, cfg.NumTimes)
	for j := 0; j < cfg.NumTimes; j++ {
		interMsgDelay := interpolateWait(cfg.MinWait, cfg.MaxWait, j, cfg.NumTimes)
		if interMsgDelay < minDrain {
			interMsgDelay = minDrain
		}
		jitterSpan := 0.2 * float64(cfg.MaxWait-cfg.MinWait)

		c.publisher.Reset()
		pre := status.RequestSnapshot(c.requester, c.tables, status.DefaultTimeout, c.clk)
		started := c.clk.Now()

		outstanding := make([]int, 0, samples)
		for i := 0; i < samples; i++ {
			c.publisher.Publish(uint16(i), length)
			delay := interMsgDelay
			if cfg.Jitter && jitterSpan > 0 {
				delay += time.Duration(c.rand.Float64() * jitterSpan)
			}
			sleep(delay)
			outstanding = append(outstanding, c.publisher.Outstanding())
		}

		sleep(cfg.WaitTime)
		post := status.RequestSnapshot(c.requester, c.tables, status.DefaultTimeout, c.clk)
		ended := c.clk.Now()
		outstandingFinal := c.publisher.Outstanding()

		elapsed := ended.Sub(started).Seconds()
		var bitrate float64
		if elapsed > 0 {
			bitrate = float64(samples) * 8 * float64(length) / elapsed
		}

		sent := c.publisher.SentCount()
		received := c.publisher.ReceivedCount()
		outstandingMax := outstandingFinal
		for _, v := range outstanding {
			if v > outstandingMax {
				outstandingMax = v
			}
		}

		results = append(results, Result{
			Iteration:         j,
			StartedAt:         started,
			EndedAt:           ended,
			Samples:           samples,
			Length:            length,
			Sent:              sent,
			Received:          received,
			Dropped:           sent - received,
			BitrateBps:        bitrate,
			Latency:           toLatencyStatsMS(latency.Summarize(c.publisher.Latencies())),
			OutstandingSeries: outstanding,
			OutstandingMax:    outstandingMax,
			PreSnapshot:       pre.Snapshot,
			PostSnapshot:      post.Snapshot,
			Delta:             status.ComputeDelta(pre.Snapshot, post.Snapshot),
		})
	}
	return results, nil
}

// minDrainDelay computes the minimum per-message delay needed to drain the
// UART transmit buffer at baudrate for a message of length bytes.
func minDrainDelay(length, baudrate int) time.Duration {
	if baudrate <= 0 {
		return 0
	}
	seconds := float64(length+wireOverheadBytes) * 10 / float64(baudrate)
	return time.Duration(seconds * float64(time.Second))
}

// interpolateWait linearly interpolates between min and max across
// numTimes iterations; iteration 0 yields min, the last iteration yields
// max (numTimes == 1 yields min).
func interpolateWait(min, max time.Duration, iteration, numTimes int) time.Duration {
	if numTimes <= 1 {
		return min
	}
	frac := float64(iteration) / float64(numTimes-1)
	return min + time.Duration(frac*float64(max-min))
}

// sleep is a seam so tests can run bursts without real pacing delays.
var sleep = time.Sleep

// WriteJSON serialises results to a timestamped file under dir, named
// "<unix-nano-ish run id>_output.json", and returns the path written.
func WriteJSON(results []Result, dir string, runID string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("burst: create results dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_output.json", runID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("burst: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(results); err != nil {
		return "", fmt.Errorf("burst: encode results: %w", err)
	}
	return path, nil
}
