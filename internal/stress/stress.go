// Package stress implements the stress scenario runner and verdict engine
// (C10): five canonical scenarios built from the echo meter, status
// snapshot engine, and raw transport, each evaluated into a PASS/WARN/FAIL
// verdict against declarative thresholds.
package stress

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/burst"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/clock"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/latency"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/observer"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/protocol"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/status"
)

// Command profile kinds, matching the five canonical scenarios.
const (
	ProfileEchoOnly          = "echo_only"
	ProfileMixed             = "mixed"
	ProfileStatusPoll        = "status_poll"
	ProfileBaudFlip          = "baud_flip"
	ProfileNoiseAndRecovery  = "noise_and_recovery"
)

// Verdict values.
const (
	VerdictPass = "PASS"
	VerdictWarn = "WARN"
	VerdictFail = "FAIL"
)

// explainedErrorSlots are the statistics slots whose deltas subtract from
// an observed drop ratio in noise_and_recovery, since they account for
// frames the device itself rejected rather than silently losing.
var explainedErrorSlots = []string{
	"cobs_decode_error",
	"msg_malformed_error",
	"checksum_error",
	"receive_buffer_overflow_error",
	"buffer_overflow_error",
}

// ScenarioThresholds bounds the pass/warn/fail verdict for one scenario.
type ScenarioThresholds struct {
	MaxEchoDropRatio      float64          `json:"max_echo_drop_ratio"`
	MaxErrorCounterDeltas map[string]int64 `json:"max_error_counter_deltas"`
	MaxP95LatencyMs       float64          `json:"max_p95_latency_ms"`
	MaxRecoveryTimeS      float64          `json:"max_recovery_time_s"`
}

// ScenarioConfig declaratively describes one scenario run.
type ScenarioConfig struct {
	Name           string             `json:"name"`
	DurationS      float64            `json:"duration_s"`
	CommandProfile string             `json:"command_profile"`
	PacingS        float64            `json:"pacing_s"`
	MessageLength  int                `json:"message_length"`
	NumMessages    int                `json:"num_messages"`
	BaudRates      []int              `json:"baud_rates"`
	NoiseBytes     int                `json:"noise_bytes"`
	Thresholds     ScenarioThresholds `json:"thresholds"`
	Tags           []string           `json:"tags"`
}

// StressConfig is the top-level declarative configuration for a run.
type StressConfig struct {
	OutputDir string           `json:"output_dir"`
	Scenarios []ScenarioConfig `json:"scenarios"`
}

// DefaultStressConfig produces the five canonical scenarios with
// conservative default thresholds.
func DefaultStressConfig() StressConfig {
	return StressConfig{
		OutputDir: "results",
		Scenarios: []ScenarioConfig{
			{
				Name:           "echo_only",
				CommandProfile: ProfileEchoOnly,
				PacingS:        0.02,
				MessageLength:  10,
				NumMessages:    500,
				Thresholds: ScenarioThresholds{
					MaxEchoDropRatio: 0.01,
					MaxP95LatencyMs:  50,
				},
				Tags: []string{"baseline"},
			},
			{
				Name:           "mixed",
				CommandProfile: ProfileMixed,
				PacingS:        0.02,
				MessageLength:  10,
				NumMessages:    500,
				Thresholds: ScenarioThresholds{
					MaxEchoDropRatio: 0.02,
					MaxP95LatencyMs:  75,
				},
				Tags: []string{"mixed-commands"},
			},
			{
				Name:           "status_poll",
				CommandProfile: ProfileStatusPoll,
				DurationS:      5,
				PacingS:        0.02,
				Thresholds: ScenarioThresholds{
					MaxEchoDropRatio: 0,
				},
				Tags: []string{"polling"},
			},
			{
				Name:           "baud_flip",
				CommandProfile: ProfileBaudFlip,
				PacingS:        0.02,
				MessageLength:  10,
				NumMessages:    100,
				BaudRates:      []int{9600, 115200, 460800, 921600},
				Thresholds: ScenarioThresholds{
					MaxEchoDropRatio: 0.02,
					MaxP95LatencyMs:  100,
				},
				Tags: []string{"baud-rate"},
			},
			{
				Name:           "noise_and_recovery",
				CommandProfile: ProfileNoiseAndRecovery,
				MessageLength:  10,
				NumMessages:    50,
				NoiseBytes:     256,
				Thresholds: ScenarioThresholds{
					MaxEchoDropRatio: 0.05,
					MaxRecoveryTimeS: 3,
					MaxP95LatencyMs:  150,
				},
				Tags: []string{"resilience"},
			},
		},
	}
}

// LoadConfig reads a StressConfig from a JSON file.
func LoadConfig(path string) (StressConfig, error) {
	var cfg StressConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("stress: read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("stress: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as pretty-printed JSON to path.
func SaveConfig(cfg StressConfig, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("stress: create config %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("stress: encode config: %w", err)
	}
	return nil
}

// ScenarioResult is one scenario's measured outputs and verdict.
type ScenarioResult struct {
	Name           string             `json:"name"`
	CommandProfile string             `json:"command_profile"`
	StartedAt      time.Time          `json:"started_at"`
	EndedAt        time.Time          `json:"ended_at"`
	Sent           int                `json:"sent"`
	Received       int                `json:"received"`
	DropRatio      float64            `json:"drop_ratio"`
	Latency        burst.LatencyStatsMS `json:"latency"`
	StatusDelta    status.Delta       `json:"status_delta"`
	Verdict        string             `json:"verdict"`
	Reasons        []string           `json:"reasons"`
	Tags           []string           `json:"tags"`
}

// StressRunResult aggregates every scenario's result with a run-level
// verdict.
type StressRunResult struct {
	RunID     string            `json:"run_id"`
	Verdict   string            `json:"verdict"`
	Scenarios []ScenarioResult  `json:"scenarios"`
	Overhead  observer.Overhead `json:"overhead"`
}

// EchoMeter is the echo-side surface a scenario drives; satisfied by
// *latency.Meter.
type EchoMeter interface {
	Reset()
	Publish(counter uint16, messageLength int)
	SentCount() int
	ReceivedCount() int
	Latencies() []time.Duration
}

// FramedWriter sends a COBS-framed payload; satisfied by *pipeline.Pipeline.
type FramedWriter interface {
	Write(payload []byte)
}

// RawWriter writes bytes directly to the wire, bypassing COBS framing;
// satisfied by *transport.Port.
type RawWriter interface {
	Write(data []byte) (int, error)
}

// BaudSetter reconfigures the transport's baud rate and re-registers the
// message handler, mirroring baudsweep.Rebinder.
type BaudSetter interface {
	SetBaudRate(rate int) error
	Rebind(handler func(command int, decoded []byte, raw []byte))
	CurrentBaud() int
}

// Runner executes scenarios against a live transport/meter/tables triple.
type Runner struct {
	echo    EchoMeter
	framed  FramedWriter
	raw     RawWriter
	baud    BaudSetter
	handler func(command int, decoded []byte, raw []byte)
	tables  *status.Tables
	clk     clock.Clock
	rnd     *rand.Rand

	statusPollRequests int
}

// New constructs a Runner. handler is re-registered after every baud
// change performed by the baud_flip scenario.
func New(echo EchoMeter, framed FramedWriter, raw RawWriter, baud BaudSetter, handler func(command int, decoded []byte, raw []byte), tables *status.Tables) *Runner {
	return &Runner{
		echo:    echo,
		framed:  framed,
		raw:     raw,
		baud:    baud,
		handler: handler,
		tables:  tables,
		clk:     clock.Default,
		rnd:     rand.New(rand.NewSource(1)),
	}
}

// Run executes every scenario in cfg in order and returns the aggregated
// result.
func (r *Runner) Run(cfg StressConfig, runID string) StressRunResult {
	tracker := observer.NewTracker()
	tracker.SnapshotBefore()

	results := make([]ScenarioResult, 0, len(cfg.Scenarios))
	for _, sc := range cfg.Scenarios {
		results = append(results, r.runScenario(sc))
	}
	return StressRunResult{
		RunID:     runID,
		Verdict:   aggregateVerdict(results),
		Scenarios: results,
		Overhead:  tracker.SnapshotAfter(),
	}
}

func (r *Runner) runScenario(sc ScenarioConfig) ScenarioResult {
	r.echo.Reset()
	pre := status.RequestSnapshot(framedRequester{r.framed}, r.tables, status.DefaultTimeout, r.clk)
	started := r.clk.Now()

	switch sc.CommandProfile {
	case ProfileEchoOnly:
		r.runEchoOnly(sc)
	case ProfileMixed:
		r.runMixed(sc)
	case ProfileStatusPoll:
		r.runStatusPoll(sc)
	case ProfileBaudFlip:
		r.runBaudFlip(sc)
	case ProfileNoiseAndRecovery:
		r.runNoiseAndRecovery(sc)
	}

	ended := r.clk.Now()
	post := status.RequestSnapshot(framedRequester{r.framed}, r.tables, status.DefaultTimeout, r.clk)
	delta := status.ComputeDelta(pre.Snapshot, post.Snapshot)

	var sent, received int
	var latencies []time.Duration
	if sc.CommandProfile == ProfileStatusPoll {
		sent, received = r.statusPollRequests, r.statusPollRequests
	} else {
		sent = r.echo.SentCount()
		received = r.echo.ReceivedCount()
		latencies = r.echo.Latencies()
	}

	verdict, reasons, dropRatio := evaluateVerdict(sc, sent, received, latencies, delta)

	return ScenarioResult{
		Name:           sc.Name,
		CommandProfile: sc.CommandProfile,
		StartedAt:      started,
		EndedAt:        ended,
		Sent:           sent,
		Received:       received,
		DropRatio:      dropRatio,
		Latency:        latencyStatsMS(latencies),
		StatusDelta:    delta,
		Verdict:        verdict,
		Reasons:        reasons,
		Tags:           sc.Tags,
	}
}

func (r *Runner) runEchoOnly(sc ScenarioConfig) {
	pacing := effectivePacing(sc.PacingS)
	for i := 0; i < sc.NumMessages; i++ {
		r.echo.Publish(uint16(i), sc.MessageLength)
		sleep(pacing)
	}
	sleep(waitForLateResponses(sc.PacingS))
}

func (r *Runner) runMixed(sc ScenarioConfig) {
	pacing := effectivePacing(sc.PacingS)
	counter := uint16(0)
	for i := 0; i < sc.NumMessages; i++ {
		switch pickWeighted(r.rnd) {
		case protocol.CommandEcho:
			r.echo.Publish(counter, sc.MessageLength)
			counter++
		case protocol.CommandStatisticsStatus:
			r.framed.Write(protocol.BuildStatusRequest(protocol.HeaderStatisticsStatus, byte(i%status.NumStatisticsSlots)))
		case protocol.CommandTaskStatus:
			r.framed.Write(protocol.BuildStatusRequest(protocol.HeaderTaskStatus, byte(i%status.NumTaskSlots)))
		}
		sleep(pacing)
	}
	sleep(waitForLateResponses(sc.PacingS))
}

// pickWeighted chooses a command per the 0.70/0.20/0.10 ECHO/STATISTICS/TASK
// distribution.
func pickWeighted(rnd *rand.Rand) int {
	switch x := rnd.Float64(); {
	case x < 0.70:
		return protocol.CommandEcho
	case x < 0.90:
		return protocol.CommandStatisticsStatus
	default:
		return protocol.CommandTaskStatus
	}
}

func (r *Runner) runStatusPoll(sc ScenarioConfig) {
	pacing := effectivePacing(sc.PacingS)
	deadline := r.clk.Now().Add(durationSeconds(sc.DurationS))
	requestsSent := 0

	for r.clk.Now().Before(deadline) {
		for i := 0; i < status.NumStatisticsSlots; i++ {
			r.framed.Write(protocol.BuildStatusRequest(protocol.HeaderStatisticsStatus, byte(i)))
			requestsSent++
			sleep(pacing)
			if !r.clk.Now().Before(deadline) {
				break
			}
		}
		for i := 0; i < status.NumTaskSlots; i++ {
			r.framed.Write(protocol.BuildStatusRequest(protocol.HeaderTaskStatus, byte(i)))
			requestsSent++
			sleep(pacing)
			if !r.clk.Now().Before(deadline) {
				break
			}
		}
	}

	// status_poll counts requests_sent as both sent and received; latency
	// is not meaningful for a scenario with no echo traffic.
	r.statusPollRequests = requestsSent
}

func (r *Runner) runBaudFlip(sc ScenarioConfig) {
	originalBaud := r.baud.CurrentBaud()

	counter := uint16(0)
	for _, rate := range sc.BaudRates {
		if err := r.baud.SetBaudRate(rate); err != nil {
			continue
		}
		r.baud.Rebind(r.handler)
		sleep(500 * time.Millisecond)

		pacing := effectivePacing(sc.PacingS)
		for i := 0; i < sc.NumMessages; i++ {
			r.echo.Publish(counter, sc.MessageLength)
			counter++
			sleep(pacing)
		}
	}

	if originalBaud > 0 {
		if err := r.baud.SetBaudRate(originalBaud); err == nil {
			r.baud.Rebind(r.handler)
		}
	}
}

func (r *Runner) runNoiseAndRecovery(sc ScenarioConfig) {
	noise := make([]byte, sc.NoiseBytes)
	for i := range noise {
		b := byte(r.rnd.Intn(255) + 1) // non-zero: avoid the COBS delimiter
		noise[i] = b
	}
	if len(noise) > 0 {
		r.raw.Write(noise)
	}
	sleep(100 * time.Millisecond)

	pacing := effectivePacing(sc.PacingS)
	for i := 0; i < sc.NumMessages; i++ {
		r.echo.Publish(uint16(i), sc.MessageLength)
		sleep(pacing)
	}

	recoveryTimeout := sc.Thresholds.MaxRecoveryTimeS
	if recoveryTimeout <= 0 {
		recoveryTimeout = 3
	}
	deadline := r.clk.Now().Add(durationSeconds(recoveryTimeout))
	for r.echo.ReceivedCount() < r.echo.SentCount() && r.clk.Now().Before(deadline) {
		sleep(20 * time.Millisecond)
	}
}

func effectivePacing(pacingS float64) time.Duration {
	d := durationSeconds(pacingS)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}

func waitForLateResponses(pacingS float64) time.Duration {
	d := durationSeconds(pacingS * 10)
	if d < 500*time.Millisecond {
		return 500 * time.Millisecond
	}
	return d
}

func durationSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func latencyStatsMS(latencies []time.Duration) burst.LatencyStatsMS {
	stats := latency.Summarize(latencies)
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return burst.LatencyStatsMS{AvgMs: ms(stats.Avg), MinMs: ms(stats.Min), MaxMs: ms(stats.Max), P95Ms: ms(stats.P95)}
}

// evaluateVerdict is a pure function of a scenario's configuration and its
// measured sent/received/latencies/status-delta outputs.
func evaluateVerdict(sc ScenarioConfig, sent, received int, latencies []time.Duration, delta status.Delta) (verdict string, reasons []string, dropRatio float64) {
	dropped := sent - received
	if dropped < 0 {
		dropped = 0
	}

	explained := int64(0)
	if sc.CommandProfile == ProfileNoiseAndRecovery {
		for _, name := range explainedErrorSlots {
			if idx := status.StatisticsIndex(name); idx >= 0 {
				explained += delta.Statistics[idx]
			}
		}
	}
	unexplained := int64(dropped) - explained
	if unexplained < 0 {
		unexplained = 0
	}
	if sent > 0 {
		dropRatio = float64(unexplained) / float64(sent)
	}

	var failReasons, warnReasons []string

	if dropRatio > sc.Thresholds.MaxEchoDropRatio {
		failReasons = append(failReasons, fmt.Sprintf("drop_ratio %.4f exceeds max_echo_drop_ratio %.4f", dropRatio, sc.Thresholds.MaxEchoDropRatio))
	}

	for key, limit := range sc.Thresholds.MaxErrorCounterDeltas {
		idx := status.StatisticsIndex(key)
		if idx < 0 {
			continue
		}
		if delta.Statistics[idx] > limit {
			failReasons = append(failReasons, fmt.Sprintf("%s delta %d exceeds limit %d", key, delta.Statistics[idx], limit))
		}
	}

	if sc.Thresholds.MaxP95LatencyMs > 0 && len(latencies) > 0 {
		stats := latency.Summarize(latencies)
		p95ms := float64(stats.P95) / float64(time.Millisecond)
		if p95ms > sc.Thresholds.MaxP95LatencyMs {
			warnReasons = append(warnReasons, fmt.Sprintf("p95 latency %.2fms exceeds max_p95_latency_ms %.2f", p95ms, sc.Thresholds.MaxP95LatencyMs))
		}
	}

	switch {
	case len(failReasons) > 0:
		return VerdictFail, append(failReasons, warnReasons...), dropRatio
	case len(warnReasons) > 0:
		return VerdictWarn, warnReasons, dropRatio
	default:
		return VerdictPass, nil, dropRatio
	}
}

// aggregateVerdict is FAIL if any scenario FAILs, else WARN if any WARNs,
// else PASS; an empty input is PASS.
func aggregateVerdict(results []ScenarioResult) string {
	sawWarn := false
	for _, r := range results {
		switch r.Verdict {
		case VerdictFail:
			return VerdictFail
		case VerdictWarn:
			sawWarn = true
		}
	}
	if sawWarn {
		return VerdictWarn
	}
	return VerdictPass
}

// framedRequester adapts a FramedWriter to status.Requester.
type framedRequester struct {
	w FramedWriter
}

func (f framedRequester) Write(payload []byte) { f.w.Write(payload) }

// sleep is a seam so tests can run scenarios without real pacing delays.
var sleep = time.Sleep

// WriteJSON serialises a run result to "<run_id>_stress.json" under dir.
func WriteJSON(result StressRunResult, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("stress: create results dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_stress.json", result.RunID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("stress: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return "", fmt.Errorf("stress: encode result: %w", err)
	}
	return path, nil
}

// PrintSummary writes a compact console table of a run result's verdicts.
func PrintSummary(result StressRunResult, out fmtStringer) {
	out.Printf("run %s: %s\n", result.RunID, result.Verdict)
	for _, sc := range result.Scenarios {
		icon := verdictIcon(sc.Verdict)
		out.Printf("  %s %-20s sent=%-6d received=%-6d drop_ratio=%.4f p95=%.2fms\n",
			icon, sc.Name, sc.Sent, sc.Received, sc.DropRatio, sc.Latency.P95Ms)
		for _, reason := range sc.Reasons {
			out.Printf("      - %s\n", reason)
		}
	}
	out.Printf("harness overhead: cpu=%dms user + %dms system, rss=%dKB\n",
		result.Overhead.CPUUserMs, result.Overhead.CPUSystemMs, result.Overhead.MemoryRSSBytes/1024)
}

func verdictIcon(v string) string {
	switch v {
	case VerdictFail:
		return "[FAIL]"
	case VerdictWarn:
		return "[WARN]"
	default:
		return "[PASS]"
	}
}

// fmtStringer is the minimal console-printing surface PrintSummary needs;
// satisfied by *log.Logger or any equivalent writer wrapper.
type fmtStringer interface {
	Printf(format string, args ...interface{})
}
