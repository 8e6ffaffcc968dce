// Package latency implements the round-trip echo meter (C6): publishing
// timed echo requests, matching responses by counter, and folding
// STATISTICS_STATUS / TASK_STATUS frames into the shared status tables.
package latency

import (
	"sort"
	"sync"
	"time"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/clock"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/protocol"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/status"
)

// Writer is the subset of pipeline.Pipeline the meter needs to publish
// echoes: a framed Write plus a Flush to minimise bufferbloat skew.
type Writer interface {
	Write(payload []byte)
	Flush() error
}

// Meter tracks outstanding echoes keyed by their 16-bit counter and routes
// STATISTICS_STATUS/TASK_STATUS frames to a status.Tables instance.
type Meter struct {
	clk    clock.Clock
	writer Writer
	tables *status.Tables

	mu       sync.Mutex
	sent     map[uint16]time.Time
	received map[uint16]time.Duration
}

// New constructs a Meter. tables receives STATISTICS_STATUS/TASK_STATUS
// updates observed via HandleMessage; it may be shared with a
// status.Tables used elsewhere for snapshotting.
func New(writer Writer, tables *status.Tables) *Meter {
	return &Meter{
		clk:      clock.Default,
		writer:   writer,
		tables:   tables,
		sent:     make(map[uint16]time.Time),
		received: make(map[uint16]time.Duration),
	}
}

// Reset clears the sent/received maps, called at the start of each burst
// iteration or scenario so counters can be reused across runs.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = make(map[uint16]time.Time)
	m.received = make(map[uint16]time.Duration)
}

// Publish builds and sends an echo payload for counter, first replacing a
// messageLength outside the valid [6,10] range with DefaultMessageLength
// (protocol.ClampMessageLength). The send timestamp is
// captured immediately before the write and the transport is flushed
// right after, matching the reference meter's bufferbloat mitigation.
func (m *Meter) Publish(counter uint16, messageLength int) {
	messageLength = protocol.ClampMessageLength(messageLength)
	payload := protocol.BuildEcho(counter, messageLength)

	m.mu.Lock()
	m.sent[counter] = m.clk.Now()
	m.mu.Unlock()

	m.writer.Write(payload)
	m.writer.Flush()
}

// HandleMessage is the pipeline.Handler this meter registers. It dispatches
// on command: ECHO records latency, STATISTICS_STATUS/TASK_STATUS update
// the shared status tables.
func (m *Meter) HandleMessage(command int, decoded []byte, raw []byte) {
	switch command {
	case protocol.CommandEcho:
		m.handleEcho(decoded)
	case protocol.CommandStatisticsStatus:
		if len(decoded) < 8 {
			return
		}
		index, value := protocol.StatisticsStatusValue(decoded)
		m.tables.UpdateStatistics(index, value, m.clk.Now())
	case protocol.CommandTaskStatus:
		if len(decoded) < 16 {
			return
		}
		index, absTime, pct, hw := protocol.TaskStatusValue(decoded)
		m.tables.UpdateTask(index, absTime, pct, hw, m.clk.Now())
	}
}

func (m *Meter) handleEcho(decoded []byte) {
	if len(decoded) < 5 {
		return
	}
	counter := protocol.EchoCounter(decoded)
	now := m.clk.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	sentAt, ok := m.sent[counter]
	if !ok {
		// Stale response after a map clear (Reset); ignore it.
		return
	}
	m.received[counter] = now.Sub(sentAt)
}

// Outstanding returns len(sent) - len(received) at the moment of the call.
func (m *Meter) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent) - len(m.received)
}

// SentCount and ReceivedCount report the current map sizes, used for drop
// accounting by burst/sweep/stress controllers.
func (m *Meter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *Meter) ReceivedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

// Latencies returns a copy of all recorded round-trip latencies, in no
// particular order.
func (m *Meter) Latencies() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, 0, len(m.received))
	for _, d := range m.received {
		out = append(out, d)
	}
	return out
}

// Stats summarises a set of round-trip latencies.
type Stats struct {
	Avg time.Duration
	Min time.Duration
	Max time.Duration
	P95 time.Duration
}

// Summarize computes avg/min/max/p95 over latencies using linear
// interpolation for the percentile: rank k = (n-1)*0.95, interpolating
// between sorted[floor(k)] and sorted[ceil(k)]. An empty input yields a
// zero Stats.
func Summarize(latencies []time.Duration) Stats {
	if len(latencies) == 0 {
		return Stats{}
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	n := len(sorted)
	stats := Stats{
		Avg: sum / time.Duration(n),
		Min: sorted[0],
		Max: sorted[n-1],
		P95: percentile(sorted, 0.95),
	}
	return stats
}

// percentile assumes sorted is already ascending.
func percentile(sorted []time.Duration, pct float64) time.Duration {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	k := float64(n-1) * pct
	lo := int(k)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := k - float64(lo)
	loVal := float64(sorted[lo])
	hiVal := float64(sorted[hi])
	return time.Duration(loVal + frac*(hiVal-loVal))
}
