package latency

import (
	"testing"
	"time"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/protocol"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/status"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingWriter struct {
	writes [][]byte
}

func (w *recordingWriter) Write(payload []byte) {
	w.writes = append(w.writes, append([]byte{}, payload...))
}
func (w *recordingWriter) Flush() error { return nil }

func TestPublishThenEchoRecordsLatency(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := &recordingWriter{}
	m := New(w, status.NewTables())
	m.clk = clk

	m.Publish(5, 10)
	clk.advance(3 * time.Millisecond)

	payload := w.writes[0]
	// Echo the same counter back through HandleMessage as the device would.
	m.HandleMessage(protocol.CommandEcho, payload, nil)

	latencies := m.Latencies()
	if len(latencies) != 1 {
		t.Fatalf("got %d latencies, want 1", len(latencies))
	}
	if latencies[0] != 3*time.Millisecond {
		t.Fatalf("latency = %v, want 3ms", latencies[0])
	}
}

func TestHandleMessageStaleCounterIgnored(t *testing.T) {
	m := New(&recordingWriter{}, status.NewTables())
	payload := protocol.BuildEcho(99, 10)
	// No Publish(99, ...) ever happened; this must not panic or record.
	m.HandleMessage(protocol.CommandEcho, payload, nil)
	if len(m.Latencies()) != 0 {
		t.Fatal("expected no latency recorded for an unsolicited counter")
	}
}

func TestResetClearsMaps(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := &recordingWriter{}
	m := New(w, status.NewTables())
	m.clk = clk

	m.Publish(1, 10)
	if m.SentCount() != 1 {
		t.Fatalf("SentCount = %d, want 1", m.SentCount())
	}
	m.Reset()
	if m.SentCount() != 0 || m.ReceivedCount() != 0 {
		t.Fatalf("after Reset, SentCount=%d ReceivedCount=%d, want 0,0", m.SentCount(), m.ReceivedCount())
	}
}

func TestOutstandingCount(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := &recordingWriter{}
	m := New(w, status.NewTables())
	m.clk = clk

	m.Publish(1, 10)
	m.Publish(2, 10)
	if got := m.Outstanding(); got != 2 {
		t.Fatalf("Outstanding = %d, want 2", got)
	}
	m.HandleMessage(protocol.CommandEcho, w.writes[0], nil)
	if got := m.Outstanding(); got != 1 {
		t.Fatalf("Outstanding after one echo = %d, want 1", got)
	}
}

func TestHandleMessageStatisticsStatus(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	tables := status.NewTables()
	m := New(&recordingWriter{}, tables)
	m.clk = clk

	decoded := []byte{0x00, 0x37, 0x05, 0x03, 0x00, 0x00, 0x00, 0x2A}
	m.HandleMessage(protocol.CommandStatisticsStatus, decoded, nil)

	snap := tables.Read()
	if !snap.StatisticsKnown[3] || snap.Statistics[3] != 42 {
		t.Fatalf("slot 3 = (%v, %d), want (true, 42)", snap.StatisticsKnown[3], snap.Statistics[3])
	}
}

func TestSummarizeEmpty(t *testing.T) {
	stats := Summarize(nil)
	if stats != (Stats{}) {
		t.Fatalf("Summarize(nil) = %+v, want zero value", stats)
	}
}

func TestSummarizeBasic(t *testing.T) {
	latencies := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
	}
	stats := Summarize(latencies)
	if stats.Min != 10*time.Millisecond {
		t.Fatalf("Min = %v, want 10ms", stats.Min)
	}
	if stats.Max != 40*time.Millisecond {
		t.Fatalf("Max = %v, want 40ms", stats.Max)
	}
	if stats.Avg != 25*time.Millisecond {
		t.Fatalf("Avg = %v, want 25ms", stats.Avg)
	}
	// rank k = (4-1)*0.95 = 2.85; interpolate between sorted[2]=30ms and
	// sorted[3]=40ms: 30 + 0.85*(40-30) = 38.5ms
	want := 38500 * time.Microsecond
	if stats.P95 != want {
		t.Fatalf("P95 = %v, want %v", stats.P95, want)
	}
}

func TestSummarizeSingleValue(t *testing.T) {
	stats := Summarize([]time.Duration{7 * time.Millisecond})
	if stats.P95 != 7*time.Millisecond || stats.Avg != 7*time.Millisecond {
		t.Fatalf("Summarize(single) = %+v", stats)
	}
}
