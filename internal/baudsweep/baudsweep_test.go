package baudsweep

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/status"
)

type fakePublisher struct {
	sent     int
	received int
}

func (p *fakePublisher) Reset()                             { p.sent, p.received = 0, 0 }
func (p *fakePublisher) Publish(counter uint16, length int)  { p.sent++; p.received++ }
func (p *fakePublisher) Outstanding() int                    { return p.sent - p.received }
func (p *fakePublisher) SentCount() int                      { return p.sent }
func (p *fakePublisher) ReceivedCount() int                  { return p.received }
func (p *fakePublisher) Latencies() []time.Duration {
	return []time.Duration{time.Millisecond, 2 * time.Millisecond}
}

type fakeRequester struct{ n int }

func (r *fakeRequester) Write(payload []byte) { r.n++ }

type fakeRebinder struct {
	rates     []int
	failRate  int
	rebinds   int
	lastRate  int
}

func (r *fakeRebinder) SetBaudRate(rate int) error {
	if rate == r.failRate {
		return fmt.Errorf("simulated open failure at %d", rate)
	}
	r.rates = append(r.rates, rate)
	r.lastRate = rate
	return nil
}

func (r *fakeRebinder) Rebind(handler func(command int, decoded []byte, raw []byte)) {
	r.rebinds++
}

func noopHandler(command int, decoded []byte, raw []byte) {}

func TestMinUARTDelayMatchesFormula(t *testing.T) {
	got := minUARTDelay(10, 9600)
	seconds := (10.0 + 4) * 10 / 9600.0
	want := time.Duration(seconds * float64(time.Second))
	if got != want {
		t.Fatalf("minUARTDelay(10, 9600) = %v, want %v", got, want)
	}
}

func TestMinUARTDelayZeroRate(t *testing.T) {
	if got := minUARTDelay(10, 0); got != 0 {
		t.Fatalf("minUARTDelay with zero rate = %v, want 0", got)
	}
}

func TestRunProducesOneRecordPerRate(t *testing.T) {
	origSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = origSleep }()

	pub := &fakePublisher{}
	req := &fakeRequester{}
	tables := status.NewTables()
	rb := &fakeRebinder{}
	c := New(rb, pub, req, tables, noopHandler)

	cfg := Config{
		BaudRates: []int{9600, 115200, 921600},
		Samples:   5,
		Length:    10,
		WaitTime:  time.Millisecond,
	}
	records := c.Run(cfg, 115200)

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for _, r := range records {
		if r.Skipped {
			t.Fatalf("rate %d unexpectedly skipped", r.Baudrate)
		}
		if r.Sent != 5 || r.Received != 5 {
			t.Fatalf("rate %d sent/received = %d/%d, want 5/5", r.Baudrate, r.Sent, r.Received)
		}
	}
	if rb.lastRate != 115200 {
		t.Fatalf("final SetBaudRate call = %d, want original rate 115200", rb.lastRate)
	}
	// One rebind per successful rate change, plus the final restore rebind.
	if rb.rebinds != 4 {
		t.Fatalf("rebinds = %d, want 4", rb.rebinds)
	}
}

func TestRunSkipsFailedRateAndContinues(t *testing.T) {
	origSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = origSleep }()

	pub := &fakePublisher{}
	req := &fakeRequester{}
	tables := status.NewTables()
	rb := &fakeRebinder{failRate: 19200}
	c := New(rb, pub, req, tables, noopHandler)

	cfg := Config{
		BaudRates: []int{9600, 19200, 38400},
		Samples:   2,
		Length:    10,
		WaitTime:  time.Millisecond,
	}
	records := c.Run(cfg, 9600)

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if !records[1].Skipped {
		t.Fatal("rate 19200 should be marked skipped")
	}
	if records[1].Reason == "" {
		t.Fatal("skipped record should carry a reason")
	}
	if records[0].Skipped || records[2].Skipped {
		t.Fatal("only the failing rate should be skipped")
	}
}

func TestRunRestoresOriginalBaudAtEnd(t *testing.T) {
	origSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = origSleep }()

	pub := &fakePublisher{}
	req := &fakeRequester{}
	tables := status.NewTables()
	rb := &fakeRebinder{}
	c := New(rb, pub, req, tables, noopHandler)

	cfg := Config{BaudRates: []int{460800}, Samples: 1, Length: 10, WaitTime: time.Millisecond}
	c.Run(cfg, 230400)

	if rb.lastRate != 230400 {
		t.Fatalf("last SetBaudRate = %d, want restore to 230400", rb.lastRate)
	}
}

func TestWriteJSONRoundTrips(t *testing.T) {
	records := []Record{{Baudrate: 9600, Sent: 5, Received: 5}}
	dir := t.TempDir()
	path, err := WriteJSON(records, dir, "test-run")
	if err != nil {
		t.Fatalf("WriteJSON error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s: %v", path, err)
	}
}
