package burst

import (
	"os"
	"testing"
	"time"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/status"
)

type fakePublisher struct {
	sent     int
	received int
}

func (p *fakePublisher) Reset()                          { p.sent, p.received = 0, 0 }
func (p *fakePublisher) Publish(counter uint16, length int) { p.sent++; p.received++ }
func (p *fakePublisher) Outstanding() int                 { return p.sent - p.received }
func (p *fakePublisher) SentCount() int                   { return p.sent }
func (p *fakePublisher) ReceivedCount() int               { return p.received }
func (p *fakePublisher) Latencies() []time.Duration {
	return []time.Duration{time.Millisecond, 2 * time.Millisecond}
}

type fakeRequester struct{ n int }

func (r *fakeRequester) Write(payload []byte) { r.n++ }

func TestMinDrainDelay(t *testing.T) {
	got := minDrainDelay(10, 9600)
	seconds := (10.0 + 4) * 10 / 9600.0
	want := time.Duration(seconds * float64(time.Second))
	if got != want {
		t.Fatalf("minDrainDelay(10, 9600) = %v, want %v", got, want)
	}
}

func TestInterpolateWaitEndpoints(t *testing.T) {
	min, max := 10*time.Millisecond, 100*time.Millisecond
	if got := interpolateWait(min, max, 0, 5); got != min {
		t.Fatalf("iteration 0 = %v, want min %v", got, min)
	}
	if got := interpolateWait(min, max, 4, 5); got != max {
		t.Fatalf("last iteration = %v, want max %v", got, max)
	}
}

func TestInterpolateWaitSingleIteration(t *testing.T) {
	min, max := 10*time.Millisecond, 100*time.Millisecond
	if got := interpolateWait(min, max, 0, 1); got != min {
		t.Fatalf("numTimes=1 = %v, want min %v", got, min)
	}
}

func TestRunProducesOneResultPerIteration(t *testing.T) {
	origSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = origSleep }()

	pub := &fakePublisher{}
	req := &fakeRequester{}
	tables := status.NewTables()
	c := New(pub, req, tables)

	cfg := Config{
		NumTimes: 3,
		MinWait:  time.Millisecond,
		MaxWait:  5 * time.Millisecond,
		WaitTime: time.Millisecond,
		Samples:  10,
		Length:   10,
		Baudrate: 115200,
	}
	results, err := c.Run(cfg)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Sent != 10 || r.Received != 10 {
			t.Fatalf("result %d sent/received = %d/%d, want 10/10", i, r.Sent, r.Received)
		}
		if r.Dropped != 0 {
			t.Fatalf("result %d dropped = %d, want 0", i, r.Dropped)
		}
	}
}

func TestRunClampsSamplesToMax(t *testing.T) {
	origSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = origSleep }()

	pub := &fakePublisher{}
	req := &fakeRequester{}
	tables := status.NewTables()
	c := New(pub, req, tables)

	cfg := Config{NumTimes: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond, Samples: MaxSamples + 1000, Length: 10, Baudrate: 115200}
	results, err := c.Run(cfg)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if results[0].Samples != MaxSamples {
		t.Fatalf("Samples = %d, want clamped to %d", results[0].Samples, MaxSamples)
	}
}

func TestWriteJSONRoundTrips(t *testing.T) {
	origSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = origSleep }()

	pub := &fakePublisher{}
	req := &fakeRequester{}
	tables := status.NewTables()
	c := New(pub, req, tables)

	cfg := Config{NumTimes: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond, Samples: 5, Length: 10, Baudrate: 115200}
	results, _ := c.Run(cfg)

	dir := t.TempDir()
	path, err := WriteJSON(results, dir, "test-run")
	if err != nil {
		t.Fatalf("WriteJSON error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s: %v", path, err)
	}
}
