// Package harness wires together an open serial transport, its
// reader/processor pipeline, the latency meter, and the status tables into
// the single live object every run command (burst, sweep, stress, status,
// and the MCP tool surface) drives. It owns the baud-rate-change dance:
// SetBaudRate on the transport invalidates the pipeline's file descriptor,
// so the pipeline must be stopped, the port reopened, and a fresh pipeline
// started and rebound around it.
package harness

import (
	"fmt"
	"sync"
	"time"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/latency"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/pipeline"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/status"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/transport"
)

// Session owns one open port for the duration of a run command.
type Session struct {
	mu     sync.Mutex
	port   *transport.Port
	pl     *pipeline.Pipeline
	meter  *latency.Meter
	tables *status.Tables
}

// Open opens device at baud and starts the default pipeline, with the
// latency meter registered as the handler.
func Open(device string, baud int) (*Session, error) {
	port, err := transport.Open(device, baud)
	if err != nil {
		return nil, err
	}
	tables := status.NewTables()
	pl := pipeline.New(port, port)
	meter := latency.New(pl, tables)
	pl.SetHandler(meter.HandleMessage)
	pl.Start()
	return &Session{port: port, pl: pl, meter: meter, tables: tables}, nil
}

// Close stops the pipeline and closes the port.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pl.Stop()
	return s.port.Close()
}

// Pipeline returns the live pipeline (satisfies burst.Publisher's
// requester, status.Requester, stress.FramedWriter).
func (s *Session) Pipeline() *pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pl
}

// Meter returns the live latency meter (satisfies burst.Publisher,
// stress.EchoMeter).
func (s *Session) Meter() *latency.Meter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meter
}

// Tables returns the live status tables.
func (s *Session) Tables() *status.Tables {
	return s.tables
}

// Port returns the underlying transport (satisfies stress.RawWriter).
func (s *Session) Port() *transport.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// SetBaudRate stops the current pipeline, reopens the port at rate, and
// starts a fresh pipeline with the latency meter rebound. Satisfies
// baudsweep.Rebinder and stress.BaudSetter.
func (s *Session) SetBaudRate(rate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pl.Stop()
	if err := s.port.SetBaudRate(rate); err != nil {
		return fmt.Errorf("harness: set baud rate %d: %w", rate, err)
	}
	s.pl = pipeline.New(s.port, s.port)
	s.pl.SetHandler(s.meter.HandleMessage)
	s.pl.Start()
	return nil
}

// Rebind re-registers handler as the pipeline's frame handler. Satisfies
// baudsweep.Rebinder and stress.BaudSetter.
func (s *Session) Rebind(handler func(command int, decoded []byte, raw []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pl.SetHandler(handler)
}

// CurrentBaud reports the transport's current baud rate. Satisfies
// stress.BaudSetter.
func (s *Session) CurrentBaud() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Baud()
}

// RequestSnapshot requests a full status snapshot, waiting at most
// timeout, via the live pipeline and tables.
func (s *Session) RequestSnapshot(timeout time.Duration) status.SnapshotResult {
	return status.RequestSnapshot(s.Pipeline(), s.tables, timeout, nil)
}
