// Package pipeline runs the two-worker reader/processor loop that turns
// raw transport bytes into decoded command frames, and serialises outbound
// writes through the same checksum+COBS framing.
package pipeline

import (
	"encoding/hex"
	"fmt"
	"log"
	"sync"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/framer"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/protocol"
)

// queueCapacity bounds the inbound frame queue. It must be large enough
// that a short stall in the handler does not drop frames under a typical
// burst; 4096 frames at the largest supported message size is generously
// above anything internal/burst or internal/stress produce per tick.
const queueCapacity = 4096

// ReadWriter is the transport surface the pipeline drives: a blocking-ish
// Read with its own timeout, a Write, and a Flush. Satisfied by
// *transport.Port.
type ReadWriter interface {
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)
	Flush() error
}

// Handler receives a decoded command frame. command is the low-5-bit code
// from byte 1; decoded is the payload with checksum stripped; raw is the
// still-checksummed payload as it arrived off the wire (before COBS
// decode), provided for diagnostics.
type Handler func(command int, decoded []byte, raw []byte)

// Statistics tracks wire-level counters. All fields are read under RLock
// via Snapshot; writers hold the write lock.
type Statistics struct {
	mu               sync.RWMutex
	BytesSent        uint64
	BytesReceived    uint64
	CommandsSent     map[int]uint64
	CommandsReceived map[int]uint64
}

func newStatistics() *Statistics {
	return &Statistics{
		CommandsSent:     make(map[int]uint64),
		CommandsReceived: make(map[int]uint64),
	}
}

// Snapshot returns a deep copy safe to read without further locking.
func (s *Statistics) Snapshot() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Statistics{
		BytesSent:        s.BytesSent,
		BytesReceived:    s.BytesReceived,
		CommandsSent:     make(map[int]uint64, len(s.CommandsSent)),
		CommandsReceived: make(map[int]uint64, len(s.CommandsReceived)),
	}
	for k, v := range s.CommandsSent {
		out.CommandsSent[k] = v
	}
	for k, v := range s.CommandsReceived {
		out.CommandsReceived[k] = v
	}
	return out
}

// recordSent tallies bytesSent unconditionally; command < 0 means the
// payload was too short to carry a command code, so commandsSent is left
// untouched (see Pipeline.Write).
func (s *Statistics) recordSent(n int, command int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesSent += uint64(n)
	if command >= 0 {
		s.CommandsSent[command]++
	}
}

func (s *Statistics) recordReceived(command int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommandsReceived[command]++
}

func (s *Statistics) recordBytesReceived(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesReceived = n
}

// Pipeline owns the reader and processor goroutines for one open
// transport. Exactly one Handler may be registered at a time; SetHandler
// may be called before Start or, after a baud-rate change, by the caller
// once the transport has been reopened (harness.Session.SetBaudRate builds
// a fresh Pipeline with New in that case and re-registers the handler).
type Pipeline struct {
	port   ReadWriter
	framer *framer.Framer
	stats  *Statistics

	mu      sync.Mutex
	handler Handler

	frames chan []byte
	stop   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Pipeline around an already-open transport. rts may be
// nil when the transport does not support flow control (e.g. a test
// double); see framer.New.
func New(port ReadWriter, rts framer.RTSSetter) *Pipeline {
	return &Pipeline{
		port:   port,
		framer: framer.New(rts),
		stats:  newStatistics(),
		frames: make(chan []byte, queueCapacity),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetHandler registers the message handler invoked by the processor
// worker for every successfully decoded frame. Safe to call at any time;
// the new handler takes effect on the next decoded frame.
func (p *Pipeline) SetHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *Pipeline) currentHandler() Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

// Start launches the reader and processor goroutines. Start must be called
// at most once per Pipeline.
func (p *Pipeline) Start() {
	p.wg.Add(2)
	go p.readLoop()
	go p.processLoop()
}

// Stop signals both workers to exit and blocks until they have. Safe to
// call more than once.
func (p *Pipeline) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	p.wg.Wait()
}

// Stopped reports whether Stop has been called (or the reader hit a fatal
// error and stopped itself).
func (p *Pipeline) Stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Statistics returns a live handle to the pipeline's wire-level counters.
func (p *Pipeline) Statistics() *Statistics {
	return p.stats
}

// ResetFramer clears the reassembly buffer, discarding any partial frame.
// A baud-rate change through harness.Session does not call it: it replaces
// the whole Pipeline, framer included.
func (p *Pipeline) ResetFramer() {
	p.framer.Reset()
}

func (p *Pipeline) readLoop() {
	defer p.wg.Done()
	buf := make([]byte, 512)
	var out [][]byte
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		n, err := p.port.Read(buf)
		if err != nil {
			if p.isTimeout(err) {
				continue
			}
			log.Printf("pipeline: fatal read error: %v", err)
			p.triggerStop()
			return
		}
		if n == 0 {
			continue
		}
		out = out[:0]
		out = p.framer.Feed(buf[:n], out)
		p.stats.recordBytesReceived(p.framer.BytesReceived())
		for _, frame := range out {
			select {
			case p.frames <- frame:
			default:
				log.Printf("pipeline: inbound queue full, dropping frame (%d bytes)", len(frame))
			}
		}
	}
}

// isTimeout reports whether err is a read timeout, i.e. whether it has a
// Timeout() method that returns true. The reader keeps polling after such
// an error; any other read error is treated as fatal and stops the
// pipeline.
func (p *Pipeline) isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return false
}

func (p *Pipeline) triggerStop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}

func (p *Pipeline) processLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.drainRemaining()
			return
		case frame := <-p.frames:
			p.handleFrame(frame)
		}
	}
}

func (p *Pipeline) drainRemaining() {
	for {
		select {
		case frame := <-p.frames:
			p.handleFrame(frame)
		default:
			return
		}
	}
}

func (p *Pipeline) handleFrame(frame []byte) {
	decoded, err := protocol.COBSDecode(frame)
	if err != nil {
		log.Printf("pipeline: cobs decode error: %v", err)
		return
	}
	if len(decoded) < 2 {
		log.Printf("pipeline: frame too short to carry a command byte (%d bytes)", len(decoded))
		return
	}
	command := protocol.CommandOf(decoded)
	p.stats.recordReceived(command)

	handler := p.currentHandler()
	if handler == nil {
		return
	}
	handler(command, decoded[:len(decoded)-1], frame)
}

// Write builds a checksummed, COBS-framed packet from payload and writes
// it via the transport. It is silently ignored if the pipeline has been
// stopped. A payload shorter than 2 bytes cannot carry a command code;
// such a write still goes out on the wire, but is not tallied per-command.
func (p *Pipeline) Write(payload []byte) {
	if p.Stopped() {
		return
	}
	cs := protocol.Checksum(payload)
	full := make([]byte, 0, len(payload)+1)
	full = append(full, payload...)
	full = append(full, cs)
	frame := protocol.COBSEncode(full)
	frame = append(frame, 0x00)

	n, err := p.port.Write(frame)
	if err != nil {
		log.Printf("pipeline: write error: %v", err)
		return
	}
	command := -1
	if len(payload) >= 2 {
		command = protocol.CommandOf(payload)
	} else {
		log.Printf("pipeline: write payload shorter than 2 bytes, cannot tally command")
	}
	p.stats.recordSent(n, command)
}

// Flush drains the transport's output buffer.
func (p *Pipeline) Flush() error {
	return p.port.Flush()
}

// SendHex decodes an arbitrary hex string (e.g. "0017aa") to bytes and
// writes it through the normal checksum+COBS path via Write, for ad-hoc
// manual probing from the CLI's send subcommand. Whitespace between byte
// pairs is tolerated.
func (p *Pipeline) SendHex(hexString string) error {
	clean := make([]byte, 0, len(hexString))
	for i := 0; i < len(hexString); i++ {
		c := hexString[i]
		if c == ' ' || c == '\t' || c == '\n' {
			continue
		}
		clean = append(clean, c)
	}
	payload, err := hex.DecodeString(string(clean))
	if err != nil {
		return fmt.Errorf("pipeline: decode hex payload: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("pipeline: empty hex payload")
	}
	p.Write(payload)
	return nil
}
