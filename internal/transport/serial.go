// Package transport wraps the physical serial port: opening it 8N1 with
// hardware flow control, baud-rate reconfiguration, and direct RTS control.
// It knows nothing about frames or commands — see internal/framer and
// internal/protocol for those.
package transport

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Port is a hardware-flow-controlled serial port opened directly against
// the termios layer. It is safe for concurrent use by at most one reader
// goroutine and one writer goroutine at a time. Close and SetBaudRate take
// an internal lock that excludes Write, Flush and SetRTS; Read holds that
// lock only while fetching the file descriptor, so a Read already in
// progress is not excluded.
type Port struct {
	mu       sync.Mutex
	name     string
	baud     int
	fd       int
	open     bool
	rtsState bool
}

var baudToTermiosSpeed = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// Open opens name at baud, 8N1, no XON/XOFF, with hardware RTS/CTS enabled.
// Input and output buffers are cleared immediately after open, and RTS is
// asserted so the device may begin transmitting.
func Open(name string, baud int) (*Port, error) {
	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", name, err)
	}
	p := &Port{name: name, baud: baud, fd: fd, open: true}
	if err := p.configureLocked(baud); err != nil {
		unix.Close(fd)
		p.open = false
		return nil, err
	}
	if err := p.setRTSLocked(true); err != nil {
		unix.Close(fd)
		p.open = false
		return nil, fmt.Errorf("transport: assert RTS on open: %w", err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		unix.Close(fd)
		p.open = false
		return nil, fmt.Errorf("transport: flush buffers on open: %w", err)
	}
	return p, nil
}

// SupportedBaudRate reports whether rate is one of the termios speeds this
// package knows how to configure.
func SupportedBaudRate(rate int) bool {
	_, ok := baudToTermiosSpeed[rate]
	return ok
}

// DefaultBaudRates is the standard sweep set used by the baud-sweep
// controller and the stress runner's baud_flip scenario.
var DefaultBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// configureLocked sets 8N1, raw mode, hardware RTS/CTS, no XON/XOFF, and a
// non-blocking read (VMIN=0, VTIME=1 — a 100ms read deadline approximated
// in deciseconds) on the already-open file descriptor.
func (p *Port) configureLocked(baud int) error {
	speed, ok := baudToTermiosSpeed[baud]
	if !ok {
		return fmt.Errorf("transport: unsupported baud rate %d", baud)
	}
	term, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("transport: get termios: %w", err)
	}
	term.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	term.Oflag &^= unix.OPOST
	term.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	term.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	term.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | unix.CRTSCTS
	term.Cflag &^= unix.CBAUD
	term.Cflag |= speed
	term.Cc[unix.VMIN] = 0
	term.Cc[unix.VTIME] = 1
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, term); err != nil {
		return fmt.Errorf("transport: set termios: %w", err)
	}
	// The descriptor is opened O_NONBLOCK; clear it so VMIN/VTIME govern reads.
	if err := unix.SetNonblock(p.fd, false); err != nil {
		return fmt.Errorf("transport: clear O_NONBLOCK: %w", err)
	}
	p.baud = baud
	return nil
}

// IsOpen reports whether the port is currently open.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Close closes the underlying file descriptor. Close on an already-closed
// port is a no-op.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil
	}
	p.open = false
	return unix.Close(p.fd)
}

// Write writes data to the port and returns the number of bytes actually
// written.
func (p *Port) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return 0, fmt.Errorf("transport: write on closed port")
	}
	return unix.Write(p.fd, data)
}

// Flush waits for pending output to drain, minimising the bufferbloat skew
// a latency measurement would otherwise pick up.
func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil
	}
	return unix.IoctlSetInt(p.fd, unix.TCSBRK, 1)
}

// Read reads up to len(buf) bytes, returning fewer than len(buf) once the
// configured read timeout elapses with no data available.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	fd := p.fd
	open := p.open
	p.mu.Unlock()
	if !open {
		return 0, fmt.Errorf("transport: read on closed port")
	}
	return unix.Read(fd, buf)
}

// SetRTS directly toggles the RTS modem control line via a TIOCMBIS
// (assert) or TIOCMBIC (clear) ioctl.
func (p *Port) SetRTS(asserted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setRTSLocked(asserted)
}

func (p *Port) setRTSLocked(asserted bool) error {
	req := uint(unix.TIOCMBIS)
	if !asserted {
		req = uint(unix.TIOCMBIC)
	}
	if err := unix.IoctlSetInt(p.fd, req, unix.TIOCM_RTS); err != nil {
		return fmt.Errorf("transport: set RTS=%v: %w", asserted, err)
	}
	p.rtsState = asserted
	return nil
}

// RTSAsserted reports the last RTS state this Port set, without querying
// the hardware.
func (p *Port) RTSAsserted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rtsState
}

// Baud returns the currently configured baud rate.
func (p *Port) Baud() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

// Name returns the device path this Port was opened against.
func (p *Port) Name() string {
	return p.name
}

// SetBaudRate closes the port, reopens it at rate, and re-clears buffers.
// Callers that own an I/O pipeline around this port must fully stop and
// restart their workers around this call: reopening replaces the file
// descriptor a reader goroutine may be blocked on.
func (p *Port) SetBaudRate(rate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		unix.Close(p.fd)
		p.open = false
	}
	fd, err := unix.Open(p.name, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("transport: reopen %s at %d baud: %w", p.name, rate, err)
	}
	p.fd = fd
	p.open = true
	if err := p.configureLocked(rate); err != nil {
		return err
	}
	if err := p.setRTSLocked(true); err != nil {
		return err
	}
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
}
