package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"

	"github.com/rakerig/rakelog/internal/reading"
	"github.com/rakerig/rakelog/internal/retry"
)

// ErrNotConnected is returned when the serial line could not be opened.
var ErrNotConnected = errors.New("gps: not connected")

var errReadTimeout = errors.New("gps: read timeout")

// NMEAConfig holds configuration for the NMEA GPS source.
type NMEAConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	// ReadWindow caps how long one Poll spends draining the port. Keep it
	// well under the loop refresh interval.
	ReadWindow time.Duration `yaml:"read_window" json:"readWindow"`
}

const (
	// DefaultReadWindow is the drain budget per Poll.
	DefaultReadWindow = 50 * time.Millisecond

	// serialReadTimeout is how long a read waits on an empty port. A timeout
	// ends the drain, so it bounds the cost of a Poll with nothing buffered.
	serialReadTimeout = 10 * time.Millisecond

	// maxFixAge is how long a cached fix is reported after its GGA. Receivers
	// send one GGA per second, so this covers a missed sentence.
	maxFixAge = 2 * time.Second
)

// NMEA reads GGA fixes from a UART GPS receiver (e.g. u-blox NEO-6M).
// The port stays open between polls. Each Poll drains whatever the receiver
// has buffered, remembers the latest valid fix and returns without waiting
// for the next sentence. The serial line may be shared with other processes,
// so any failure closes the port and the next Poll tries to open it again.
type NMEA struct {
	portPath string
	baudRate int
	window   time.Duration
	gate     *retry.Gate
	open     func() (io.ReadCloser, error)
	now      func() time.Time

	port    io.ReadCloser
	reader  *bufio.Reader
	pending string

	fix   reading.Fix
	fixAt time.Time
}

// NewNMEA creates an NMEA source. The port is opened on first Poll.
func NewNMEA(cfg NMEAConfig) *NMEA {
	if cfg.PortPath == "" {
		cfg.PortPath = "/dev/serial0"
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	if cfg.ReadWindow <= 0 {
		cfg.ReadWindow = DefaultReadWindow
	}
	n := &NMEA{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		window:   cfg.ReadWindow,
		gate:     retry.NewGate(retry.EveryCall),
		now:      time.Now,
	}
	n.open = n.openSerial
	return n
}

func (n *NMEA) Name() string { return "NMEA GPS" }

func (n *NMEA) openSerial() (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: n.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(n.portPath, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, err
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("[gps] reset input buffer: %v", err)
	}
	return port, nil
}

func (n *NMEA) connect() error {
	port, err := n.open()
	if err != nil {
		var perr *serial.PortError
		if errors.As(err, &perr) && perr.Code() == serial.PortBusy {
			return fmt.Errorf("%w: %s busy, another process may be using it", ErrNotConnected, n.portPath)
		}
		return fmt.Errorf("%w: open %s: %v", ErrNotConnected, n.portPath, err)
	}
	n.port = port
	n.reader = bufio.NewReader(timeoutReader{port})
	n.pending = ""
	log.Printf("[gps] connected to %s at %d baud", n.portPath, n.baudRate)
	return nil
}

func (n *NMEA) disconnect() {
	if n.port != nil {
		n.port.Close()
	}
	n.port = nil
	n.reader = nil
	n.pending = ""
}

// Poll drains buffered sentences for at most the read window and returns
// the latest valid fix. It stops early once the port has nothing more to
// give, so a receiver without lock never stalls the caller.
func (n *NMEA) Poll(ctx context.Context) (reading.Fix, bool) {
	if n.port == nil {
		if err := n.gate.Try(n.connect); err != nil {
			log.Printf("[gps] %v", err)
			return n.cached()
		}
	}

	deadline := n.now().Add(n.window)
	for n.now().Before(deadline) && ctx.Err() == nil {
		chunk, err := n.reader.ReadString('\n')
		n.pending += chunk
		if err != nil {
			if !errors.Is(err, errReadTimeout) {
				log.Printf("[gps] read error, closing port: %v", err)
				n.disconnect()
			}
			break
		}

		line := strings.TrimSpace(n.pending)
		n.pending = ""
		n.observe(line)
	}
	return n.cached()
}

// observe updates the cached fix from one complete line. A GGA reporting no
// fix clears it: the receiver has lost lock.
func (n *NMEA) observe(line string) {
	fix, isGGA, ok := parseGGA(line)
	switch {
	case ok:
		n.fix, n.fixAt = fix, n.now()
	case isGGA:
		n.fixAt = time.Time{}
	}
}

func (n *NMEA) cached() (reading.Fix, bool) {
	if n.fixAt.IsZero() || n.now().Sub(n.fixAt) > maxFixAge {
		return reading.Fix{}, false
	}
	return n.fix, true
}

// parseGGA reports whether line is a well-formed GGA sentence and, if so,
// whether it carries a valid fix.
func parseGGA(line string) (fix reading.Fix, isGGA, ok bool) {
	if !strings.HasPrefix(line, "$") || !strings.Contains(line, "GGA") {
		return reading.Fix{}, false, false
	}
	s, err := nmea.Parse(line)
	if err != nil {
		return reading.Fix{}, false, false
	}
	gga, isGGA := s.(nmea.GGA)
	if !isGGA || gga.FixQuality == nmea.Invalid || gga.FixQuality == "" {
		return reading.Fix{}, isGGA, false
	}
	return reading.Fix{
		Latitude:  gga.Latitude,
		Longitude: gga.Longitude,
		Altitude:  gga.Altitude,
	}, true, true
}

func (n *NMEA) Close() error {
	if n.port == nil {
		return nil
	}
	err := n.port.Close()
	n.port = nil
	n.reader = nil
	return err
}

// timeoutReader turns the serial driver's (0, nil) read timeout into an error
// so a bufio.Reader returns control instead of spinning.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && err == nil {
		return 0, errReadTimeout
	}
	return n, err
}
