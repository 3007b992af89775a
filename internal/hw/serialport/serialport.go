// Package serialport is the line-oriented transport between SpinGo and the
// turntable microcontroller.
//
// A Port assembles CRLF-terminated lines out of the raw byte stream and
// reports a read that times out as an empty line rather than an error.
package serialport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cjeanneret/SpinGo/internal/debug"
	"github.com/tarm/serial"
)

// MaxLineLength bounds how many bytes are buffered while waiting for a line
// terminator. Longer runs are returned as a line of their own.
const MaxLineLength = 1024

// idlePoll is the pause after a read that returned nothing.
const idlePoll = 5 * time.Millisecond

var lineEnd = []byte("\r\n")

var (
	// ErrConnection indicates that the serial device could not be opened.
	ErrConnection = errors.New("serial connection failed")

	// ErrWrite indicates that a line could not be written to the link.
	ErrWrite = errors.New("serial write failed")
)

// Config describes the serial link.
type Config struct {
	Address     string        // device path, e.g. /dev/ttyUSB0
	BaudRate    int           // e.g. 115200
	ReadTimeout time.Duration // how long a single read of the device may block
}

// Port is an open serial link.
type Port struct {
	rwc   io.ReadWriteCloser
	cfg   Config
	buf   []byte
	chunk []byte
}

// Open opens the serial device described by cfg (8N1).
func Open(cfg Config) (*Port, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: empty device address", ErrConnection)
	}
	debug.Info("Opening serial port %s at %d baud", cfg.Address, cfg.BaudRate)

	sp, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Address,
		Baud:        cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConnection, cfg.Address, err)
	}

	return New(sp, cfg), nil
}

// New wraps an already open stream. Reads from rwc are expected to return
// (0, io.EOF) or (0, nil) when nothing arrived within cfg.ReadTimeout.
func New(rwc io.ReadWriteCloser, cfg Config) *Port {
	return &Port{
		rwc:   rwc,
		cfg:   cfg,
		chunk: make([]byte, 256),
	}
}

// Address returns the configured device path.
func (p *Port) Address() string { return p.cfg.Address }

// BaudRate returns the configured baud rate.
func (p *Port) BaudRate() int { return p.cfg.BaudRate }

// ReadTimeout returns the per-read timeout of the device.
func (p *Port) ReadTimeout() time.Duration { return p.cfg.ReadTimeout }

// WriteLine sends b followed by CRLF in a single write.
func (p *Port) WriteLine(b []byte) error {
	line := make([]byte, 0, len(b)+len(lineEnd))
	line = append(line, b...)
	line = append(line, lineEnd...)

	n, err := p.rwc.Write(line)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, p.cfg.Address, err)
	}
	if n != len(line) {
		return fmt.Errorf("%w: %s: short write (%d of %d bytes)", ErrWrite, p.cfg.Address, n, len(line))
	}
	debug.Serial("tx", line)
	return nil
}

// ReadLine returns the next line, terminator included, waiting at most
// timeout for it. When no complete line arrives in time it returns an empty
// result and a nil error; bytes received so far stay buffered for the next
// call. The effective wait is rounded up to the device read timeout.
func (p *Port) ReadLine(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for reads := 0; ; reads++ {
		if line, ok := p.takeLine(); ok {
			debug.Serial("rx", line)
			return line, nil
		}
		if reads > 0 && !time.Now().Before(deadline) {
			return nil, nil
		}

		n, err := p.rwc.Read(p.chunk)
		if n > 0 {
			p.buf = append(p.buf, p.chunk[:n]...)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", p.cfg.Address, err)
		}
		if n == 0 {
			time.Sleep(idlePoll)
		}
	}
}

// takeLine pops one complete line off the buffer.
func (p *Port) takeLine() ([]byte, bool) {
	i := bytes.IndexByte(p.buf, '\n')
	switch {
	case i >= 0:
		i++
	case len(p.buf) >= MaxLineLength:
		i = MaxLineLength
	default:
		return nil, false
	}
	line := append([]byte(nil), p.buf[:i]...)
	p.buf = append(p.buf[:0], p.buf[i:]...)
	return line, true
}

// Close releases the device.
func (p *Port) Close() error {
	debug.Verbose("Closing serial port %s", p.cfg.Address)
	return p.rwc.Close()
}
