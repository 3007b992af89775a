// Package turntable speaks the SpinGo line protocol to the turntable
// microcontroller.
//
// A Session owns the transport. Handshake must succeed before commands are
// trusted; after that every command is a blocking write-then-wait round trip:
//
//	s := turntable.NewSession(port, turntable.Options{})
//	defer s.Close()
//
//	ok, err := s.Handshake(ctx)
//	if err != nil || !ok {
//	    // abort
//	}
//	_ = s.SetNumberOfShots(50)
//	_, _ = s.Rotate()
//	_, _ = s.Focus()
//	_, _ = s.Shoot(3000)
package turntable

import (
	"errors"
	"time"

	"github.com/cjeanneret/SpinGo/internal/debug"
)

// Protocol defaults.
const (
	DefaultReadTimeout          = 2 * time.Second
	DefaultResponseTimeout      = 10 * time.Second
	DefaultSettleDelay          = 2 * time.Second
	DefaultMaxHandshakeAttempts = 10
)

var (
	// ErrHandshakeFailed indicates that the device never completed the handshake.
	ErrHandshakeFailed = errors.New("turntable handshake failed")

	// ErrNegativeArgument indicates a command argument below zero.
	ErrNegativeArgument = errors.New("command argument must be non-negative")
)

// Transport is the line-oriented link the session runs on.
// ReadLine must return an empty result, not an error, when timeout expires.
type Transport interface {
	WriteLine(b []byte) error
	ReadLine(timeout time.Duration) ([]byte, error)
	Close() error
}

// Options tunes the session timings. Zero values select the defaults.
type Options struct {
	ReadTimeout          time.Duration // single read during handshake and response polling
	ResponseTimeout      time.Duration // outer wait for a command acknowledgment
	SettleDelay          time.Duration // pause after ROTATE is acknowledged
	MaxHandshakeAttempts int           // unrecognized lines tolerated during handshake
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.MaxHandshakeAttempts <= 0 {
		o.MaxHandshakeAttempts = DefaultMaxHandshakeAttempts
	}
	return o
}

// Session is the protocol engine for one turntable.
// It is not safe for concurrent use; commands are strictly sequential.
type Session struct {
	t         Transport
	opts      Options
	connected bool
	closed    bool
	last      HandshakeState
}

// NewSession takes ownership of t.
func NewSession(t Transport, opts Options) *Session {
	opts = opts.withDefaults()
	debug.PrintStruct("Session options", opts)
	return &Session{
		t:    t,
		opts: opts,
		last: HandshakeState{MaxAttempts: opts.MaxHandshakeAttempts},
	}
}

// Options returns the effective session options.
func (s *Session) Options() Options { return s.opts }

// Connected reports whether the last handshake completed.
func (s *Session) Connected() bool { return s.connected }

// LastHandshake returns the state the most recent handshake ended in.
func (s *Session) LastHandshake() HandshakeState { return s.last }

// Close releases the transport. It is safe to call more than once.
func (s *Session) Close() error {
	s.connected = false
	if s.closed {
		return nil
	}
	s.closed = true
	return s.t.Close()
}
