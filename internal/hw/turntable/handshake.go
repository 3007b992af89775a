package turntable

import (
	"context"
	"fmt"

	"github.com/cjeanneret/SpinGo/internal/debug"
)

// HandshakePhase represents the stages of a handshake attempt.
type HandshakePhase uint8

const (
	PhaseIdle HandshakePhase = iota
	PhaseNegotiating
	PhaseConnected
	PhaseFailed
)

// String returns string representation of the phase.
func (p HandshakePhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HandshakeState is the bookkeeping of a single handshake call.
type HandshakeState struct {
	Phase       HandshakePhase
	Attempts    int // unrecognized non-empty lines seen
	MaxAttempts int
	Connected   bool
}

// Handshake negotiates readiness with the device:
//
//	device: HEY_BOY...        -> us: HEY_GIRL      (repeatable)
//	device: SUPERSTAR_DJS...  -> us: HERE_WE_GO!   (done)
//
// Only unrecognized non-empty lines count against MaxHandshakeAttempts; empty
// reads are retried for free. Running out of attempts returns false with a
// nil error. Transport failures are returned as errors.
//
// Handshake has no wall-clock bound of its own: a device that never sends
// anything keeps it waiting until ctx is done.
func (s *Session) Handshake(ctx context.Context) (bool, error) {
	s.connected = false
	st := HandshakeState{Phase: PhaseNegotiating, MaxAttempts: s.opts.MaxHandshakeAttempts}
	defer func() { s.last = st }()

	debug.Info("Starting handshake...")
	for !st.Connected && st.Attempts < st.MaxAttempts {
		if err := ctx.Err(); err != nil {
			st.Phase = PhaseFailed
			return false, err
		}

		line, err := s.t.ReadLine(s.opts.ReadTimeout)
		if err != nil {
			st.Phase = PhaseFailed
			return false, fmt.Errorf("handshake: %w", err)
		}

		switch Classify(line) {
		case MarkerNone:
			continue
		case MarkerGreeting:
			debug.Live("Handshake in progress...")
			if err := s.t.WriteLine([]byte(GreetingReply)); err != nil {
				st.Phase = PhaseFailed
				return false, fmt.Errorf("handshake: %w", err)
			}
		case MarkerReadyAck:
			if err := s.t.WriteLine([]byte(ReadyReply)); err != nil {
				st.Phase = PhaseFailed
				return false, fmt.Errorf("handshake: %w", err)
			}
			st.Connected = true
		default:
			st.Attempts++
			debug.Verbose("Handshake: unrecognized line %q (%d/%d)", line, st.Attempts, st.MaxAttempts)
		}
	}

	if !st.Connected {
		st.Phase = PhaseFailed
		debug.Info("Handshake failed after %d unrecognized lines", st.Attempts)
		return false, nil
	}

	st.Phase = PhaseConnected
	s.connected = true
	debug.Info("Handshake finished successfully!")
	return true, nil
}
