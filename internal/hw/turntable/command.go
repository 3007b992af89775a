package turntable

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/cjeanneret/SpinGo/internal/debug"
)

// Verb is the first word of a command line.
type Verb string

const (
	VerbNumShots Verb = "NUM_SHOTS"
	VerbRotate   Verb = "ROTATE"
	VerbFocus    Verb = "FOCUS"
	VerbShoot    Verb = "SHOOT"
)

// Command is one request line: a verb and an optional decimal argument.
type Command struct {
	Verb   Verb
	Arg    int
	HasArg bool
}

// Bytes returns the command line without its terminator.
func (c Command) Bytes() []byte {
	b := []byte(c.Verb)
	if c.HasArg {
		b = append(b, ' ')
		b = strconv.AppendInt(b, int64(c.Arg), 10)
	}
	return b
}

func (c Command) String() string { return string(c.Bytes()) }

// Response is a line received from the device, terminator included.
// An empty Response means nothing arrived before the response timeout.
type Response []byte

// Empty reports whether no acknowledgment arrived.
func (r Response) Empty() bool { return len(r) == 0 }

// Text returns the line without its CR/LF terminator.
func (r Response) Text() string {
	return string(bytes.TrimRight(r, "\r\n"))
}

// Matches reports whether the response echoes v. The session never checks
// this itself; interpreting the acknowledgment is up to the caller.
func (r Response) Matches(v Verb) bool {
	return bytes.HasPrefix(r, []byte(v))
}

// Send writes c without waiting for an acknowledgment.
func (s *Session) Send(c Command) error {
	if c.HasArg {
		debug.Command(string(c.Verb), strconv.Itoa(c.Arg))
	} else {
		debug.Command(string(c.Verb), "")
	}
	if err := s.t.WriteLine(c.Bytes()); err != nil {
		return fmt.Errorf("send %s: %w", c.Verb, err)
	}
	return nil
}

// Exchange writes c and waits for the next non-empty line. When none
// arrives within the response timeout it returns an empty Response and a nil
// error. The content of the line is not validated.
func (s *Session) Exchange(c Command) (Response, error) {
	if err := s.Send(c); err != nil {
		return nil, err
	}
	return s.awaitResponse(c.Verb)
}

func (s *Session) awaitResponse(v Verb) (Response, error) {
	start := time.Now()
	deadline := start.Add(s.opts.ResponseTimeout)
	for {
		wait := min(s.opts.ReadTimeout, time.Until(deadline))
		line, err := s.t.ReadLine(max(wait, 0))
		if err != nil {
			return nil, fmt.Errorf("await %s: %w", v, err)
		}
		if len(line) > 0 {
			resp := Response(line)
			debug.Ack(string(v), resp.Text(), time.Since(start))
			return resp, nil
		}
		if !time.Now().Before(deadline) {
			debug.Ack(string(v), "", time.Since(start))
			return nil, nil
		}
	}
}

// SetNumberOfShots tells the device how many shots make up a full turn.
// The firmware does not acknowledge it, so nothing is read back.
func (s *Session) SetNumberOfShots(n int) error {
	if n < 0 {
		return fmt.Errorf("%s %d: %w", VerbNumShots, n, ErrNegativeArgument)
	}
	return s.Send(Command{Verb: VerbNumShots, Arg: n, HasArg: true})
}

// Rotate advances the platter one step. After the acknowledgment, or its
// timeout, it blocks for the settling delay so the platter is still before
// the next command.
func (s *Session) Rotate() (Response, error) {
	resp, err := s.Exchange(Command{Verb: VerbRotate})
	if err != nil {
		return nil, err
	}
	debug.Verbose("Waiting %v for rotation to settle", s.opts.SettleDelay)
	time.Sleep(s.opts.SettleDelay)
	return resp, nil
}

// Focus triggers the camera autofocus.
func (s *Session) Focus() (Response, error) {
	return s.Exchange(Command{Verb: VerbFocus})
}

// Shoot fires the shutter; n is passed through as the exposure parameter.
func (s *Session) Shoot(n int) (Response, error) {
	return s.Exchange(Command{Verb: VerbShoot, Arg: n, HasArg: true})
}
