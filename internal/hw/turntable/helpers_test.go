package turntable

import (
	"errors"
	"time"
)

// scriptTransport replays scripted lines. An empty string is an empty read;
// once the script runs out every read times out after the requested timeout.
type scriptTransport struct {
	reads     []string
	written   []string
	readCalls int
	readWaits []time.Duration
	writeErr  error
	readErr   error
	closed    int
}

var errLinkDown = errors.New("link down")

func newScript(lines ...string) *scriptTransport {
	return &scriptTransport{reads: lines}
}

func (s *scriptTransport) WriteLine(b []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, string(b)+"\r\n")
	return nil
}

func (s *scriptTransport) ReadLine(timeout time.Duration) ([]byte, error) {
	s.readCalls++
	s.readWaits = append(s.readWaits, timeout)
	if s.readErr != nil {
		return nil, s.readErr
	}
	if len(s.reads) == 0 {
		time.Sleep(timeout)
		return nil, nil
	}
	line := s.reads[0]
	s.reads = s.reads[1:]
	if line == "" {
		return nil, nil
	}
	return []byte(line), nil
}

func (s *scriptTransport) Close() error {
	s.closed++
	return nil
}

func fastOptions() Options {
	return Options{
		ReadTimeout:     5 * time.Millisecond,
		ResponseTimeout: 40 * time.Millisecond,
		SettleDelay:     time.Millisecond,
	}
}

func repeat(line string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = line
	}
	return out
}
