package turntable

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/cjeanneret/SpinGo/internal/hw/serialport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_Bytes(t *testing.T) {
	cases := []struct {
		cmd  Command
		want string
	}{
		{Command{Verb: VerbNumShots, Arg: 50, HasArg: true}, "NUM_SHOTS 50"},
		{Command{Verb: VerbNumShots, Arg: 0, HasArg: true}, "NUM_SHOTS 0"},
		{Command{Verb: VerbRotate}, "ROTATE"},
		{Command{Verb: VerbFocus}, "FOCUS"},
		{Command{Verb: VerbShoot, Arg: 3000, HasArg: true}, "SHOOT 3000"},
		{Command{Verb: VerbShoot, Arg: -1, HasArg: true}, "SHOOT -1"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, string(tc.cmd.Bytes()))
			assert.Equal(t, tc.want, tc.cmd.String())
		})
	}
}

func TestResponse_Helpers(t *testing.T) {
	var empty Response
	assert.True(t, empty.Empty())
	assert.Equal(t, "", empty.Text())

	r := Response("ROTATE\r\n")
	assert.False(t, r.Empty())
	assert.Equal(t, "ROTATE", r.Text())
	assert.True(t, r.Matches(VerbRotate))
	assert.False(t, r.Matches(VerbFocus))
}

func TestSetNumberOfShots_WritesWithoutWaiting(t *testing.T) {
	tr := newScript()
	s := NewSession(tr, fastOptions())

	require.NoError(t, s.SetNumberOfShots(50))
	assert.Equal(t, []string{"NUM_SHOTS 50\r\n"}, tr.written)
	assert.Equal(t, 0, tr.readCalls)
}

func TestSetNumberOfShots_Negative(t *testing.T) {
	tr := newScript()
	s := NewSession(tr, fastOptions())

	err := s.SetNumberOfShots(-3)
	require.ErrorIs(t, err, ErrNegativeArgument)
	assert.Empty(t, tr.written)
}

func TestFocus_ReturnsFirstNonEmptyLine(t *testing.T) {
	tr := newScript("", "", "FOCUS\r\n", "late\r\n")
	s := NewSession(tr, fastOptions())

	resp, err := s.Focus()
	require.NoError(t, err)
	assert.Equal(t, "FOCUS", resp.Text())
	assert.Equal(t, []string{"FOCUS\r\n"}, tr.written)
	assert.Equal(t, 3, tr.readCalls)
}

func TestExchange_DoesNotValidateAcknowledgment(t *testing.T) {
	tr := newScript("SOMETHING_ELSE\r\n")
	s := NewSession(tr, fastOptions())

	resp, err := s.Focus()
	require.NoError(t, err)
	assert.Equal(t, "SOMETHING_ELSE", resp.Text())
	assert.False(t, resp.Matches(VerbFocus))
}

func TestShoot_TimeoutReturnsEmpty(t *testing.T) {
	tr := newScript()
	opts := fastOptions()
	s := NewSession(tr, opts)

	start := time.Now()
	resp, err := s.Shoot(3000)
	elapsed := time.Since(start)

	require.NoError(t, err, "a missing acknowledgment is not an error")
	assert.True(t, resp.Empty())
	assert.Equal(t, []string{"SHOOT 3000\r\n"}, tr.written)
	assert.GreaterOrEqual(t, elapsed, opts.ResponseTimeout)
	assert.Less(t, elapsed, opts.ResponseTimeout+time.Second)
	assert.Greater(t, tr.readCalls, 1, "response wait must poll with short reads")
}

func TestAwaitResponse_ReadsNeverExceedDeadline(t *testing.T) {
	tr := newScript()
	opts := Options{
		ReadTimeout:     30 * time.Millisecond,
		ResponseTimeout: 50 * time.Millisecond,
		SettleDelay:     time.Millisecond,
	}
	s := NewSession(tr, opts)

	_, err := s.Focus()
	require.NoError(t, err)
	require.NotEmpty(t, tr.readWaits)
	assert.Equal(t, 30*time.Millisecond, tr.readWaits[0])
	assert.Less(t, tr.readWaits[len(tr.readWaits)-1], 30*time.Millisecond)
}

func TestRotate_SettleDelayAfterFastAck(t *testing.T) {
	tr := newScript("ROTATE\r\n")
	opts := fastOptions()
	opts.SettleDelay = 80 * time.Millisecond
	s := NewSession(tr, opts)

	start := time.Now()
	resp, err := s.Rotate()
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "ROTATE", resp.Text())
	assert.Equal(t, []string{"ROTATE\r\n"}, tr.written)
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
}

func TestRotate_SettleDelayAfterTimeout(t *testing.T) {
	tr := newScript()
	opts := fastOptions()
	opts.SettleDelay = 30 * time.Millisecond
	s := NewSession(tr, opts)

	start := time.Now()
	resp, err := s.Rotate()
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, resp.Empty())
	assert.GreaterOrEqual(t, elapsed, opts.ResponseTimeout+opts.SettleDelay)
}

func TestCommands_WriteFailureIsFatal(t *testing.T) {
	cases := []struct {
		name string
		run  func(s *Session) error
	}{
		{"num_shots", func(s *Session) error { return s.SetNumberOfShots(1) }},
		{"rotate", func(s *Session) error { _, err := s.Rotate(); return err }},
		{"focus", func(s *Session) error { _, err := s.Focus(); return err }},
		{"shoot", func(s *Session) error { _, err := s.Shoot(1); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newScript("ACK\r\n")
			tr.writeErr = errLinkDown
			s := NewSession(tr, fastOptions())

			require.ErrorIs(t, tc.run(s), errLinkDown)
			assert.Equal(t, 0, tr.readCalls, "nothing is read after a failed write")
		})
	}
}

func TestExchange_ReadFailure(t *testing.T) {
	tr := newScript()
	tr.readErr = errLinkDown
	s := NewSession(tr, fastOptions())

	_, err := s.Shoot(1)
	require.ErrorIs(t, err, errLinkDown)
}

func TestSession_Defaults(t *testing.T) {
	s := NewSession(newScript(), Options{})
	opts := s.Options()
	assert.Equal(t, DefaultReadTimeout, opts.ReadTimeout)
	assert.Equal(t, DefaultResponseTimeout, opts.ResponseTimeout)
	assert.Equal(t, DefaultSettleDelay, opts.SettleDelay)
	assert.Equal(t, DefaultMaxHandshakeAttempts, opts.MaxHandshakeAttempts)
	assert.False(t, s.Connected())
	assert.Equal(t, PhaseIdle, s.LastHandshake().Phase)
}

func TestSession_CloseOnce(t *testing.T) {
	tr := newScript("SUPERSTAR_DJS\r\n")
	s := NewSession(tr, fastOptions())
	_, err := s.Handshake(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, tr.closed)
	assert.False(t, s.Connected())
}

// wire is an in-memory device: reads come from in, writes land in out.
type wire struct {
	in  *bytes.Buffer
	out bytes.Buffer
}

func (w *wire) Read(p []byte) (int, error) {
	if w.in.Len() == 0 {
		return 0, io.EOF
	}
	return w.in.Read(p)
}

func (w *wire) Write(p []byte) (int, error) { return w.out.Write(p) }
func (w *wire) Close() error                { return nil }

func TestSession_OverSerialPort(t *testing.T) {
	dev := &wire{in: bytes.NewBufferString("boot v1.2\r\nHEY_BOY\r\nSUPERSTAR_DJS\r\nROTATE\r\nFOCUS\r\nSHOOT\r\n")}
	port := serialport.New(dev, serialport.Config{Address: "mem", BaudRate: 115200, ReadTimeout: time.Millisecond})
	s := NewSession(port, fastOptions())

	ok, err := s.Handshake(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, s.LastHandshake().Attempts)

	require.NoError(t, s.SetNumberOfShots(50))
	rot, err := s.Rotate()
	require.NoError(t, err)
	foc, err := s.Focus()
	require.NoError(t, err)
	sht, err := s.Shoot(3000)
	require.NoError(t, err)

	assert.True(t, rot.Matches(VerbRotate))
	assert.True(t, foc.Matches(VerbFocus))
	assert.True(t, sht.Matches(VerbShoot))
	assert.Equal(t,
		"HEY_GIRL\r\nHERE_WE_GO!\r\nNUM_SHOTS 50\r\nROTATE\r\nFOCUS\r\nSHOOT 3000\r\n",
		dev.out.String())
}
