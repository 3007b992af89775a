package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	console "github.com/phsym/console-slog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (session state, run summary)
	LevelLive    = 2 // Live info (commands sent, acknowledgments)
	LevelVerbose = 3 // Verbose (timings, configuration details)
	LevelTrace   = 4 // Trace (raw serial lines)
)

// slogTrace sits below slog.LevelDebug so trace lines stay distinguishable.
const slogTrace = slog.LevelDebug - 4

var (
	level  atomic.Int32
	logger atomic.Pointer[slog.Logger]

	mu       sync.Mutex
	handlers []slog.Handler
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (handshake result, run summary)
// 2 = live info (commands, acknowledgments, rounds)
// 3 = verbose (timings, configuration details)
// 4 = trace (every serial line in and out)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()

	level.Store(int32(debugLevel))
	handlers = nil
	if debugLevel > LevelOff {
		handlers = append(handlers, console.NewHandler(os.Stdout, &console.HandlerOptions{
			Level:      slogTrace,
			TimeFormat: time.TimeOnly,
		}))
	}
	rebuild()
}

// AddOutput sends every enabled message to w as well, formatted as logfmt text.
// It is a no-op while debug output is off.
func AddOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if Level() <= LevelOff {
		return
	}
	handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slogTrace,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	rebuild()
}

func rebuild() {
	if len(handlers) == 0 {
		logger.Store(nil)
		return
	}
	logger.Store(slog.New(fanout(append([]slog.Handler(nil), handlers...))))
}

// Level returns the current debug level.
func Level() int {
	return int(level.Load())
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func logf(minLevel int, lvl slog.Level, format string, args ...any) {
	l := logger.Load()
	if Level() < minLevel || l == nil {
		return
	}
	l.Log(context.Background(), lvl, fmt.Sprintf(format, args...))
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...any) {
	logf(LevelInfo, slog.LevelInfo, format, args...)
}

// Summary prints an important summary banner (level 1).
func Summary(title string) {
	logf(LevelInfo, slog.LevelInfo, "═══ %s ═══", title)
}

// Run prints the outcome of a capture run (level 1).
func Run(runID string, rounds, anomalies int) {
	l := logger.Load()
	if Level() < LevelInfo || l == nil {
		return
	}
	l.Info("capture run finished", "run", runID, "rounds", rounds, "anomalies", anomalies)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...any) {
	logf(LevelLive, slog.LevelInfo, format, args...)
}

// Command prints a command sent to the turntable (level 2).
func Command(verb string, arg string) {
	l := logger.Load()
	if Level() < LevelLive || l == nil {
		return
	}
	if arg == "" {
		l.Info("command", "verb", verb)
		return
	}
	l.Info("command", "verb", verb, "arg", arg)
}

// Ack prints the acknowledgment received for a command (level 2).
// An empty acknowledgment is reported as a warning.
func Ack(verb string, text string, elapsed time.Duration) {
	l := logger.Load()
	if Level() < LevelLive || l == nil {
		return
	}
	if text == "" {
		l.Warn("no acknowledgment", "verb", verb, "waited", elapsed)
		return
	}
	l.Info("acknowledgment", "verb", verb, "text", text, "elapsed", elapsed)
}

// Round prints the start of a capture round (level 2).
func Round(round, total int) {
	logf(LevelLive, slog.LevelInfo, "starting round %d/%d", round, total)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...any) {
	logf(LevelVerbose, slog.LevelDebug, format, args...)
}

// Printf is an alias for Verbose.
func Printf(format string, args ...any) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v any) {
	logf(LevelVerbose, slog.LevelDebug, "%s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	logf(LevelVerbose, slog.LevelDebug, "━━━ %s ━━━", name)
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	logf(LevelVerbose, slog.LevelDebug, "step %d: %s", num, description)
}

// Value prints a named value (level 1).
func Value(name string, value any) {
	l := logger.Load()
	if Level() < LevelInfo || l == nil {
		return
	}
	l.Info("value", "name", name, "value", value)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...any) {
	logf(LevelTrace, slogTrace, format, args...)
}

// Serial prints a raw line crossing the serial link (level 4).
// dir is "tx" or "rx".
func Serial(dir string, line []byte) {
	l := logger.Load()
	if Level() < LevelTrace || l == nil {
		return
	}
	l.Log(context.Background(), slogTrace, "serial", "dir", dir, "line", fmt.Sprintf("%q", line))
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	l := logger.Load()
	if Level() < LevelInfo || l == nil {
		return
	}
	l.Error(err.Error())
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...any) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}

// fanout dispatches each record to every handler that accepts it.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, lvl slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, lvl) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
