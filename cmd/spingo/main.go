package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/SpinGo/internal/config"
	"github.com/cjeanneret/SpinGo/internal/debug"
	"github.com/cjeanneret/SpinGo/internal/hw/serialport"
	"github.com/cjeanneret/SpinGo/internal/hw/turntable"
	"github.com/cjeanneret/SpinGo/internal/logic/capture"
	"github.com/cjeanneret/SpinGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	device := flag.String("port", "", "override serial device path (e.g. /dev/ttyUSB0)")
	baud := flag.Int("baud", 0, "override serial baud rate")
	shots := flag.Int("shots", 0, "override number of shots per round (1-1000)")
	exposure := flag.Int("exposure", 0, "override SHOOT exposure parameter")
	rounds := flag.Int("rounds", 0, "override number of rounds (1-1000)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config default")
	if err := validateCLIOverrides(*baud, *shots, *exposure, *rounds); err != nil {
		fatalf("invalid CLI override: %v", err)
	}
	applySerialOverrides(cfg, *device, *baud)
	applyOverrides(cfg, web.Overrides{
		ShotsPerRound: *shots,
		Exposure:      *exposure,
		Rounds:        *rounds,
	})

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	if err := run(ctx, cfg, webPort.port()); err != nil {
		debug.Error(err)
		fatalf("spingo: %v", err)
	}
}

// run owns the serial session: every return path closes it.
func run(ctx context.Context, cfg *config.Config, webPort int) error {
	debug.Step(1, "Opening serial link")
	port, err := serialport.Open(serialport.Config{
		Address:     cfg.Serial.Address,
		BaudRate:    cfg.Serial.BaudRate,
		ReadTimeout: cfg.ReadTimeout(),
	})
	if err != nil {
		return err
	}
	session := turntable.NewSession(port, sessionOptions(cfg))
	defer func() {
		if err := session.Close(); err != nil {
			debug.Error(fmt.Errorf("closing serial port failed: %w", err))
		}
	}()

	debug.Step(2, "Negotiating with turntable")
	ok, err := session.Handshake(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d unrecognized lines from %s",
			turntable.ErrHandshakeFailed, session.LastHandshake().Attempts, cfg.Serial.Address)
	}
	debug.Summary("Connection established!")

	// Build runCapture closure over the session and base config
	runCapture := func(ctx context.Context, overrides web.Overrides) error {
		_, err := executeCapture(ctx, session, applyOverridesToCopy(cfg, overrides))
		return err
	}

	if webPort > 0 {
		webAddr := fmt.Sprintf(":%d", webPort)
		broadcaster := web.NewStatusBroadcaster()
		debug.AddOutput(web.BroadcastWriter(broadcaster))

		formDefaults := web.FormConfig{
			ShotsPerRound: cfg.Capture.ShotsPerRound,
			Exposure:      cfg.Capture.Exposure,
			Rounds:        cfg.Capture.Rounds,
			Device:        cfg.Serial.Address,
		}
		srv, err := web.NewServer(webAddr, broadcaster, runCapture, formDefaults)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	}

	// Run capture once with current config (already has CLI overrides applied)
	return runCapture(ctx, web.Overrides{})
}

// executeCapture runs one capture sequence on a connected turntable.
func executeCapture(ctx context.Context, table capture.Turntable, cfg *config.Config) (*capture.Report, error) {
	debug.Step(3, "Running capture sequence")
	seq := capture.NewSequence(table)
	report, err := seq.Run(ctx, capture.Params{
		ShotsPerRound: cfg.Capture.ShotsPerRound,
		Exposure:      cfg.Capture.Exposure,
		Rounds:        cfg.Capture.Rounds,
		RoundDelay:    cfg.RoundDelay(),
	})
	if err != nil {
		return report, fmt.Errorf("capture %s: %w", report.RunID, err)
	}
	if report.Anomalies > 0 {
		debug.Info("%d command(s) were not acknowledged, check the turntable", report.Anomalies)
	}
	debug.Section("Sequence Complete")
	return report, nil
}

func sessionOptions(cfg *config.Config) turntable.Options {
	return turntable.Options{
		ReadTimeout:          cfg.ReadTimeout(),
		ResponseTimeout:      cfg.ResponseTimeout(),
		SettleDelay:          cfg.SettleDelay(),
		MaxHandshakeAttempts: cfg.Protocol.MaxHandshakeAttempts,
	}
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(baud, shots, exposure, rounds int) error {
	if baud < 0 {
		return fmt.Errorf("baud must be > 0, got %d", baud)
	}
	if shots < 0 || shots > 1000 {
		return fmt.Errorf("shots must be between 1 and 1000, got %d", shots)
	}
	if exposure < 0 {
		return fmt.Errorf("exposure must be >= 0, got %d", exposure)
	}
	if rounds < 0 || rounds > 1000 {
		return fmt.Errorf("rounds must be between 1 and 1000, got %d", rounds)
	}
	return nil
}

// applySerialOverrides mutates cfg with the link overrides. Empty/zero values are ignored.
func applySerialOverrides(cfg *config.Config, device string, baud int) {
	if device != "" {
		cfg.Serial.Address = device
	}
	if baud > 0 {
		cfg.Serial.BaudRate = baud
	}
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, overrides web.Overrides) {
	if overrides.ShotsPerRound > 0 {
		cfg.Capture.ShotsPerRound = overrides.ShotsPerRound
	}
	if overrides.Exposure > 0 {
		cfg.Capture.Exposure = overrides.Exposure
	}
	if overrides.Rounds > 0 {
		cfg.Capture.Rounds = overrides.Rounds
	}
}

// applyOverridesToCopy returns a new config with overrides applied.
// Zero values in overrides mean "use base config".
func applyOverridesToCopy(baseCfg *config.Config, overrides web.Overrides) *config.Config {
	cfg := *baseCfg
	applyOverrides(&cfg, overrides)
	return &cfg
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
