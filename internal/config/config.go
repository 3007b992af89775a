package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 64 * 1024

// SerialConfig describes the serial link to the turntable microcontroller.
type SerialConfig struct {
	Address       string `yaml:"address"`         // e.g., "/dev/ttyUSB0"
	BaudRate      int    `yaml:"baud_rate"`       // e.g., 115200
	ReadTimeoutMs int    `yaml:"read_timeout_ms"` // per-read timeout, also used for handshake reads
}

// ProtocolConfig holds the session protocol timings.
type ProtocolConfig struct {
	ResponseTimeoutMs    int `yaml:"response_timeout_ms"`    // outer wait for a command acknowledgment
	SettleDelayMs        int `yaml:"settle_delay_ms"`        // pause after ROTATE is acknowledged
	MaxHandshakeAttempts int `yaml:"max_handshake_attempts"` // unrecognized lines tolerated during handshake
}

// CaptureConfig describes a capture run.
type CaptureConfig struct {
	ShotsPerRound int `yaml:"shots_per_round"` // sent as NUM_SHOTS
	Exposure      int `yaml:"exposure"`        // sent as SHOOT argument
	Rounds        int `yaml:"rounds"`          // ROTATE/FOCUS/SHOOT cycles per run
	RoundDelayMs  int `yaml:"round_delay_ms"`  // pause between rounds
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Capture  CaptureConfig  `yaml:"capture"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file inside a "configs" directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if cfg.Serial.Address == "" {
		return nil, fmt.Errorf("serial.address is required")
	}
	if cfg.Serial.BaudRate < 0 {
		return nil, fmt.Errorf("serial.baud_rate must be > 0, got %d", cfg.Serial.BaudRate)
	}
	if cfg.Serial.BaudRate == 0 {
		cfg.Serial.BaudRate = 115200
	}
	if cfg.Serial.ReadTimeoutMs <= 0 {
		cfg.Serial.ReadTimeoutMs = 2000
	}

	if cfg.Protocol.ResponseTimeoutMs <= 0 {
		cfg.Protocol.ResponseTimeoutMs = 10000
	}
	if cfg.Protocol.SettleDelayMs < 0 {
		return nil, fmt.Errorf("protocol.settle_delay_ms must be >= 0, got %d", cfg.Protocol.SettleDelayMs)
	}
	if cfg.Protocol.SettleDelayMs == 0 {
		cfg.Protocol.SettleDelayMs = 2000 // time for the platter to stop
	}
	if cfg.Protocol.MaxHandshakeAttempts <= 0 {
		cfg.Protocol.MaxHandshakeAttempts = 10
	}

	if cfg.Capture.ShotsPerRound < 0 {
		return nil, fmt.Errorf("capture.shots_per_round must be >= 0, got %d", cfg.Capture.ShotsPerRound)
	}
	if cfg.Capture.ShotsPerRound == 0 {
		cfg.Capture.ShotsPerRound = 50
	}
	if cfg.Capture.Exposure <= 0 {
		cfg.Capture.Exposure = 3000
	}
	if cfg.Capture.Rounds <= 0 {
		cfg.Capture.Rounds = 1
	}
	if cfg.Capture.RoundDelayMs < 0 {
		return nil, fmt.Errorf("capture.round_delay_ms must be >= 0, got %d", cfg.Capture.RoundDelayMs)
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// ReadTimeout returns the per-read serial timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

// ResponseTimeout returns how long a command waits for its acknowledgment.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Protocol.ResponseTimeoutMs) * time.Millisecond
}

// SettleDelay returns the pause after a rotation is acknowledged.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Protocol.SettleDelayMs) * time.Millisecond
}

// RoundDelay returns the pause between capture rounds.
func (c *Config) RoundDelay() time.Duration {
	return time.Duration(c.Capture.RoundDelayMs) * time.Millisecond
}
