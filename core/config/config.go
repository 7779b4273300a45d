package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/record"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/sem"
)

const (
	TurnModeAlternating = "alternating"
	TurnModeAsymmetric  = "asymmetric"

	LatchWaitSpin  = "spin"
	LatchWaitBlock = "block"

	// EnvKey carries the resolved configuration from the coordinator to the
	// producer processes.
	EnvKey = "SHMTURN_CONFIG"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	TotalRecords    int    `toml:"total_records"`
	ChunkSize       int    `toml:"chunk_size"`
	RecordWidth     int    `toml:"record_width"`
	Producers       int    `toml:"producers"`
	TurnMode        string `toml:"turn_mode"`
	LatchWait       string `toml:"latch_wait"`
	SegmentName     string `toml:"segment_name,omitempty"`
	SemKey          int    `toml:"sem_key,omitempty"`
	ShutdownGraceMS int    `toml:"shutdown_grace_ms"`
	MetricsAddr     string `toml:"metrics_address,omitempty"`
}

func Default() Config {
	return Config{
		TotalRecords:    1000,
		ChunkSize:       75,
		RecordWidth:     255,
		Producers:       2,
		TurnMode:        TurnModeAlternating,
		LatchWait:       LatchWaitSpin,
		ShutdownGraceMS: 5000,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

func (c Config) Validate() error {
	if c.TotalRecords <= 0 {
		return invalid("total_records must be positive, got %d", c.TotalRecords)
	}
	if c.TotalRecords > sem.MaxValue {
		return invalid("total_records must not exceed %d, got %d", sem.MaxValue, c.TotalRecords)
	}
	if c.ChunkSize <= 0 {
		return invalid("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.RecordWidth < record.MinWidth {
		return invalid("record_width must be at least %d, got %d", record.MinWidth, c.RecordWidth)
	}
	if c.Producers < 1 {
		return invalid("producers must be positive, got %d", c.Producers)
	}
	switch c.TurnMode {
	case TurnModeAlternating:
	case TurnModeAsymmetric:
		if c.Producers != 2 {
			return invalid("turn_mode %q requires exactly 2 producers, got %d", c.TurnMode, c.Producers)
		}
	default:
		return invalid("unknown turn_mode %q", c.TurnMode)
	}
	if c.LatchWait != LatchWaitSpin && c.LatchWait != LatchWaitBlock {
		return invalid("unknown latch_wait %q", c.LatchWait)
	}
	if c.SemKey < 0 {
		return invalid("sem_key must not be negative, got %d", c.SemKey)
	}
	if c.ShutdownGraceMS < 0 {
		return invalid("shutdown_grace_ms must not be negative, got %d", c.ShutdownGraceMS)
	}
	return nil
}

// SegmentSize is the number of bytes needed to hold every record.
func (c Config) SegmentSize() int {
	return c.TotalRecords * c.RecordWidth
}

func Decode(raw []byte) (Config, error) {
	cfg := Default()
	err := toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads a TOML file. An empty path yields the defaults.
func Load(configFile string) (Config, error) {
	if configFile == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(configFile)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return Decode(raw)
}

func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
