package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	mutate := func(fn func(*Config)) Config {
		c := Default()
		fn(c)
		return *c
	}

	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid default configuration",
			config:      *Default(),
			expectError: false,
		},
		{
			name: "negative max duration",
			config: mutate(func(c *Config) {
				c.Audio.MaxDurationSeconds = -1
			}),
			expectError: true,
			errorMsg:    "max_duration_seconds",
		},
		{
			name: "zero tick rate",
			config: mutate(func(c *Config) {
				c.Playback.TickRateHz = 0
			}),
			expectError: true,
			errorMsg:    "tick_rate_hz",
		},
		{
			name: "tiny chunk size",
			config: mutate(func(c *Config) {
				c.Playback.ChunkSize = 64
			}),
			expectError: true,
			errorMsg:    "chunk_size",
		},
		{
			name: "max speed below min speed",
			config: mutate(func(c *Config) {
				c.Playback.MinSpeed = 2
				c.Playback.MaxSpeed = 1
			}),
			expectError: true,
			errorMsg:    "max_speed",
		},
		{
			name: "vad negative threshold above positive",
			config: mutate(func(c *Config) {
				c.VAD.PositiveThreshold = 0.3
				c.VAD.NegativeThreshold = 0.5
			}),
			expectError: true,
			errorMsg:    "negative_threshold",
		},
		{
			name: "tone component above pair threshold",
			config: mutate(func(c *Config) {
				c.Tone.ComponentThreshold = 0.9
			}),
			expectError: true,
			errorMsg:    "component_threshold",
		},
		{
			name: "tone zero min blocks",
			config: mutate(func(c *Config) {
				c.Tone.MinBlocks = 0
			}),
			expectError: true,
			errorMsg:    "min_blocks",
		},
		{
			name: "non power of two fft size",
			config: mutate(func(c *Config) {
				c.Spectrogram.FFTSize = 1000
			}),
			expectError: true,
			errorMsg:    "fft_size",
		},
		{
			name: "hop larger than fft size",
			config: mutate(func(c *Config) {
				c.Spectrogram.FFTSize = 512
				c.Spectrogram.Hop = 1024
			}),
			expectError: true,
			errorMsg:    "hop",
		},
		{
			name: "http enabled with bad port",
			config: mutate(func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Port = 70000
			}),
			expectError: true,
			errorMsg:    "port",
		},
		{
			name: "http disabled ignores port",
			config: mutate(func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			}),
			expectError: false,
		},
		{
			name: "bad log level",
			config: mutate(func(c *Config) {
				c.Logging.Level = "verbose"
			}),
			expectError: true,
			errorMsg:    "level",
		},
		{
			name: "bad log format",
			config: mutate(func(c *Config) {
				c.Logging.Format = "xml"
			}),
			expectError: true,
			errorMsg:    "format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error %q does not mention %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Playback.TickRateHz != 60 {
		t.Errorf("tick_rate_hz = %d, want 60", cfg.Playback.TickRateHz)
	}
}

func TestLoadAppliesOverridesOnDefaults(t *testing.T) {
	yaml := `
playback:
  tick_rate_hz: 30
  chunk_size: 8192
vad:
  positive_threshold: 0.6
  negative_threshold: 0.4
logging:
  level: debug
  format: json
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Playback.TickRateHz != 30 {
		t.Errorf("tick_rate_hz = %d, want 30", cfg.Playback.TickRateHz)
	}
	if cfg.Playback.ChunkSize != 8192 {
		t.Errorf("chunk_size = %d, want 8192", cfg.Playback.ChunkSize)
	}
	if cfg.VAD.PositiveThreshold != 0.6 {
		t.Errorf("positive_threshold = %f, want 0.6", cfg.VAD.PositiveThreshold)
	}
	// Untouched sections keep their defaults.
	if cfg.Tone.PairThreshold != 0.6 {
		t.Errorf("pair_threshold = %f, want default 0.6", cfg.Tone.PairThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("playback:\n  tick_rate_hz: -5\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := Default()

	if got, want := cfg.Playback.GetTickInterval(), time.Second/60; got != want {
		t.Errorf("GetTickInterval() = %v, want %v", got, want)
	}
	if got, want := cfg.Playback.GetSmoothTime(), 20*time.Millisecond; got != want {
		t.Errorf("GetSmoothTime() = %v, want %v", got, want)
	}
}
