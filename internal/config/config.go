package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete player configuration
type Config struct {
	Audio       AudioConfig       `yaml:"audio"`
	Playback    PlaybackConfig    `yaml:"playback"`
	VAD         VADConfig         `yaml:"vad"`
	Tone        ToneConfig        `yaml:"tone"`
	Spectrogram SpectrogramConfig `yaml:"spectrogram"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AudioConfig contains source file constraints
type AudioConfig struct {
	// MaxDurationSeconds rejects files longer than this at load (0 = unlimited)
	MaxDurationSeconds float64 `yaml:"max_duration_seconds"`
}

// PlaybackConfig contains playback path parameters
type PlaybackConfig struct {
	TickRateHz   int     `yaml:"tick_rate_hz"`   // clock reconciliation rate
	ChunkSize    int     `yaml:"chunk_size"`     // source samples per feed
	SmoothTimeMs float64 `yaml:"smooth_time_ms"` // parameter ramp window
	MinSpeed     float64 `yaml:"min_speed"`
	MaxSpeed     float64 `yaml:"max_speed"`
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	FrameSize         int     `yaml:"frame_size"` // samples
	PositiveThreshold float64 `yaml:"positive_threshold"`
	NegativeThreshold float64 `yaml:"negative_threshold"`
}

// ToneConfig contains tone detection thresholds
type ToneConfig struct {
	PairThreshold      float64 `yaml:"pair_threshold"`
	ComponentThreshold float64 `yaml:"component_threshold"`
	RejectThreshold    float64 `yaml:"reject_threshold"`
	MinBlocks          int     `yaml:"min_blocks"`
	ReleaseBlocks      int     `yaml:"release_blocks"`
}

// SpectrogramConfig contains STFT parameters. Zero values let the engine
// pick a tier from the session duration.
type SpectrogramConfig struct {
	FFTSize int `yaml:"fft_size"`
	Hop     int `yaml:"hop"`
}

// HTTPConfig contains HTTP status API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			MaxDurationSeconds: 0,
		},
		Playback: PlaybackConfig{
			TickRateHz:   60,
			ChunkSize:    4096,
			SmoothTimeMs: 20,
			MinSpeed:     0.25,
			MaxSpeed:     4,
		},
		VAD: VADConfig{
			FrameSize:         1536,
			PositiveThreshold: 0.5,
			NegativeThreshold: 0.35,
		},
		Tone: ToneConfig{
			PairThreshold:      0.6,
			ComponentThreshold: 0.2,
			RejectThreshold:    0.15,
			MinBlocks:          3,
			ReleaseBlocks:      2,
		},
		Spectrogram: SpectrogramConfig{},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file. An empty path yields the
// default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Tone.Validate(); err != nil {
		return fmt.Errorf("tone config: %w", err)
	}

	if err := c.Spectrogram.Validate(); err != nil {
		return fmt.Errorf("spectrogram config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.MaxDurationSeconds < 0 {
		return fmt.Errorf("max_duration_seconds cannot be negative, got %f", a.MaxDurationSeconds)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	if p.TickRateHz < 1 || p.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be between 1 and 1000, got %d", p.TickRateHz)
	}

	if p.ChunkSize < 256 {
		return fmt.Errorf("chunk_size must be at least 256 samples, got %d", p.ChunkSize)
	}

	if p.SmoothTimeMs <= 0 {
		return fmt.Errorf("smooth_time_ms must be positive, got %f", p.SmoothTimeMs)
	}

	if p.MinSpeed <= 0 {
		return fmt.Errorf("min_speed must be positive, got %f", p.MinSpeed)
	}

	if p.MaxSpeed < p.MinSpeed {
		return fmt.Errorf("max_speed (%f) must be at least min_speed (%f)", p.MaxSpeed, p.MinSpeed)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.FrameSize < 256 || v.FrameSize > 8192 {
		return fmt.Errorf("frame_size must be between 256 and 8192 samples, got %d", v.FrameSize)
	}

	if v.PositiveThreshold <= 0 || v.PositiveThreshold > 1 {
		return fmt.Errorf("positive_threshold must be in (0, 1], got %f", v.PositiveThreshold)
	}

	if v.NegativeThreshold <= 0 || v.NegativeThreshold > v.PositiveThreshold {
		return fmt.Errorf("negative_threshold must be in (0, positive_threshold], got %f", v.NegativeThreshold)
	}

	return nil
}

// Validate validates tone detection configuration
func (t *ToneConfig) Validate() error {
	if t.PairThreshold <= 0 || t.PairThreshold > 1 {
		return fmt.Errorf("pair_threshold must be in (0, 1], got %f", t.PairThreshold)
	}

	if t.ComponentThreshold <= 0 || t.ComponentThreshold > t.PairThreshold {
		return fmt.Errorf("component_threshold must be in (0, pair_threshold], got %f", t.ComponentThreshold)
	}

	if t.RejectThreshold <= 0 {
		return fmt.Errorf("reject_threshold must be positive, got %f", t.RejectThreshold)
	}

	if t.MinBlocks < 1 {
		return fmt.Errorf("min_blocks must be at least 1, got %d", t.MinBlocks)
	}

	if t.ReleaseBlocks < 1 {
		return fmt.Errorf("release_blocks must be at least 1, got %d", t.ReleaseBlocks)
	}

	return nil
}

// Validate validates spectrogram configuration
func (s *SpectrogramConfig) Validate() error {
	if s.FFTSize != 0 {
		if s.FFTSize < 32 || s.FFTSize&(s.FFTSize-1) != 0 {
			return fmt.Errorf("fft_size must be a power of two >= 32, got %d", s.FFTSize)
		}
	}

	if s.Hop < 0 {
		return fmt.Errorf("hop cannot be negative, got %d", s.Hop)
	}

	if s.Hop != 0 && s.FFTSize != 0 && s.Hop > s.FFTSize {
		return fmt.Errorf("hop (%d) cannot exceed fft_size (%d)", s.Hop, s.FFTSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTickInterval returns the clock reconciliation period as a time.Duration
func (p *PlaybackConfig) GetTickInterval() time.Duration {
	return time.Second / time.Duration(p.TickRateHz)
}

// GetSmoothTime returns the parameter ramp window as a time.Duration
func (p *PlaybackConfig) GetSmoothTime() time.Duration {
	return time.Duration(p.SmoothTimeMs * float64(time.Millisecond))
}
