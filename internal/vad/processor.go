package vad

import (
	"fmt"
	"sync"
)

// FrameResult represents the decision for one fixed-duration frame.
type FrameResult struct {
	TimestampSeconds float64 `json:"timestamp_seconds"`
	IsSpeech         bool    `json:"is_speech"`
	RawScore         float32 `json:"raw_score"`
}

// Config holds the processor parameters.
type Config struct {
	FrameSize  int // samples per frame (reference: 1536 at 16 kHz, about 96 ms)
	SampleRate int

	// PositiveThreshold starts speech when crossed from silence;
	// NegativeThreshold keeps speech alive once speaking. The gap between
	// them is the hysteresis that prevents flicker at the boundary.
	PositiveThreshold float32
	NegativeThreshold float32
}

// DefaultConfig returns processor parameters for the given sample rate.
func DefaultConfig(sampleRate int) Config {
	return Config{
		FrameSize:         1536 * sampleRate / 16000,
		SampleRate:        sampleRate,
		PositiveThreshold: 0.5,
		NegativeThreshold: 0.35,
	}
}

// Validate checks the configuration before a processor is built.
func (c *Config) Validate() error {
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}

	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}

	if c.PositiveThreshold <= 0 || c.PositiveThreshold > 1 {
		return fmt.Errorf("positive threshold must be in (0, 1], got %f", c.PositiveThreshold)
	}

	if c.NegativeThreshold <= 0 || c.NegativeThreshold >= c.PositiveThreshold {
		return fmt.Errorf("negative threshold must be in (0, positive threshold), got %f", c.NegativeThreshold)
	}

	return nil
}

// Stats is a snapshot of processor counters for monitoring.
type Stats struct {
	TotalFrames      uint64  `json:"total_frames"`
	SpeechFrames     uint64  `json:"speech_frames"`
	SpeechPercentage float64 `json:"speech_percentage"`
}

// Processor scores frames through the configured Scorer and applies the
// two-threshold hysteresis. The only cross-frame state is the speaking flag,
// which Reset clears without touching the underlying scorer.
type Processor struct {
	config Config
	scorer Scorer

	speaking     bool
	frameIndex   int
	totalFrames  uint64
	speechFrames uint64

	mu sync.Mutex
}

// NewProcessor creates a processor and initializes the scorer capability.
// A scorer init failure is an analysis-init error: the caller marks this
// pipeline unavailable and the others proceed.
func NewProcessor(config Config, scorer Scorer) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("vad config: %w", err)
	}

	if scorer == nil {
		return nil, fmt.Errorf("vad processor needs a scorer")
	}

	if err := scorer.Init(config.FrameSize, config.SampleRate); err != nil {
		return nil, fmt.Errorf("failed to initialize scorer: %w", err)
	}

	return &Processor{config: config, scorer: scorer}, nil
}

// ProcessFrame scores one frame and returns the hysteresis decision:
// speech starts when the raw score reaches the positive threshold and
// persists while it stays at or above the negative threshold.
func (p *Processor) ProcessFrame(frame []float32) (FrameResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(frame) != p.config.FrameSize {
		return FrameResult{}, fmt.Errorf("expected %d samples, got %d", p.config.FrameSize, len(frame))
	}

	score, err := p.scorer.Score(frame)
	if err != nil {
		return FrameResult{}, fmt.Errorf("scorer failed on frame %d: %w", p.frameIndex, err)
	}

	if p.speaking {
		p.speaking = score >= p.config.NegativeThreshold
	} else {
		p.speaking = score >= p.config.PositiveThreshold
	}

	result := FrameResult{
		TimestampSeconds: float64(p.frameIndex) * float64(p.config.FrameSize) / float64(p.config.SampleRate),
		IsSpeech:         p.speaking,
		RawScore:         score,
	}

	p.frameIndex++
	p.totalFrames++
	if p.speaking {
		p.speechFrames++
	}

	return result, nil
}

// ProcessAll runs the whole stream through the processor frame by frame.
// A trailing partial frame is ignored.
func (p *Processor) ProcessAll(samples []float32) ([]FrameResult, error) {
	frames := len(samples) / p.config.FrameSize
	results := make([]FrameResult, 0, frames)

	for i := 0; i < frames; i++ {
		result, err := p.ProcessFrame(samples[i*p.config.FrameSize : (i+1)*p.config.FrameSize])
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}

	return results, nil
}

// Reset clears the speaking flag and frame position without reinitializing
// the scorer.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.speaking = false
	p.frameIndex = 0
}

// GetStats returns current processor counters.
func (p *Processor) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	speechPercentage := float64(0)
	if p.totalFrames > 0 {
		speechPercentage = float64(p.speechFrames) / float64(p.totalFrames) * 100
	}

	return Stats{
		TotalFrames:      p.totalFrames,
		SpeechFrames:     p.speechFrames,
		SpeechPercentage: speechPercentage,
	}
}

// FrameSize returns the configured frame size in samples.
func (p *Processor) FrameSize() int {
	return p.config.FrameSize
}
