package vad

import (
	"fmt"
	"math"
)

// Scorer is the probability-scoring capability: given one fixed-size frame,
// return a speech probability in [0, 1]. Implementations wrap whatever model
// backs them; the processor treats them as a black box.
type Scorer interface {
	Init(frameSize, sampleRate int) error
	Score(frame []float32) (float32, error)
}

// EnergyScorer is the built-in scorer: RMS energy mapped into [0, 1].
// It stands in where no neural model is wired up.
type EnergyScorer struct {
	frameSize int

	// ReferenceRMS is the level mapped to probability 1.0.
	ReferenceRMS float64
}

// NewEnergyScorer creates an energy scorer with the default reference level.
func NewEnergyScorer() *EnergyScorer {
	return &EnergyScorer{ReferenceRMS: 0.05}
}

// Init validates the frame geometry.
func (e *EnergyScorer) Init(frameSize, sampleRate int) error {
	if frameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", frameSize)
	}

	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if e.ReferenceRMS <= 0 {
		return fmt.Errorf("reference RMS must be positive, got %f", e.ReferenceRMS)
	}

	e.frameSize = frameSize
	return nil
}

// Score returns the clamped ratio of frame RMS to the reference level.
func (e *EnergyScorer) Score(frame []float32) (float32, error) {
	if e.frameSize == 0 {
		return 0, fmt.Errorf("scorer not initialized")
	}

	if len(frame) != e.frameSize {
		return 0, fmt.Errorf("expected %d samples, got %d", e.frameSize, len(frame))
	}

	var energy float64
	for _, sample := range frame {
		energy += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(energy / float64(len(frame)))
	probability := rms / e.ReferenceRMS
	if probability > 1 {
		probability = 1
	}

	return float32(probability), nil
}
