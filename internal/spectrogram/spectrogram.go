package spectrogram

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/vibeaudio/engine/internal/dsp"
)

// Frame is one short-time FFT magnitude column: FFTSize/2+1 linear
// magnitudes indexed by frequency bin.
type Frame struct {
	TimeIndex  int       `json:"time_index"`
	Magnitudes []float64 `json:"magnitudes"`
}

// Params selects the FFT geometry. The engine chooses these from the file
// duration so short files keep time resolution and long files keep the
// output bounded; the computer itself is duration-agnostic.
type Params struct {
	FFTSize int `yaml:"fft_size"`
	Hop     int `yaml:"hop"`
}

// Validate checks the FFT geometry.
func (p *Params) Validate() error {
	if p.FFTSize <= 0 || p.FFTSize&(p.FFTSize-1) != 0 {
		return fmt.Errorf("fft size must be a positive power of two, got %d", p.FFTSize)
	}

	if p.Hop <= 0 || p.Hop > p.FFTSize {
		return fmt.Errorf("hop must be in [1, fft size], got %d", p.Hop)
	}

	return nil
}

// Computer turns a PCM stream into a magnitude frame sequence. It reuses
// its FFT plan and window across frames; not safe for concurrent use.
type Computer struct {
	params Params
	fft    *fourier.FFT
	window []float64
}

// NewComputer creates a computer for the given FFT geometry.
func NewComputer(params Params) (*Computer, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("spectrogram params: %w", err)
	}

	return &Computer{
		params: params,
		fft:    fourier.NewFFT(params.FFTSize),
		window: dsp.HannWindow(params.FFTSize),
	}, nil
}

// Compute returns the magnitude frames for the stream, one per hop.
// Frame t is centered on sample t*hop, so the frame count is ceil(N/hop)
// and the boundary frames draw on symmetric zero-padding.
func (c *Computer) Compute(samples []float64) []Frame {
	if len(samples) == 0 {
		return nil
	}

	fftSize := c.params.FFTSize
	hop := c.params.Hop
	numFrames := (len(samples) + hop - 1) / hop

	frames := make([]Frame, numFrames)
	buf := make([]float64, fftSize)

	for t := 0; t < numFrames; t++ {
		start := t*hop - fftSize/2

		for i := 0; i < fftSize; i++ {
			idx := start + i
			if idx < 0 || idx >= len(samples) {
				buf[i] = 0
				continue
			}
			buf[i] = samples[idx] * c.window[i]
		}

		coeffs := c.fft.Coefficients(nil, buf)
		magnitudes := make([]float64, len(coeffs))
		for bin, coeff := range coeffs {
			magnitudes[bin] = cmplx.Abs(coeff)
		}

		frames[t] = Frame{TimeIndex: t, Magnitudes: magnitudes}
	}

	return frames
}

// Params returns the configured FFT geometry.
func (c *Computer) Params() Params {
	return c.params
}

// Bins returns the number of frequency bins per frame.
func (c *Computer) Bins() int {
	return c.params.FFTSize/2 + 1
}
