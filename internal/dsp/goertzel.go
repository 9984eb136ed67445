package dsp

import (
	"fmt"
	"math"
)

// Goertzel evaluates a single DFT bin without computing a full FFT.
// It is stateful: Power reflects every sample processed since the last
// Reset, so block-based callers reset between blocks.
//
// For two frequencies to be distinguishable the block length N must keep
// them more than one bin apart, i.e. separated by more than sampleRate/N Hz.
type Goertzel struct {
	frequency  float64
	sampleRate float64
	coeff      float64
	s0, s1     float64
}

// NewGoertzel creates an analyzer for one target frequency.
// frequency must lie in [0, sampleRate/2].
func NewGoertzel(frequency, sampleRate float64) (*Goertzel, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("goertzel: sample rate must be > 0: %v", sampleRate)
	}

	if frequency < 0 || frequency > sampleRate/2 || math.IsNaN(frequency) || math.IsInf(frequency, 0) {
		return nil, fmt.Errorf("goertzel: frequency must be between 0 and sampleRate/2: %v", frequency)
	}

	return &Goertzel{
		frequency:  frequency,
		sampleRate: sampleRate,
		coeff:      2 * math.Cos(2*math.Pi*frequency/sampleRate),
	}, nil
}

// Reset clears the internal state.
func (g *Goertzel) Reset() {
	g.s0 = 0
	g.s1 = 0
}

// ProcessBlock updates the internal state with a block of samples.
func (g *Goertzel) ProcessBlock(input []float64) {
	s0, s1 := g.s0, g.s1
	coeff := g.coeff

	for _, x := range input {
		s := x + coeff*s0 - s1
		s1 = s0
		s0 = s
	}

	g.s0, g.s1 = s0, s1
}

// Power returns the squared magnitude of the frequency component,
// equivalent to |X[k]|^2 of a DFT over the processed block.
func (g *Goertzel) Power() float64 {
	return g.s0*g.s0 + g.s1*g.s1 - g.coeff*g.s0*g.s1
}

// Frequency returns the target frequency.
func (g *Goertzel) Frequency() float64 { return g.frequency }

// Bank runs a fixed set of Goertzel analyzers over the same input blocks.
// The tone detector uses one Bank covering all DTMF and call-progress
// frequencies of interest.
type Bank struct {
	analyzers []*Goertzel
}

// NewBank creates analyzers for each frequency at the given sample rate.
func NewBank(frequencies []float64, sampleRate float64) (*Bank, error) {
	if len(frequencies) == 0 {
		return nil, fmt.Errorf("goertzel: bank needs at least one frequency")
	}

	analyzers := make([]*Goertzel, len(frequencies))
	for i, f := range frequencies {
		g, err := NewGoertzel(f, sampleRate)
		if err != nil {
			return nil, err
		}
		analyzers[i] = g
	}

	return &Bank{analyzers: analyzers}, nil
}

// BlockPowers resets every analyzer, processes the block once per analyzer
// and returns the per-frequency powers in input order.
func (b *Bank) BlockPowers(input []float64) []float64 {
	powers := make([]float64, len(b.analyzers))
	for i, g := range b.analyzers {
		g.Reset()
		g.ProcessBlock(input)
		powers[i] = g.Power()
	}

	return powers
}

// Size returns the number of analyzers in the bank.
func (b *Bank) Size() int { return len(b.analyzers) }
