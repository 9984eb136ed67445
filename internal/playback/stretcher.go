package playback

import (
	"fmt"
	"math"
)

// RateStretcher is the built-in stretch capability: a linear-interpolation
// varispeed resampler. Tempo and pitch both map onto the resample ratio
// (rate = tempo * 2^(semitones/12)), which trades fidelity for simplicity;
// a production transform slots in behind the same Stretcher interface.
type RateStretcher struct {
	channels int

	tempo float64
	pitch float64
	rate  float64

	// carry holds unconsumed tail samples per channel; phase is the
	// fractional read position into carry.
	carry [][]float32
	phase float64
}

// NewRateStretcher creates an uninitialized stretcher with unity settings.
func NewRateStretcher() *RateStretcher {
	return &RateStretcher{tempo: 1, pitch: 0, rate: 1}
}

// Init prepares the stretcher for a session format.
func (r *RateStretcher) Init(sampleRate, channels int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if channels < 1 {
		return fmt.Errorf("need at least one channel, got %d", channels)
	}

	r.channels = channels
	r.Reset()
	return nil
}

// SetTempo updates the playback speed factor. Non-positive values are
// ignored; the path validates before calling.
func (r *RateStretcher) SetTempo(factor float64) {
	if factor <= 0 {
		return
	}
	r.tempo = factor
	r.updateRate()
}

// SetPitch updates the pitch shift in semitones.
func (r *RateStretcher) SetPitch(semitones float64) {
	r.pitch = semitones
	r.updateRate()
}

func (r *RateStretcher) updateRate() {
	r.rate = r.tempo * math.Pow(2, r.pitch/12)
}

// Push consumes input frames and returns whatever output is ready.
func (r *RateStretcher) Push(input [][]float32) ([][]float32, error) {
	if r.channels == 0 {
		return nil, fmt.Errorf("stretcher not initialized")
	}

	if len(input) != r.channels {
		return nil, fmt.Errorf("expected %d channels, got %d", r.channels, len(input))
	}

	if r.carry == nil {
		r.carry = make([][]float32, r.channels)
	}

	for ch := range r.carry {
		r.carry[ch] = append(r.carry[ch], input[ch]...)
	}

	return r.drain(false), nil
}

// Flush emits the remaining buffered output and clears the carry.
func (r *RateStretcher) Flush() ([][]float32, error) {
	if r.channels == 0 {
		return nil, fmt.Errorf("stretcher not initialized")
	}

	out := r.drain(true)
	r.Reset()
	return out, nil
}

// Reset clears all buffered state; settings survive.
func (r *RateStretcher) Reset() {
	r.carry = nil
	r.phase = 0
}

// drain interpolates output samples while enough carry remains. When final
// is set the last sample is emitted without a right neighbor.
func (r *RateStretcher) drain(final bool) [][]float32 {
	if r.carry == nil || len(r.carry[0]) == 0 {
		return nil
	}

	limit := float64(len(r.carry[0]) - 1)
	if final {
		limit = float64(len(r.carry[0])) - 1e-9
	}

	var outLen int
	for p := r.phase; p < limit; p += r.rate {
		outLen++
	}

	if outLen == 0 {
		return nil
	}

	out := make([][]float32, r.channels)
	for ch := range out {
		out[ch] = make([]float32, outLen)
		p := r.phase
		for i := 0; i < outLen; i++ {
			idx := int(p)
			frac := float32(p - float64(idx))
			s0 := r.carry[ch][idx]
			s1 := s0
			if idx+1 < len(r.carry[ch]) {
				s1 = r.carry[ch][idx+1]
			}
			out[ch][i] = s0 + (s1-s0)*frac
			p += r.rate
		}
	}

	r.phase += float64(outLen) * r.rate

	// Drop fully consumed carry samples, keeping one for interpolation.
	consumed := int(r.phase)
	if consumed > 0 {
		keepFrom := consumed
		if keepFrom > len(r.carry[0]) {
			keepFrom = len(r.carry[0])
		}
		for ch := range r.carry {
			r.carry[ch] = append([]float32(nil), r.carry[ch][keepFrom:]...)
		}
		r.phase -= float64(keepFrom)
	}

	return out
}
