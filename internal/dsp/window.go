package dsp

import "math"

// HannWindow returns the n-point periodic Hann window. The spectrogram
// applies it to every frame before FFT magnitude extraction.
func HannWindow(n int) []float64 {
	if n <= 0 {
		return nil
	}

	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}

	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}

	return w
}
