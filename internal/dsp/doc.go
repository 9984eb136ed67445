// Package dsp holds the small signal-processing primitives shared by the
// analysis pipelines: Goertzel single-bin DFT evaluation for tone detection
// and window functions for spectral analysis.
package dsp
