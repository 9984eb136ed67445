// Package spectrogram computes short-time FFT magnitude frames for
// visualization. Frames are centered on their hop position with symmetric
// zero-padding at the stream boundaries; magnitudes are left linear, any
// log or visual scaling happens outside the engine.
package spectrogram
