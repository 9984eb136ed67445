package playback

import "time"

// Stretcher is the time-stretch transform capability: push input frames,
// pull output frames, set tempo and pitch. Implementations may buffer
// internally and are not expected to be repositionable mid-stream; the
// path stops feeding, calls Reset and restarts around every seek.
type Stretcher interface {
	Init(sampleRate, channels int) error
	SetTempo(factor float64)
	SetPitch(semitones float64)
	Push(input [][]float32) ([][]float32, error)
	Flush() ([][]float32, error)
	Reset()
}

// Sink accepts processed audio frames and exposes a monotonic
// elapsed-output-time counter. The counter is the authoritative clock for
// the path's time estimate.
type Sink interface {
	Write(frames [][]float32) error
	Elapsed() time.Duration
	Close() error
}

// SinkFactory builds a sink for a session's format. The path calls it on
// load and once more if a transient output error forces a sink rebuild.
type SinkFactory func(sampleRate, channels int) (Sink, error)
