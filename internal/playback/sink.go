package playback

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vibeaudio/engine/internal/audio"
)

// NullSink discards audio while keeping an accurate elapsed-output counter.
// With Realtime set it paces writes against the wall clock, which makes the
// CLI behave like a real output device without one being present.
type NullSink struct {
	sampleRate int
	realtime   bool

	mu      sync.Mutex
	samples int64
	started time.Time
}

// NewNullSink creates a sink for the given format.
func NewNullSink(sampleRate int, realtime bool) *NullSink {
	return &NullSink{
		sampleRate: sampleRate,
		realtime:   realtime,
		started:    time.Now(),
	}
}

// Write accounts the frames and, in realtime mode, sleeps until the wall
// clock catches up with the audio written so far.
func (n *NullSink) Write(frames [][]float32) error {
	if len(frames) == 0 || len(frames[0]) == 0 {
		return nil
	}

	n.mu.Lock()
	n.samples += int64(len(frames[0]))
	written := time.Duration(n.samples) * time.Second / time.Duration(n.sampleRate)
	wall := time.Since(n.started)
	n.mu.Unlock()

	if n.realtime && written > wall {
		time.Sleep(written - wall)
	}

	return nil
}

// Elapsed returns the duration of audio written so far.
func (n *NullSink) Elapsed() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return time.Duration(n.samples) * time.Second / time.Duration(n.sampleRate)
}

// Close is a no-op for the null sink.
func (n *NullSink) Close() error { return nil }

// FileSink accumulates the processed stream and writes it out as a WAV file
// on Close.
type FileSink struct {
	path       string
	sampleRate int
	channels   int

	mu      sync.Mutex
	buffers [][]float32
	closed  bool
}

// NewFileSink creates a sink that will write the stream to path on Close.
func NewFileSink(path string, sampleRate, channels int) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("file sink needs a path")
	}

	if sampleRate <= 0 || channels < 1 {
		return nil, fmt.Errorf("invalid format: %d Hz, %d channels", sampleRate, channels)
	}

	buffers := make([][]float32, channels)
	return &FileSink{
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
		buffers:    buffers,
	}, nil
}

// Write appends the frames to the in-memory stream.
func (f *FileSink) Write(frames [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("file sink already closed")
	}

	if len(frames) != f.channels {
		return fmt.Errorf("expected %d channels, got %d", f.channels, len(frames))
	}

	for ch := range frames {
		f.buffers[ch] = append(f.buffers[ch], frames[ch]...)
	}

	return nil
}

// Elapsed returns the duration of audio written so far.
func (f *FileSink) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Duration(len(f.buffers[0])) * time.Second / time.Duration(f.sampleRate)
}

// Close encodes the accumulated stream as 16-bit PCM WAV and writes it to
// the configured path.
func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	if len(f.buffers[0]) == 0 {
		return nil
	}

	data, err := audio.EncodeWAV(f.buffers, f.sampleRate)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	if err := os.WriteFile(f.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	return nil
}
