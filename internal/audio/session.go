package audio

import (
	"fmt"
)

// Session represents one decoded audio file: channel-separated float32 PCM
// plus the format scalars every pipeline needs. A Session is immutable once
// created; the engine replaces it wholesale on the next file load and all
// consumers read the sample buffers concurrently without locking.
type Session struct {
	SampleRate      int
	Channels        int
	DurationSeconds float64

	// ChannelData holds one sample slice per channel, all the same length.
	// Samples are in [-1, 1). Consumers must treat these as read-only.
	ChannelData [][]float32
}

// NewSession builds a Session from channel-separated samples.
func NewSession(sampleRate int, channelData [][]float32) (*Session, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if len(channelData) == 0 {
		return nil, fmt.Errorf("session needs at least one channel")
	}

	frames := len(channelData[0])
	for ch, data := range channelData {
		if len(data) != frames {
			return nil, fmt.Errorf("channel %d has %d samples, expected %d", ch, len(data), frames)
		}
	}

	return &Session{
		SampleRate:      sampleRate,
		Channels:        len(channelData),
		DurationSeconds: float64(frames) / float64(sampleRate),
		ChannelData:     channelData,
	}, nil
}

// Frames returns the per-channel sample count.
func (s *Session) Frames() int {
	return len(s.ChannelData[0])
}

// Mono returns the session downmixed to a single float64 channel, averaging
// across channels. The result is a fresh slice; analysis pipelines operate on
// this so they never alias the session buffers.
func (s *Session) Mono() []float64 {
	frames := s.Frames()
	mono := make([]float64, frames)

	if s.Channels == 1 {
		for i, v := range s.ChannelData[0] {
			mono[i] = float64(v)
		}
		return mono
	}

	scale := 1.0 / float64(s.Channels)
	for _, channel := range s.ChannelData {
		for i, v := range channel {
			mono[i] += float64(v) * scale
		}
	}

	return mono
}

// Slice returns per-channel views of the sample range [from, to), clamped to
// the session bounds. The underlying arrays are shared, not copied.
func (s *Session) Slice(from, to int) [][]float32 {
	frames := s.Frames()
	if from < 0 {
		from = 0
	}
	if to > frames {
		to = frames
	}
	if from >= to {
		return make([][]float32, s.Channels)
	}

	out := make([][]float32, s.Channels)
	for ch, data := range s.ChannelData {
		out[ch] = data[from:to]
	}

	return out
}
