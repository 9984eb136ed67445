package vad

import (
	"fmt"
	"math"
	"testing"
)

// scriptedScorer returns a fixed score sequence regardless of frame content.
type scriptedScorer struct {
	scores []float32
	index  int
}

func (s *scriptedScorer) Init(frameSize, sampleRate int) error { return nil }

func (s *scriptedScorer) Score(frame []float32) (float32, error) {
	if s.index >= len(s.scores) {
		return 0, fmt.Errorf("no more scripted scores")
	}
	score := s.scores[s.index]
	s.index++
	return score, nil
}

// failingScorer errors after a fixed number of frames.
type failingScorer struct {
	failAfter int
	count     int
}

func (f *failingScorer) Init(frameSize, sampleRate int) error { return nil }

func (f *failingScorer) Score(frame []float32) (float32, error) {
	if f.count >= f.failAfter {
		return 0, fmt.Errorf("model inference failed")
	}
	f.count++
	return 0.1, nil
}

func testConfig() Config {
	return Config{
		FrameSize:         4,
		SampleRate:        16000,
		PositiveThreshold: 0.5,
		NegativeThreshold: 0.35,
	}
}

func TestHysteresisSequence(t *testing.T) {
	// Score sequence from the reference behavior: 0.4 keeps speech alive
	// because it is above the negative threshold while already speaking.
	scorer := &scriptedScorer{scores: []float32{0.6, 0.4, 0.3, 0.6}}

	processor, err := NewProcessor(testConfig(), scorer)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	want := []bool{true, true, false, true}
	frame := make([]float32, 4)

	for i, expected := range want {
		result, err := processor.ProcessFrame(frame)
		if err != nil {
			t.Fatalf("Frame %d failed: %v", i, err)
		}
		if result.IsSpeech != expected {
			t.Errorf("Frame %d: expected isSpeech=%v, got %v (score %f)",
				i, expected, result.IsSpeech, result.RawScore)
		}
	}
}

func TestFrameTimestamps(t *testing.T) {
	scorer := &scriptedScorer{scores: []float32{0.1, 0.1, 0.1}}

	processor, err := NewProcessor(testConfig(), scorer)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	frameDur := 4.0 / 16000.0
	frame := make([]float32, 4)

	for i := 0; i < 3; i++ {
		result, err := processor.ProcessFrame(frame)
		if err != nil {
			t.Fatalf("Frame %d failed: %v", i, err)
		}
		want := float64(i) * frameDur
		if math.Abs(result.TimestampSeconds-want) > 1e-12 {
			t.Errorf("Frame %d: expected timestamp %f, got %f", i, want, result.TimestampSeconds)
		}
	}
}

func TestResetClearsSpeakingFlagOnly(t *testing.T) {
	scorer := &scriptedScorer{scores: []float32{0.6, 0.4, 0.4}}

	processor, err := NewProcessor(testConfig(), scorer)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	frame := make([]float32, 4)
	if _, err := processor.ProcessFrame(frame); err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	processor.Reset()

	// After reset, 0.4 is below the positive threshold, so speech must not
	// resume even though it would have persisted before the reset.
	result, err := processor.ProcessFrame(frame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	if result.IsSpeech {
		t.Error("Expected silence after reset for score below positive threshold")
	}

	if result.TimestampSeconds != 0 {
		t.Errorf("Expected frame position reset to 0, got %f", result.TimestampSeconds)
	}

	// Cumulative stats survive a reset.
	stats := processor.GetStats()
	if stats.TotalFrames != 2 {
		t.Errorf("Expected 2 total frames in stats, got %d", stats.TotalFrames)
	}
}

func TestProcessAll(t *testing.T) {
	scorer := &scriptedScorer{scores: []float32{0.6, 0.6, 0.1}}

	processor, err := NewProcessor(testConfig(), scorer)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	// 14 samples = 3 full frames + 2 leftover samples that are dropped.
	results, err := processor.ProcessAll(make([]float32, 14))
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("Expected 3 frame results, got %d", len(results))
	}

	if !results[0].IsSpeech || !results[1].IsSpeech || results[2].IsSpeech {
		t.Errorf("Expected [speech, speech, silence], got %+v", results)
	}
}

func TestScorerErrorKeepsPartialResults(t *testing.T) {
	processor, err := NewProcessor(testConfig(), &failingScorer{failAfter: 2})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	results, err := processor.ProcessAll(make([]float32, 16))
	if err == nil {
		t.Fatal("Expected error from failing scorer")
	}

	if len(results) != 2 {
		t.Errorf("Expected 2 partial results before the failure, got %d", len(results))
	}
}

func TestWrongFrameSizeRejected(t *testing.T) {
	processor, err := NewProcessor(testConfig(), &scriptedScorer{scores: []float32{0.5}})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	if _, err := processor.ProcessFrame(make([]float32, 3)); err == nil {
		t.Error("Expected error for wrong frame size")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero frame size", mutate: func(c *Config) { c.FrameSize = 0 }},
		{name: "zero sample rate", mutate: func(c *Config) { c.SampleRate = 0 }},
		{name: "positive threshold above 1", mutate: func(c *Config) { c.PositiveThreshold = 1.5 }},
		{name: "negative above positive", mutate: func(c *Config) { c.NegativeThreshold = 0.6 }},
		{name: "zero negative threshold", mutate: func(c *Config) { c.NegativeThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.mutate(&config)
			if _, err := NewProcessor(config, NewEnergyScorer()); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestEnergyScorer(t *testing.T) {
	scorer := NewEnergyScorer()
	if err := scorer.Init(8, 16000); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	silent, err := scorer.Score(make([]float32, 8))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if silent != 0 {
		t.Errorf("Expected score 0 for silence, got %f", silent)
	}

	loud := make([]float32, 8)
	for i := range loud {
		loud[i] = 0.5
	}
	score, err := scorer.Score(loud)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if score != 1 {
		t.Errorf("Expected clamped score 1 for loud frame, got %f", score)
	}

	if _, err := scorer.Score(make([]float32, 4)); err == nil {
		t.Error("Expected error for wrong frame size")
	}

	uninitialized := NewEnergyScorer()
	if _, err := uninitialized.Score(make([]float32, 8)); err == nil {
		t.Error("Expected error for uninitialized scorer")
	}
}
