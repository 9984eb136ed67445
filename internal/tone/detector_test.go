package tone

import (
	"math"
	"testing"
)

const testSampleRate = 16000

// tonePair synthesizes n samples containing the sum of two sines.
func tonePair(lowHz, highHz, amplitude float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / testSampleRate
		out[i] = amplitude * (math.Sin(2*math.Pi*lowHz*t) + math.Sin(2*math.Pi*highHz*t))
	}
	return out
}

// singleTone synthesizes n samples of one sine.
func singleTone(hz, amplitude float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*hz*float64(i)/testSampleRate)
	}
	return out
}

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	detector, err := NewDetector(DefaultConfig(testSampleRate))
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	return detector
}

func TestDetectDTMFDigitOne(t *testing.T) {
	detector := newTestDetector(t)

	// 697+1209 Hz for well past the debounce duration.
	samples := tonePair(697, 1209, 0.4, 410*10)
	events := detector.Detect(samples)

	if len(events) != 1 {
		t.Fatalf("Expected exactly one event, got %d: %v", len(events), events)
	}

	if events[0].Symbol != "1" {
		t.Errorf("Expected symbol \"1\", got %q", events[0].Symbol)
	}

	if events[0].Confidence <= 0 || events[0].Confidence > 1 {
		t.Errorf("Expected confidence in (0, 1], got %f", events[0].Confidence)
	}

	if events[0].StartSeconds != 0 {
		t.Errorf("Expected start at 0, got %f", events[0].StartSeconds)
	}
}

func TestDetectAllDTMFSymbols(t *testing.T) {
	detector := newTestDetector(t)

	rows := []float64{697, 770, 852, 941}
	cols := []float64{1209, 1336, 1477, 1633}
	symbols := [4][4]string{
		{"1", "2", "3", "A"},
		{"4", "5", "6", "B"},
		{"7", "8", "9", "C"},
		{"*", "0", "#", "D"},
	}

	for i, row := range rows {
		for j, col := range cols {
			events := detector.Detect(tonePair(row, col, 0.4, 410*8))
			if len(events) != 1 || events[0].Symbol != symbols[i][j] {
				t.Errorf("Pair %.0f+%.0f Hz: expected one %q event, got %v",
					row, col, symbols[i][j], events)
			}
		}
	}
}

func TestSingleFrequencySuppressed(t *testing.T) {
	detector := newTestDetector(t)

	tests := []struct {
		name string
		hz   float64
	}{
		{name: "row only", hz: 697},
		{name: "column only", hz: 1209},
		{name: "off-grid 1000 Hz", hz: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := detector.Detect(singleTone(tt.hz, 0.8, 410*10))
			if len(events) != 0 {
				t.Errorf("Expected no events for %s, got %v", tt.name, events)
			}
		})
	}
}

func TestDetectBusyTone(t *testing.T) {
	detector := newTestDetector(t)

	// 5 s mono: silence, 1 s of 480+620 Hz at t=2 s, silence.
	samples := make([]float64, 5*testSampleRate)
	toneStart := 2 * testSampleRate
	burst := tonePair(480, 620, 0.4, testSampleRate)
	copy(samples[toneStart:], burst)

	events := detector.Detect(samples)
	if len(events) != 1 {
		t.Fatalf("Expected exactly one event, got %d: %v", len(events), events)
	}

	if events[0].Symbol != "busy" {
		t.Errorf("Expected busy category, got %q", events[0].Symbol)
	}

	blockDur := detector.BlockDuration()
	if math.Abs(events[0].StartSeconds-2.0) > blockDur {
		t.Errorf("Expected start near 2.0s (within one block), got %f", events[0].StartSeconds)
	}

	if math.Abs(events[0].EndSeconds-3.0) > 2*blockDur {
		t.Errorf("Expected end near 3.0s, got %f", events[0].EndSeconds)
	}
}

func TestCPTPriorityOrder(t *testing.T) {
	detector := newTestDetector(t)

	tests := []struct {
		name string
		low  float64
		high float64
		want string
	}{
		{name: "busy pair", low: 480, high: 620, want: "busy"},
		{name: "ringback pair", low: 440, high: 480, want: "ringback"},
		{name: "dial pair", low: 350, high: 440, want: "dial"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := detector.Detect(tonePair(tt.low, tt.high, 0.4, 410*10))
			if len(events) != 1 {
				t.Fatalf("Expected one event, got %v", events)
			}
			if events[0].Symbol != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, events[0].Symbol)
			}
		})
	}
}

func TestDebounceSuppressesShortBursts(t *testing.T) {
	detector := newTestDetector(t)

	// Two blocks of tone is below the three-block debounce.
	events := detector.Detect(tonePair(697, 1209, 0.4, 410*2))
	if len(events) != 0 {
		t.Errorf("Expected short burst suppressed, got %v", events)
	}
}

func TestContinuousToneEmitsOnce(t *testing.T) {
	detector := newTestDetector(t)

	// One long tone with a single-block dropout shorter than the release
	// duration must still be one event.
	samples := tonePair(697, 1209, 0.4, 410*6)
	dropout := make([]float64, 410)
	samples = append(samples, dropout...)
	samples = append(samples, tonePair(697, 1209, 0.4, 410*6)...)

	events := detector.Detect(samples)
	if len(events) != 1 {
		t.Fatalf("Expected one merged event across sub-release dropout, got %d: %v", len(events), events)
	}
}

func TestSeparatedTonesEmitTwice(t *testing.T) {
	detector := newTestDetector(t)

	samples := tonePair(697, 1209, 0.4, 410*5)
	samples = append(samples, make([]float64, 410*4)...) // past release duration
	samples = append(samples, tonePair(697, 1209, 0.4, 410*5)...)

	events := detector.Detect(samples)
	if len(events) != 2 {
		t.Fatalf("Expected two events for separated tones, got %d: %v", len(events), events)
	}
}

func TestSilenceProducesNoEvents(t *testing.T) {
	detector := newTestDetector(t)

	events := detector.Detect(make([]float64, 410*20))
	if len(events) != 0 {
		t.Errorf("Expected no events in silence, got %v", events)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero sample rate", mutate: func(c *Config) { c.SampleRate = 0 }},
		{name: "zero block size", mutate: func(c *Config) { c.BlockSize = 0 }},
		{name: "zero pair threshold", mutate: func(c *Config) { c.PairThreshold = 0 }},
		{name: "component above pair", mutate: func(c *Config) { c.ComponentThreshold = 0.9 }},
		{name: "zero min blocks", mutate: func(c *Config) { c.MinBlocks = 0 }},
		{name: "zero release blocks", mutate: func(c *Config) { c.ReleaseBlocks = 0 }},
		{name: "unnamed cpt entry", mutate: func(c *Config) { c.CPT = []CPTSpec{{LowHz: 100, HighHz: 200}} }},
		{name: "inverted cpt pair", mutate: func(c *Config) {
			c.CPT = []CPTSpec{{Name: "x", LowHz: 400, HighHz: 300}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig(testSampleRate)
			tt.mutate(&config)
			if _, err := NewDetector(config); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}
