package tone

import (
	"fmt"
	"math"

	"github.com/vibeaudio/engine/internal/dsp"
)

// Standard DTMF frequency grid. Row i + column j selects dtmfSymbols[i][j].
var (
	dtmfRows    = []float64{697, 770, 852, 941}
	dtmfColumns = []float64{1209, 1336, 1477, 1633}
	dtmfSymbols = [4][4]string{
		{"1", "2", "3", "A"},
		{"4", "5", "6", "B"},
		{"7", "8", "9", "C"},
		{"*", "0", "#", "D"},
	}
)

// Event represents one detected tone with block-derived timestamps.
// Events are append-only and immutable once emitted.
type Event struct {
	Symbol       string  `json:"symbol"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Confidence   float64 `json:"confidence"`
}

// CPTSpec names one call-progress tone category and its frequency pair.
// The table is configuration: slice order is the evaluation priority.
type CPTSpec struct {
	Name   string  `yaml:"name" json:"name"`
	LowHz  float64 `yaml:"low_hz" json:"low_hz"`
	HighHz float64 `yaml:"high_hz" json:"high_hz"`
}

// DefaultCPTTable returns the built-in call-progress pairs in priority order.
func DefaultCPTTable() []CPTSpec {
	return []CPTSpec{
		{Name: "busy", LowHz: 480, HighHz: 620},
		{Name: "reorder", LowHz: 480, HighHz: 620},
		{Name: "ringback", LowHz: 440, HighHz: 480},
		{Name: "dial", LowHz: 350, HighHz: 440},
	}
}

// Config holds the detector parameters.
type Config struct {
	SampleRate int
	BlockSize  int // samples per analysis block

	// PairThreshold is the minimum combined normalized energy of the two
	// target frequencies; ComponentThreshold the minimum for each member;
	// RejectThreshold the maximum any non-target frequency may carry.
	PairThreshold      float64
	ComponentThreshold float64
	RejectThreshold    float64

	// SilenceFloor is the minimum mean-square block energy considered at all.
	SilenceFloor float64

	// MinBlocks is the debounce: consecutive matching blocks required
	// before an event is emitted. ReleaseBlocks is how long the match must
	// stay absent before the same symbol may be emitted again.
	MinBlocks     int
	ReleaseBlocks int

	CPT []CPTSpec
}

// DefaultConfig returns detector parameters for the given sample rate
// (reference block of 410 samples at 16 kHz, about 25.6 ms).
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:         sampleRate,
		BlockSize:          410 * sampleRate / 16000,
		PairThreshold:      0.6,
		ComponentThreshold: 0.2,
		RejectThreshold:    0.15,
		SilenceFloor:       1e-6,
		MinBlocks:          3,
		ReleaseBlocks:      2,
		CPT:                DefaultCPTTable(),
	}
}

// Validate checks the configuration before a detector is built.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}

	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	}

	if c.PairThreshold <= 0 || c.PairThreshold > 2 {
		return fmt.Errorf("pair threshold must be in (0, 2], got %f", c.PairThreshold)
	}

	if c.ComponentThreshold <= 0 || c.ComponentThreshold >= c.PairThreshold {
		return fmt.Errorf("component threshold must be in (0, pair threshold), got %f", c.ComponentThreshold)
	}

	if c.RejectThreshold <= 0 {
		return fmt.Errorf("reject threshold must be positive, got %f", c.RejectThreshold)
	}

	if c.MinBlocks < 1 {
		return fmt.Errorf("min blocks must be at least 1, got %d", c.MinBlocks)
	}

	if c.ReleaseBlocks < 1 {
		return fmt.Errorf("release blocks must be at least 1, got %d", c.ReleaseBlocks)
	}

	for i, spec := range c.CPT {
		if spec.Name == "" {
			return fmt.Errorf("cpt entry %d: name cannot be empty", i)
		}
		if spec.LowHz <= 0 || spec.HighHz <= spec.LowHz {
			return fmt.Errorf("cpt entry %q: need 0 < low (%f) < high (%f)", spec.Name, spec.LowHz, spec.HighHz)
		}
	}

	return nil
}

// Detector classifies a PCM stream into tone events. It is not safe for
// concurrent use; the worker layer runs one detector per pipeline.
type Detector struct {
	config      Config
	bank        *dsp.Bank
	frequencies []float64
	freqIndex   map[float64]int
}

// NewDetector builds a detector with one Goertzel bank covering the DTMF
// grid plus every configured call-progress frequency.
func NewDetector(config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("tone config: %w", err)
	}

	freqIndex := make(map[float64]int)
	frequencies := make([]float64, 0, 16)

	add := func(f float64) {
		if _, seen := freqIndex[f]; !seen {
			freqIndex[f] = len(frequencies)
			frequencies = append(frequencies, f)
		}
	}

	for _, f := range dtmfRows {
		add(f)
	}
	for _, f := range dtmfColumns {
		add(f)
	}
	for _, spec := range config.CPT {
		add(spec.LowHz)
		add(spec.HighHz)
	}

	bank, err := dsp.NewBank(frequencies, float64(config.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("tone detector: %w", err)
	}

	return &Detector{
		config:      config,
		bank:        bank,
		frequencies: frequencies,
		freqIndex:   freqIndex,
	}, nil
}

// blockMatch is the per-block classification result.
type blockMatch struct {
	symbol     string
	confidence float64
}

// Detect processes the full stream and returns the ordered, de-duplicated
// event sequence. A trailing partial block is ignored.
func (d *Detector) Detect(samples []float64) []Event {
	blockDur := float64(d.config.BlockSize) / float64(d.config.SampleRate)
	events := make([]Event, 0)

	var (
		pendingSym   string
		pendingStart int
		pendingCount int
		confSum      float64
		lastMatch    int
		gap          int
	)

	finalize := func() {
		if pendingSym != "" && pendingCount >= d.config.MinBlocks {
			events = append(events, Event{
				Symbol:       pendingSym,
				StartSeconds: float64(pendingStart) * blockDur,
				EndSeconds:   float64(lastMatch+1) * blockDur,
				Confidence:   math.Min(1, confSum/float64(pendingCount)),
			})
		}
		pendingSym = ""
		pendingCount = 0
		confSum = 0
		gap = 0
	}

	numBlocks := len(samples) / d.config.BlockSize
	for block := 0; block < numBlocks; block++ {
		match := d.classifyBlock(samples[block*d.config.BlockSize : (block+1)*d.config.BlockSize])

		switch {
		case match.symbol != "" && match.symbol == pendingSym:
			pendingCount++
			confSum += match.confidence
			lastMatch = block
			gap = 0

		case match.symbol != "" && pendingSym == "":
			pendingSym = match.symbol
			pendingStart = block
			pendingCount = 1
			confSum = match.confidence
			lastMatch = block

		case match.symbol != "" && match.symbol != pendingSym:
			finalize()
			pendingSym = match.symbol
			pendingStart = block
			pendingCount = 1
			confSum = match.confidence
			lastMatch = block

		case match.symbol == "" && pendingSym != "":
			gap++
			if gap >= d.config.ReleaseBlocks {
				finalize()
			}
		}
	}

	finalize()
	return events
}

// classifyBlock evaluates one block: DTMF first, strictly satisfied, then
// the call-progress categories in configured priority order.
func (d *Detector) classifyBlock(block []float64) blockMatch {
	var energy float64
	for _, x := range block {
		energy += x * x
	}

	n := float64(len(block))
	if energy/n < d.config.SilenceFloor {
		return blockMatch{}
	}

	powers := d.bank.BlockPowers(block)

	// Normalize so one pure full-energy tone scores 1.0 regardless of level:
	// for a sine of amplitude A, power ~ (A*n/2)^2 and energy ~ A^2*n/2.
	norm := make([]float64, len(powers))
	for i, p := range powers {
		norm[i] = 2 * p / (n * energy)
	}

	if sym, conf, ok := d.matchDTMF(norm); ok {
		return blockMatch{symbol: sym, confidence: conf}
	}

	for _, spec := range d.config.CPT {
		low := norm[d.freqIndex[spec.LowHz]]
		high := norm[d.freqIndex[spec.HighHz]]
		if d.pairSatisfied(norm, low, high, spec.LowHz, spec.HighHz) {
			return blockMatch{symbol: spec.Name, confidence: math.Min(1, low+high)}
		}
	}

	return blockMatch{}
}

// matchDTMF picks the strongest row and column bins and applies the strict
// two-frequency criterion.
func (d *Detector) matchDTMF(norm []float64) (string, float64, bool) {
	bestRow, bestCol := 0, 0
	for i := 1; i < len(dtmfRows); i++ {
		if norm[d.freqIndex[dtmfRows[i]]] > norm[d.freqIndex[dtmfRows[bestRow]]] {
			bestRow = i
		}
	}
	for j := 1; j < len(dtmfColumns); j++ {
		if norm[d.freqIndex[dtmfColumns[j]]] > norm[d.freqIndex[dtmfColumns[bestCol]]] {
			bestCol = j
		}
	}

	rowE := norm[d.freqIndex[dtmfRows[bestRow]]]
	colE := norm[d.freqIndex[dtmfColumns[bestCol]]]
	if !d.pairSatisfied(norm, rowE, colE, dtmfRows[bestRow], dtmfColumns[bestCol]) {
		return "", 0, false
	}

	return dtmfSymbols[bestRow][bestCol], math.Min(1, rowE+colE), true
}

// pairSatisfied applies the three-part criterion: both members above the
// component threshold, combined energy above the pair threshold, and every
// other monitored frequency below the rejection threshold.
func (d *Detector) pairSatisfied(norm []float64, low, high, lowHz, highHz float64) bool {
	if low < d.config.ComponentThreshold || high < d.config.ComponentThreshold {
		return false
	}

	if low+high < d.config.PairThreshold {
		return false
	}

	for i, f := range d.frequencies {
		if f == lowHz || f == highHz {
			continue
		}
		if norm[i] > d.config.RejectThreshold {
			return false
		}
	}

	return true
}

// BlockDuration returns the length of one analysis block in seconds.
func (d *Detector) BlockDuration() float64 {
	return float64(d.config.BlockSize) / float64(d.config.SampleRate)
}
