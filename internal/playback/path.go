package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/vibeaudio/engine/internal/audio"
)

// State is the playback path lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoaded
	StatePlaying
	StatePaused
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	// ErrNotReady is returned for transport commands without a loaded session.
	ErrNotReady = errors.New("playback: no session loaded")

	// ErrLoad marks a failed load attempt: the transform or sink could not
	// be initialized for the session format. Surfaced, not retried.
	ErrLoad = errors.New("playback: load failed")
)

// Config holds the path parameters.
type Config struct {
	// TickInterval is the clock-reconciliation period (target ~60 Hz).
	TickInterval time.Duration
	// ChunkSize is the number of source samples fed per iteration.
	ChunkSize int
	// SmoothTime is the ramp window for speed/pitch/gain changes.
	SmoothTime time.Duration
}

// DefaultConfig returns the standard path parameters.
func DefaultConfig() Config {
	return Config{
		TickInterval: 16 * time.Millisecond,
		ChunkSize:    4096,
		SmoothTime:   20 * time.Millisecond,
	}
}

// Validate checks the path parameters.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}

	if c.SmoothTime <= 0 {
		return fmt.Errorf("smooth time must be positive, got %v", c.SmoothTime)
	}

	return nil
}

// Path drives a session through the stretch transform into the sink and
// maintains the time estimate. All state is guarded by one mutex; the
// feeder and clock goroutines run only while Playing.
//
// The clock tick is the single fast path allowed to publish the time
// estimate directly (via the time listener); every other state change goes
// through the engine's command flow.
type Path struct {
	logger    *slog.Logger
	config    Config
	stretcher Stretcher
	newSink   SinkFactory

	mu      sync.Mutex
	state   State
	session *audio.Session
	sink    Sink
	pos     int // next source sample to feed

	// Target parameters; effective values ramp toward them while playing.
	speed float64
	pitch float64
	gain  float64

	effSpeed float64
	effPitch float64
	effGain  float64

	// estimate is authoritative published time; baseEstimate/baseElapsed
	// anchor the sink-counter projection since the last rebase.
	estimate     float64
	baseEstimate float64
	baseElapsed  time.Duration

	feedCancel context.CancelFunc
	feedWG     *sync.WaitGroup

	onTime        func(seconds float64)
	onFinished    func()
	onError       func(err error)
	onSinkRebuild func()
}

// NewPath creates a path around the given transform and sink factory.
func NewPath(logger *slog.Logger, config Config, stretcher Stretcher, newSink SinkFactory) (*Path, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("playback config: %w", err)
	}

	if stretcher == nil || newSink == nil {
		return nil, fmt.Errorf("playback path needs a stretcher and a sink factory")
	}

	return &Path{
		logger:    logger,
		config:    config,
		stretcher: stretcher,
		newSink:   newSink,
		speed:     1,
		gain:      1,
		effSpeed:  1,
		effGain:   1,
	}, nil
}

// SetTimeListener registers the high-frequency time-estimate callback.
// Must be called before Play.
func (p *Path) SetTimeListener(fn func(seconds float64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTime = fn
}

// SetFinishedListener registers the natural end-of-stream callback.
func (p *Path) SetFinishedListener(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFinished = fn
}

// SetErrorListener registers the fatal-error callback.
func (p *Path) SetErrorListener(fn func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

// SetSinkRebuildListener registers a callback invoked each time a sink is
// replaced after a transient write error.
func (p *Path) SetSinkRebuildListener(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSinkRebuild = fn
}

// Load replaces the current session. The transform and sink are
// (re)initialized for the session format; failure is fatal for this load
// attempt and leaves the path Idle.
func (p *Path) Load(session *audio.Session) error {
	p.stopFeeding()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sink != nil {
		if err := p.sink.Close(); err != nil {
			p.logger.Warn("Error closing previous sink", slog.String("error", err.Error()))
		}
		p.sink = nil
	}

	p.state = StateIdle
	p.session = nil
	p.pos = 0
	p.estimate = 0

	if err := p.stretcher.Init(session.SampleRate, session.Channels); err != nil {
		return fmt.Errorf("%w: stretch transform init: %v", ErrLoad, err)
	}

	sink, err := p.newSink(session.SampleRate, session.Channels)
	if err != nil {
		return fmt.Errorf("%w: output sink init: %v", ErrLoad, err)
	}

	p.session = session
	p.sink = sink
	p.state = StateLoaded
	p.applyParamsLocked()

	p.logger.Info("Session loaded into playback path",
		slog.Int("sample_rate", session.SampleRate),
		slog.Int("channels", session.Channels),
		slog.Float64("duration", session.DurationSeconds),
	)

	return nil
}

// Close stops any playback and releases the output sink. The path is Idle
// afterwards and may be reused with a fresh Load.
func (p *Path) Close() error {
	p.stopFeeding()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateIdle
	p.session = nil
	if p.sink != nil {
		err := p.sink.Close()
		p.sink = nil
		return err
	}
	return nil
}

// Play starts or resumes output. A no-op while already Playing.
func (p *Path) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StatePlaying:
		return nil
	case StateIdle:
		return ErrNotReady
	}

	if p.pos >= p.session.Frames() {
		p.pos = 0
		p.estimate = 0
	}

	p.applyParamsLocked()
	p.startFeedingLocked()
	return nil
}

// Pause suspends output, capturing the instantaneous time estimate so
// resume is seamless. Calling Pause twice is equivalent to calling it once.
func (p *Path) Pause() error {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return nil
	}

	p.estimate = p.estimateLocked()
	p.state = StatePaused
	cancel, wg := p.feedCancel, p.feedWG
	p.mu.Unlock()

	cancel()
	wg.Wait()
	return nil
}

// Stop returns a loaded path to the start of the session.
func (p *Path) Stop() error {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return ErrNotReady
	}

	wasPlaying := p.state == StatePlaying
	cancel, wg := p.feedCancel, p.feedWG
	p.state = StateLoaded
	p.pos = 0
	p.estimate = 0
	p.baseEstimate = 0
	p.mu.Unlock()

	if wasPlaying {
		cancel()
		wg.Wait()
	}

	p.mu.Lock()
	p.stretcher.Reset()
	p.mu.Unlock()
	return nil
}

// Seek repositions the source, clamping the target into [0, duration].
// While Playing, output is paused, the transform reset and feeding resumed,
// because the transform cannot be repositioned safely mid-stream.
func (p *Path) Seek(targetSeconds float64) error {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return ErrNotReady
	}

	if targetSeconds < 0 || math.IsNaN(targetSeconds) {
		targetSeconds = 0
	}
	if targetSeconds > p.session.DurationSeconds {
		targetSeconds = p.session.DurationSeconds
	}

	wasPlaying := p.state == StatePlaying
	if wasPlaying {
		p.state = StatePaused
		cancel, wg := p.feedCancel, p.feedWG
		p.mu.Unlock()
		cancel()
		wg.Wait()
		p.mu.Lock()
	}

	p.stretcher.Reset()
	p.pos = int(targetSeconds * float64(p.session.SampleRate))
	p.estimate = targetSeconds
	p.baseEstimate = targetSeconds

	if wasPlaying {
		p.startFeedingLocked()
	}

	p.mu.Unlock()
	return nil
}

// SetSpeed updates the playback speed factor. Applied with a short ramp
// while Playing; otherwise pending until the next Play.
func (p *Path) SetSpeed(factor float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("speed factor must be positive, got %f", factor)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StatePlaying {
		p.rebaseLocked()
	}
	p.speed = factor
	return nil
}

// SetPitch updates the pitch shift in semitones.
func (p *Path) SetPitch(semitones float64) error {
	if math.IsNaN(semitones) || math.IsInf(semitones, 0) {
		return fmt.Errorf("pitch must be finite, got %f", semitones)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pitch = semitones
	return nil
}

// SetGain updates the output gain factor.
func (p *Path) SetGain(factor float64) error {
	if factor < 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("gain factor must be non-negative, got %f", factor)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = factor
	return nil
}

// State returns the current lifecycle state.
func (p *Path) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Estimate returns the current time estimate in seconds.
func (p *Path) Estimate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimateLocked()
}

// Params returns the target speed, pitch and gain.
func (p *Path) Params() (speed, pitch, gain float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed, p.pitch, p.gain
}

// Duration returns the loaded session duration, or 0 when Idle.
func (p *Path) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return 0
	}
	return p.session.DurationSeconds
}

// applyParamsLocked makes the effective parameters match the targets
// immediately (used at load and play, where no ramp is audible).
func (p *Path) applyParamsLocked() {
	p.effSpeed = p.speed
	p.effPitch = p.pitch
	p.effGain = p.gain
	p.stretcher.SetTempo(p.effSpeed)
	p.stretcher.SetPitch(p.effPitch)
}

// rebaseLocked re-anchors the sink-counter projection at the current
// estimate, so parameter changes never move the estimate backward.
func (p *Path) rebaseLocked() {
	p.estimate = p.estimateLocked()
	p.baseEstimate = p.estimate
	if p.sink != nil {
		p.baseElapsed = p.sink.Elapsed()
	}
}

// estimateLocked derives the time estimate from the sink's elapsed-output
// counter. The estimate only ever converges toward the sink counter and is
// clamped into [0, duration]; it never moves backward except through an
// explicit seek or stop.
func (p *Path) estimateLocked() float64 {
	if p.state != StatePlaying || p.sink == nil {
		return p.estimate
	}

	est := p.baseEstimate + p.speed*(p.sink.Elapsed()-p.baseElapsed).Seconds()
	if est < p.estimate {
		est = p.estimate
	}
	if est > p.session.DurationSeconds {
		est = p.session.DurationSeconds
	}

	return est
}

// startFeedingLocked launches the feeder and clock goroutines.
func (p *Path) startFeedingLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	p.state = StatePlaying
	p.feedCancel = cancel
	p.feedWG = wg
	p.baseEstimate = p.estimate
	p.baseElapsed = p.sink.Elapsed()

	wg.Add(2)
	go p.feedLoop(ctx, wg)
	go p.clockLoop(ctx, wg)
}

// stopFeeding halts any active feeder without changing transport state
// beyond what the caller already set. Safe to call in any state.
func (p *Path) stopFeeding() {
	p.mu.Lock()
	cancel, wg := p.feedCancel, p.feedWG
	if p.state == StatePlaying {
		p.state = StateLoaded
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		wg.Wait()
	}
}

// feedLoop pushes source chunks through the transform into the sink until
// the session ends, the state changes or a fatal error occurs.
func (p *Path) feedLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		if p.state != StatePlaying {
			p.mu.Unlock()
			return
		}

		session := p.session
		from := p.pos
		to := from + p.config.ChunkSize
		if to > session.Frames() {
			to = session.Frames()
		}
		p.pos = to

		gainFrom := p.effGain
		p.smoothParamsLocked(to - from)
		gainTo := p.effGain
		sink := p.sink
		p.mu.Unlock()

		input := session.Slice(from, to)

		out, err := p.stretcher.Push(input)
		if err != nil {
			p.fatal(fmt.Errorf("stretch transform failed: %w", err))
			return
		}

		applyGainRamp(out, gainFrom, gainTo)

		if err := p.writeWithRetry(sink, out); err != nil {
			p.fatal(err)
			return
		}

		if to >= session.Frames() {
			p.finishStream()
			return
		}
	}
}

// smoothParamsLocked steps the effective parameters toward their targets,
// sized so a change completes within roughly SmoothTime of source audio.
func (p *Path) smoothParamsLocked(chunkSamples int) {
	if p.session == nil || chunkSamples <= 0 {
		return
	}

	chunkDur := float64(chunkSamples) / float64(p.session.SampleRate)
	alpha := chunkDur / p.config.SmoothTime.Seconds()
	if alpha > 1 {
		alpha = 1
	}

	p.effSpeed += (p.speed - p.effSpeed) * alpha
	p.effPitch += (p.pitch - p.effPitch) * alpha
	p.effGain += (p.gain - p.effGain) * alpha

	p.stretcher.SetTempo(p.effSpeed)
	p.stretcher.SetPitch(p.effPitch)
}

// writeWithRetry writes to the sink, rebuilding it once on a transient
// output error before giving up.
func (p *Path) writeWithRetry(sink Sink, frames [][]float32) error {
	if len(frames) == 0 || len(frames[0]) == 0 {
		return nil
	}

	err := sink.Write(frames)
	if err == nil {
		return nil
	}

	p.logger.Warn("Output sink write failed, rebuilding sink once",
		slog.String("error", err.Error()),
	)

	p.mu.Lock()
	session := p.session
	if session == nil {
		p.mu.Unlock()
		return err
	}

	rebuilt, buildErr := p.newSink(session.SampleRate, session.Channels)
	if buildErr != nil {
		p.mu.Unlock()
		return fmt.Errorf("sink rebuild failed after write error: %w", buildErr)
	}

	if closeErr := p.sink.Close(); closeErr != nil {
		p.logger.Warn("Error closing failed sink", slog.String("error", closeErr.Error()))
	}

	p.sink = rebuilt
	p.rebaseLocked()
	onRebuild := p.onSinkRebuild
	p.mu.Unlock()

	if onRebuild != nil {
		onRebuild()
	}

	if err := rebuilt.Write(frames); err != nil {
		return fmt.Errorf("output sink failed after rebuild: %w", err)
	}

	return nil
}

// finishStream handles natural end-of-stream: flush the transform, drain
// the tail and transition to Loaded (not Idle).
func (p *Path) finishStream() {
	tail, err := p.stretcher.Flush()
	if err == nil && len(tail) > 0 && len(tail[0]) > 0 {
		p.mu.Lock()
		sink := p.sink
		p.mu.Unlock()
		if writeErr := p.writeWithRetry(sink, tail); writeErr != nil {
			p.fatal(writeErr)
			return
		}
	}

	p.mu.Lock()
	p.state = StateLoaded
	if p.session != nil {
		p.estimate = p.session.DurationSeconds
	}
	cancel := p.feedCancel
	finished := p.onFinished
	p.mu.Unlock()

	cancel()
	if finished != nil {
		finished()
	}
}

// fatal tears the path down to Idle and surfaces the error.
func (p *Path) fatal(err error) {
	p.logger.Error("Fatal playback error", slog.String("error", err.Error()))

	p.mu.Lock()
	p.state = StateIdle
	p.session = nil
	if p.sink != nil {
		if closeErr := p.sink.Close(); closeErr != nil {
			p.logger.Warn("Error closing sink", slog.String("error", closeErr.Error()))
		}
		p.sink = nil
	}
	cancel := p.feedCancel
	onError := p.onError
	p.mu.Unlock()

	cancel()
	if onError != nil {
		onError(err)
	}
}

// clockLoop is the fixed-rate reconciliation tick: it projects the time
// estimate from the sink's elapsed counter and pushes it to the time
// listener. It is the only writer allowed to publish the estimate outside
// the command flow.
func (p *Path) clockLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.state != StatePlaying {
				p.mu.Unlock()
				return
			}
			p.estimate = p.estimateLocked()
			est := p.estimate
			onTime := p.onTime
			p.mu.Unlock()

			if onTime != nil {
				onTime(est)
			}
		}
	}
}

// applyGainRamp scales the frames with a linear ramp from one gain value
// to another, avoiding audible steps.
func applyGainRamp(frames [][]float32, from, to float64) {
	if len(frames) == 0 || len(frames[0]) == 0 {
		return
	}

	if from == 1 && to == 1 {
		return
	}

	n := len(frames[0])
	for i := 0; i < n; i++ {
		g := from
		if n > 1 {
			g = from + (to-from)*float64(i)/float64(n-1)
		}
		for ch := range frames {
			frames[ch][i] *= float32(g)
		}
	}
}
