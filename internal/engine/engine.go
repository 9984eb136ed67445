package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vibeaudio/engine/internal/audio"
	"github.com/vibeaudio/engine/internal/config"
	"github.com/vibeaudio/engine/internal/metrics"
	"github.com/vibeaudio/engine/internal/playback"
	"github.com/vibeaudio/engine/internal/spectrogram"
	"github.com/vibeaudio/engine/internal/tone"
	"github.com/vibeaudio/engine/internal/vad"
	"github.com/vibeaudio/engine/internal/worker"
)

// Observer receives engine updates. TimeUpdated is the dedicated fast path
// for the playback clock and fires at the tick rate; StateChanged fires on
// every other mutation and carries a full snapshot.
type Observer interface {
	StateChanged(snapshot Snapshot)
	TimeUpdated(seconds float64)
}

// Analyses aggregates the per-pipeline results for the current session.
// Jobs fail independently: an error string marks one analysis unavailable
// while the others keep their results.
type Analyses struct {
	ToneEvents []tone.Event `json:"tone_events"`
	ToneError  string       `json:"tone_error,omitempty"`

	VADResults []vad.FrameResult `json:"vad_results"`
	VADStats   vad.Stats         `json:"vad_stats"`
	VADError   string            `json:"vad_error,omitempty"`

	SpectrogramFrames int    `json:"spectrogram_frames"`
	SpectrogramBins   int    `json:"spectrogram_bins"`
	SpectrogramError  string `json:"spectrogram_error,omitempty"`

	Pending int `json:"pending"`
}

// Snapshot is a point-in-time view of the engine. Slices are cloned; the
// snapshot never exposes PCM data or internal state.
type Snapshot struct {
	State           string   `json:"state"`
	FileName        string   `json:"file_name"`
	DurationSeconds float64  `json:"duration_seconds"`
	TimeSeconds     float64  `json:"time_seconds"`
	Speed           float64  `json:"speed"`
	Pitch           float64  `json:"pitch"`
	Gain            float64  `json:"gain"`
	Generation      uint64   `json:"generation"`
	Analyses        Analyses `json:"analyses"`
}

// Engine wires the playback path and the analysis worker pool together.
type Engine struct {
	logger  *slog.Logger
	config  *config.Config
	metrics *metrics.Metrics
	path    *playback.Path
	client  *worker.Client

	mu         sync.Mutex
	generation uint64
	fileName   string
	session    *audio.Session
	handles    []*worker.Handle
	analyses   Analyses
	specData   *SpectrogramResult

	obsMu     sync.Mutex
	observers []Observer
}

// New builds an engine from the configuration. The sink factory is
// injected so headless and file-output runs share the same wiring.
func New(logger *slog.Logger, cfg *config.Config, m *metrics.Metrics, newSink playback.SinkFactory) (*Engine, error) {
	pathConfig := playback.Config{
		TickInterval: cfg.Playback.GetTickInterval(),
		ChunkSize:    cfg.Playback.ChunkSize,
		SmoothTime:   cfg.Playback.GetSmoothTime(),
	}

	path, err := playback.NewPath(logger, pathConfig, playback.NewRateStretcher(), newSink)
	if err != nil {
		return nil, fmt.Errorf("playback path: %w", err)
	}

	e := &Engine{
		logger:  logger,
		config:  cfg,
		metrics: m,
		path:    path,
		client:  worker.NewClient(logger),
	}

	pipelines := []worker.Pipeline{
		newTonePipeline(toneThresholds{
			Pair:      cfg.Tone.PairThreshold,
			Component: cfg.Tone.ComponentThreshold,
			Reject:    cfg.Tone.RejectThreshold,
			MinBlocks: cfg.Tone.MinBlocks,
			Release:   cfg.Tone.ReleaseBlocks,
		}),
		newVADPipeline(cfg.VAD.FrameSize,
			float32(cfg.VAD.PositiveThreshold), float32(cfg.VAD.NegativeThreshold)),
		newSpectrogramPipeline(),
	}
	for _, p := range pipelines {
		if err := e.client.Register(p); err != nil {
			e.client.Close()
			return nil, fmt.Errorf("register %s pipeline: %w", p.Name(), err)
		}
	}

	path.SetTimeListener(func(seconds float64) {
		m.RecordClockTick()
		e.notifyTime(seconds)
	})
	path.SetFinishedListener(func() {
		e.logger.Info("Playback reached end of session")
		e.notifyState()
	})
	path.SetErrorListener(func(err error) {
		m.RecordPlaybackError()
		e.logger.Error("Playback path failed", slog.String("error", err.Error()))
		e.notifyState()
	})
	path.SetSinkRebuildListener(m.RecordSinkRebuild)
	e.client.OnProtocolError(m.RecordProtocolError)

	return e, nil
}

// AddObserver registers an observer for state and time updates.
func (e *Engine) AddObserver(obs Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, obs)
}

// Close stops playback, releases the output sink and shuts the worker
// pool down.
func (e *Engine) Close() {
	if err := e.path.Close(); err != nil {
		e.logger.Warn("Error closing playback path", slog.String("error", err.Error()))
	}
	e.client.Close()
}

// LoadFile decodes a WAV file, loads it for playback and dispatches the
// analysis jobs. A new load supersedes the previous session: its generation
// is bumped, outstanding jobs are cancelled and any results still in flight
// for the old generation are discarded on arrival.
func (e *Engine) LoadFile(name string, data []byte) error {
	session, err := audio.DecodeWAV(data)
	if err != nil {
		e.metrics.RecordLoadError()
		return fmt.Errorf("load %s: %w", name, err)
	}

	if max := e.config.Audio.MaxDurationSeconds; max > 0 && session.DurationSeconds > max {
		e.metrics.RecordLoadError()
		return fmt.Errorf("load %s: duration %.1fs exceeds limit %.1fs",
			name, session.DurationSeconds, max)
	}

	if err := e.path.Load(session); err != nil {
		e.metrics.RecordLoadError()
		return fmt.Errorf("load %s: %w", name, err)
	}

	payload := AnalysisPayload{
		SampleRate:        session.SampleRate,
		Mono:              session.Mono(),
		SpectrogramParams: e.spectrogramParams(session),
	}
	payload.MonoF32 = make([]float32, len(payload.Mono))
	for i, v := range payload.Mono {
		payload.MonoF32[i] = float32(v)
	}

	e.mu.Lock()
	e.generation++
	gen := e.generation
	for _, h := range e.handles {
		e.client.Cancel(h)
		e.metrics.RecordWorkerCancellation()
	}
	e.handles = nil
	e.session = session
	e.fileName = name
	e.specData = nil
	e.analyses = Analyses{Pending: 0}

	for _, kind := range []string{PipelineTone, PipelineVAD, PipelineSpectrogram} {
		h, err := e.client.Send(kind, payload)
		if err != nil {
			e.setAnalysisErrorLocked(kind, err)
			continue
		}
		e.handles = append(e.handles, h)
		e.analyses.Pending++
		e.metrics.RecordAnalysisStarted(kind)
		go e.drain(gen, kind, h)
	}
	e.mu.Unlock()

	e.metrics.RecordSessionLoaded(session.DurationSeconds)
	e.logger.Info("Session loaded",
		slog.String("file", name),
		slog.Uint64("generation", gen),
		slog.Float64("duration", session.DurationSeconds),
	)

	e.notifyState()
	return nil
}

// AwaitAnalyses blocks until every analysis job of the current generation
// has finished or the context expires. Individual job failures are returned
// joined, but do not prevent the other results from being aggregated.
func (e *Engine) AwaitAnalyses(ctx context.Context) error {
	e.mu.Lock()
	handles := append([]*worker.Handle(nil), e.handles...)
	e.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			select {
			case <-h.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for kind, msg := range map[string]string{
		PipelineTone:        e.analyses.ToneError,
		PipelineVAD:         e.analyses.VADError,
		PipelineSpectrogram: e.analyses.SpectrogramError,
	} {
		if msg != "" {
			errs = append(errs, fmt.Errorf("%s: %s", kind, msg))
		}
	}
	return errors.Join(errs...)
}

// Play starts or resumes playback.
func (e *Engine) Play() error {
	if err := e.path.Play(); err != nil {
		return err
	}
	e.notifyState()
	return nil
}

// Pause suspends playback.
func (e *Engine) Pause() error {
	if err := e.path.Pause(); err != nil {
		return err
	}
	e.notifyState()
	return nil
}

// Stop rewinds to the start of the session.
func (e *Engine) Stop() error {
	if err := e.path.Stop(); err != nil {
		return err
	}
	e.notifyState()
	return nil
}

// Seek jumps to the given position in seconds.
func (e *Engine) Seek(seconds float64) error {
	if err := e.path.Seek(seconds); err != nil {
		return err
	}
	e.notifyState()
	return nil
}

// SetSpeed sets the playback speed, clamped into the configured range.
func (e *Engine) SetSpeed(factor float64) error {
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("speed must be finite, got %f", factor)
	}

	if factor < e.config.Playback.MinSpeed {
		factor = e.config.Playback.MinSpeed
	}
	if factor > e.config.Playback.MaxSpeed {
		factor = e.config.Playback.MaxSpeed
	}

	if err := e.path.SetSpeed(factor); err != nil {
		return err
	}
	e.notifyState()
	return nil
}

// SetPitch sets the pitch shift in semitones, clamped into one octave
// either way.
func (e *Engine) SetPitch(semitones float64) error {
	if math.IsNaN(semitones) || math.IsInf(semitones, 0) {
		return fmt.Errorf("pitch must be finite, got %f", semitones)
	}

	if semitones < -12 {
		semitones = -12
	}
	if semitones > 12 {
		semitones = 12
	}

	if err := e.path.SetPitch(semitones); err != nil {
		return err
	}
	e.notifyState()
	return nil
}

// SetGain sets the output gain factor, clamped into [0, 2].
func (e *Engine) SetGain(factor float64) error {
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("gain must be finite, got %f", factor)
	}

	if factor < 0 {
		factor = 0
	}
	if factor > 2 {
		factor = 2
	}

	if err := e.path.SetGain(factor); err != nil {
		return err
	}
	e.notifyState()
	return nil
}

// Snapshot returns a cloned view of the current engine state.
func (e *Engine) Snapshot() Snapshot {
	speed, pitch, gain := e.path.Params()

	e.mu.Lock()
	defer e.mu.Unlock()

	analyses := e.analyses
	analyses.ToneEvents = append([]tone.Event(nil), e.analyses.ToneEvents...)
	analyses.VADResults = append([]vad.FrameResult(nil), e.analyses.VADResults...)

	return Snapshot{
		State:           e.path.State().String(),
		FileName:        e.fileName,
		DurationSeconds: e.path.Duration(),
		TimeSeconds:     e.path.Estimate(),
		Speed:           speed,
		Pitch:           pitch,
		Gain:            gain,
		Generation:      e.generation,
		Analyses:        analyses,
	}
}

// SpectrogramData returns the full spectrogram of the current session, if
// the job has completed. The frames are shared, not copied; callers must
// treat them as read-only.
func (e *Engine) SpectrogramData() (SpectrogramResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.specData == nil {
		return SpectrogramResult{}, false
	}
	return *e.specData, true
}

// drain consumes one handle's response stream and folds the terminal
// message into the aggregate, unless the generation moved on.
func (e *Engine) drain(gen uint64, kind string, h *worker.Handle) {
	start := time.Now()

	for msg := range h.Results() {
		e.metrics.RecordWorkerMessage(string(msg.Type))

		switch msg.Type {
		case worker.TypeStatus:
			e.applyPartial(gen, kind, msg.Payload)
		case worker.TypeResult:
			e.complete(gen, kind, msg.Payload, nil, time.Since(start))
		case worker.TypeError:
			e.complete(gen, kind, nil, msg.Err, time.Since(start))
		}
	}
}

// applyPartial folds a streamed STATUS payload into the aggregate so
// observers see analysis progress before the terminal message.
func (e *Engine) applyPartial(gen uint64, kind string, payload any) {
	if kind != PipelineVAD {
		return
	}
	partial, ok := payload.(VADPartial)
	if !ok {
		return
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.metrics.RecordStaleResult()
		return
	}
	e.analyses.VADResults = append(e.analyses.VADResults, partial.Results...)
	e.mu.Unlock()
}

func (e *Engine) complete(gen uint64, kind string, payload any, jobErr error, elapsed time.Duration) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.metrics.RecordStaleResult()
		return
	}

	if jobErr != nil {
		e.setAnalysisErrorLocked(kind, jobErr)
		e.analyses.Pending--
		e.mu.Unlock()
		e.metrics.RecordAnalysisFailed(kind, elapsed.Seconds())
		e.logger.Warn("Analysis failed",
			slog.String("kind", kind),
			slog.String("error", jobErr.Error()),
		)
		e.notifyState()
		return
	}

	switch kind {
	case PipelineTone:
		if result, ok := payload.(ToneResult); ok {
			e.analyses.ToneEvents = result.Events
			e.metrics.RecordToneEvents(len(result.Events))
		}
	case PipelineVAD:
		if result, ok := payload.(VADResult); ok {
			e.analyses.VADResults = result.Results
			e.analyses.VADStats = result.Stats
			e.metrics.RecordSpeechFrames(result.Stats.SpeechFrames)
		}
	case PipelineSpectrogram:
		if result, ok := payload.(SpectrogramResult); ok {
			e.specData = &result
			e.analyses.SpectrogramFrames = len(result.Frames)
			e.analyses.SpectrogramBins = result.Params.FFTSize/2 + 1
		}
	}
	e.analyses.Pending--
	e.mu.Unlock()

	e.metrics.RecordAnalysisCompleted(kind, elapsed.Seconds())
	e.logger.Info("Analysis completed",
		slog.String("kind", kind),
		slog.Duration("elapsed", elapsed),
	)
	e.notifyState()
}

// setAnalysisErrorLocked marks one analysis unavailable. Callers hold mu.
func (e *Engine) setAnalysisErrorLocked(kind string, err error) {
	switch kind {
	case PipelineTone:
		e.analyses.ToneError = err.Error()
	case PipelineVAD:
		e.analyses.VADError = err.Error()
	case PipelineSpectrogram:
		e.analyses.SpectrogramError = err.Error()
	}
}

// spectrogramParams picks STFT parameters, from the configuration when set
// and otherwise tiered by session duration so long files stay bounded.
func (e *Engine) spectrogramParams(session *audio.Session) spectrogram.Params {
	params := spectrogram.Params{
		FFTSize: e.config.Spectrogram.FFTSize,
		Hop:     e.config.Spectrogram.Hop,
	}

	if params.FFTSize == 0 {
		switch {
		case session.DurationSeconds <= 60:
			params.FFTSize = 1024
		case session.DurationSeconds <= 600:
			params.FFTSize = 2048
		default:
			params.FFTSize = 4096
		}
	}

	if params.Hop == 0 {
		params.Hop = params.FFTSize / 4

		// Cap the total frame count for very long sessions.
		const maxFrames = 8000
		if frames := session.Frames() / params.Hop; frames > maxFrames {
			params.Hop = (session.Frames() + maxFrames - 1) / maxFrames
		}
		if params.Hop > params.FFTSize {
			params.Hop = params.FFTSize
		}
	}

	return params
}

func (e *Engine) notifyState() {
	snapshot := e.Snapshot()
	e.metrics.SetPlaybackState(int(e.path.State()))

	e.obsMu.Lock()
	observers := append([]Observer(nil), e.observers...)
	e.obsMu.Unlock()

	for _, obs := range observers {
		obs.StateChanged(snapshot)
	}
}

func (e *Engine) notifyTime(seconds float64) {
	e.obsMu.Lock()
	observers := append([]Observer(nil), e.observers...)
	e.obsMu.Unlock()

	for _, obs := range observers {
		obs.TimeUpdated(seconds)
	}
}
