package engine

import (
	"context"
	"fmt"

	"github.com/vibeaudio/engine/internal/spectrogram"
	"github.com/vibeaudio/engine/internal/tone"
	"github.com/vibeaudio/engine/internal/vad"
)

// Pipeline names used as worker routing keys.
const (
	PipelineTone        = "tone"
	PipelineVAD         = "vad"
	PipelineSpectrogram = "spectrogram"
)

// AnalysisPayload is the request body shared by all analysis pipelines.
// The mono downmix is computed once per load and handed to every job.
type AnalysisPayload struct {
	SampleRate int
	Mono       []float64
	MonoF32    []float32

	SpectrogramParams spectrogram.Params
}

// ToneResult is the terminal payload of the tone pipeline.
type ToneResult struct {
	Events []tone.Event
}

// VADPartial is a streamed batch of frame decisions.
type VADPartial struct {
	Results []vad.FrameResult
}

// VADResult is the terminal payload of the VAD pipeline.
type VADResult struct {
	Results []vad.FrameResult
	Stats   vad.Stats
}

// SpectrogramResult is the terminal payload of the spectrogram pipeline.
type SpectrogramResult struct {
	Params spectrogram.Params
	Frames []spectrogram.Frame
}

// tonePipeline runs DTMF and call-progress detection over the full session.
type tonePipeline struct {
	thresholds toneThresholds
}

// toneThresholds carries the configured detection knobs; the block size and
// frequency table come from the per-session detector.
type toneThresholds struct {
	Pair      float64
	Component float64
	Reject    float64
	MinBlocks int
	Release   int
}

func newTonePipeline(thresholds toneThresholds) *tonePipeline {
	return &tonePipeline{thresholds: thresholds}
}

func (p *tonePipeline) Name() string { return PipelineTone }

func (p *tonePipeline) Init() error { return nil }

func (p *tonePipeline) Reset() {}

func (p *tonePipeline) Process(ctx context.Context, payload any, emit func(any)) (any, error) {
	req, err := asPayload(payload)
	if err != nil {
		return nil, err
	}

	config := tone.DefaultConfig(req.SampleRate)
	config.PairThreshold = p.thresholds.Pair
	config.ComponentThreshold = p.thresholds.Component
	config.RejectThreshold = p.thresholds.Reject
	config.MinBlocks = p.thresholds.MinBlocks
	config.ReleaseBlocks = p.thresholds.Release

	detector, err := tone.NewDetector(config)
	if err != nil {
		return nil, fmt.Errorf("tone detector: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return ToneResult{Events: detector.Detect(req.Mono)}, nil
}

// vadPipeline runs frame-based speech detection. Decisions stream out in
// batches so observers can paint activity before the job finishes.
type vadPipeline struct {
	positive  float32
	negative  float32
	frameSize int
	batchSize int
}

func newVADPipeline(frameSize int, positive, negative float32) *vadPipeline {
	return &vadPipeline{
		positive:  positive,
		negative:  negative,
		frameSize: frameSize,
		batchSize: 64,
	}
}

func (p *vadPipeline) Name() string { return PipelineVAD }

func (p *vadPipeline) Init() error { return nil }

func (p *vadPipeline) Reset() {}

func (p *vadPipeline) Process(ctx context.Context, payload any, emit func(any)) (any, error) {
	req, err := asPayload(payload)
	if err != nil {
		return nil, err
	}

	config := vad.Config{
		FrameSize:         p.frameSize,
		SampleRate:        req.SampleRate,
		PositiveThreshold: p.positive,
		NegativeThreshold: p.negative,
	}

	processor, err := vad.NewProcessor(config, vad.NewEnergyScorer())
	if err != nil {
		return nil, fmt.Errorf("vad processor: %w", err)
	}

	samples := req.MonoF32
	all := make([]vad.FrameResult, 0, len(samples)/p.frameSize+1)
	batch := make([]vad.FrameResult, 0, p.batchSize)

	for start := 0; start+p.frameSize <= len(samples); start += p.frameSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := processor.ProcessFrame(samples[start : start+p.frameSize])
		if err != nil {
			// Keep what we have; partial results are still useful.
			return VADResult{Results: all, Stats: processor.GetStats()},
				fmt.Errorf("vad frame at %d: %w", start, err)
		}

		all = append(all, result)
		batch = append(batch, result)
		if len(batch) >= p.batchSize {
			emit(VADPartial{Results: batch})
			batch = make([]vad.FrameResult, 0, p.batchSize)
		}
	}

	if len(batch) > 0 {
		emit(VADPartial{Results: batch})
	}

	return VADResult{Results: all, Stats: processor.GetStats()}, nil
}

// spectrogramPipeline computes the STFT magnitude frames for the session.
type spectrogramPipeline struct{}

func newSpectrogramPipeline() *spectrogramPipeline { return &spectrogramPipeline{} }

func (p *spectrogramPipeline) Name() string { return PipelineSpectrogram }

func (p *spectrogramPipeline) Init() error { return nil }

func (p *spectrogramPipeline) Reset() {}

func (p *spectrogramPipeline) Process(ctx context.Context, payload any, emit func(any)) (any, error) {
	req, err := asPayload(payload)
	if err != nil {
		return nil, err
	}

	computer, err := spectrogram.NewComputer(req.SpectrogramParams)
	if err != nil {
		return nil, fmt.Errorf("spectrogram computer: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return SpectrogramResult{
		Params: req.SpectrogramParams,
		Frames: computer.Compute(req.Mono),
	}, nil
}

func asPayload(payload any) (AnalysisPayload, error) {
	req, ok := payload.(AnalysisPayload)
	if !ok {
		return AnalysisPayload{}, fmt.Errorf("unexpected payload type %T", payload)
	}
	return req, nil
}
