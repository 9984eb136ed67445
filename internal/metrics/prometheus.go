package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the player engine
type Metrics struct {
	// Session metrics
	SessionsLoaded prometheus.Counter
	LoadErrors     prometheus.Counter
	SessionSeconds prometheus.Histogram

	// Analysis metrics
	AnalysesStarted   *prometheus.CounterVec
	AnalysesCompleted *prometheus.CounterVec
	AnalysesFailed    *prometheus.CounterVec
	AnalysisDuration  *prometheus.HistogramVec
	StaleResults      prometheus.Counter
	ToneEvents        prometheus.Counter
	SpeechFrames      prometheus.Counter

	// Worker metrics
	WorkerMessages      *prometheus.CounterVec
	WorkerCancellations prometheus.Counter
	ProtocolErrors      prometheus.Counter

	// Playback metrics
	PlaybackState  prometheus.Gauge
	ClockTicks     prometheus.Counter
	SinkRebuilds   prometheus.Counter
	PlaybackErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all engine metrics on the given registerer. Tests pass
// a private registry so parallel instances never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "player_sessions_loaded_total",
			Help: "Total number of audio sessions successfully loaded",
		}),
		LoadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "player_load_errors_total",
			Help: "Total number of failed session load attempts",
		}),
		SessionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "player_session_duration_seconds",
			Help:    "Duration of loaded audio sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Analysis metrics
		AnalysesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "player_analyses_started_total",
			Help: "Total number of analysis jobs dispatched",
		}, []string{"kind"}),
		AnalysesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "player_analyses_completed_total",
			Help: "Total number of analysis jobs that produced a result",
		}, []string{"kind"}),
		AnalysesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "player_analyses_failed_total",
			Help: "Total number of analysis jobs that ended in an error",
		}, []string{"kind"}),
		AnalysisDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "player_analysis_duration_seconds",
			Help:    "Wall time of analysis jobs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"kind"}),
		StaleResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "player_stale_results_total",
			Help: "Total number of analysis results discarded as stale",
		}),
		ToneEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "player_tone_events_total",
			Help: "Total number of detected tone events",
		}),
		SpeechFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "player_vad_speech_frames_total",
			Help: "Total number of frames classified as speech",
		}),

		// Worker metrics
		WorkerMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "player_worker_messages_total",
			Help: "Total number of worker messages received",
		}, []string{"type"}),
		WorkerCancellations: factory.NewCounter(prometheus.CounterOpts{
			Name: "player_worker_cancellations_total",
			Help: "Total number of cancelled worker requests",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "player_protocol_errors_total",
			Help: "Total number of malformed or unroutable worker messages",
		}),

		// Playback metrics
		PlaybackState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "player_playback_state",
			Help: "Current playback state (0=idle, 1=loaded, 2=playing, 3=paused)",
		}),
		ClockTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "player_clock_ticks_total",
			Help: "Total number of clock reconciliation ticks",
		}),
		SinkRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "player_sink_rebuilds_total",
			Help: "Total number of output sink rebuilds after write errors",
		}),
		PlaybackErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "player_playback_errors_total",
			Help: "Total number of fatal playback errors",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "player_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "player_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordSessionLoaded records a successful load
func (m *Metrics) RecordSessionLoaded(durationSeconds float64) {
	m.SessionsLoaded.Inc()
	m.SessionSeconds.Observe(durationSeconds)
}

// RecordLoadError increments the load errors counter
func (m *Metrics) RecordLoadError() {
	m.LoadErrors.Inc()
}

// RecordAnalysisStarted records a dispatched analysis job
func (m *Metrics) RecordAnalysisStarted(kind string) {
	m.AnalysesStarted.WithLabelValues(kind).Inc()
}

// RecordAnalysisCompleted records a finished analysis job
func (m *Metrics) RecordAnalysisCompleted(kind string, durationSeconds float64) {
	m.AnalysesCompleted.WithLabelValues(kind).Inc()
	m.AnalysisDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordAnalysisFailed records a failed analysis job
func (m *Metrics) RecordAnalysisFailed(kind string, durationSeconds float64) {
	m.AnalysesFailed.WithLabelValues(kind).Inc()
	m.AnalysisDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordStaleResult increments the discarded stale results counter
func (m *Metrics) RecordStaleResult() {
	m.StaleResults.Inc()
}

// RecordToneEvents counts detected tone events
func (m *Metrics) RecordToneEvents(count int) {
	m.ToneEvents.Add(float64(count))
}

// RecordSpeechFrames counts frames classified as speech
func (m *Metrics) RecordSpeechFrames(count uint64) {
	m.SpeechFrames.Add(float64(count))
}

// RecordWorkerMessage counts a worker message by type
func (m *Metrics) RecordWorkerMessage(msgType string) {
	m.WorkerMessages.WithLabelValues(msgType).Inc()
}

// RecordWorkerCancellation increments the cancellation counter
func (m *Metrics) RecordWorkerCancellation() {
	m.WorkerCancellations.Inc()
}

// RecordProtocolError increments the protocol errors counter
func (m *Metrics) RecordProtocolError() {
	m.ProtocolErrors.Inc()
}

// SetPlaybackState sets the playback state gauge
func (m *Metrics) SetPlaybackState(state int) {
	m.PlaybackState.Set(float64(state))
}

// RecordClockTick increments the clock tick counter
func (m *Metrics) RecordClockTick() {
	m.ClockTicks.Inc()
}

// RecordSinkRebuild increments the sink rebuild counter
func (m *Metrics) RecordSinkRebuild() {
	m.SinkRebuilds.Inc()
}

// RecordPlaybackError increments the fatal playback error counter
func (m *Metrics) RecordPlaybackError() {
	m.PlaybackErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
