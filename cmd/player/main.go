package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vibeaudio/engine/internal/config"
	"github.com/vibeaudio/engine/internal/engine"
	"github.com/vibeaudio/engine/internal/metrics"
	"github.com/vibeaudio/engine/internal/playback"
	"github.com/vibeaudio/engine/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "vibe-player"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	output := flag.String("output", "", "Write rendered audio to this WAV file instead of playing in realtime")
	speed := flag.Float64("speed", 1.0, "Playback speed factor")
	pitch := flag.Float64("pitch", 0, "Pitch shift in semitones")
	gain := flag.Float64("gain", 1.0, "Output gain factor")
	seek := flag.Float64("seek", 0, "Start position in seconds")
	analyzeOnly := flag.Bool("analyze-only", false, "Run the analyses and exit without playing")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <file.wav>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}
	inputPath := flag.Arg(0)

	// Load configuration; the default path is optional, an explicit one is not.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Player starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("file", inputPath),
	)

	// Initialize Prometheus metrics on a private registry so the /metrics
	// endpoint serves exactly the player's series
	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewMetrics(registry)

	// Pick the output sink: realtime null sink by default, WAV file on demand
	newSink := func(sampleRate, channels int) (playback.Sink, error) {
		if *output != "" {
			return playback.NewFileSink(*output, sampleRate, channels)
		}
		return playback.NewNullSink(sampleRate, true), nil
	}

	eng, err := engine.New(logger, cfg, appMetrics, newSink)
	if err != nil {
		logger.Error("Failed to create engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer eng.Close()

	reporter := newReporter()
	eng.AddObserver(reporter)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, eng, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP API server started",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(inputPath)
	if err != nil {
		logger.Error("Failed to read input file", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := eng.LoadFile(filepath.Base(inputPath), data); err != nil {
		logger.Error("Failed to load file", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Apply initial transport parameters
	if err := eng.SetSpeed(*speed); err != nil {
		logger.Error("Invalid speed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := eng.SetPitch(*pitch); err != nil {
		logger.Error("Invalid pitch", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := eng.SetGain(*gain); err != nil {
		logger.Error("Invalid gain", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *seek > 0 {
		if err := eng.Seek(*seek); err != nil {
			logger.Error("Seek failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Wait for the analyses, then print the report
	if err := eng.AwaitAnalyses(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info("Interrupted while analyzing")
			return
		}
		logger.Warn("Some analyses failed", slog.String("error", err.Error()))
	}
	reporter.printAnalyses(eng.Snapshot())

	if !*analyzeOnly {
		if err := eng.Play(); err != nil {
			logger.Error("Playback failed to start", slog.String("error", err.Error()))
			os.Exit(1)
		}

		waitForPlayback(ctx, eng)
	}

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	logger.Info("Player stopped")
}

// waitForPlayback blocks until playback leaves the playing state or the
// context is cancelled.
func waitForPlayback(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if state := eng.Snapshot().State; state != "playing" {
				return
			}
		}
	}
}

// loadConfig loads the given path. The built-in default path may be absent;
// any explicitly requested path must exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// reporter prints engine updates to the terminal.
type reporter struct {
	mu        sync.Mutex
	lastState string

	stateColor  *color.Color
	symbolColor *color.Color
	errorColor  *color.Color
	headerColor *color.Color
}

func newReporter() *reporter {
	return &reporter{
		stateColor:  color.New(color.FgCyan),
		symbolColor: color.New(color.FgGreen, color.Bold),
		errorColor:  color.New(color.FgRed),
		headerColor: color.New(color.Bold),
	}
}

// StateChanged prints transport transitions, once per distinct state.
func (r *reporter) StateChanged(snapshot engine.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snapshot.State == r.lastState {
		return
	}
	r.lastState = snapshot.State
	r.stateColor.Printf("[%s] %s  %.2fs / %.2fs  speed=%.2f\n",
		snapshot.State, snapshot.FileName,
		snapshot.TimeSeconds, snapshot.DurationSeconds, snapshot.Speed)
}

// TimeUpdated is the clock fast path; the CLI does not repaint per tick.
func (r *reporter) TimeUpdated(seconds float64) {}

// printAnalyses renders the analysis report for the current session.
func (r *reporter) printAnalyses(snapshot engine.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := snapshot.Analyses

	r.headerColor.Println("Tone events")
	if a.ToneError != "" {
		r.errorColor.Printf("  unavailable: %s\n", a.ToneError)
	} else if len(a.ToneEvents) == 0 {
		fmt.Println("  none")
	} else {
		for _, event := range a.ToneEvents {
			r.symbolColor.Printf("  %-8s", event.Symbol)
			fmt.Printf(" %7.3fs - %7.3fs  confidence %.2f\n",
				event.StartSeconds, event.EndSeconds, event.Confidence)
		}
	}

	r.headerColor.Println("Voice activity")
	if a.VADError != "" {
		r.errorColor.Printf("  unavailable: %s\n", a.VADError)
	} else {
		fmt.Printf("  %d frames, %.1f%% speech\n",
			a.VADStats.TotalFrames, a.VADStats.SpeechPercentage)
	}

	r.headerColor.Println("Spectrogram")
	if a.SpectrogramError != "" {
		r.errorColor.Printf("  unavailable: %s\n", a.SpectrogramError)
	} else {
		fmt.Printf("  %d frames x %d bins\n", a.SpectrogramFrames, a.SpectrogramBins)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
