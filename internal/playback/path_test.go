package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vibeaudio/engine/internal/audio"
)

type fakeStretcher struct {
	mu      sync.Mutex
	inited  bool
	initErr error
	pushErr error
	tempo   float64
	pitch   float64
	resets  int
}

func (f *fakeStretcher) Init(sampleRate, channels int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	f.inited = true
	return nil
}

func (f *fakeStretcher) SetTempo(factor float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tempo = factor
}

func (f *fakeStretcher) SetPitch(semitones float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pitch = semitones
}

func (f *fakeStretcher) Push(input [][]float32) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	out := make([][]float32, len(input))
	for ch := range input {
		out[ch] = append([]float32(nil), input[ch]...)
	}
	return out, nil
}

func (f *fakeStretcher) Flush() ([][]float32, error) { return nil, nil }

func (f *fakeStretcher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeStretcher) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

type fakeSink struct {
	mu         sync.Mutex
	rate       int
	samples    int
	writeDelay time.Duration
	failWrites int
	closed     bool
}

func (f *fakeSink) Write(frames [][]float32) error {
	if f.writeDelay > 0 {
		time.Sleep(f.writeDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites > 0 {
		f.failWrites--
		return errors.New("device gone")
	}
	if len(frames) > 0 {
		f.samples += len(frames[0])
	}
	return nil
}

func (f *fakeSink) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Duration(float64(f.samples) / float64(f.rate) * float64(time.Second))
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func silentSession(t *testing.T, seconds float64) *audio.Session {
	t.Helper()
	n := int(seconds * 16000)
	session, err := audio.NewSession(16000, [][]float32{make([]float32, n)})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return session
}

// newTestPath builds a path around fakes and returns the fakes for
// inspection. The sink factory hands out new fakeSinks configured by fn.
func newTestPath(t *testing.T, fn func(*fakeSink)) (*Path, *fakeStretcher, *[]*fakeSink) {
	t.Helper()

	stretcher := &fakeStretcher{}
	var sinks []*fakeSink
	var mu sync.Mutex

	factory := func(sampleRate, channels int) (Sink, error) {
		sink := &fakeSink{rate: sampleRate}
		if fn != nil {
			fn(sink)
		}
		mu.Lock()
		sinks = append(sinks, sink)
		mu.Unlock()
		return sink, nil
	}

	config := DefaultConfig()
	config.TickInterval = time.Millisecond

	path, err := NewPath(testLogger(), config, stretcher, factory)
	if err != nil {
		t.Fatalf("NewPath() error = %v", err)
	}
	return path, stretcher, &sinks
}

func waitForState(t *testing.T, path *Path, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if path.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", path.State(), want)
}

func TestNewPathValidatesConfig(t *testing.T) {
	config := DefaultConfig()
	config.ChunkSize = 0
	if _, err := NewPath(testLogger(), config, &fakeStretcher{}, nil); err == nil {
		t.Error("expected error for zero chunk size, got nil")
	}

	if _, err := NewPath(testLogger(), DefaultConfig(), nil, nil); err == nil {
		t.Error("expected error for nil components, got nil")
	}
}

func TestTransportWithoutSession(t *testing.T) {
	path, _, _ := newTestPath(t, nil)

	if err := path.Play(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Play() error = %v, want ErrNotReady", err)
	}
	if err := path.Stop(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Stop() error = %v, want ErrNotReady", err)
	}
	if err := path.Seek(1); !errors.Is(err, ErrNotReady) {
		t.Errorf("Seek() error = %v, want ErrNotReady", err)
	}
	// Pause without a session is a harmless no-op.
	if err := path.Pause(); err != nil {
		t.Errorf("Pause() error = %v, want nil", err)
	}
}

func TestLoadTransitionsToLoaded(t *testing.T) {
	path, stretcher, _ := newTestPath(t, nil)

	if err := path.Load(silentSession(t, 1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := path.State(); got != StateLoaded {
		t.Errorf("state = %v, want loaded", got)
	}
	if !stretcher.inited {
		t.Error("stretcher was not initialized")
	}
	if got := path.Duration(); got != 1 {
		t.Errorf("Duration() = %f, want 1", got)
	}
}

func TestLoadInitFailureLeavesIdle(t *testing.T) {
	stretcher := &fakeStretcher{initErr: errors.New("unsupported format")}
	factory := func(sampleRate, channels int) (Sink, error) {
		return &fakeSink{rate: sampleRate}, nil
	}

	path, err := NewPath(testLogger(), DefaultConfig(), stretcher, factory)
	if err != nil {
		t.Fatalf("NewPath() error = %v", err)
	}

	err = path.Load(silentSession(t, 1))
	if !errors.Is(err, ErrLoad) {
		t.Fatalf("Load() error = %v, want ErrLoad", err)
	}
	if got := path.State(); got != StateIdle {
		t.Errorf("state after failed load = %v, want idle", got)
	}
	if err := path.Play(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Play() after failed load error = %v, want ErrNotReady", err)
	}
}

func TestLoadSinkFailureLeavesIdle(t *testing.T) {
	factory := func(sampleRate, channels int) (Sink, error) {
		return nil, errors.New("no output device")
	}

	path, err := NewPath(testLogger(), DefaultConfig(), &fakeStretcher{}, factory)
	if err != nil {
		t.Fatalf("NewPath() error = %v", err)
	}

	if err := path.Load(silentSession(t, 1)); !errors.Is(err, ErrLoad) {
		t.Fatalf("Load() error = %v, want ErrLoad", err)
	}
	if got := path.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestPlayRunsToCompletion(t *testing.T) {
	path, _, sinks := newTestPath(t, nil)

	finished := make(chan struct{}, 1)
	path.SetFinishedListener(func() { finished <- struct{}{} })

	if err := path.Load(silentSession(t, 0.5)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := path.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finished event")
	}

	waitForState(t, path, StateLoaded)

	if got := path.Estimate(); got != 0.5 {
		t.Errorf("Estimate() after finish = %f, want 0.5", got)
	}

	// All output must have passed through the sink.
	if got := (*sinks)[0].Elapsed(); got != 500*time.Millisecond {
		t.Errorf("sink elapsed = %v, want 500ms", got)
	}
}

func TestPlayAfterFinishRestartsFromStart(t *testing.T) {
	path, _, _ := newTestPath(t, nil)

	finished := make(chan struct{}, 2)
	path.SetFinishedListener(func() { finished <- struct{}{} })

	if err := path.Load(silentSession(t, 0.2)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := path.Play(); err != nil {
			t.Fatalf("Play() #%d error = %v", i+1, err)
		}
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for finished event #%d", i+1)
		}
		waitForState(t, path, StateLoaded)
	}
}

func TestPauseAndResume(t *testing.T) {
	path, _, _ := newTestPath(t, func(s *fakeSink) { s.writeDelay = 3 * time.Millisecond })

	if err := path.Load(silentSession(t, 10)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := path.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := path.Play(); err != nil {
		t.Errorf("second Play() error = %v, want nil", err)
	}

	time.Sleep(20 * time.Millisecond)

	if err := path.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if got := path.State(); got != StatePaused {
		t.Fatalf("state = %v, want paused", got)
	}

	paused := path.Estimate()
	if paused <= 0 {
		t.Errorf("Estimate() while paused = %f, want > 0", paused)
	}

	// Idempotent: a second pause changes nothing.
	if err := path.Pause(); err != nil {
		t.Errorf("second Pause() error = %v", err)
	}
	if got := path.Estimate(); got != paused {
		t.Errorf("Estimate() after second pause = %f, want %f", got, paused)
	}

	if err := path.Play(); err != nil {
		t.Fatalf("resume Play() error = %v", err)
	}
	if got := path.State(); got != StatePlaying {
		t.Errorf("state after resume = %v, want playing", got)
	}
	if got := path.Estimate(); got < paused {
		t.Errorf("Estimate() after resume = %f, want >= %f", got, paused)
	}

	if err := path.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestStopRewindsToStart(t *testing.T) {
	path, _, _ := newTestPath(t, func(s *fakeSink) { s.writeDelay = 3 * time.Millisecond })

	if err := path.Load(silentSession(t, 10)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := path.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	time.Sleep(15 * time.Millisecond)

	if err := path.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := path.State(); got != StateLoaded {
		t.Errorf("state = %v, want loaded", got)
	}
	if got := path.Estimate(); got != 0 {
		t.Errorf("Estimate() after stop = %f, want 0", got)
	}
}

func TestSeekClampsAndResets(t *testing.T) {
	path, stretcher, _ := newTestPath(t, nil)

	if err := path.Load(silentSession(t, 4)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		target float64
		want   float64
	}{
		{"within range", 2.0, 2.0},
		{"negative clamps to zero", -1.0, 0},
		{"past end clamps to duration", 99.0, 4.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := stretcher.resetCount()
			if err := path.Seek(tt.target); err != nil {
				t.Fatalf("Seek(%f) error = %v", tt.target, err)
			}
			if got := path.Estimate(); got != tt.want {
				t.Errorf("Estimate() = %f, want %f", got, tt.want)
			}
			if stretcher.resetCount() == before {
				t.Error("Seek did not reset the stretch transform")
			}
		})
	}
}

func TestSeekWhilePlayingKeepsPlaying(t *testing.T) {
	path, _, _ := newTestPath(t, func(s *fakeSink) { s.writeDelay = 3 * time.Millisecond })

	if err := path.Load(silentSession(t, 10)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := path.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := path.Seek(5); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if got := path.State(); got != StatePlaying {
		t.Errorf("state after seek = %v, want playing", got)
	}
	if got := path.Estimate(); got < 5 {
		t.Errorf("Estimate() after seek = %f, want >= 5", got)
	}

	if err := path.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestEstimateIsMonotonicWhilePlaying(t *testing.T) {
	path, _, _ := newTestPath(t, func(s *fakeSink) { s.writeDelay = 2 * time.Millisecond })

	if err := path.Load(silentSession(t, 10)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := path.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	last := path.Estimate()
	for i := 0; i < 50; i++ {
		time.Sleep(time.Millisecond)
		got := path.Estimate()
		if got < last {
			t.Fatalf("estimate moved backward: %f -> %f", last, got)
		}
		if got > 10 {
			t.Fatalf("estimate exceeds duration: %f", got)
		}
		last = got

		// A speed change mid-flight must not disturb monotonicity.
		if i == 20 {
			if err := path.SetSpeed(2); err != nil {
				t.Fatalf("SetSpeed() error = %v", err)
			}
		}
	}

	if err := path.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestTimeListenerReceivesUpdates(t *testing.T) {
	path, _, _ := newTestPath(t, func(s *fakeSink) { s.writeDelay = 2 * time.Millisecond })

	var mu sync.Mutex
	var updates []float64
	path.SetTimeListener(func(seconds float64) {
		mu.Lock()
		updates = append(updates, seconds)
		mu.Unlock()
	})

	if err := path.Load(silentSession(t, 10)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := path.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := path.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) < 3 {
		t.Fatalf("received %d time updates, want several", len(updates))
	}
	for i := 1; i < len(updates); i++ {
		if updates[i] < updates[i-1] {
			t.Fatalf("time updates not monotonic: %f -> %f", updates[i-1], updates[i])
		}
	}
}

func TestParameterValidation(t *testing.T) {
	path, _, _ := newTestPath(t, nil)

	tests := []struct {
		name string
		call func() error
	}{
		{"zero speed", func() error { return path.SetSpeed(0) }},
		{"negative speed", func() error { return path.SetSpeed(-1) }},
		{"negative gain", func() error { return path.SetGain(-0.5) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	// Valid parameters are accepted in any state and kept as targets.
	if err := path.SetSpeed(1.5); err != nil {
		t.Fatalf("SetSpeed() error = %v", err)
	}
	if err := path.SetPitch(-3); err != nil {
		t.Fatalf("SetPitch() error = %v", err)
	}
	if err := path.SetGain(0.8); err != nil {
		t.Fatalf("SetGain() error = %v", err)
	}

	speed, pitch, gain := path.Params()
	if speed != 1.5 || pitch != -3 || gain != 0.8 {
		t.Errorf("Params() = (%f, %f, %f), want (1.5, -3, 0.8)", speed, pitch, gain)
	}
}

func TestSinkRebuildOnTransientWriteError(t *testing.T) {
	first := true
	path, _, sinks := newTestPath(t, func(s *fakeSink) {
		if first {
			s.failWrites = 1
			first = false
		}
	})

	finished := make(chan struct{}, 1)
	path.SetFinishedListener(func() { finished <- struct{}{} })
	path.SetErrorListener(func(err error) {
		t.Errorf("unexpected fatal error: %v", err)
	})

	var rebuilds atomic.Int64
	path.SetSinkRebuildListener(func() { rebuilds.Add(1) })

	if err := path.Load(silentSession(t, 0.5)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := path.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finished event")
	}

	if got := len(*sinks); got != 2 {
		t.Errorf("sink factory called %d times, want 2 (initial + rebuild)", got)
	}
	if !(*sinks)[0].closed {
		t.Error("failed sink was not closed")
	}
	if got := rebuilds.Load(); got != 1 {
		t.Errorf("rebuild listener fired %d times, want 1", got)
	}
}

func TestPersistentWriteErrorIsFatal(t *testing.T) {
	path, _, _ := newTestPath(t, func(s *fakeSink) { s.failWrites = 1 << 30 })

	errs := make(chan error, 1)
	path.SetErrorListener(func(err error) { errs <- err })

	if err := path.Load(silentSession(t, 0.5)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := path.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("error listener received nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fatal error")
	}

	waitForState(t, path, StateIdle)
}

func TestStretcherErrorIsFatal(t *testing.T) {
	stretcher := &fakeStretcher{}
	factory := func(sampleRate, channels int) (Sink, error) {
		return &fakeSink{rate: sampleRate}, nil
	}

	path, err := NewPath(testLogger(), DefaultConfig(), stretcher, factory)
	if err != nil {
		t.Fatalf("NewPath() error = %v", err)
	}

	errs := make(chan error, 1)
	path.SetErrorListener(func(err error) { errs <- err })

	if err := path.Load(silentSession(t, 1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	stretcher.mu.Lock()
	stretcher.pushErr = fmt.Errorf("transform wedged")
	stretcher.mu.Unlock()

	if err := path.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fatal error")
	}

	waitForState(t, path, StateIdle)
}
