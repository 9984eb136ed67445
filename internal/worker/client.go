package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Pipeline is one long-running analysis task behind the protocol boundary.
// Init is the handshake: the client refuses Process requests for a pipeline
// whose Init failed. Process may call emit for streamed partial results and
// returns the final result; it must watch ctx for cooperative cancellation.
// Reset clears internal cross-request state without re-running Init.
type Pipeline interface {
	Name() string
	Init() error
	Process(ctx context.Context, payload any, emit func(partial any)) (any, error)
	Reset()
}

// Handle correlates one dispatched request with its response stream.
type Handle struct {
	ID       string
	Pipeline string

	results   chan Message
	cancel    context.CancelFunc
	ctx       context.Context
	cancelled atomic.Bool
	done      chan struct{}
}

// Results returns the ordered response stream for this request. The channel
// is closed after the terminal RESULT or ERROR message (or silently after
// cancellation).
func (h *Handle) Results() <-chan Message {
	return h.results
}

// Done is closed once the pipeline has finished or abandoned the request.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancelled reports whether Cancel was called for this handle.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// request is one queued unit of pipeline work.
type request struct {
	handle *Handle
	payload any
	reset   bool
}

// runner owns one pipeline goroutine and its request queue.
type runner struct {
	pipeline Pipeline
	requests chan request
	initErr  error
}

// Client dispatches requests to registered pipelines and routes their
// responses back by correlation ID.
type Client struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	runners         map[string]*runner
	handles         map[string]*Handle
	onProtocolError func()
	closed          bool
}

// NewClient creates a client with no pipelines registered.
func NewClient(logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		runners: make(map[string]*runner),
		handles: make(map[string]*Handle),
	}
}

// OnProtocolError installs a callback invoked whenever a response arrives
// with no matching in-flight request.
func (c *Client) OnProtocolError(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProtocolError = fn
}

// Register runs the Init handshake for a pipeline and, on success, starts
// its worker goroutine. An init failure registers the pipeline as
// unavailable and is returned so the caller can mark that analysis degraded;
// other pipelines are unaffected.
func (c *Client) Register(p Pipeline) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("worker client closed")
	}

	name := p.Name()
	if _, exists := c.runners[name]; exists {
		return fmt.Errorf("pipeline %q already registered", name)
	}

	r := &runner{pipeline: p, requests: make(chan request, 16)}
	c.runners[name] = r

	if err := p.Init(); err != nil {
		r.initErr = err
		c.logger.Warn("Pipeline initialization failed, marking unavailable",
			slog.String("pipeline", name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("pipeline %q init: %w", name, err)
	}

	c.wg.Add(1)
	go c.runLoop(r)

	c.logger.Debug("Pipeline registered", slog.String("pipeline", name))
	return nil
}

// Send dispatches one processing request and returns the handle carrying its
// correlation ID. It never blocks on the pipeline's compute; the request is
// queued and processed on the pipeline's own goroutine.
func (c *Client) Send(pipeline string, payload any) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("worker client closed")
	}

	r, exists := c.runners[pipeline]
	if !exists {
		return nil, fmt.Errorf("unknown pipeline %q", pipeline)
	}

	if r.initErr != nil {
		return nil, fmt.Errorf("pipeline %q unavailable: %w", pipeline, r.initErr)
	}

	ctx, cancel := context.WithCancel(c.ctx)
	handle := &Handle{
		ID:       uuid.NewString(),
		Pipeline: pipeline,
		results:  make(chan Message, 16),
		cancel:   cancel,
		ctx:      ctx,
		done:     make(chan struct{}),
	}

	c.handles[handle.ID] = handle

	select {
	case r.requests <- request{handle: handle, payload: payload}:
	default:
		// Queue full: fail the request rather than block the caller.
		delete(c.handles, handle.ID)
		cancel()
		return nil, fmt.Errorf("pipeline %q queue full", pipeline)
	}

	return handle, nil
}

// Reset queues a state-clearing request for the pipeline. It does not
// re-run initialization.
func (c *Client) Reset(pipeline string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("worker client closed")
	}

	r, exists := c.runners[pipeline]
	if !exists {
		return fmt.Errorf("unknown pipeline %q", pipeline)
	}

	if r.initErr != nil {
		return fmt.Errorf("pipeline %q unavailable: %w", pipeline, r.initErr)
	}

	select {
	case r.requests <- request{reset: true}:
		return nil
	default:
		return fmt.Errorf("pipeline %q queue full", pipeline)
	}
}

// Cancel marks the handle cancelled and signals the pipeline's context.
// Cancellation is cooperative: compute already underway may finish, but any
// further messages for this correlation ID are dropped at the boundary.
func (c *Client) Cancel(h *Handle) {
	if h == nil || h.cancelled.Swap(true) {
		return
	}
	h.cancel()
}

// Close cancels all outstanding work and waits for the pipeline goroutines.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, r := range c.runners {
		close(r.requests)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// runLoop processes one pipeline's requests in order. Because a single
// goroutine serves each pipeline, messages within one correlation ID are
// delivered in the order emitted.
func (c *Client) runLoop(r *runner) {
	defer c.wg.Done()

	for req := range r.requests {
		if req.reset {
			r.pipeline.Reset()
			continue
		}

		h := req.handle
		if h.Cancelled() {
			c.finish(h)
			continue
		}

		result, err := r.pipeline.Process(h.ctx, req.payload, func(partial any) {
			c.dispatch(h, Message{
				Type:          TypeStatus,
				Pipeline:      r.pipeline.Name(),
				CorrelationID: h.ID,
				Payload:       partial,
			})
		})

		if err != nil {
			c.dispatch(h, Message{
				Type:          TypeError,
				Pipeline:      r.pipeline.Name(),
				CorrelationID: h.ID,
				Err:           err,
			})
		} else {
			c.dispatch(h, Message{
				Type:          TypeResult,
				Pipeline:      r.pipeline.Name(),
				CorrelationID: h.ID,
				Payload:       result,
			})
		}

		c.finish(h)
	}
}

// dispatch routes a message to its handle, enforcing the receive-boundary
// rules: messages for cancelled or unknown correlation IDs are dropped.
func (c *Client) dispatch(h *Handle, msg Message) {
	c.mu.Lock()
	known := c.handles[msg.CorrelationID] == h
	onProtocolError := c.onProtocolError
	c.mu.Unlock()

	if !known {
		// Protocol error: response without a matching request. Logged and
		// dropped, never fatal.
		c.logger.Warn("Dropping message with unmatched correlation ID",
			slog.String("pipeline", msg.Pipeline),
			slog.String("correlation_id", msg.CorrelationID),
			slog.String("type", string(msg.Type)),
		)
		if onProtocolError != nil {
			onProtocolError()
		}
		return
	}

	if h.Cancelled() {
		return
	}

	select {
	case h.results <- msg:
	case <-h.ctx.Done():
		// Receiver gone; drop rather than block the pipeline.
	}
}

// finish retires a handle: deregisters the correlation ID and closes the
// response stream.
func (c *Client) finish(h *Handle) {
	c.mu.Lock()
	delete(c.handles, h.ID)
	c.mu.Unlock()

	close(h.results)
	close(h.done)
	h.cancel()
}
