// Package analysis implements the streaming analysis session controller.
//
// A Controller sends an analyze request, consumes the streamed events of the
// response and applies them, in arrival order, to a Target. The server may
// pause the operation to ask the user a question; the controller keeps the
// continuation (HITLContext) and re-issues the same logical operation when
// Resume is called, any number of times. At most one operation is in flight
// per controller: starting a new one cancels the previous one first.
//
// Start and Resume run synchronously and return when the stream reached a
// terminal event, paused, failed or was canceled. Cancel may be called from
// any goroutine.
package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

type (
	// Controller owns the state of one client's analysis session. It is safe
	// for concurrent use.
	Controller struct {
		transport Transport
		opts      options

		mu        sync.Mutex
		state     State
		sessionID string
		hitl      *HITLContext
		plan      *Plan
		op        *operation
		run       *run
	}

	// HITLContext is the continuation of a paused operation.
	HITLContext struct {
		SessionID       string
		OriginalMessage string
		// Credentials is echoed back on resume, never inspected.
		Credentials any
		Subtype     string
		Target      Target
		StartTime   time.Time
		RunID       string
	}

	// operation is one logical analyze operation spanning resume cycles.
	operation struct {
		runID      string
		request    Request
		target     Target
		started    time.Time
		codebookID string
		resumes    int
	}

	// run is one stream pass (the initial request or one resume).
	run struct {
		cancel    context.CancelFunc
		done      chan struct{}
		cancelled bool
	}
)

// New returns a Controller issuing requests through transport.
func New(transport Transport, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.decoder == nil {
		dec, err := stream.NewDecoder()
		if err != nil {
			// The default decoder has no fallible configuration.
			panic(err)
		}
		o.decoder = dec
	}
	return &Controller{transport: transport, opts: o}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the active session id, empty until the first message.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Pending returns a copy of the live HITLContext, if any.
func (c *Controller) Pending() (HITLContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hitl == nil {
		return HITLContext{}, false
	}
	return *c.hitl, true
}

// Plan returns a copy of the current plan, if any.
func (c *Controller) Plan() (*Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plan == nil {
		return nil, false
	}
	return c.plan.clone(), true
}

// Start issues a new operation rendering into target and streams its
// response. Any active operation is canceled first and Start waits for it
// to settle. A session is created
// lazily when neither the controller nor req carry one.
//
// The returned error is non-nil only for local rejections and transport
// failures; server error events and cancellations are reported through the
// returned state.
func (c *Controller) Start(ctx context.Context, target Target, req Request) (State, error) {
	if strings.TrimSpace(req.Message) == "" {
		return c.State(), ErrEmptyMessage
	}
	if target == nil {
		return c.State(), errors.New("analysis: target is required")
	}
	c.cancelAndWait()

	sessionID, err := c.ensureSession(ctx, req.SessionID)
	if err != nil {
		return c.State(), err
	}
	req.SessionID = sessionID
	req.ResumeAnswer = nil

	c.mu.Lock()
	for c.run != nil {
		// Another Start won the slot while the session was being created.
		c.mu.Unlock()
		c.cancelAndWait()
		c.mu.Lock()
	}
	c.hitl = nil
	c.plan = nil
	op := &operation{
		runID:   c.opts.newRunID(),
		request: req,
		target:  target,
		started: c.opts.now(),
	}
	c.op = op
	r, runCtx, from := c.beginLocked(ctx)
	c.mu.Unlock()

	c.notifyState(from, Streaming)
	c.recordRun(ctx, op, Streaming, "")
	return c.stream(runCtx, r, op, req)
}

// ensureSession returns the session to use, creating one when needed.
func (c *Controller) ensureSession(ctx context.Context, requested string) (string, error) {
	c.mu.Lock()
	if requested != "" {
		c.sessionID = requested
	}
	current := c.sessionID
	c.mu.Unlock()
	if current != "" {
		c.createSession(ctx, current)
		return current, nil
	}

	id, err := c.opts.provider(ctx)
	if err != nil {
		c.opts.logger.Error(ctx, "session creation failed", "err", err)
		return "", &TransportError{Err: err}
	}
	c.mu.Lock()
	if c.sessionID == "" {
		c.sessionID = id
	}
	id = c.sessionID
	c.mu.Unlock()
	c.createSession(ctx, id)
	c.opts.logger.Info(ctx, "session created", "session_id", id)
	if h := c.opts.hooks.OnSessionCreated; h != nil {
		h(id)
	}
	return id, nil
}

// beginLocked allocates a fresh cancellation handle for one stream pass.
// c.mu must be held.
func (c *Controller) beginLocked(ctx context.Context) (*run, context.Context, State) {
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	c.run = r
	from := c.state
	c.state = Streaming
	return r, runCtx, from
}

// stream consumes one response and settles the resulting state.
func (c *Controller) stream(ctx context.Context, r *run, op *operation, req Request) (State, error) {
	defer close(r.done)
	defer r.cancel()

	start := c.opts.now()
	ctx, span := c.startSpan(ctx, op, req.ResumeAnswer != nil)
	defer span.End()

	out := c.consume(ctx, op, req)
	state, err := c.finish(ctx, r, op, out)

	c.opts.metrics.RecordTimer("analysis.stream.duration", c.elapsed(start), "state", state.String())
	endSpan(span, state, err)
	return state, err
}

// elapsed returns the time since t on the controller clock.
func (c *Controller) elapsed(t time.Time) time.Duration { return c.opts.now().Sub(t) }
