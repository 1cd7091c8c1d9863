package analysis

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
	"github.com/aaaa47080/stock-agent-sub000/runtime/telemetry"
)

// outcome is how one stream pass ended.
type outcome struct {
	state   State
	err     error
	message string
}

// consume issues req and dispatches the decoded events until the stream
// ends. Only the goroutine running consume renders non-terminal output.
func (c *Controller) consume(ctx context.Context, op *operation, req Request) outcome {
	body, err := c.transport.Stream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{state: Cancelled}
		}
		c.opts.logger.Error(ctx, "analysis request failed", "session_id", req.SessionID, "run_id", op.runID, "err", err)
		return outcome{state: Failed, err: err, message: failureMessage(err)}
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			c.opts.logger.Debug(ctx, "closing response body", "err", cerr)
		}
	}()

	reader := stream.NewReader(body, c.opts.decoder, stream.WithSkipHandler(func(record string, err error) {
		c.opts.logger.Debug(ctx, "skipping malformed record", "record", record, "err", err)
		c.opts.metrics.IncCounter("analysis.records.skipped", 1)
		if h := c.opts.hooks.OnRecordSkipped; h != nil {
			h(record, err)
		}
	}))

	// text is the accumulated buffer of this pass; every pass starts empty.
	var text strings.Builder
	for {
		if ctx.Err() != nil {
			return outcome{state: Cancelled}
		}
		ev, err := reader.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return c.endOfBody(ctx, op)
			case ctx.Err() != nil:
				return outcome{state: Cancelled}
			default:
				c.opts.logger.Error(ctx, "analysis stream interrupted", "session_id", req.SessionID, "run_id", op.runID, "err", err)
				terr := &TransportError{Err: err}
				return outcome{state: Failed, err: terr, message: terr.Message()}
			}
		}
		c.mirror(ctx, op, ev)
		if out, stop := c.dispatch(ctx, op, &text, ev); stop {
			return out
		}
	}
}

// dispatch applies one event. It returns stop when the event ends the pass.
func (c *Controller) dispatch(ctx context.Context, op *operation, text *strings.Builder, ev stream.Event) (outcome, bool) {
	switch e := ev.(type) {
	case stream.ContentDelta:
		text.WriteString(e.Text)
		op.target.Update(text.String())
	case stream.Progress:
		c.applyProgress(ctx, op, e)
	case stream.Meta:
		c.mu.Lock()
		op.codebookID = e.CodebookID
		c.mu.Unlock()
		if h := c.opts.hooks.OnMeta; h != nil {
			h(e.CodebookID)
		}
	case stream.HITLQuestion:
		c.pause(ctx, op, e)
		return outcome{state: WaitingForInput}, true
	case stream.Waiting:
		return outcome{state: WaitingForInput}, true
	case stream.Done:
		return outcome{state: Completed}, true
	case stream.Error:
		msg := e.Message
		if msg == "" {
			msg = "The analysis failed."
		}
		c.opts.logger.Warn(ctx, "analysis error event", "run_id", op.runID, "message", msg)
		return outcome{state: Failed, message: msg}, true
	}
	return outcome{}, false
}

// applyProgress updates a step of the rendered plan. Without a plan, or for
// an index the plan does not have, the event is ignored.
func (c *Controller) applyProgress(ctx context.Context, op *operation, e stream.Progress) {
	c.mu.Lock()
	var found bool
	if c.plan != nil {
		if s, ok := c.plan.step(e.Step); ok {
			s.Phase = e.Phase
			s.Success = e.Success
			found = true
		}
	}
	c.mu.Unlock()
	if !found {
		c.opts.logger.Debug(ctx, "progress without rendered plan step", "step", e.Step, "phase", string(e.Phase))
		return
	}
	op.target.RenderPlanProgress(e.Step, e.Phase, e.Success)
}

// pause replaces the live continuation with one for q and renders the prompt.
func (c *Controller) pause(ctx context.Context, op *operation, q stream.HITLQuestion) {
	prompt := NewPrompt(q)
	c.mu.Lock()
	c.hitl = &HITLContext{
		SessionID:       op.request.SessionID,
		OriginalMessage: op.request.Message,
		Credentials:     op.request.Credentials,
		Subtype:         q.Subtype,
		Target:          op.target,
		StartTime:       op.started,
		RunID:           op.runID,
	}
	if q.Subtype == SubtypeConfirmPlan {
		c.plan = newPlan(q)
	} else {
		c.plan = nil
	}
	c.mu.Unlock()

	c.opts.metrics.IncCounter("analysis.hitl.pauses", 1, "subtype", q.Subtype)
	c.opts.logger.Info(ctx, "analysis paused", "run_id", op.runID, "subtype", q.Subtype)
	op.target.RenderHITL(prompt)
}

// endOfBody settles a body that ended without a terminal event: a live
// continuation means the server is waiting for the user, otherwise the
// operation is considered complete.
func (c *Controller) endOfBody(ctx context.Context, op *operation) outcome {
	c.mu.Lock()
	live := c.hitl != nil
	c.mu.Unlock()
	c.opts.logger.Debug(ctx, "stream ended without terminal event", "run_id", op.runID, "paused", live)
	if live {
		return outcome{state: WaitingForInput}
	}
	return outcome{state: Completed}
}

// finish moves the controller to the pass's final state and renders it. A
// pass canceled before it completed or failed always ends Cancelled. The
// terminal render runs outside the lock while r is still the active pass, so
// a Start issued meanwhile waits for it.
func (c *Controller) finish(ctx context.Context, r *run, op *operation, out outcome) (State, error) {
	c.mu.Lock()
	if out.state == Cancelled || (r.cancelled && !out.state.Terminal()) {
		out = outcome{state: Cancelled}
	}
	from := c.state
	c.state = out.state
	codebookID := op.codebookID
	var subtype string
	if c.hitl != nil {
		subtype = c.hitl.Subtype
	}
	if out.state == WaitingForInput {
		// Nothing to render; the continuation is live right away.
		c.run = nil
	} else {
		c.hitl = nil
		c.plan = nil
	}
	c.mu.Unlock()

	switch out.state {
	case Completed:
		op.target.Finalize(c.elapsed(op.started).Seconds(), codebookID)
	case Failed:
		op.target.ShowError(out.message)
	case Cancelled:
		op.target.ShowCancelled()
	}

	c.mu.Lock()
	if c.run == r {
		c.run = nil
	}
	c.mu.Unlock()

	switch out.state {
	case Cancelled:
		c.opts.logger.Info(ctx, "analysis cancelled", "run_id", op.runID)
	case Completed:
		c.opts.logger.Info(ctx, "analysis completed", "run_id", op.runID, "codebook_id", codebookID)
	}
	c.opts.metrics.IncCounter("analysis.operations", 1, "state", out.state.String())
	c.recordRun(context.WithoutCancel(ctx), op, out.state, subtype)
	c.notifyState(from, out.state)
	return out.state, out.err
}

// mirror forwards ev to the configured sink.
func (c *Controller) mirror(ctx context.Context, op *operation, ev stream.Event) {
	if c.opts.sink == nil {
		return
	}
	env := stream.NewEnvelope(op.request.SessionID, op.runID, ev, c.opts.now())
	if err := c.opts.sink.Send(ctx, env); err != nil {
		c.opts.logger.Warn(ctx, "event sink failed", "run_id", op.runID, "event", string(ev.Type()), "err", err)
	}
}

func (c *Controller) notifyState(from, to State) {
	if from == to {
		return
	}
	if h := c.opts.hooks.OnStateChange; h != nil {
		h(from, to)
	}
}

func (c *Controller) startSpan(ctx context.Context, op *operation, resume bool) (context.Context, telemetry.Span) {
	return c.opts.tracer.Start(ctx, "analysis.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("analysis.session_id", op.request.SessionID),
			attribute.String("analysis.run_id", op.runID),
			attribute.Bool("analysis.resume", resume),
		),
	)
}

func endSpan(span telemetry.Span, state State, err error) {
	switch state {
	case Failed:
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, state.String())
	default:
		span.SetStatus(codes.Ok, state.String())
	}
}
