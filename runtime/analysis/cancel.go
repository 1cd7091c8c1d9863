package analysis

import "context"

// Cancel aborts the active operation. A streaming pass is signalled and
// stops at its next record; it renders the cancelled marker and settles to
// Cancelled on its own goroutine, so Cancel never waits for it and is safe to
// call from hooks. A paused operation is canceled directly. In both cases the
// continuation is discarded. Cancel is a no-op when no operation is active.
func (c *Controller) Cancel() { c.cancel() }

// cancelAndWait cancels the active operation and returns once a streaming
// pass has settled, so the caller's renders never interleave with it.
func (c *Controller) cancelAndWait() {
	if r := c.cancel(); r != nil {
		<-r.done
	}
}

// cancel signals the active pass and returns it, or cancels a paused
// operation and returns nil.
func (c *Controller) cancel() *run {
	c.mu.Lock()
	c.hitl = nil
	if r := c.run; r != nil {
		r.cancelled = true
		r.cancel()
		c.mu.Unlock()
		return r
	}
	if c.state != WaitingForInput {
		c.mu.Unlock()
		return nil
	}
	c.plan = nil
	c.state = Cancelled
	op := c.op
	c.mu.Unlock()

	if op != nil {
		op.target.ShowCancelled()
	}
	ctx := context.Background()
	c.opts.logger.Info(ctx, "paused analysis cancelled")
	c.opts.metrics.IncCounter("analysis.operations", 1, "state", Cancelled.String())
	if op != nil {
		c.recordRun(ctx, op, Cancelled, "")
	}
	c.notifyState(WaitingForInput, Cancelled)
	return nil
}

// Stop is the explicit user stop action.
func (c *Controller) Stop() { c.Cancel() }

// Leave cancels the active operation when the user navigates away from the
// analysis view.
func (c *Controller) Leave() { c.Cancel() }

// SwitchSession cancels the active operation, waits for it to settle and
// makes id the active session. An empty id defers session creation to the
// next Start.
func (c *Controller) SwitchSession(id string) {
	c.cancelAndWait()
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// NewChat cancels the active operation and forgets the active session; the
// next Start creates a new one.
func (c *Controller) NewChat() { c.SwitchSession("") }

// DeleteSession cancels the active operation when it belongs to id, ends the
// session in the store and forgets it if it was active.
func (c *Controller) DeleteSession(ctx context.Context, id string) error {
	c.mu.Lock()
	active := c.sessionID == id
	c.mu.Unlock()
	if active {
		c.SwitchSession("")
	}
	if c.opts.store == nil || id == "" {
		return nil
	}
	_, err := c.opts.store.EndSession(ctx, id, c.opts.now())
	return err
}
