package analysis

import (
	"context"

	"github.com/aaaa47080/stock-agent-sub000/runtime/session"
)

var runStatuses = map[State]session.RunStatus{
	Streaming:       session.RunStatusRunning,
	WaitingForInput: session.RunStatusPaused,
	Completed:       session.RunStatusCompleted,
	Failed:          session.RunStatusFailed,
	Cancelled:       session.RunStatusCanceled,
}

// createSession records an active session in the store, if any.
func (c *Controller) createSession(ctx context.Context, id string) {
	if c.opts.store == nil {
		return
	}
	if _, err := c.opts.store.CreateSession(ctx, id, c.opts.now()); err != nil {
		c.opts.logger.Warn(ctx, "session store create failed", "session_id", id, "err", err)
	}
}

// recordRun upserts the run metadata of op for the given state.
func (c *Controller) recordRun(ctx context.Context, op *operation, state State, subtype string) {
	if c.opts.store == nil {
		return
	}
	status, ok := runStatuses[state]
	if !ok {
		return
	}
	c.mu.Lock()
	meta := session.RunMeta{
		RunID:      op.runID,
		SessionID:  op.request.SessionID,
		Status:     status,
		Message:    op.request.Message,
		Subtype:    subtype,
		Resumes:    op.resumes,
		CodebookID: op.codebookID,
		StartedAt:  op.started,
	}
	c.mu.Unlock()
	if state == Failed {
		meta.Error = "failed"
	}
	if err := c.opts.store.UpsertRun(ctx, meta); err != nil {
		c.opts.logger.Warn(ctx, "session store run update failed", "run_id", op.runID, "status", string(status), "err", err)
	}
}
