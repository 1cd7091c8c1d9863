package analysis

import (
	"context"
	"strings"
)

// Resume answers the live pause and streams the continuation into the
// paused operation's target. answer is normalized with NormalizeAnswer.
//
// Resume is a no-op returning the current state when no continuation is
// live, for instance because the operation was canceled concurrently.
func (c *Controller) Resume(ctx context.Context, answer string) (State, error) {
	return c.resume(ctx, NormalizeAnswer(answer))
}

// AcceptPlan executes every step of the pending plan.
func (c *Controller) AcceptPlan(ctx context.Context) (State, error) {
	if _, err := c.pendingPlan(); err != nil {
		return c.State(), err
	}
	return c.resume(ctx, executeAnswer())
}

// CancelPlan rejects the pending plan.
func (c *Controller) CancelPlan(ctx context.Context) (State, error) {
	if _, err := c.pendingPlan(); err != nil {
		return c.State(), err
	}
	return c.resume(ctx, cancelAnswer())
}

// StartNegotiation enters customize mode for the pending plan, enabling
// ToggleStep.
func (c *Controller) StartNegotiation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.pendingPlanLocked()
	if err != nil {
		return err
	}
	if p.LimitReached {
		return ErrNegotiationLimitReached
	}
	p.Negotiating = true
	return nil
}

// ToggleStep flips the selection of the plan step with the given index and
// returns its new selection.
func (c *Controller) ToggleStep(index int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.pendingPlanLocked()
	if err != nil {
		return false, err
	}
	if !p.Negotiating {
		return false, ErrNotNegotiating
	}
	s, ok := p.step(index)
	if !ok {
		return false, ErrUnknownStep
	}
	s.Selected = !s.Selected
	return s.Selected, nil
}

// CustomizePlan answers the pending plan with a customization. Non-blank
// text asks the server to revise the plan; otherwise the selected steps are
// executed. An empty selection is rejected with ErrNoStepsSelected without
// any request and the operation stays paused.
func (c *Controller) CustomizePlan(ctx context.Context, text string) (State, error) {
	c.mu.Lock()
	p, err := c.pendingPlanLocked()
	if err == nil && p.LimitReached {
		err = ErrNegotiationLimitReached
	}
	var answer map[string]any
	if err == nil {
		if t := strings.TrimSpace(text); t != "" {
			answer = modifyAnswer(t)
		} else if steps := p.Selected(); len(steps) > 0 {
			answer = customAnswer(steps)
		} else {
			err = ErrNoStepsSelected
		}
	}
	state := c.state
	c.mu.Unlock()
	if err != nil {
		return state, err
	}
	return c.resume(ctx, answer)
}

func (c *Controller) pendingPlan() (*Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingPlanLocked()
}

// pendingPlanLocked returns the plan awaiting confirmation. c.mu must be held.
func (c *Controller) pendingPlanLocked() (*Plan, error) {
	if c.hitl == nil || c.plan == nil || c.state != WaitingForInput || c.hitl.Subtype != SubtypeConfirmPlan {
		return nil, ErrNoPlan
	}
	return c.plan, nil
}

// resume consumes the live continuation and re-issues the operation with
// answer. The new pass keeps the operation's run id, start time and target.
func (c *Controller) resume(ctx context.Context, answer any) (State, error) {
	c.mu.Lock()
	if c.hitl == nil || c.state != WaitingForInput || c.run != nil || c.op == nil {
		state := c.state
		c.mu.Unlock()
		c.opts.logger.Debug(ctx, "resume without pending question ignored", "state", state.String())
		return state, nil
	}
	hc := c.hitl
	c.hitl = nil
	op := c.op
	op.resumes++
	req := op.request
	req.SessionID = hc.SessionID
	req.Message = hc.OriginalMessage
	req.Credentials = hc.Credentials
	req.ResumeAnswer = answer
	r, runCtx, from := c.beginLocked(ctx)
	c.mu.Unlock()

	c.opts.logger.Info(ctx, "resuming analysis", "run_id", op.runID, "subtype", hc.Subtype, "resumes", op.resumes)
	c.notifyState(from, Streaming)
	c.recordRun(ctx, op, Streaming, hc.Subtype)
	return c.stream(runCtx, r, op, req)
}
