package analysis

import (
	"slices"

	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

type (
	// Plan is the execution plan proposed by a confirm_plan pause.
	Plan struct {
		Steps []PlanStep
		// Negotiating is true once the user entered customize mode.
		Negotiating bool
		// LimitReached disables further customization.
		LimitReached bool
		// NegotiationResponse is the server's reply to the last
		// modify_request answer.
		NegotiationResponse string
	}

	// PlanStep is one step of a Plan.
	PlanStep struct {
		Index       int
		Description string
		// Selected defaults to true and changes only through ToggleStep.
		Selected bool
		// Phase and Success track execution progress.
		Phase   stream.Phase
		Success *bool
	}
)

const (
	actionExecute       = "execute"
	actionCancel        = "cancel"
	actionModifyRequest = "modify_request"
	actionExecuteCustom = "execute_custom"
)

func newPlan(q stream.HITLQuestion) *Plan {
	p := &Plan{
		LimitReached:        q.NegotiationLimitReached,
		NegotiationResponse: q.NegotiationResponse,
		Steps:               make([]PlanStep, 0, len(q.Plan)),
	}
	for _, item := range q.Plan {
		p.Steps = append(p.Steps, PlanStep{Index: item.Index, Description: item.Description, Selected: true})
	}
	return p
}

// step returns the step with the given index.
func (p *Plan) step(index int) (*PlanStep, bool) {
	for i := range p.Steps {
		if p.Steps[i].Index == index {
			return &p.Steps[i], true
		}
	}
	return nil, false
}

// Selected returns the indices of the selected steps in plan order.
func (p *Plan) Selected() []int {
	var out []int
	for _, s := range p.Steps {
		if s.Selected {
			out = append(out, s.Index)
		}
	}
	return out
}

func (p *Plan) clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = slices.Clone(p.Steps)
	for i := range out.Steps {
		if s := out.Steps[i].Success; s != nil {
			v := *s
			out.Steps[i].Success = &v
		}
	}
	return &out
}

func executeAnswer() map[string]any { return map[string]any{"action": actionExecute} }

func cancelAnswer() map[string]any { return map[string]any{"action": actionCancel} }

func modifyAnswer(text string) map[string]any {
	return map[string]any{"action": actionModifyRequest, "text": text}
}

func customAnswer(steps []int) map[string]any {
	return map[string]any{"action": actionExecuteCustom, "selected_steps": steps}
}
