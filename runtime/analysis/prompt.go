package analysis

import (
	"slices"

	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

// Pause subtypes with a dedicated rendering strategy. Any other subtype is
// rendered as a clarification.
const (
	SubtypePreResearch = "pre_research"
	SubtypeConfirmPlan = "confirm_plan"
)

type (
	// PromptKind selects how a pause is rendered.
	PromptKind string

	// Action is one user action offered by a prompt.
	Action string

	// Prompt is the rendering of a pause: the question payload plus the
	// actions the user may take.
	Prompt struct {
		Kind     PromptKind
		Subtype  string
		Question string
		Message  string
		Options  []stream.Option
		Plan     []PlanStep
		// NegotiationResponse is shown above a re-proposed plan.
		NegotiationResponse string
		Actions             []Action
	}
)

const (
	// KindInfo is an informational card with an optional confirm action.
	KindInfo PromptKind = "info"
	// KindPlan is a multi-step plan card.
	KindPlan PromptKind = "plan"
	// KindClarification is an inline prompt expecting a free-text reply.
	KindClarification PromptKind = "clarification"
)

const (
	ActionConfirm   Action = "confirm"
	ActionAcceptAll Action = "accept_all"
	ActionCustomize Action = "customize"
	ActionCancel    Action = "cancel"
	ActionReply     Action = "reply"
)

// NewPrompt selects the rendering strategy for q.
func NewPrompt(q stream.HITLQuestion) Prompt {
	p := Prompt{
		Subtype:             q.Subtype,
		Question:            q.Question,
		Message:             q.Message,
		Options:             q.Options,
		NegotiationResponse: q.NegotiationResponse,
	}
	switch q.Subtype {
	case SubtypePreResearch:
		p.Kind = KindInfo
		if q.Question != "" || len(q.Options) > 0 {
			p.Actions = []Action{ActionConfirm}
		}
	case SubtypeConfirmPlan:
		p.Kind = KindPlan
		p.Plan = newPlan(q).Steps
		p.Actions = []Action{ActionAcceptAll}
		if !q.NegotiationLimitReached {
			p.Actions = append(p.Actions, ActionCustomize)
		}
		p.Actions = append(p.Actions, ActionCancel)
	default:
		p.Kind = KindClarification
		p.Actions = []Action{ActionReply}
	}
	return p
}

// Has reports whether the prompt offers action a.
func (p Prompt) Has(a Action) bool {
	return slices.Contains(p.Actions, a)
}
