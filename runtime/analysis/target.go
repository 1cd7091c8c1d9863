package analysis

import "github.com/aaaa47080/stock-agent-sub000/runtime/stream"

type (
	// Target receives everything the controller renders for one operation.
	// It is implemented by the presentation layer. The controller never
	// calls a Target concurrently or while holding its lock. Target methods
	// may read the Controller (State, Pending, Plan) and call Stop, but must
	// not call Start, Resume or SwitchSession.
	Target interface {
		// Update replaces the rendered text with the full accumulated buffer.
		Update(fullText string)
		// RenderHITL renders a pause prompt.
		RenderHITL(prompt Prompt)
		// RenderPlanProgress updates the phase of one rendered plan step.
		RenderPlanProgress(stepIndex int, phase stream.Phase, success *bool)
		// Finalize marks the operation complete. codebookID is empty when
		// the server sent none; otherwise a feedback action may be offered.
		Finalize(elapsedSeconds float64, codebookID string)
		// ShowError replaces the rendered content with an error indicator.
		ShowError(message string)
		// ShowCancelled appends a cancelled marker to the partial content.
		ShowCancelled()
	}

	// Hooks are optional callbacks registered at construction time. Nil
	// fields are skipped. Hooks run outside the controller lock, most of
	// them on the goroutine streaming the pass. They may call Stop, Cancel
	// or Leave but not the methods that wait for the pass to settle (Start,
	// Resume, SwitchSession, NewChat, DeleteSession).
	Hooks struct {
		// OnStateChange observes every state transition.
		OnStateChange func(from, to State)
		// OnMeta observes the codebook id of the current operation.
		OnMeta func(codebookID string)
		// OnRecordSkipped observes every malformed record.
		OnRecordSkipped func(record string, err error)
		// OnSessionCreated observes lazily created sessions.
		OnSessionCreated func(sessionID string)
	}
)
