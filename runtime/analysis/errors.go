package analysis

import (
	"errors"
	"fmt"
)

// NetworkFailureMessage is shown when a transport failure carries no server
// detail.
const NetworkFailureMessage = "Network error: unable to reach the analysis service. Please try again."

var (
	// ErrEmptyMessage is returned by Start when the message is blank.
	ErrEmptyMessage = errors.New("analysis: message is required")
	// ErrNoStepsSelected is returned when a custom plan has no selected step.
	// No request is sent and the operation stays paused.
	ErrNoStepsSelected = errors.New("analysis: select at least one step or cancel the plan")
	// ErrNoPlan is returned by plan actions when no plan awaits confirmation.
	ErrNoPlan = errors.New("analysis: no plan awaiting confirmation")
	// ErrNotNegotiating is returned by ToggleStep outside negotiation mode.
	ErrNotNegotiating = errors.New("analysis: plan is not in negotiation mode")
	// ErrNegotiationLimitReached is returned when the server disabled
	// further plan customization.
	ErrNegotiationLimitReached = errors.New("analysis: negotiation limit reached")
	// ErrUnknownStep is returned by ToggleStep for an index not in the plan.
	ErrUnknownStep = errors.New("analysis: unknown plan step")
)

// TransportError reports that the request could not be sent or was answered
// with a non-success status before streaming began. It is also used when the
// connection breaks mid-stream.
type TransportError struct {
	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int
	// Detail is the server-provided error detail, if any.
	Detail string
	// Err is the underlying error, if any.
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("analysis: HTTP %d: %s", e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("analysis: HTTP %d", e.StatusCode)
	case e.Err != nil:
		return "analysis: transport: " + e.Err.Error()
	default:
		return "analysis: transport failure"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Message returns the text shown to the user: the server detail when
// present, otherwise NetworkFailureMessage.
func (e *TransportError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return NetworkFailureMessage
}

// failureMessage maps any transport-level error to the user-facing text.
func failureMessage(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Message()
	}
	return NetworkFailureMessage
}
