package analysis

// State is the lifecycle state of the controller's current operation.
type State int

const (
	// Idle means no operation was started yet.
	Idle State = iota
	// Streaming means a response body is being consumed.
	Streaming
	// WaitingForInput means the operation is paused or ended its turn
	// without completing.
	WaitingForInput
	// Completed means the server finished the operation.
	Completed
	// Failed means a transport failure or a server error event ended the
	// operation.
	Failed
	// Cancelled means the operation was stopped by the user.
	Cancelled
)

var stateNames = [...]string{
	Idle:            "idle",
	Streaming:       "streaming",
	WaitingForInput: "waiting_for_input",
	Completed:       "completed",
	Failed:          "failed",
	Cancelled:       "cancelled",
}

// String returns the snake_case name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Active reports whether the state holds the session's single operation slot.
func (s State) Active() bool {
	return s == Streaming || s == WaitingForInput
}

// Terminal reports whether the operation ended for good. WaitingForInput is
// not terminal: it may still be resumed.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}
