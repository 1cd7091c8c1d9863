// Package stream turns the body of an analysis response into typed events.
//
// The response is a sequence of newline-delimited records, each prefixed with
// "data:" and carrying one JSON payload. Framer reassembles records across
// chunk boundaries, Decoder maps each payload to an Event variant, and Reader
// combines both over an io.Reader. Malformed records are skipped rather than
// aborting the stream.
package stream

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type (
	// EventType identifies an Event variant.
	EventType string

	// Phase is the lifecycle phase reported by a Progress event.
	Phase string

	// Event is one decoded stream record. Concrete variants are value types:
	// Meta, Progress, ContentDelta, HITLQuestion, Waiting, Done and Error.
	Event interface {
		Type() EventType
	}

	// Meta carries server metadata about the operation. CodebookID identifies
	// the analysis for later quality feedback.
	Meta struct {
		CodebookID string `json:"codebook_id,omitempty"`
	}

	// Progress reports a plan step entering or leaving execution.
	Progress struct {
		Step    int   `json:"step"`
		Phase   Phase `json:"phase"`
		Success *bool `json:"success,omitempty"`
	}

	// ContentDelta is an incremental piece of assistant text.
	ContentDelta struct {
		Text string `json:"text"`
	}

	// HITLQuestion pauses the operation until a human answers.
	HITLQuestion struct {
		// Subtype selects the interaction: "pre_research", "confirm_plan" or
		// any other value for a free-text clarification.
		Subtype  string     `json:"subtype"`
		Question string     `json:"question,omitempty"`
		Options  []Option   `json:"options,omitempty"`
		Plan     []PlanItem `json:"plan,omitempty"`
		Message  string     `json:"message,omitempty"`
		// NegotiationResponse is the server's reply to a previous
		// modify_request answer.
		NegotiationResponse string `json:"negotiation_response,omitempty"`
		// NegotiationLimitReached disables further plan customization.
		NegotiationLimitReached bool `json:"negotiation_limit_reached,omitempty"`
	}

	// Waiting ends the turn without completing the operation.
	Waiting struct{}

	// Done completes the operation.
	Done struct{}

	// Error fails the operation with a server-provided message.
	Error struct {
		Message string `json:"message"`
	}

	// Option is one choice offered by a HITLQuestion.
	Option struct {
		Label string `json:"label"`
		Value string `json:"value,omitempty"`
	}

	// PlanItem is one step of a proposed execution plan.
	PlanItem struct {
		Index       int    `json:"index"`
		Description string `json:"description"`
	}
)

const (
	EventMeta         EventType = "meta"
	EventProgress     EventType = "progress"
	EventContentDelta EventType = "content"
	EventHITLQuestion EventType = "hitl_question"
	EventWaiting      EventType = "waiting"
	EventDone         EventType = "done"
	EventError        EventType = "error"

	PhaseStart  Phase = "start"
	PhaseFinish Phase = "finish"
)

func (Meta) Type() EventType         { return EventMeta }
func (Progress) Type() EventType     { return EventProgress }
func (ContentDelta) Type() EventType { return EventContentDelta }
func (HITLQuestion) Type() EventType { return EventHITLQuestion }
func (Waiting) Type() EventType      { return EventWaiting }
func (Done) Type() EventType         { return EventDone }
func (Error) Type() EventType        { return EventError }

// IsTerminal reports whether ev ends a stream. A HITLQuestion also ends the
// read loop but is a pause, not a terminal event.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Done, Error, Waiting:
		return true
	}
	return false
}

// UnmarshalJSON accepts either a bare string (the description) or an object.
// Index stays zero when the payload omits it; the decoder assigns positions.
func (p *PlanItem) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = PlanItem{Description: s}
		return nil
	}
	var obj planItemJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.Index, _ = obj.index()
	p.Description = firstNonEmpty(obj.Description, obj.Title, obj.Name)
	return nil
}

type planItemJSON struct {
	Index       json.RawMessage `json:"index"`
	Step        json.RawMessage `json:"step"`
	Description string          `json:"description"`
	Title       string          `json:"title"`
	Name        string          `json:"name"`
}

// index prefers "index" over "step". ok is false when neither holds an
// integer.
func (o planItemJSON) index() (int, bool) {
	if n, ok := parseFlexInt(o.Index); ok {
		return n, true
	}
	return parseFlexInt(o.Step)
}

// hasPlanIndex reports whether a raw plan item carries its own index.
func hasPlanIndex(raw json.RawMessage) bool {
	var obj planItemJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	_, ok := obj.index()
	return ok
}

// flexText renders a JSON scalar as text: strings are unquoted, other values
// keep their JSON form, null and absent values are empty.
func flexText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// flexInt reads an integer encoded either as a JSON number or a string.
// Absent or unparsable values read as zero.
func flexInt(raw json.RawMessage) int {
	n, _ := parseFlexInt(raw)
	return n
}

func parseFlexInt(raw json.RawMessage) (int, bool) {
	text := flexText(raw)
	if text == "" {
		return 0, false
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil {
			return 0, false
		}
		return int(f), true
	}
	return n, true
}

// firstNonEmpty returns the first non-empty string in values, or "".
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
