package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type (
	// Sink receives a copy of every decoded event, for observers other than
	// the render target (other views of the same session, audit trails).
	// Implementations must be safe for concurrent use.
	Sink interface {
		// Send publishes one envelope. Errors are reported to the caller,
		// which logs them; a failing sink never interrupts the stream.
		Send(ctx context.Context, env Envelope) error
		// Close releases resources owned by the sink. Close is idempotent.
		Close(ctx context.Context) error
	}

	// Envelope wraps an event with the identifiers of the operation that
	// produced it.
	Envelope struct {
		SessionID string    `json:"session_id"`
		RunID     string    `json:"run_id"`
		Type      EventType `json:"type"`
		Timestamp time.Time `json:"timestamp"`
		Event     Event     `json:"payload,omitempty"`
	}

	fanout []Sink
)

// NewEnvelope wraps ev for the given session and run, stamped with at.
func NewEnvelope(sessionID, runID string, ev Event, at time.Time) Envelope {
	return Envelope{
		SessionID: sessionID,
		RunID:     runID,
		Type:      ev.Type(),
		Timestamp: at.UTC(),
		Event:     ev,
	}
}

// UnmarshalEvent restores the concrete event of type t from its JSON
// encoding. Unknown types yield a nil Event and no error.
func UnmarshalEvent(t EventType, payload []byte) (Event, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	switch t {
	case EventMeta:
		return unmarshalAs[Meta](payload)
	case EventProgress:
		return unmarshalAs[Progress](payload)
	case EventContentDelta:
		return unmarshalAs[ContentDelta](payload)
	case EventHITLQuestion:
		return unmarshalAs[HITLQuestion](payload)
	case EventWaiting:
		return Waiting{}, nil
	case EventDone:
		return Done{}, nil
	case EventError:
		return unmarshalAs[Error](payload)
	}
	return nil, nil
}

func unmarshalAs[T Event](payload []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Fanout returns a Sink that forwards every envelope to each of sinks in
// order. Nil sinks are skipped. Send and Close visit every sink and join
// the errors.
func Fanout(sinks ...Sink) Sink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (f fanout) Send(ctx context.Context, env Envelope) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) Close(ctx context.Context) error {
	var errs []error
	for _, s := range f {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
