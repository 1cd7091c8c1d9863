// Package runlog provides a durable, append-only log of the events of each
// analysis run.
//
// A run spans the initial request and every resume of the same operation, so
// the log of one run replays the whole operation, pauses included. Stores
// assign event ids; callers page through a run with opaque cursors.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

type (
	// Event is one immutable entry of a run log.
	Event struct {
		// ID is assigned by the store. IDs are ordered within a run.
		ID        string
		RunID     string
		SessionID string
		Type      stream.EventType
		// Payload is the JSON encoding of the stream event.
		Payload   json.RawMessage
		Timestamp time.Time
	}

	// Page is a forward page of run events, oldest first. NextCursor is
	// empty on the last page.
	Page struct {
		Events     []*Event
		NextCursor string
	}

	// Store is an append-only event store.
	Store interface {
		// Append persists e and sets e.ID.
		Append(ctx context.Context, e *Event) error
		// List returns the page of events of runID following cursor. An
		// empty cursor starts at the beginning. limit must be positive.
		List(ctx context.Context, runID string, cursor string, limit int) (Page, error)
	}

	// Sink appends every mirrored envelope to a Store.
	Sink struct {
		store Store
	}
)

var _ stream.Sink = (*Sink)(nil)

// Validate reports the first missing required field of e.
func (e *Event) Validate() error {
	switch {
	case e == nil:
		return errors.New("event is required")
	case e.RunID == "":
		return errors.New("run id is required")
	case e.Type == "":
		return errors.New("event type is required")
	case e.Timestamp.IsZero():
		return errors.New("timestamp is required")
	}
	return nil
}

// FromEnvelope converts a mirrored envelope into a log event.
func FromEnvelope(env stream.Envelope) (*Event, error) {
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", env.Type, err)
	}
	return &Event{
		RunID:     env.RunID,
		SessionID: env.SessionID,
		Type:      env.Type,
		Payload:   payload,
		Timestamp: env.Timestamp,
	}, nil
}

// Envelope restores the stream envelope e was recorded from.
func (e *Event) Envelope() (stream.Envelope, error) {
	ev, err := stream.UnmarshalEvent(e.Type, e.Payload)
	if err != nil {
		return stream.Envelope{}, fmt.Errorf("decode %s event %s: %w", e.Type, e.ID, err)
	}
	return stream.Envelope{
		SessionID: e.SessionID,
		RunID:     e.RunID,
		Type:      e.Type,
		Timestamp: e.Timestamp,
		Event:     ev,
	}, nil
}

// NewSink returns a sink writing to store.
func NewSink(store Store) (*Sink, error) {
	if store == nil {
		return nil, errors.New("run log store is required")
	}
	return &Sink{store: store}, nil
}

// Send appends env to the log of its run.
func (s *Sink) Send(ctx context.Context, env stream.Envelope) error {
	e, err := FromEnvelope(env)
	if err != nil {
		return err
	}
	return s.store.Append(ctx, e)
}

// Close is a no-op; the store outlives the sink.
func (s *Sink) Close(context.Context) error { return nil }

// Walk calls fn for every event of runID in order, fetching pageSize events
// at a time. It stops at the first error returned by fn.
func Walk(ctx context.Context, store Store, runID string, pageSize int, fn func(*Event) error) error {
	var cursor string
	for {
		page, err := store.List(ctx, runID, cursor, pageSize)
		if err != nil {
			return err
		}
		for _, e := range page.Events {
			if err := fn(e); err != nil {
				return err
			}
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}
