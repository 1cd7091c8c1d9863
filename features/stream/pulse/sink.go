// Package pulse mirrors analysis events into goa.design/pulse streams so other
// views of the same session can follow an operation live. Sink publishes one
// entry per decoded event, Subscriber reads them back and Streams bundles both
// over a single client.
package pulse

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aaaa47080/stock-agent-sub000/features/stream/pulse/clients/pulse"
	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

// StreamPrefix prefixes the Pulse stream of every session.
const StreamPrefix = "analysis/"

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client publishes the entries. Required.
		Client pulse.Client
		// StreamID picks the target stream for an envelope. Defaults to
		// StreamName of the envelope's session.
		StreamID func(stream.Envelope) (string, error)
		// MarshalEnvelope overrides the JSON encoding of an entry.
		MarshalEnvelope func(stream.Envelope) ([]byte, error)
		// OnPublished runs after each successful Add. Its error is returned
		// from Send.
		OnPublished func(context.Context, Published) error
	}

	// Published describes an entry the sink wrote.
	Published struct {
		StreamID string
		EntryID  string
		Envelope stream.Envelope
	}

	// Sink implements stream.Sink on Pulse. Safe for concurrent use.
	Sink struct {
		client      pulse.Client
		streamID    func(stream.Envelope) (string, error)
		marshal     func(stream.Envelope) ([]byte, error)
		onPublished func(context.Context, Published) error
	}
)

var _ stream.Sink = (*Sink)(nil)

// StreamName returns the Pulse stream carrying the events of a session.
func StreamName(sessionID string) string {
	return StreamPrefix + sessionID
}

// NewSink returns a sink publishing through opts.Client.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Sink{
		client:      opts.Client,
		streamID:    sessionStreamID,
		marshal:     func(env stream.Envelope) ([]byte, error) { return json.Marshal(env) },
		onPublished: opts.OnPublished,
	}
	if opts.StreamID != nil {
		s.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		s.marshal = opts.MarshalEnvelope
	}
	return s, nil
}

// Send appends env to the stream of its session. The Pulse event name is the
// envelope type.
func (s *Sink) Send(ctx context.Context, env stream.Envelope) error {
	streamID, err := s.streamID(env)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	payload, err := s.marshal(env)
	if err != nil {
		return err
	}
	id, err := handle.Add(ctx, string(env.Type), payload)
	if err != nil {
		return err
	}
	if s.onPublished != nil {
		return s.onPublished(ctx, Published{StreamID: streamID, EntryID: id, Envelope: env})
	}
	return nil
}

// Close delegates to the client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func sessionStreamID(env stream.Envelope) (string, error) {
	if env.SessionID == "" {
		return "", errors.New("stream envelope missing session id")
	}
	return StreamName(env.SessionID), nil
}
