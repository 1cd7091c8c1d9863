package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/aaaa47080/stock-agent-sub000/features/stream/pulse/clients/pulse"
	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

type (
	// EnvelopeDecoder turns a raw Pulse payload back into an envelope.
	EnvelopeDecoder func([]byte) (stream.Envelope, error)

	// SubscriberOptions configures a Subscriber.
	SubscriberOptions struct {
		// Client reads the streams. Required.
		Client clientspulse.Client
		// SinkName names the consumer group. Defaults to "analysis_viewer".
		SinkName string
		// Buffer is the capacity of the record channel. Defaults to 64.
		Buffer int
		// Decoder defaults to the JSON form written by Sink.
		Decoder EnvelopeDecoder
	}

	// Record is one entry read from a session stream.
	Record struct {
		EntryID  string
		Envelope stream.Envelope
	}

	// Subscriber follows session streams written by Sink.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber returns a subscriber reading through opts.Client.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Subscriber{
		client: opts.Client,
		buffer: opts.Buffer,
		name:   opts.SinkName,
		decode: opts.Decoder,
	}
	if s.name == "" {
		s.name = "analysis_viewer"
	}
	if s.buffer <= 0 {
		s.buffer = 64
	}
	if s.decode == nil {
		s.decode = DecodeEnvelope
	}
	return s, nil
}

// Subscribe follows the stream of sessionID. Records arrive in publish order
// and are acked once delivered. The returned cancel function stops the
// consumer, closes the Pulse sink and then both channels.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	sessionID string,
	opts ...streamopts.Sink,
) (<-chan Record, <-chan error, context.CancelFunc, error) {
	if sessionID == "" {
		return nil, nil, nil, errors.New("session id is required")
	}
	str, err := s.client.Stream(StreamName(sessionID))
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	records := make(chan Record, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, records, errs)
	return records, errs, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- Record, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			env, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode %s: %w", evt.ID, err)
				return
			}
			select {
			case out <- Record{EntryID: evt.ID, Envelope: env}:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("pulse ack: %w", err)
				return
			}
		}
	}
}

// DecodeEnvelope reads the JSON written by Sink and restores the concrete
// event variant from the envelope type. Unknown types decode with a nil
// Event.
func DecodeEnvelope(payload []byte) (stream.Envelope, error) {
	var raw struct {
		SessionID string           `json:"session_id"`
		RunID     string           `json:"run_id"`
		Type      stream.EventType `json:"type"`
		Timestamp time.Time        `json:"timestamp"`
		Payload   json.RawMessage  `json:"payload"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return stream.Envelope{}, err
	}
	env := stream.Envelope{
		SessionID: raw.SessionID,
		RunID:     raw.RunID,
		Type:      raw.Type,
		Timestamp: raw.Timestamp,
	}
	ev, err := stream.UnmarshalEvent(raw.Type, raw.Payload)
	if err != nil {
		return stream.Envelope{}, fmt.Errorf("%s payload: %w", raw.Type, err)
	}
	env.Event = ev
	return env, nil
}
