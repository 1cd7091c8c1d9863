package pulse

import (
	"context"
	"errors"

	clientspulse "github.com/aaaa47080/stock-agent-sub000/features/stream/pulse/clients/pulse"
	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

type (
	// Streams shares one Pulse client between the publishing sink, any
	// viewers following a session and session cleanup.
	Streams struct {
		sink   *Sink
		client clientspulse.Client
	}

	// StreamsOptions configures NewStreams.
	StreamsOptions struct {
		// Client is required.
		Client clientspulse.Client
		// Sink overrides sink defaults. Its Client field is ignored.
		Sink Options
	}
)

// NewStreams returns the helper for opts.Client.
func NewStreams(opts StreamsOptions) (*Streams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &Streams{sink: sink, client: opts.Client}, nil
}

// Sink returns the publishing sink, ready for analysis.WithSink.
func (s *Streams) Sink() stream.Sink { return s.sink }

// NewSubscriber returns a subscriber on the shared client.
func (s *Streams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = s.client
	return NewSubscriber(opts)
}

// DestroySession deletes the stream of a session and everything in it.
func (s *Streams) DestroySession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	str, err := s.client.Stream(StreamName(sessionID))
	if err != nil {
		return err
	}
	return str.Destroy(ctx)
}

// Close closes the sink and with it the client.
func (s *Streams) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
