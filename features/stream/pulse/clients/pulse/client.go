// Package pulse wraps goa.design/pulse streams behind the narrow interfaces
// the analysis mirror needs. Callers build a Redis client, pass it to New and
// get back a Client that can publish session events, open consumer groups to
// follow them and drop a session's stream once the session is deleted.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the Pulse client.
	Options struct {
		// Redis backs the Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen caps the entries kept per session stream. Zero keeps
		// the Pulse default.
		StreamMaxLen int
		// StreamOptions returns extra options for the named stream.
		StreamOptions func(name string) []streamopts.Stream
		// OperationTimeout bounds each Add and Destroy call. Zero disables it.
		OperationTimeout time.Duration
	}

	// Client opens Pulse streams by name.
	Client interface {
		// Stream returns a handle to the named stream, creating it if needed.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close releases resources owned by the client. The Redis connection
		// belongs to the caller and stays open.
		Close(ctx context.Context) error
	}

	// Stream publishes to and reads from one Pulse stream.
	Stream interface {
		// Add appends an event and returns the Redis entry id.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink opens a consumer group on the stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the stream and all of its entries.
		Destroy(ctx context.Context) error
	}

	// Sink is a consumer group reading a Pulse stream.
	Sink interface {
		Subscribe() <-chan *streaming.Event
		Ack(context.Context, *streaming.Event) error
		Close(context.Context)
	}

	client struct {
		redis        *redis.Client
		maxLen       int
		streamOptsFn func(name string) []streamopts.Stream
		timeout      time.Duration
	}

	handle struct {
		stream  *streaming.Stream
		timeout time.Duration
	}

	// sinkAdapter drops the error-free Close of streaming.Sink into the Sink
	// interface.
	sinkAdapter struct {
		*streaming.Sink
	}
)

// New returns a Client backed by opts.Redis.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{
		redis:        opts.Redis,
		maxLen:       opts.StreamMaxLen,
		streamOptsFn: opts.StreamOptions,
		timeout:      opts.OperationTimeout,
	}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var all []streamopts.Stream
	if c.maxLen > 0 {
		all = append(all, streamopts.WithStreamMaxLen(c.maxLen))
	}
	if c.streamOptsFn != nil {
		all = append(all, c.streamOptsFn(name)...)
	}
	all = append(all, opts...)
	str, err := streaming.NewStream(name, c.redis, all...)
	if err != nil {
		return nil, fmt.Errorf("open pulse stream %q: %w", name, err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

func (c *client) Close(context.Context) error { return nil }

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	ctx, cancel := h.bound(ctx)
	defer cancel()
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse sink %q: %w", name, err)
	}
	return sinkAdapter{Sink: sink}, nil
}

func (h *handle) Destroy(ctx context.Context) error {
	ctx, cancel := h.bound(ctx)
	defer cancel()
	if err := h.stream.Destroy(ctx); err != nil {
		return fmt.Errorf("pulse destroy: %w", err)
	}
	return nil
}

func (h *handle) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.timeout)
}

func (s sinkAdapter) Close(ctx context.Context) { s.Sink.Close(ctx) }
