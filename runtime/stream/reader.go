package stream

import (
	"context"
	"errors"
	"io"
)

// DefaultChunkSize is the read buffer size used by Reader.
const DefaultChunkSize = 4096

type (
	// Reader yields Events from a response body. It frames records across
	// reads, decodes them in arrival order and skips records the Decoder
	// rejects. A Reader is not safe for concurrent use.
	Reader struct {
		body    io.Reader
		dec     *Decoder
		framer  Framer
		buf     []byte
		pending []string
		eof     bool
		onSkip  func(record string, err error)
	}

	// ReaderOption configures a Reader.
	ReaderOption func(*Reader)
)

// WithChunkSize sets the maximum number of bytes requested per read.
func WithChunkSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.buf = make([]byte, n)
		}
	}
}

// WithSkipHandler registers fn to observe every rejected record.
func WithSkipHandler(fn func(record string, err error)) ReaderOption {
	return func(r *Reader) { r.onSkip = fn }
}

// NewReader returns a Reader decoding body with dec. A nil dec uses a
// Decoder with default options.
func NewReader(body io.Reader, dec *Decoder, opts ...ReaderOption) *Reader {
	if dec == nil {
		dec = &Decoder{prefix: DefaultPrefix}
	}
	r := &Reader{body: body, dec: dec}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.buf == nil {
		r.buf = make([]byte, DefaultChunkSize)
	}
	return r
}

// Next returns the next decoded Event. It returns io.EOF once the body is
// exhausted and every buffered record has been consumed. ctx is checked before
// each read; a read already in progress is not interrupted by Next itself.
func (r *Reader) Next(ctx context.Context) (Event, error) {
	for {
		for len(r.pending) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			record := r.pending[0]
			r.pending = r.pending[1:]
			ev, err := r.dec.Decode(record)
			if err != nil {
				if r.onSkip != nil {
					r.onSkip(record, err)
				}
				continue
			}
			return ev, nil
		}
		if r.eof {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.body.Read(r.buf)
		if n > 0 {
			r.pending = append(r.pending, r.framer.Write(r.buf[:n])...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			r.eof = true
			if record, ok := r.framer.Flush(); ok {
				r.pending = append(r.pending, record)
			}
		}
	}
}
