package analysis

import (
	"context"
	"encoding/json"
	"io"
	"strings"
)

type (
	// Request is the outbound analyze request. It is issued by Start and
	// again, with ResumeAnswer set, by every resume.
	Request struct {
		// Message is the user message. Required.
		Message string `json:"message"`
		// SessionID identifies the conversation. It is filled in by the
		// controller; an empty value is sent as null.
		SessionID string `json:"-"`
		// Credentials is the caller's opaque model and key selection. It is
		// forwarded as-is and never inspected.
		Credentials any `json:"credentials,omitempty"`
		// Language is the response language.
		Language string `json:"language,omitempty"`
		// ManualSelection, MarketType and AutoExecute are passed through
		// unmodified.
		ManualSelection []string `json:"manual_selection,omitempty"`
		MarketType      string   `json:"market_type,omitempty"`
		AutoExecute     *bool    `json:"auto_execute,omitempty"`
		// ResumeAnswer is the normalized human answer; set on resume only.
		ResumeAnswer any `json:"resume_answer,omitempty"`
	}

	// Transport issues analyze requests. Stream returns the response body
	// once the server accepted the request; a non-success response must be
	// reported as a *TransportError. The body must unblock pending reads
	// when ctx is canceled.
	Transport interface {
		Stream(ctx context.Context, req Request) (io.ReadCloser, error)
	}

	// TransportFunc adapts a function to Transport.
	TransportFunc func(ctx context.Context, req Request) (io.ReadCloser, error)

	// SessionProvider returns a new session identifier. It is called lazily
	// when the first message is sent without a session.
	SessionProvider func(ctx context.Context) (string, error)
)

// Stream implements Transport.
func (f TransportFunc) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	return f(ctx, req)
}

// MarshalJSON encodes the request with session_id as a nullable string.
func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	var sid *string
	if r.SessionID != "" {
		sid = &r.SessionID
	}
	return json.Marshal(struct {
		plain
		SessionID *string `json:"session_id"`
	}{plain: plain(r), SessionID: sid})
}

// NormalizeAnswer converts a human answer to its wire form. Text that looks
// like a JSON object is decoded into a map; anything else, including objects
// that fail to decode, is returned unchanged.
func NormalizeAnswer(answer string) any {
	trimmed := strings.TrimSpace(answer)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return answer
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return answer
	}
	return obj
}
