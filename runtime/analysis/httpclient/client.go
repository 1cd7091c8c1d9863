// Package httpclient implements analysis.Transport over HTTP, together with
// the auxiliary session and feedback endpoints of the analysis service.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/aaaa47080/stock-agent-sub000/runtime/analysis"
	"github.com/aaaa47080/stock-agent-sub000/runtime/retry"
)

// maxErrorBody bounds how much of an error response is read for its detail.
const maxErrorBody = 64 << 10

type (
	// Option configures the HTTP client.
	Option func(*Client)

	// Client issues analyze requests and calls the session and feedback
	// endpoints.
	Client struct {
		baseURL     string
		analyzePath string
		http        *http.Client
		headers     http.Header
		limiter     *rate.Limiter
		retry       retry.Config
	}

	// Feedback rates a completed analysis.
	Feedback struct {
		CodebookID string `json:"codebook_id"`
		// Rating is +1 (helpful) or -1 (not helpful).
		Rating  int    `json:"rating"`
		Comment string `json:"comment,omitempty"`
	}
)

// WithHTTPClient overrides the underlying *http.Client. The client must not
// set a Timeout shorter than the longest expected analysis stream.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(cl *Client) {
		cl.headers.Add(name, value)
	}
}

// WithBearerToken configures the client to send an Authorization Bearer token.
func WithBearerToken(token string) Option {
	if token == "" {
		return nil
	}
	return WithHeader("Authorization", "Bearer "+token)
}

// WithAnalyzePath overrides the path of the streaming analyze endpoint.
// Defaults to "/analyze".
func WithAnalyzePath(path string) Option {
	return func(cl *Client) {
		if path != "" {
			cl.analyzePath = path
		}
	}
}

// WithRateLimit throttles outgoing requests to rps per second with the given
// burst. Callers block until a token is available or their context ends.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy of the session and feedback calls. The
// analyze stream is never retried.
func WithRetry(cfg retry.Config) Option {
	return func(cl *Client) { cl.retry = cfg }
}

// New returns a Client for the analysis service at baseURL, for example
// "https://host.example.com/api".
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000/api"
	}
	cl := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		analyzePath: "/analyze",
		http:        &http.Client{},
		headers:     make(http.Header),
		retry:       retry.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	return cl
}

// Ensure Client implements analysis.Transport.
var _ analysis.Transport = (*Client)(nil)

// Stream posts req and returns the event stream body. Non-success responses
// are returned as *analysis.TransportError carrying the server detail.
func (c *Client) Stream(ctx context.Context, req analysis.Request) (io.ReadCloser, error) {
	resp, err := c.post(ctx, c.analyzePath, req, "text/event-stream")
	if err != nil {
		return nil, &analysis.TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		return nil, &analysis.TransportError{StatusCode: resp.StatusCode, Detail: errorDetail(resp.Body)}
	}
	return resp.Body, nil
}

// CreateSession asks the service for a new session id. It can be used as an
// analysis.SessionProvider.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
		ID        string `json:"id"`
	}
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.call(ctx, "/sessions", struct{}{}, &out)
	})
	if err != nil {
		return "", err
	}
	id := out.SessionID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		return "", errors.New("httpclient: session response has no id")
	}
	return id, nil
}

// SubmitFeedback rates the analysis identified by f.CodebookID.
func (c *Client) SubmitFeedback(ctx context.Context, f Feedback) error {
	if f.CodebookID == "" {
		return errors.New("httpclient: codebook id is required")
	}
	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.call(ctx, "/feedback", f, nil)
	})
}

// call posts body and decodes a JSON response into out, if non-nil.
func (c *Client) call(ctx context.Context, path string, body, out any) error {
	resp, err := c.post(ctx, path, body, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: errorDetail(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("httpclient: decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	return c.http.Do(httpReq)
}

// errorDetail extracts the server message from an error response: the
// "detail" or "message" field of a JSON body, or the trimmed text otherwise.
func errorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if raw[0] == '{' && json.Unmarshal(raw, &obj) == nil {
		var detail string
		if json.Unmarshal(obj.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
		if len(obj.Detail) > 0 && string(obj.Detail) != "null" {
			return string(obj.Detail)
		}
		return ""
	}
	if raw[0] == '<' {
		// HTML error pages carry nothing worth showing.
		return ""
	}
	return string(raw)
}
