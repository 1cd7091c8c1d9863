package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

type (
	// scriptedTransport replays one response per call and records requests.
	scriptedTransport struct {
		mu        sync.Mutex
		responses []response
		requests  []Request
	}

	response struct {
		body string
		err  error
		// pipe, when set, receives a writer the test feeds by hand.
		pipe chan *io.PipeWriter
	}

	// recordingTarget records every render call in order.
	recordingTarget struct {
		mu      sync.Mutex
		calls   []string
		prompts []Prompt
		elapsed []float64
	}

	recordingSink struct {
		mu        sync.Mutex
		envelopes []stream.Envelope
		err       error
	}

	fixedClock struct {
		mu  sync.Mutex
		now time.Time
	}
)

func (t *scriptedTransport) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	if len(t.responses) == 0 {
		t.mu.Unlock()
		return nil, fmt.Errorf("unexpected request %d", len(t.requests))
	}
	resp := t.responses[0]
	t.responses = t.responses[1:]
	t.mu.Unlock()

	if resp.err != nil {
		return nil, resp.err
	}
	if resp.pipe != nil {
		pr, pw := io.Pipe()
		go func() {
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
		}()
		resp.pipe <- pw
		return pr, nil
	}
	return io.NopCloser(strings.NewReader(resp.body)), nil
}

func (t *scriptedTransport) Requests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Request(nil), t.requests...)
}

func (r *recordingTarget) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingTarget) Update(fullText string) { r.record("update:" + fullText) }

func (r *recordingTarget) RenderHITL(p Prompt) {
	r.mu.Lock()
	r.prompts = append(r.prompts, p)
	r.mu.Unlock()
	r.record("hitl:" + p.Subtype)
}

func (r *recordingTarget) RenderPlanProgress(step int, phase stream.Phase, success *bool) {
	ok := "?"
	if success != nil {
		ok = fmt.Sprint(*success)
	}
	r.record(fmt.Sprintf("progress:%d:%s:%s", step, phase, ok))
}

func (r *recordingTarget) Finalize(elapsed float64, codebookID string) {
	r.mu.Lock()
	r.elapsed = append(r.elapsed, elapsed)
	r.mu.Unlock()
	r.record("finalize:" + codebookID)
}

func (r *recordingTarget) ShowError(message string) { r.record("error:" + message) }

func (r *recordingTarget) ShowCancelled() { r.record("cancelled") }

func (r *recordingTarget) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingTarget) Prompts() []Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Prompt(nil), r.prompts...)
}

func (r *recordingTarget) count(prefix string) int {
	n := 0
	for _, c := range r.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (s *recordingSink) Send(_ context.Context, env stream.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
	return s.err
}

func (s *recordingSink) Close(context.Context) error { return nil }

func (s *recordingSink) Envelopes() []stream.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Envelope(nil), s.envelopes...)
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// body joins payloads into "data:" records.
func body(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}

func content(text string) string {
	raw, _ := json.Marshal(map[string]string{"content": text})
	return string(raw)
}

func question(subtype string, extra map[string]any) string {
	data := map[string]any{"type": subtype}
	for k, v := range extra {
		data[k] = v
	}
	raw, _ := json.Marshal(map[string]any{"type": "hitl_question", "data": data})
	return string(raw)
}

func planQuestion(steps ...string) string {
	return question(SubtypeConfirmPlan, map[string]any{"plan": steps})
}

func progress(step int, phase string, success ...bool) string {
	data := map[string]any{"step": step, "phase": phase}
	if len(success) > 0 {
		data["success"] = success[0]
	}
	raw, _ := json.Marshal(map[string]any{"type": "progress", "data": data})
	return string(raw)
}

const done = `{"done":true}`
