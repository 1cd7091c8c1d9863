package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aaaa47080/stock-agent-sub000/runtime/analysis"
	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

// terminalTarget renders an operation as plain text. Streamed text is
// printed incrementally: Update receives the whole buffer and only the
// unseen suffix is written.
type terminalTarget struct {
	mu       sync.Mutex
	w        io.Writer
	shown    string
	open     bool
	codebook string
	// options holds the option values of the last prompt.
	options []string
}

var _ analysis.Target = (*terminalTarget)(nil)

func newTerminalTarget(w io.Writer) *terminalTarget {
	return &terminalTarget{w: w}
}

func (t *terminalTarget) Update(fullText string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rest, ok := strings.CutPrefix(fullText, t.shown)
	if !ok {
		t.breakLine()
		rest = fullText
	}
	if rest != "" {
		fmt.Fprint(t.w, rest)
		t.open = !strings.HasSuffix(rest, "\n")
	}
	t.shown = fullText
}

func (t *terminalTarget) RenderHITL(p analysis.Prompt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endPass()
	t.options = t.options[:0]
	for _, o := range p.Options {
		t.options = append(t.options, o.Value)
	}
	if p.Message != "" {
		fmt.Fprintf(t.w, "%s\n", p.Message)
	}
	if p.NegotiationResponse != "" {
		fmt.Fprintf(t.w, "> %s\n", p.NegotiationResponse)
	}
	if p.Question != "" {
		fmt.Fprintf(t.w, "? %s\n", p.Question)
	}
	for i, o := range p.Options {
		fmt.Fprintf(t.w, "  (%d) %s\n", i+1, o.Label)
	}
	for _, s := range p.Plan {
		fmt.Fprintf(t.w, "  %s %d. %s\n", checkbox(s.Selected), s.Index, s.Description)
	}
	fmt.Fprintf(t.w, "[%s]\n", strings.Join(actionHints(p), " | "))
}

func (t *terminalTarget) RenderPlanProgress(step int, phase stream.Phase, success *bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.breakLine()
	switch {
	case phase == stream.PhaseStart:
		fmt.Fprintf(t.w, "  ... step %d\n", step)
	case success != nil && !*success:
		fmt.Fprintf(t.w, "  [x] step %d failed\n", step)
	default:
		fmt.Fprintf(t.w, "  [v] step %d\n", step)
	}
}

func (t *terminalTarget) Finalize(elapsed float64, codebookID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endPass()
	t.codebook = codebookID
	fmt.Fprintf(t.w, "(done in %.1fs", elapsed)
	if codebookID != "" {
		fmt.Fprint(t.w, "; rate it with 'good' or 'bad'")
	}
	fmt.Fprintln(t.w, ")")
}

func (t *terminalTarget) ShowError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endPass()
	fmt.Fprintf(t.w, "error: %s\n", message)
}

func (t *terminalTarget) ShowCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endPass()
	fmt.Fprintln(t.w, "(cancelled)")
}

// Codebook returns the codebook id of the last finalized operation.
func (t *terminalTarget) Codebook() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.codebook
}

// Options returns the option values of the last rendered prompt.
func (t *terminalTarget) Options() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.options...)
}

// reset prepares the target for a new operation.
func (t *terminalTarget) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shown = ""
	t.open = false
	t.codebook = ""
	t.options = nil
}

// breakLine ends a partially printed line. Caller holds mu.
func (t *terminalTarget) breakLine() {
	if t.open {
		fmt.Fprintln(t.w)
		t.open = false
	}
}

// endPass closes the text of a stream pass; the next pass starts with an
// empty buffer. Caller holds mu.
func (t *terminalTarget) endPass() {
	t.breakLine()
	t.shown = ""
}

func checkbox(selected bool) string {
	if selected {
		return "[x]"
	}
	return "[ ]"
}

func actionHints(p analysis.Prompt) []string {
	hints := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		switch a {
		case analysis.ActionConfirm:
			hints = append(hints, "confirm")
		case analysis.ActionAcceptAll:
			hints = append(hints, "accept")
		case analysis.ActionCustomize:
			hints = append(hints, "customize [text] / toggle <n>")
		case analysis.ActionCancel:
			hints = append(hints, "cancel")
		case analysis.ActionReply:
			hints = append(hints, "type your answer")
		}
	}
	return hints
}
