package analysis

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/aaaa47080/stock-agent-sub000/runtime/session"
	"github.com/aaaa47080/stock-agent-sub000/runtime/session/inmem"
)

func newController(t *testing.T, tr Transport, opts ...Option) *Controller {
	t.Helper()
	base := []Option{WithSessionProvider(func(context.Context) (string, error) { return "sess-1", nil })}
	return New(tr, append(base, opts...)...)
}

func TestStreamCompletes(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	tr := TransportFunc(func(context.Context, Request) (io.ReadCloser, error) {
		clock.Advance(2500 * time.Millisecond)
		return io.NopCloser(strings.NewReader(body(content("Hel"), content("lo"), done))), nil
	})
	c := newController(t, tr, WithClock(clock.Now))
	target := &recordingTarget{}

	state, err := c.Start(context.Background(), target, Request{Message: "analyze 2330"})
	require.NoError(t, err)
	require.Equal(t, Completed, state)
	require.Equal(t, Completed, c.State())
	require.Equal(t, []string{"update:Hel", "update:Hello", "finalize:"}, target.Calls())
	require.Equal(t, []float64{2.5}, target.elapsed)
}

func TestPauseThenResumeCompletes(t *testing.T) {
	tr := &scriptedTransport{responses: []response{
		{body: body(content("Planning..."), planQuestion("price trend", "fundamentals"))},
		{body: body(content("Done."), done)},
	}}
	c := newController(t, tr)
	target := &recordingTarget{}
	creds := map[string]string{"provider": "openai", "key_ref": "k1"}

	state, err := c.Start(context.Background(), target, Request{Message: "analyze 2330", Credentials: creds, Language: "zh-TW"})
	require.NoError(t, err)
	require.Equal(t, WaitingForInput, state)
	pending, ok := c.Pending()
	require.True(t, ok)
	require.Equal(t, SubtypeConfirmPlan, pending.Subtype)
	require.Equal(t, "analyze 2330", pending.OriginalMessage)
	require.Equal(t, "sess-1", pending.SessionID)
	plan, ok := c.Plan()
	require.True(t, ok)
	require.Len(t, plan.Steps, 2)
	require.Equal(t, []int{1, 2}, plan.Selected())

	state, err = c.Resume(context.Background(), `{"action":"execute"}`)
	require.NoError(t, err)
	require.Equal(t, Completed, state)

	reqs := tr.Requests()
	require.Len(t, reqs, 2)
	require.Nil(t, reqs[0].ResumeAnswer)
	require.Equal(t, map[string]any{"action": "execute"}, reqs[1].ResumeAnswer)
	require.Equal(t, "analyze 2330", reqs[1].Message)
	require.Equal(t, "sess-1", reqs[1].SessionID)
	require.Equal(t, creds, reqs[1].Credentials)
	require.Equal(t, "zh-TW", reqs[1].Language)

	require.Equal(t, []string{
		"update:Planning...",
		"hitl:confirm_plan",
		"update:Done.",
		"finalize:",
	}, target.Calls())
	_, ok = c.Pending()
	require.False(t, ok)
}

func TestNestedPauseOverwritesContext(t *testing.T) {
	tr := &scriptedTransport{responses: []response{
		{body: body(question(SubtypePreResearch, map[string]any{"question": "Include ETFs?", "options": []string{"yes", "no"}}))},
		{body: body(planQuestion("scan"), `{"waiting":true}`)},
	}}
	var transitions []State
	c := newController(t, tr, WithHooks(Hooks{OnStateChange: func(_, to State) { transitions = append(transitions, to) }}))
	target := &recordingTarget{}

	state, err := c.Start(context.Background(), target, Request{Message: "screen"})
	require.NoError(t, err)
	require.Equal(t, WaitingForInput, state)

	state, err = c.Resume(context.Background(), "confirm")
	require.NoError(t, err)
	require.Equal(t, WaitingForInput, state)
	require.Equal(t, "confirm", tr.Requests()[1].ResumeAnswer)

	pending, ok := c.Pending()
	require.True(t, ok)
	require.Equal(t, SubtypeConfirmPlan, pending.Subtype)
	require.Equal(t, 2, target.count("hitl:"))
	prompts := target.Prompts()
	require.Equal(t, KindInfo, prompts[0].Kind)
	require.Equal(t, []Action{ActionConfirm}, prompts[0].Actions)
	require.Equal(t, KindPlan, prompts[1].Kind)
	require.Equal(t, []State{Streaming, WaitingForInput, Streaming, WaitingForInput}, transitions)
}

func TestResumeKeepsRawTextAnswer(t *testing.T) {
	tr := &scriptedTransport{responses: []response{
		{body: body(question("clarify", map[string]any{"question": "Which market?"}))},
		{body: body(done)},
	}}
	c := newController(t, tr)

	_, err := c.Start(context.Background(), &recordingTarget{}, Request{Message: "compare"})
	require.NoError(t, err)
	_, err = c.Resume(context.Background(), "please add fundamentals")
	require.NoError(t, err)
	require.Equal(t, "please add fundamentals", tr.Requests()[1].ResumeAnswer)
}

func TestResumeWithoutContextIsNoop(t *testing.T) {
	tr := &scriptedTransport{responses: []response{{body: body(content("hi"), done)}}}
	c := newController(t, tr)

	state, err := c.Resume(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, Idle, state)

	_, err = c.Start(context.Background(), &recordingTarget{}, Request{Message: "hello"})
	require.NoError(t, err)
	state, err = c.Resume(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, Completed, state)
	require.Len(t, tr.Requests(), 1)
}

func TestWaitingWithoutQuestionHasNoContinuation(t *testing.T) {
	tr := &scriptedTransport{responses: []response{{body: body(content("part"), `{"type":"waiting"}`)}}}
	c := newController(t, tr)

	state, err := c.Start(context.Background(), &recordingTarget{}, Request{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, WaitingForInput, state)
	_, ok := c.Pending()
	require.False(t, ok)

	state, err = c.Resume(context.Background(), "more")
	require.NoError(t, err)
	require.Equal(t, WaitingForInput, state)
	require.Len(t, tr.Requests(), 1)
}

func TestEndOfBodyWithoutTerminalCompletes(t *testing.T) {
	tr := &scriptedTransport{responses: []response{{body: body(`{"codebook_id":"cb-9"}`, content("partial"))}}}
	var meta string
	c := newController(t, tr, WithHooks(Hooks{OnMeta: func(id string) { meta = id }}))
	target := &recordingTarget{}

	state, err := c.Start(context.Background(), target, Request{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, Completed, state)
	require.Equal(t, "cb-9", meta)
	require.Equal(t, []string{"update:partial", "finalize:cb-9"}, target.Calls())
}

func TestErrorEventFails(t *testing.T) {
	tr := &scriptedTransport{responses: []response{{body: body(content("x"), `{"error":"model overloaded"}`, content("ignored"))}}}
	c := newController(t, tr)
	target := &recordingTarget{}

	state, err := c.Start(context.Background(), target, Request{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, Failed, state)
	require.Equal(t, []string{"update:x", "error:model overloaded"}, target.Calls())
}

func TestTransportFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"detail", &TransportError{StatusCode: 429, Detail: "quota exceeded"}, "quota exceeded"},
		{"no detail", &TransportError{StatusCode: 502}, NetworkFailureMessage},
		{"network", errors.New("dial tcp: connection refused"), NetworkFailureMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &scriptedTransport{responses: []response{{err: tc.err}}}
			c := newController(t, tr)
			target := &recordingTarget{}

			state, err := c.Start(context.Background(), target, Request{Message: "hello"})
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, Failed, state)
			require.Equal(t, []string{"error:" + tc.want}, target.Calls())
		})
	}
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	raw := "data: {broken\n" + "event: ping\n" + body(content("a")) + "data: {\"unknown\":1}\n" + body(content("b"), done)
	tr := &scriptedTransport{responses: []response{{body: raw}}}
	var skipped []string
	c := newController(t, tr, WithHooks(Hooks{OnRecordSkipped: func(record string, _ error) { skipped = append(skipped, record) }}))
	target := &recordingTarget{}

	state, err := c.Start(context.Background(), target, Request{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, Completed, state)
	require.Equal(t, []string{"update:a", "update:ab", "finalize:"}, target.Calls())
	require.Equal(t, []string{"data: {broken", "event: ping", `data: {"unknown":1}`}, skipped)
}

func TestStartRejectsBlankMessage(t *testing.T) {
	tr := &scriptedTransport{}
	c := newController(t, tr)
	_, err := c.Start(context.Background(), &recordingTarget{}, Request{Message: "  "})
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Empty(t, tr.Requests())
}

func TestSessionCreatedLazilyOnce(t *testing.T) {
	tr := &scriptedTransport{responses: []response{{body: body(done)}, {body: body(done)}}}
	calls := 0
	var created []string
	c := New(tr,
		WithSessionProvider(func(context.Context) (string, error) {
			calls++
			return "sess-42", nil
		}),
		WithHooks(Hooks{OnSessionCreated: func(id string) { created = append(created, id) }}),
	)
	require.Empty(t, c.SessionID())

	for range 2 {
		_, err := c.Start(context.Background(), &recordingTarget{}, Request{Message: "hello"})
		require.NoError(t, err)
	}
	require.Equal(t, 1, calls)
	require.Equal(t, []string{"sess-42"}, created)
	for _, req := range tr.Requests() {
		require.Equal(t, "sess-42", req.SessionID)
	}
}

func TestSessionProviderFailure(t *testing.T) {
	tr := &scriptedTransport{}
	c := New(tr, WithSessionProvider(func(context.Context) (string, error) { return "", errors.New("boom") }))

	_, err := c.Start(context.Background(), &recordingTarget{}, Request{Message: "hello"})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Empty(t, tr.Requests())
}

func TestRunBookkeeping(t *testing.T) {
	store := inmem.New()
	sink := &recordingSink{}
	tr := &scriptedTransport{responses: []response{
		{body: body(planQuestion("scan"))},
		{body: body(`{"type":"meta","codebook_id":"cb-1"}`, done)},
	}}
	runIDs := 0
	c := newController(t, tr, WithSessionStore(store), WithSink(sink))
	c.opts.newRunID = func() string {
		runIDs++
		return "run-1"
	}
	ctx := context.Background()

	_, err := c.Start(ctx, &recordingTarget{}, Request{Message: "hello"})
	require.NoError(t, err)
	run, err := store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, session.RunStatusPaused, run.Status)
	require.Equal(t, SubtypeConfirmPlan, run.Subtype)

	_, err = c.AcceptPlan(ctx)
	require.NoError(t, err)
	run, err = store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, session.RunStatusCompleted, run.Status)
	require.Equal(t, 1, run.Resumes)
	require.Equal(t, "cb-1", run.CodebookID)
	require.Equal(t, "sess-1", run.SessionID)
	require.Equal(t, 1, runIDs)

	sess, err := store.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, sess.Status)

	envs := sink.Envelopes()
	require.Len(t, envs, 3)
	for _, env := range envs {
		require.Equal(t, "run-1", env.RunID)
		require.Equal(t, "sess-1", env.SessionID)
	}

	require.NoError(t, c.DeleteSession(ctx, "sess-1"))
	require.Empty(t, c.SessionID())
	sess, err = store.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, session.StatusEnded, sess.Status)
}

func TestSinkFailureDoesNotInterruptStream(t *testing.T) {
	sink := &recordingSink{err: errors.New("redis down")}
	tr := &scriptedTransport{responses: []response{{body: body(content("a"), done)}}}
	c := newController(t, tr, WithSink(sink))

	state, err := c.Start(context.Background(), &recordingTarget{}, Request{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, Completed, state)
	require.Len(t, sink.Envelopes(), 2)
}

func TestNestedPausesKeepOneContext(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	subtypes := []string{SubtypePreResearch, SubtypeConfirmPlan, "clarify"}
	properties.Property("each pause replaces the continuation", prop.ForAll(
		func(picks []int) bool {
			if len(picks) == 0 {
				return true
			}
			chain := make([]string, len(picks))
			for i, p := range picks {
				chain[i] = subtypes[p]
			}
			responses := make([]response, 0, len(chain)+1)
			for _, st := range chain {
				responses = append(responses, response{body: body(question(st, map[string]any{"plan": []string{"a"}}))})
			}
			responses = append(responses, response{body: body(done)})
			tr := &scriptedTransport{responses: responses}
			c := newController(t, tr)
			target := &recordingTarget{}

			if _, err := c.Start(context.Background(), target, Request{Message: "m"}); err != nil {
				return false
			}
			for i, st := range chain {
				pending, ok := c.Pending()
				if !ok || pending.Subtype != st || target.count("hitl:") != i+1 {
					return false
				}
				_, isPlan := c.Plan()
				if isPlan != (st == SubtypeConfirmPlan) {
					return false
				}
				if _, err := c.Resume(context.Background(), "ok"); err != nil {
					return false
				}
			}
			_, live := c.Pending()
			return !live && c.State() == Completed && len(tr.Requests()) == len(chain)+1
		},
		gen.SliceOf(gen.IntRange(0, len(subtypes)-1)),
	))

	properties.TestingRun(t)
}
