package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aaaa47080/stock-agent-sub000/runtime/runlog"
	"github.com/aaaa47080/stock-agent-sub000/runtime/runlog/inmem"
	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
)

func TestReplayPrintsRecordedRun(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	sink, err := runlog.NewSink(store)
	require.NoError(t, err)
	at := time.Unix(10, 0)
	for _, ev := range []stream.Event{
		stream.Progress{Step: 1, Phase: stream.PhaseStart},
		stream.ContentDelta{Text: "BTC is up"},
		stream.Done{},
	} {
		require.NoError(t, sink.Send(ctx, stream.NewEnvelope("sess", "run-1", ev, at)))
	}

	var out bytes.Buffer
	require.NoError(t, replay(ctx, store, "run-1", &out))
	require.Equal(t, "\n[run-1] step 1 start\nBTC is up\n[run-1] done\n", out.String())

	err = replay(ctx, store, "run-2", &out)
	require.ErrorContains(t, err, `no events recorded for run "run-2"`)
}

func TestPrintEnvelopeUnknownEvent(t *testing.T) {
	var out bytes.Buffer
	printEnvelope(&out, stream.Envelope{RunID: "r", Type: stream.EventMeta, Event: stream.Meta{}})
	require.Equal(t, "\n[r] meta\n", out.String())
}
