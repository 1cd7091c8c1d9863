// Command analyst is a terminal client for the streaming analysis service.
// It streams answers as they arrive, renders pause prompts and plan cards,
// and reads answers from stdin. Ctrl-C stops the running analysis.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	runlogmongo "github.com/aaaa47080/stock-agent-sub000/features/runlog/mongo"
	clientsrunlog "github.com/aaaa47080/stock-agent-sub000/features/runlog/mongo/clients/mongo"
	sessionmongo "github.com/aaaa47080/stock-agent-sub000/features/session/mongo"
	clientsmongo "github.com/aaaa47080/stock-agent-sub000/features/session/mongo/clients/mongo"
	"github.com/aaaa47080/stock-agent-sub000/features/stream/pulse"
	clientspulse "github.com/aaaa47080/stock-agent-sub000/features/stream/pulse/clients/pulse"
	"github.com/aaaa47080/stock-agent-sub000/runtime/analysis"
	"github.com/aaaa47080/stock-agent-sub000/runtime/analysis/httpclient"
	"github.com/aaaa47080/stock-agent-sub000/runtime/runlog"
	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
	"github.com/aaaa47080/stock-agent-sub000/runtime/telemetry"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Logs go to stderr so they do not interleave with streamed answers.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format), log.WithOutput(os.Stderr))
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	var streams *pulse.Streams
	if cfg.Redis.URL != "" {
		if streams, err = newStreams(cfg); err != nil {
			log.Fatalf(ctx, err, "redis %s", cfg.Redis.URL)
		}
		defer streams.Close(ctx)
	}

	var mc *mongodriver.Client
	if cfg.Mongo.URI != "" {
		var disconnect func()
		if mc, disconnect, err = connectMongo(ctx, cfg); err != nil {
			log.Fatalf(ctx, err, "mongo %s", cfg.Mongo.URI)
		}
		defer disconnect()
	}

	if cfg.Replay != "" {
		if mc == nil {
			log.Fatalf(ctx, errors.New("-replay requires -mongo"), "invalid flags")
		}
		store, err := newRunLog(mc, cfg)
		if err != nil {
			log.Fatalf(ctx, err, "run log")
		}
		if err := replay(ctx, store, cfg.Replay, os.Stdout); err != nil {
			log.Fatalf(ctx, err, "replay %s", cfg.Replay)
		}
		return
	}

	if cfg.Watch != "" {
		if streams == nil {
			log.Fatalf(ctx, errors.New("-watch requires -redis"), "invalid flags")
		}
		if err := watch(ctx, streams, cfg.Watch, os.Stdout); err != nil {
			log.Fatalf(ctx, err, "watch %s", cfg.Watch)
		}
		return
	}

	client := httpclient.New(cfg.Endpoint,
		httpclient.WithBearerToken(cfg.Token),
		httpclient.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	)
	var decOpts []stream.DecoderOption
	if cfg.Strict {
		decOpts = append(decOpts, stream.WithSchemaValidation())
	}
	dec, err := stream.NewDecoder(decOpts...)
	if err != nil {
		log.Fatalf(ctx, err, "event decoder")
	}

	logger := telemetry.NewClueLogger()
	opts := []analysis.Option{
		analysis.WithLogger(logger),
		analysis.WithMetrics(telemetry.NewClueMetrics()),
		analysis.WithTracer(telemetry.NewClueTracer()),
		analysis.WithDecoder(dec),
		analysis.WithSessionProvider(sessionProvider(client, logger)),
		analysis.WithHooks(analysis.Hooks{
			OnSessionCreated: func(id string) { fmt.Fprintf(os.Stdout, "(session %s)\n", id) },
		}),
	}
	var sinks []stream.Sink
	if streams != nil {
		sinks = append(sinks, streams.Sink())
	}
	if mc != nil {
		sessions, err := newSessionStore(ctx, mc, cfg)
		if err != nil {
			log.Fatalf(ctx, err, "session store")
		}
		opts = append(opts, analysis.WithSessionStore(sessions))
		events, err := newRunLog(mc, cfg)
		if err != nil {
			log.Fatalf(ctx, err, "run log")
		}
		rs, err := runlog.NewSink(events)
		if err != nil {
			log.Fatalf(ctx, err, "run log")
		}
		sinks = append(sinks, rs)
	}
	if len(sinks) > 0 {
		opts = append(opts, analysis.WithSink(stream.Fanout(sinks...)))
	}
	ctl := analysis.New(client, opts...)
	if cfg.Session != "" {
		ctl.SwitchSession(cfg.Session)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT)
	defer signal.Stop(sigc)
	go func() {
		for range sigc {
			ctl.Stop()
		}
	}()

	sh := &shell{
		ctl:      ctl,
		target:   newTerminalTarget(os.Stdout),
		out:      os.Stdout,
		base:     analysis.Request{Language: cfg.Language, MarketType: cfg.Market, AutoExecute: cfg.AutoExecute},
		feedback: client.SubmitFeedback,
	}
	if streams != nil {
		sh.destroy = streams.DestroySession
	}
	if err := sh.run(ctx, os.Stdin); err != nil {
		log.Errorf(ctx, err, "read input")
	}
	ctl.Leave()
}

// sessionProvider creates sessions on the server and falls back to a local
// id when the service has no session endpoint.
func sessionProvider(client *httpclient.Client, logger telemetry.Logger) analysis.SessionProvider {
	return func(ctx context.Context) (string, error) {
		id, err := client.CreateSession(ctx)
		if err == nil {
			return id, nil
		}
		logger.Warn(ctx, "remote session creation failed, using a local id", "err", err)
		return uuid.NewString(), nil
	}
}

func newStreams(cfg config) (*pulse.Streams, error) {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	pc, err := clientspulse.New(clientspulse.Options{
		Redis:            redis.NewClient(opt),
		StreamMaxLen:     cfg.Redis.MaxLen,
		OperationTimeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return pulse.NewStreams(pulse.StreamsOptions{Client: pc})
}

func connectMongo(ctx context.Context, cfg config) (*mongodriver.Client, func(), error) {
	mc, err := mongodriver.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, nil, err
	}
	disconnect := func() {
		if err := mc.Disconnect(ctx); err != nil {
			log.Errorf(ctx, err, "mongo disconnect")
		}
	}
	return mc, disconnect, nil
}

func newSessionStore(ctx context.Context, mc *mongodriver.Client, cfg config) (*sessionmongo.Store, error) {
	client, err := clientsmongo.New(clientsmongo.Options{
		Client:   mc,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		return nil, err
	}
	return sessionmongo.NewStore(client)
}

func newRunLog(mc *mongodriver.Client, cfg config) (*runlogmongo.Store, error) {
	client, err := clientsrunlog.New(clientsrunlog.Options{
		Client:   mc,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return runlogmongo.NewStore(client)
}

// replay prints the recorded events of a run in order.
func replay(ctx context.Context, store runlog.Store, runID string, w io.Writer) error {
	n := 0
	err := runlog.Walk(ctx, store, runID, 100, func(e *runlog.Event) error {
		env, err := e.Envelope()
		if err != nil {
			return err
		}
		printEnvelope(w, env)
		n++
		return nil
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no events recorded for run %q", runID)
	}
	return nil
}

// watch prints the mirrored events of a session until interrupted.
func watch(ctx context.Context, streams *pulse.Streams, sessionID string, w io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sub, err := streams.NewSubscriber(pulse.SubscriberOptions{SinkName: "analyst_watch_" + uuid.NewString()})
	if err != nil {
		return err
	}
	records, errs, cancel, err := sub.Subscribe(ctx, sessionID)
	if err != nil {
		return err
	}
	defer cancel()
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			printEnvelope(w, rec.Envelope)
		case err, ok := <-errs:
			if ok && err != nil {
				return err
			}
			errs = nil
		case <-ctx.Done():
			return nil
		}
	}
}

func printEnvelope(w io.Writer, env stream.Envelope) {
	switch ev := env.Event.(type) {
	case stream.ContentDelta:
		fmt.Fprint(w, ev.Text)
	case stream.HITLQuestion:
		fmt.Fprintf(w, "\n[%s] waiting for input: %s\n", env.RunID, ev.Subtype)
	case stream.Progress:
		fmt.Fprintf(w, "\n[%s] step %d %s\n", env.RunID, ev.Step, ev.Phase)
	case stream.Error:
		fmt.Fprintf(w, "\n[%s] error: %s\n", env.RunID, ev.Message)
	case stream.Done:
		fmt.Fprintf(w, "\n[%s] done\n", env.RunID)
	default:
		fmt.Fprintf(w, "\n[%s] %s\n", env.RunID, env.Type)
	}
}
