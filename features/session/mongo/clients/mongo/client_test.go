package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aaaa47080/stock-agent-sub000/runtime/session"
)

func TestEnsureIndexes(t *testing.T) {
	sessions := newFakeSessionsCollection()
	runs := newFakeRunsCollection()
	require.NoError(t, ensureIndexes(context.Background(), sessions, runs))
	require.Equal(t, 1, sessions.indexCreated)
	require.Equal(t, 3, runs.indexCreated)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "mongo client is required")
	_, err = newClientWithCollections(nil, nil, newFakeRunsCollection(), 0)
	require.EqualError(t, err, "collections are required")
}

func TestHealthName(t *testing.T) {
	cl := mustNewTestClient()
	require.Equal(t, "analysis-session-mongo", cl.Name())
	require.Error(t, cl.Ping(context.Background()))
}

func TestCreateLoadEndSession(t *testing.T) {
	cl := mustNewTestClient()
	ctx := context.Background()
	now := time.Now().UTC()

	sess, err := cl.CreateSession(ctx, "sess-1", now)
	require.NoError(t, err)
	require.Equal(t, "sess-1", sess.ID)
	require.Equal(t, session.StatusActive, sess.Status)
	require.True(t, sess.CreatedAt.Equal(now))

	again, err := cl.CreateSession(ctx, "sess-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, again.CreatedAt.Equal(now))

	end := now.Add(time.Hour)
	ended, err := cl.EndSession(ctx, "sess-1", end)
	require.NoError(t, err)
	require.Equal(t, session.StatusEnded, ended.Status)
	require.True(t, ended.EndedAt.Equal(end))

	_, err = cl.CreateSession(ctx, "sess-1", now)
	require.ErrorIs(t, err, session.ErrSessionEnded)
	_, err = cl.LoadSession(ctx, "missing")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestUpsertRunKeepsStartedAt(t *testing.T) {
	cl := mustNewTestClient()
	ctx := context.Background()
	started := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	run := session.RunMeta{
		RunID:     "run-1",
		SessionID: "sess-1",
		Status:    session.RunStatusPaused,
		Message:   "analyze 2330",
		Subtype:   "confirm_plan",
		StartedAt: started,
		Labels:    map[string]string{"market": "tw"},
	}
	require.NoError(t, cl.UpsertRun(ctx, run))

	run.Status = session.RunStatusCompleted
	run.Resumes = 1
	run.CodebookID = "cb-1"
	run.StartedAt = started.Add(time.Hour)
	require.NoError(t, cl.UpsertRun(ctx, run))

	stored, err := cl.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, session.RunStatusCompleted, stored.Status)
	require.Equal(t, 1, stored.Resumes)
	require.Equal(t, "cb-1", stored.CodebookID)
	require.Equal(t, "analyze 2330", stored.Message)
	require.Equal(t, "tw", stored.Labels["market"])
	require.True(t, stored.StartedAt.Equal(started))
}

func TestUpsertValidation(t *testing.T) {
	cl := mustNewTestClient()
	ctx := context.Background()
	require.EqualError(t, cl.UpsertRun(ctx, session.RunMeta{}), "run id is required")
	require.EqualError(t, cl.UpsertRun(ctx, session.RunMeta{RunID: "r"}), "session id is required")
	require.EqualError(t, cl.UpsertRun(ctx, session.RunMeta{RunID: "r", SessionID: "s"}), "status is required")
}

func TestListRunsBySession(t *testing.T) {
	cl := mustNewTestClient()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, r := range []session.RunMeta{
		{RunID: "run-1", SessionID: "sess-1", Status: session.RunStatusCompleted, StartedAt: now},
		{RunID: "run-2", SessionID: "sess-1", Status: session.RunStatusCanceled, StartedAt: now},
		{RunID: "run-3", SessionID: "sess-2", Status: session.RunStatusCompleted, StartedAt: now},
	} {
		require.NoError(t, cl.UpsertRun(ctx, r))
	}

	out, err := cl.ListRunsBySession(ctx, "sess-1", []session.RunStatus{session.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "run-1", out[0].RunID)

	all, err := cl.ListRunsBySession(ctx, "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestLoadRunMissing(t *testing.T) {
	cl := mustNewTestClient()
	_, err := cl.LoadRun(context.Background(), "missing")
	require.ErrorIs(t, err, session.ErrRunNotFound)
	_, err = cl.LoadRun(context.Background(), "")
	require.EqualError(t, err, "run id is required")
}

func mustNewTestClient() *client {
	cl, err := newClientWithCollections(nil, newFakeSessionsCollection(), newFakeRunsCollection(), time.Second)
	if err != nil {
		panic(err)
	}
	return cl
}

func upsertRequested(opts []options.Lister[options.UpdateOneOptions]) bool {
	var o options.UpdateOneOptions
	for _, l := range opts {
		if l == nil {
			continue
		}
		for _, set := range l.List() {
			if err := set(&o); err != nil {
				return false
			}
		}
	}
	return o.Upsert != nil && *o.Upsert
}

type fakeRunsCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         map[string]runDocument
}

func newFakeRunsCollection() *fakeRunsCollection {
	return &fakeRunsCollection{docs: make(map[string]runDocument)}
}

func (c *fakeRunsCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[filter.(bson.M)["run_id"].(string)]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: &doc}
}

func (c *fakeRunsCollection) Find(_ context.Context, filter any, _ ...options.Lister[options.FindOptions]) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := filter.(bson.M)
	sessionID, _ := f["session_id"].(string)
	var allowed map[session.RunStatus]struct{}
	if raw, ok := f["status"].(bson.M); ok {
		if in, ok := raw["$in"].([]session.RunStatus); ok {
			allowed = make(map[session.RunStatus]struct{}, len(in))
			for _, st := range in {
				allowed[st] = struct{}{}
			}
		}
	}
	var docs []any
	for _, doc := range c.docs {
		if doc.SessionID != sessionID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[doc.Status]; !ok {
				continue
			}
		}
		copyDoc := doc
		docs = append(docs, &copyDoc)
	}
	return newFakeCursor(docs), nil
}

func (c *fakeRunsCollection) UpdateOne(_ context.Context, filter any, update any,
	opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	runID := filter.(bson.M)["run_id"].(string)
	doc, exists := c.docs[runID]
	if !exists && !upsertRequested(opts) {
		return &mongodriver.UpdateResult{}, nil
	}
	up := update.(bson.M)
	set, ok := up["$set"].(bson.M)
	if !ok {
		return nil, errors.New("unsupported $set payload")
	}
	doc.RunID, _ = set["run_id"].(string)
	doc.SessionID, _ = set["session_id"].(string)
	doc.Status, _ = set["status"].(session.RunStatus)
	doc.Message, _ = set["message"].(string)
	doc.Subtype, _ = set["subtype"].(string)
	doc.Resumes, _ = set["resumes"].(int)
	doc.CodebookID, _ = set["codebook_id"].(string)
	doc.Error, _ = set["error"].(string)
	doc.UpdatedAt, _ = set["updated_at"].(time.Time)
	doc.Labels, _ = set["labels"].(map[string]string)
	if soi, ok := up["$setOnInsert"].(bson.M); ok && !exists {
		doc.StartedAt, _ = soi["started_at"].(time.Time)
	}
	c.docs[runID] = doc
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeRunsCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

type fakeSessionsCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         map[string]sessionDocument
}

func newFakeSessionsCollection() *fakeSessionsCollection {
	return &fakeSessionsCollection{docs: make(map[string]sessionDocument)}
}

func (c *fakeSessionsCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[filter.(bson.M)["session_id"].(string)]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: &doc}
}

func (c *fakeSessionsCollection) Find(context.Context, any, ...options.Lister[options.FindOptions]) (cursor, error) {
	return newFakeCursor(nil), nil
}

func (c *fakeSessionsCollection) UpdateOne(_ context.Context, filter any, update any,
	opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessionID := filter.(bson.M)["session_id"].(string)
	doc, exists := c.docs[sessionID]
	up := update.(bson.M)
	if !exists {
		if !upsertRequested(opts) {
			return &mongodriver.UpdateResult{}, nil
		}
		if soi, ok := up["$setOnInsert"].(bson.M); ok {
			doc.SessionID, _ = soi["session_id"].(string)
			doc.Status, _ = soi["status"].(session.SessionStatus)
			doc.CreatedAt, _ = soi["created_at"].(time.Time)
			doc.UpdatedAt, _ = soi["updated_at"].(time.Time)
		}
	}
	if set, ok := up["$set"].(bson.M); ok {
		if v, ok := set["status"].(session.SessionStatus); ok {
			doc.Status = v
		}
		if v, ok := set["ended_at"].(time.Time); ok {
			doc.EndedAt = &v
		}
		if v, ok := set["updated_at"].(time.Time); ok {
			doc.UpdatedAt = v
		}
	}
	c.docs[sessionID] = doc
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeSessionsCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

type fakeIndexView struct {
	parent *int
}

func (v fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel,
	_ ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	if len(model.Keys.(bson.D)) == 0 {
		return "", errors.New("missing keys")
	}
	*v.parent++
	return "idx", nil
}

type fakeSingleResult struct {
	doc any
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	return assign(val, r.doc)
}

type fakeCursor struct {
	docs []any
	idx  int
}

func newFakeCursor(docs []any) *fakeCursor {
	return &fakeCursor{docs: docs, idx: -1}
}

func (c *fakeCursor) Close(context.Context) error { return nil }

func (c *fakeCursor) Decode(val any) error {
	if c.idx < 0 || c.idx >= len(c.docs) {
		return errors.New("no document")
	}
	return assign(val, c.docs[c.idx])
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Next(context.Context) bool {
	if c.idx+1 >= len(c.docs) {
		return false
	}
	c.idx++
	return true
}

func assign(dst, src any) error {
	switch typed := dst.(type) {
	case *runDocument:
		*typed = *(src.(*runDocument))
	case *sessionDocument:
		*typed = *(src.(*sessionDocument))
	default:
		return errors.New("unsupported target")
	}
	return nil
}
