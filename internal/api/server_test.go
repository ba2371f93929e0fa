package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/publisher/memory"
	"github.com/JakeFAU/repack-catalog/internal/purge"
	memstore "github.com/JakeFAU/repack-catalog/internal/storage/memory"
	"github.com/JakeFAU/repack-catalog/internal/syncer"
)

type fakeRunner struct {
	mu      sync.Mutex
	result  syncer.Result
	err     error
	calls   []string
	sawDone bool
}

func (f *fakeRunner) SyncAll(ctx context.Context) (syncer.Result, error) {
	return f.record(ctx, syncer.StrategyFull)
}

func (f *fakeRunner) SyncFeed(ctx context.Context) (syncer.Result, error) {
	return f.record(ctx, syncer.StrategyFeed)
}

func (f *fakeRunner) record(ctx context.Context, strategy string) (syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strategy)
	f.sawDone = ctx.Done() != nil
	res := f.result
	res.Strategy = strategy
	return res, f.err
}

type testEnv struct {
	server *Server
	runner *fakeRunner
	pub    *memory.Publisher
	store  *memstore.CatalogStore
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	pub := memory.New()
	purger, err := purge.New(pub, purge.Config{Topic: "invalidations"}, zap.NewNop())
	require.NoError(t, err)
	runner := &fakeRunner{}
	store := memstore.NewCatalogStore()
	server := NewServer(Deps{
		Runner:    runner,
		Lister:    store,
		Purger:    purger,
		TagPurger: purger.WithPerTag(),
		Ready:     func(context.Context) error { return nil },
	}, opts, zap.NewNop())
	return &testEnv{server: server, runner: runner, pub: pub, store: store}
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeTags(t *testing.T, msgs []memory.PublishedMessage) [][]string {
	t.Helper()
	out := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		var inv purge.Invalidation
		require.NoError(t, m.Decode(&inv))
		out = append(out, inv.Tags)
	}
	return out
}

func TestSyncAllReportsAddedTitlesAndPurges(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.runner.result = syncer.Result{Added: []syncer.AddedRelease{
		{Title: "Game A", Slug: "game-a"},
		{Title: "Game B", Slug: "game-b"},
	}}

	rec := env.do(http.MethodPost, "/db/sync-all")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Game A\nGame B", rec.Body.String())
	require.Equal(t, "2", rec.Header().Get("X-Total-Count"))
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Equal(t, []string{syncer.StrategyFull}, env.runner.calls)
	require.Equal(t, [][]string{{"catalog", "game_a", "game_b"}}, decodeTags(t, env.pub.Messages()))
}

func TestSyncRSSWithOnlyErrorsIsServerError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.runner.result = syncer.Result{Errors: []syncer.ItemError{
		{Title: "Game X", Err: errors.New("missing required fields: coverImage")},
	}}

	rec := env.do(http.MethodGet, "/db/sync-rss")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Game X: missing required fields: coverImage", rec.Body.String())
	require.Equal(t, "0", rec.Header().Get("X-Total-Count"))
	require.Empty(t, env.pub.Messages())
}

func TestSyncPartialIsOK(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.runner.result = syncer.Result{
		Added:  []syncer.AddedRelease{{Title: "Game A", Slug: "game-a"}},
		Errors: []syncer.ItemError{{Title: "Game X", Err: errors.New("boom")}},
	}

	rec := env.do(http.MethodGet, "/db/sync-rss")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Game A\nGame X: boom", rec.Body.String())
	require.Equal(t, "1", rec.Header().Get("X-Total-Count"))
}

func TestSyncEmptyRunIsOK(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodGet, "/db/sync-all")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())
	require.Equal(t, "0", rec.Header().Get("X-Total-Count"))
	require.Empty(t, env.pub.Messages())
}

func TestSyncFatalError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.runner.err = &catalog.ListParseError{Page: 1, Reason: "missing .lcp_catlist"}

	rec := env.do(http.MethodGet, "/db/sync-all")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "error: parse listing page 1: missing .lcp_catlist", rec.Body.String())
}

func TestSyncInProgressIsConflict(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.runner.err = syncer.ErrRunInProgress

	rec := env.do(http.MethodPost, "/db/sync")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSyncLatestPurgesPerTag(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{RunTimeout: time.Minute})
	env.runner.result = syncer.Result{Added: []syncer.AddedRelease{{Title: "Baldur's Gate 3", Slug: "baldurs-gate-3"}}}

	rec := env.do(http.MethodGet, "/db/sync")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{syncer.StrategyFeed}, env.runner.calls)
	require.True(t, env.runner.sawDone)
	require.Equal(t, [][]string{{"catalog"}, {"baldurs_gate_3"}}, decodeTags(t, env.pub.Messages()))
}

type blockingRunner struct {
	fakeRunner
}

func (b *blockingRunner) SyncAll(ctx context.Context) (syncer.Result, error) {
	<-ctx.Done()
	return syncer.Result{
		Strategy: syncer.StrategyFull,
		Added:    []syncer.AddedRelease{{Title: "Game B", Slug: "game-b"}},
	}, ctx.Err()
}

type recordingPurger struct {
	mu     sync.Mutex
	tags   []string
	ctxErr error
	called bool
}

func (p *recordingPurger) Purge(ctx context.Context, tags []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.called = true
	p.tags = tags
	p.ctxErr = ctx.Err()
	return nil
}

func TestSyncTimeoutStillPurgesWithLiveContext(t *testing.T) {
	t.Parallel()

	purger := &recordingPurger{}
	server := NewServer(Deps{
		Runner: &blockingRunner{},
		Lister: memstore.NewCatalogStore(),
		Purger: purger,
	}, Options{RunTimeout: 20 * time.Millisecond}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/db/sync-all", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Total-Count"))
	require.Contains(t, rec.Body.String(), "Game B\nerror: context deadline exceeded")

	purger.mu.Lock()
	defer purger.mu.Unlock()
	require.True(t, purger.called)
	require.NoError(t, purger.ctxErr)
	require.Equal(t, []string{"catalog", "game_b"}, purger.tags)
}

func TestPurgeFailureDoesNotChangeStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.pub.FailWith(errors.New("unavailable"))
	env.runner.result = syncer.Result{Added: []syncer.AddedRelease{{Title: "Game A", Slug: "game-a"}}}

	rec := env.do(http.MethodGet, "/db/sync-all")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Game A", rec.Body.String())
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{APIKey: "secret"})

	rec := env.do(http.MethodGet, "/db/sync-all")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, env.runner.calls)

	req := httptest.NewRequest(http.MethodGet, "/db/sync-all", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/db/sync-all?api_key=secret")
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = env.do(http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListReleases(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{ListMaxAge: 12 * time.Hour, ListSharedMaxAge: 365 * 24 * time.Hour})
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, env.store.SaveRelease(ctx, catalog.Release{
		ID: "1", Slug: "baldurs-gate-3", Title: "Baldur's Gate 3", Link: "https://s.example/1/",
		PublishedAt: base, PinkPaw: true, Genres: []string{"RPG"}, Companies: []string{"Larian Studios"},
	}))
	require.NoError(t, env.store.SaveRelease(ctx, catalog.Release{
		ID: "2", Slug: "doom-eternal", Title: "DOOM Eternal", Link: "https://s.example/2/",
		PublishedAt: base.Add(time.Hour), Genres: []string{"Shooter"},
	}))

	rec := env.do(http.MethodGet, "/db/list")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "max-age=43200, s-maxage=31536000", rec.Header().Get("Cache-Control"))
	require.Equal(t, rec.Header().Get("Cache-Control"), rec.Header().Get("CDN-Cache-Control"))
	require.Equal(t, "catalog", rec.Header().Get("Cache-Tag"))
	var all []catalog.Release
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)
	require.Equal(t, "DOOM Eternal", all[0].Title)

	cases := []struct {
		target string
		want   []string
	}{
		{"/db/list?title=gate", []string{"Baldur's Gate 3"}},
		{"/db/list?pinkPaw=true", []string{"Baldur's Gate 3"}},
		{"/db/list?genre=shooter", []string{"DOOM Eternal"}},
		{"/db/list?selectedGenre=RPG", []string{"Baldur's Gate 3"}},
		{"/db/list?company=larian", []string{"Baldur's Gate 3"}},
		{"/db/list?slugs=doom-eternal,baldurs-gate-3", []string{"DOOM Eternal", "Baldur's Gate 3"}},
		{"/db/list?page=2", []string{}},
	}
	for _, tc := range cases {
		rec := env.do(http.MethodGet, tc.target)
		require.Equal(t, http.StatusOK, rec.Code, tc.target)
		var got []catalog.Release
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		titles := make([]string, 0, len(got))
		for _, r := range got {
			titles = append(titles, r.Title)
		}
		require.Equal(t, tc.want, titles, tc.target)
	}
}

func TestListRejectsBadParams(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	for _, target := range []string{"/db/list?page=0", "/db/list?page=abc", "/db/list?pinkPaw=maybe"} {
		rec := env.do(http.MethodGet, target)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz").Code)

	rec := env.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")

	notReady := NewServer(Deps{
		Runner: &fakeRunner{},
		Lister: memstore.NewCatalogStore(),
		Ready:  func(context.Context) error { return errors.New("db down") },
	}, Options{}, nil)
	rec = httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodGet, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := &Server{logger: zap.NewNop()}
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.Error(t, err)

	hijacker := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: hijacker}
	conn, _, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, hijacker.CloseClient())
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}
