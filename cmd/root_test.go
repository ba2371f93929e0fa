package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/repack-catalog/internal/syncer"
)

type fakeApp struct {
	result     syncer.Result
	err        error
	strategies []string
	ran        bool
	closed     int
	closeErr   error
}

func (f *fakeApp) Sync(_ context.Context, strategy string) (syncer.Result, error) {
	f.strategies = append(f.strategies, strategy)
	return f.result, f.err
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed++
	return f.closeErr
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func withFakeApp(t *testing.T, app *fakeApp) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncAll_PrintsSummary(t *testing.T) {
	app := &fakeApp{result: syncer.Result{
		Added:  []syncer.AddedRelease{{Title: "Game A", Slug: "game-a"}, {Title: "Game B", Slug: "game-b"}},
		Errors: []syncer.ItemError{{Title: "Game C", Err: errors.New("missing cover")}},
	}}
	cfgPath := withFakeApp(t, app)

	out, err := execute(t, "--config", "catalog.yaml", "sync", "all")
	require.NoError(t, err)
	require.Equal(t, "Game A\nGame B\nGame C: missing cover\n", out)
	require.Equal(t, []string{syncer.StrategyFull}, app.strategies)
	require.Equal(t, "catalog.yaml", *cfgPath)
	require.Equal(t, 1, app.closed)
}

func TestSyncFeed_FailedRunExitsWithError(t *testing.T) {
	app := &fakeApp{result: syncer.Result{
		Errors: []syncer.ItemError{{Title: "Game C", Err: errors.New("missing cover")}},
	}}
	withFakeApp(t, app)

	_, err := execute(t, "sync", "feed")
	require.ErrorContains(t, err, "1 releases failed")
	require.Equal(t, []string{syncer.StrategyFeed}, app.strategies)
	require.Equal(t, 1, app.closed)
}

func TestSync_FatalError(t *testing.T) {
	app := &fakeApp{err: errors.New("listing page 1: status 503")}
	withFakeApp(t, app)

	_, err := execute(t, "sync", "all")
	require.ErrorContains(t, err, "sync full: listing page 1: status 503")
	require.Equal(t, 1, app.closed)
}

func TestSync_CloseErrorIsReported(t *testing.T) {
	app := &fakeApp{err: errors.New("interrupted"), closeErr: errors.New("pool busy")}
	withFakeApp(t, app)

	_, err := execute(t, "sync", "feed")
	require.ErrorContains(t, err, "sync feed: interrupted")
	require.ErrorContains(t, err, "close application: pool busy")
	require.Equal(t, 1, app.closed)
}

func TestServe_RunsApp(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	require.True(t, app.ran)
	require.Equal(t, 1, app.closed)
}

func TestRoot_AppInitFailure(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, string) (App, error) {
		return nil, errors.New("bad config")
	}
	t.Cleanup(func() { newApp = orig })

	_, err := execute(t, "sync", "all")
	require.ErrorContains(t, err, "failed to initialize application services: bad config")
}
