package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault-api/internal/backend"
	"github.com/clipvault/clipvault-api/internal/catalog"
)

// mockBackend implements backend.Backend for testing.
type mockBackend struct {
	mock.Mock
	name backend.Provider
}

func (m *mockBackend) Name() backend.Provider { return m.name }

func (m *mockBackend) Put(ctx context.Context, localPath, name string) (*backend.PutResult, error) {
	args := m.Called(ctx, localPath, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.PutResult), args.Error(1)
}

func (m *mockBackend) Delete(ctx context.Context, h backend.Handle) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

// failingCatalog fails every operation, simulating an unreachable store.
type failingCatalog struct{}

func (failingCatalog) Insert(context.Context, *catalog.Record) error { return errors.New("catalog down") }
func (failingCatalog) FindByToken(context.Context, string) (*catalog.Record, error) {
	return nil, errors.New("catalog down")
}
func (failingCatalog) FindExpiredBefore(context.Context, time.Time) ([]*catalog.Record, error) {
	return nil, errors.New("catalog down")
}
func (failingCatalog) DeleteByToken(context.Context, string) error { return errors.New("catalog down") }

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func insertRecord(t *testing.T, cat catalog.Catalog, token string, h backend.Handle, expiresAt time.Time) {
	t.Helper()
	provider := backend.ProviderGofile
	if h != nil {
		provider = h.HandleProvider()
	}
	require.NoError(t, cat.Insert(context.Background(), &catalog.Record{
		Token:     token,
		FileName:  token + ".mp4",
		Provider:  provider,
		Handle:    h,
		VideoURL:  "https://example.com/" + token,
		SizeBytes: 1000,
		ExpiresAt: expiresAt,
	}))
}

func TestRunOnce_ReclaimsExpiredRecords(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	cat := catalog.NewMemoryCatalog()

	github := &mockBackend{name: backend.ProviderGitHub}
	gofile := &mockBackend{name: backend.ProviderGofile}
	github.On("Delete", mock.Anything, mock.Anything).Return(nil)
	gofile.On("Delete", mock.Anything, mock.Anything).Return(nil)

	// Three expired records with complete handles, two without, one live.
	insertRecord(t, cat, "gh-1", backend.GitHubHandle{Path: "cdn/a.mp4", SHA: "s1"}, now.Add(-time.Minute))
	insertRecord(t, cat, "gh-2", backend.GitHubHandle{Path: "cdn/b.mp4", SHA: "s2"}, now.Add(-time.Hour))
	insertRecord(t, cat, "gf-1", backend.GofileHandle{FileID: "f1", AdminCode: "a1"}, now.Add(-time.Second))
	insertRecord(t, cat, "gh-nosha", backend.GitHubHandle{Path: "cdn/c.mp4"}, now.Add(-time.Minute))
	insertRecord(t, cat, "gf-nocode", backend.GofileHandle{FileID: "f2"}, now.Add(-time.Minute))
	insertRecord(t, cat, "live", backend.GitHubHandle{Path: "cdn/d.mp4", SHA: "s3"}, now.Add(time.Hour))

	r := NewReconciler(cat, []backend.Backend{github, gofile}, time.Minute, discardLogger(),
		WithNow(func() time.Time { return now }),
	)
	r.RunOnce(context.Background())

	// Backend deletes attempted only for the complete handles.
	github.AssertNumberOfCalls(t, "Delete", 2)
	gofile.AssertNumberOfCalls(t, "Delete", 1)

	// Every expired row is gone, complete handle or not.
	for _, token := range []string{"gh-1", "gh-2", "gf-1", "gh-nosha", "gf-nocode"} {
		_, err := cat.FindByToken(context.Background(), token)
		assert.ErrorIs(t, err, catalog.ErrRecordNotFound, "row %q should be reclaimed", token)
	}

	// The live row survives.
	_, err := cat.FindByToken(context.Background(), "live")
	assert.NoError(t, err)
}

func TestRunOnce_BackendDeleteFailureStillReclaimsRow(t *testing.T) {
	now := time.Now()
	cat := catalog.NewMemoryCatalog()

	github := &mockBackend{name: backend.ProviderGitHub}
	github.On("Delete", mock.Anything, mock.Anything).Return(errors.New("api error"))

	insertRecord(t, cat, "gh-1", backend.GitHubHandle{Path: "cdn/a.mp4", SHA: "s1"}, now.Add(-time.Minute))

	r := NewReconciler(cat, []backend.Backend{github}, time.Minute, discardLogger())
	r.RunOnce(context.Background())

	_, err := cat.FindByToken(context.Background(), "gh-1")
	assert.ErrorIs(t, err, catalog.ErrRecordNotFound)
}

func TestRunOnce_PanicIsIsolatedPerRecord(t *testing.T) {
	now := time.Now()
	cat := catalog.NewMemoryCatalog()

	github := &mockBackend{name: backend.ProviderGitHub}
	github.On("Delete", mock.Anything, mock.MatchedBy(func(h backend.Handle) bool {
		gh, ok := h.(backend.GitHubHandle)
		return ok && gh.Path == "cdn/boom.mp4"
	})).Run(func(mock.Arguments) {
		panic("backend client bug")
	}).Return(nil)
	github.On("Delete", mock.Anything, mock.Anything).Return(nil)

	insertRecord(t, cat, "boom", backend.GitHubHandle{Path: "cdn/boom.mp4", SHA: "s1"}, now.Add(-time.Minute))
	insertRecord(t, cat, "ok", backend.GitHubHandle{Path: "cdn/ok.mp4", SHA: "s2"}, now.Add(-time.Minute))

	r := NewReconciler(cat, []backend.Backend{github}, time.Minute, discardLogger())
	require.NotPanics(t, func() { r.RunOnce(context.Background()) })

	// The non-panicking record is fully reclaimed.
	_, err := cat.FindByToken(context.Background(), "ok")
	assert.ErrorIs(t, err, catalog.ErrRecordNotFound)
}

func TestRunOnce_NoBackendForProviderSkipsDelete(t *testing.T) {
	now := time.Now()
	cat := catalog.NewMemoryCatalog()

	// Only gofile is configured, but the record landed on github.
	gofile := &mockBackend{name: backend.ProviderGofile}
	insertRecord(t, cat, "gh-1", backend.GitHubHandle{Path: "cdn/a.mp4", SHA: "s1"}, now.Add(-time.Minute))

	r := NewReconciler(cat, []backend.Backend{gofile}, time.Minute, discardLogger())
	r.RunOnce(context.Background())

	gofile.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	_, err := cat.FindByToken(context.Background(), "gh-1")
	assert.ErrorIs(t, err, catalog.ErrRecordNotFound)
}

func TestRunOnce_CatalogUnavailableSkipsCycle(t *testing.T) {
	r := NewReconciler(failingCatalog{}, nil, time.Minute, discardLogger())
	require.NotPanics(t, func() { r.RunOnce(context.Background()) })
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cat := catalog.NewMemoryCatalog()
	r := NewReconciler(cat, nil, 10*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after context cancellation")
	}
}
