package upload

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault-api/internal/backend"
	"github.com/clipvault/clipvault-api/internal/catalog"
	"github.com/clipvault/clipvault-api/internal/media"
)

// mockFetcher implements fetch.Fetcher for testing.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url, destPath string, maxDuration time.Duration) error {
	args := m.Called(ctx, url, destPath, maxDuration)
	return args.Error(0)
}

// mockTranscoder implements media.Transcoder for testing.
type mockTranscoder struct {
	mock.Mock
}

func (m *mockTranscoder) Transcode(ctx context.Context, src, dst string, profile media.TargetProfile) error {
	args := m.Called(ctx, src, dst, profile)
	return args.Error(0)
}

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

// writeOnFetch makes the fetcher mock produce a file of n bytes at the
// destination path.
func writeOnFetch(t *testing.T, m *mockFetcher, n int) *mock.Call {
	t.Helper()
	return m.On("Fetch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			dest := args.String(2)
			require.NoError(t, os.WriteFile(dest, make([]byte, n), 0o600))
		}).
		Return(nil)
}

func testParams(t *testing.T, maxBytes int64) Params {
	t.Helper()
	return Params{
		TempDir:          t.TempDir(),
		MaxFileSizeBytes: maxBytes,
		MaxDuration:      10 * time.Minute,
		Retention:        time.Hour,
		Profile: media.TargetProfile{
			MaxHeight:    720,
			VideoBitrate: "1000k",
			AudioBitrate: "128k",
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestUpload_UnderBudgetSkipsTranscode(t *testing.T) {
	fetcher := &mockFetcher{}
	transcoder := &mockTranscoder{}
	primary := &mockBackend{name: backend.ProviderGitHub}
	cat := catalog.NewMemoryCatalog()

	writeOnFetch(t, fetcher, 5_000_000)
	primary.On("Put", mock.Anything, mock.Anything, mock.Anything).
		Return(&backend.PutResult{
			URL:    "https://raw.example.com/cdn/videos/v.mp4",
			Handle: backend.GitHubHandle{Path: "cdn/videos/v.mp4", SHA: "abc"},
		}, nil)

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	params := testParams(t, 10_000_000)
	svc := NewService(fetcher, transcoder, []backend.Backend{primary}, cat, discardLogger(), params,
		WithNow(func() time.Time { return now }),
	)

	result, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc123")
	require.NoError(t, err)

	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "/watch/"+result.Token, result.WatchPath)
	assert.Equal(t, "https://raw.example.com/cdn/videos/v.mp4", result.VideoURL)
	assert.Equal(t, int64(5_000_000), result.SizeBytes)
	assert.Equal(t, now.Add(time.Hour), result.ExpiresAt)

	// No transcode for an asset within the budget.
	transcoder.AssertNotCalled(t, "Transcode", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Exactly one catalog record, bound to where the bytes landed.
	rec, err := cat.FindByToken(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, backend.ProviderGitHub, rec.Provider)
	assert.Equal(t, now.Add(time.Hour), rec.ExpiresAt)
	assert.Equal(t, backend.GitHubHandle{Path: "cdn/videos/v.mp4", SHA: "abc"}, rec.Handle)
}

func TestUpload_CleansTempFilesAfterSuccess(t *testing.T) {
	fetcher := &mockFetcher{}
	transcoder := &mockTranscoder{}
	primary := &mockBackend{name: backend.ProviderGitHub}
	cat := catalog.NewMemoryCatalog()

	writeOnFetch(t, fetcher, 1000)
	primary.On("Put", mock.Anything, mock.Anything, mock.Anything).
		Return(&backend.PutResult{URL: "https://x", Handle: backend.GitHubHandle{Path: "p", SHA: "s"}}, nil)

	params := testParams(t, 10_000)
	svc := NewService(fetcher, transcoder, []backend.Backend{primary}, cat, discardLogger(), params)

	_, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc")
	require.NoError(t, err)

	entries, err := os.ReadDir(params.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp dir should be empty after a successful upload")
}

func TestUpload_FallsBackToSecondaryBackend(t *testing.T) {
	fetcher := &mockFetcher{}
	transcoder := &mockTranscoder{}
	primary := &mockBackend{name: backend.ProviderGitHub}
	secondary := &mockBackend{name: backend.ProviderGofile}
	cat := catalog.NewMemoryCatalog()

	writeOnFetch(t, fetcher, 1000)
	primary.On("Put", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("quota exceeded"))
	secondary.On("Put", mock.Anything, mock.Anything, mock.Anything).
		Return(&backend.PutResult{
			URL:    "https://gofile.example/d/xyz",
			Handle: backend.GofileHandle{FileID: "xyz", AdminCode: "adm"},
		}, nil)

	svc := NewService(fetcher, transcoder, []backend.Backend{primary, secondary}, cat, discardLogger(), testParams(t, 10_000))

	result, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc")
	require.NoError(t, err)
	assert.Equal(t, "https://gofile.example/d/xyz", result.VideoURL)

	rec, err := cat.FindByToken(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, backend.ProviderGofile, rec.Provider)
	assert.Equal(t, "https://gofile.example/d/xyz", rec.VideoURL)

	// The primary is attempted exactly once, never retried.
	primary.AssertNumberOfCalls(t, "Put", 1)
}

func TestUpload_AllBackendsFail(t *testing.T) {
	fetcher := &mockFetcher{}
	transcoder := &mockTranscoder{}
	primary := &mockBackend{name: backend.ProviderGitHub}
	secondary := &mockBackend{name: backend.ProviderGofile}
	cat := catalog.NewMemoryCatalog()

	writeOnFetch(t, fetcher, 1000)
	primary.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("api error"))
	secondary.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("network error"))

	params := testParams(t, 10_000)
	svc := NewService(fetcher, transcoder, []backend.Backend{primary, secondary}, cat, discardLogger(), params)

	_, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc")
	require.ErrorIs(t, err, ErrAllUploadsFailed)

	// No catalog row for a fully-failed upload, and no stray temp files.
	expired, err := cat.FindExpiredBefore(context.Background(), time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)

	entries, err := os.ReadDir(params.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpload_TranscodeInvokedOnceAndStillTooLarge(t *testing.T) {
	fetcher := &mockFetcher{}
	transcoder := &mockTranscoder{}
	primary := &mockBackend{name: backend.ProviderGitHub}
	cat := catalog.NewMemoryCatalog()

	writeOnFetch(t, fetcher, 20_000)
	// The transcode shrinks the file, but not under the budget.
	transcoder.On("Transcode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			dst := args.String(2)
			require.NoError(t, os.WriteFile(dst, make([]byte, 15_000), 0o600))
		}).
		Return(nil)

	svc := NewService(fetcher, transcoder, []backend.Backend{primary}, cat, discardLogger(), testParams(t, 10_000))

	_, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc")
	require.ErrorIs(t, err, ErrFileTooLarge)

	// Exactly one transcode attempt, and no backend put for an over-budget asset.
	transcoder.AssertNumberOfCalls(t, "Transcode", 1)
	primary.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpload_TranscodeSuccessBringsAssetUnderBudget(t *testing.T) {
	fetcher := &mockFetcher{}
	transcoder := &mockTranscoder{}
	primary := &mockBackend{name: backend.ProviderGitHub}
	cat := catalog.NewMemoryCatalog()

	writeOnFetch(t, fetcher, 20_000)
	transcoder.On("Transcode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			dst := args.String(2)
			require.NoError(t, os.WriteFile(dst, make([]byte, 8_000), 0o600))
		}).
		Return(nil)
	primary.On("Put", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			// The transcoded file is what gets uploaded.
			assert.Contains(t, args.String(1), ".tc.mp4")
		}).
		Return(&backend.PutResult{URL: "https://x", Handle: backend.GitHubHandle{Path: "p", SHA: "s"}}, nil)

	svc := NewService(fetcher, transcoder, []backend.Backend{primary}, cat, discardLogger(), testParams(t, 10_000))

	result, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc")
	require.NoError(t, err)
	assert.Equal(t, int64(8_000), result.SizeBytes)
}

func TestUpload_TranscodeFailureFallsBackToOriginal(t *testing.T) {
	fetcher := &mockFetcher{}
	transcoder := &mockTranscoder{}
	primary := &mockBackend{name: backend.ProviderGitHub}
	cat := catalog.NewMemoryCatalog()

	writeOnFetch(t, fetcher, 20_000)
	transcoder.On("Transcode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("ffmpeg exploded"))

	svc := NewService(fetcher, transcoder, []backend.Backend{primary}, cat, discardLogger(), testParams(t, 10_000))

	// The original is still over budget, so the final size check fails the request.
	_, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc")
	require.ErrorIs(t, err, ErrFileTooLarge)
	primary.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpload_FetchFailureIsTerminal(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("yt-dlp: video unavailable"))

	svc := NewService(fetcher, &mockTranscoder{}, nil, catalog.NewMemoryCatalog(), discardLogger(), testParams(t, 10_000))

	_, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc")
	require.ErrorIs(t, err, ErrDownloadFailed)

	// The fetcher is never retried.
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestUpload_MissingDownloadIsTerminal(t *testing.T) {
	fetcher := &mockFetcher{}
	// Fetch reports success but writes nothing.
	fetcher.On("Fetch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewService(fetcher, &mockTranscoder{}, nil, catalog.NewMemoryCatalog(), discardLogger(), testParams(t, 10_000))

	_, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc")
	require.ErrorIs(t, err, ErrDownloadMissing)
}

func TestUpload_CatalogInsertFailureStillSucceeds(t *testing.T) {
	fetcher := &mockFetcher{}
	transcoder := &mockTranscoder{}
	primary := &mockBackend{name: backend.ProviderGitHub}

	writeOnFetch(t, fetcher, 1000)
	primary.On("Put", mock.Anything, mock.Anything, mock.Anything).
		Return(&backend.PutResult{URL: "https://x", Handle: backend.GitHubHandle{Path: "p", SHA: "s"}}, nil)

	svc := NewService(fetcher, transcoder, []backend.Backend{primary}, failingCatalog{}, discardLogger(), testParams(t, 10_000))

	// The bytes are durably stored, so the caller still gets a working link.
	result, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc")
	require.NoError(t, err)
	assert.Equal(t, "https://x", result.VideoURL)
}

func TestUpload_HostAllowList(t *testing.T) {
	params := testParams(t, 10_000)
	params.AllowedHosts = []string{"youtube.com", "youtu.be"}

	fetcher := &mockFetcher{}
	svc := NewService(fetcher, &mockTranscoder{}, nil, catalog.NewMemoryCatalog(), discardLogger(), params)

	t.Run("disallowed host rejected before fetch", func(t *testing.T) {
		_, err := svc.Upload(context.Background(), "https://evil.example.com/video.mp4")
		require.ErrorIs(t, err, ErrHostNotAllowed)
		fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("subdomain of allowed host accepted", func(t *testing.T) {
		writeOnFetch(t, fetcher, 100)
		primary := &mockBackend{name: backend.ProviderGofile}
		primary.On("Put", mock.Anything, mock.Anything, mock.Anything).
			Return(&backend.PutResult{URL: "https://x", Handle: backend.GofileHandle{FileID: "f", AdminCode: "a"}}, nil)

		svc := NewService(fetcher, &mockTranscoder{}, []backend.Backend{primary}, catalog.NewMemoryCatalog(), discardLogger(), params)
		_, err := svc.Upload(context.Background(), "https://m.youtube.com/watch?v=abc")
		require.NoError(t, err)
	})
}

func TestUpload_TokensAreUniquePerRequest(t *testing.T) {
	fetcher := &mockFetcher{}
	transcoder := &mockTranscoder{}
	primary := &mockBackend{name: backend.ProviderGofile}
	cat := catalog.NewMemoryCatalog()

	writeOnFetch(t, fetcher, 100)
	primary.On("Put", mock.Anything, mock.Anything, mock.Anything).
		Return(&backend.PutResult{URL: "https://x", Handle: backend.GofileHandle{FileID: "f", AdminCode: "a"}}, nil)

	svc := NewService(fetcher, transcoder, []backend.Backend{primary}, cat, discardLogger(), testParams(t, 10_000))

	seen := make(map[string]bool)
	for range 10 {
		result, err := svc.Upload(context.Background(), "https://youtube.com/watch?v=abc")
		require.NoError(t, err)
		assert.False(t, seen[result.Token], "token %q issued twice", result.Token)
		seen[result.Token] = true
	}
}
