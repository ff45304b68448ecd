// Package upload provides the upload orchestrator: the request-time core
// that sequences fetch, size governance, backend fallback, and catalog
// insertion into a single published video.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipvault/clipvault-api/internal/backend"
	"github.com/clipvault/clipvault-api/internal/catalog"
	"github.com/clipvault/clipvault-api/internal/fetch"
	"github.com/clipvault/clipvault-api/internal/media"
	"github.com/clipvault/clipvault-api/internal/token"
)

// Static errors for upload orchestration.
var (
	// ErrHostNotAllowed is returned when the source host is outside the
	// configured allow-list.
	ErrHostNotAllowed = errors.New("upload: source host not allowed")
	// ErrDownloadFailed is returned when the external fetcher fails.
	ErrDownloadFailed = errors.New("upload: download failed")
	// ErrDownloadMissing is returned when the fetcher reported success but
	// produced no file.
	ErrDownloadMissing = errors.New("upload: downloaded file missing or empty")
	// ErrFileTooLarge is returned when the asset still exceeds the size
	// budget after the single allowed transcode attempt.
	ErrFileTooLarge = errors.New("upload: file exceeds size budget")
	// ErrAllUploadsFailed is returned when every backend rejected the asset.
	ErrAllUploadsFailed = errors.New("upload: all storage backends failed")
)

// Prober reports the duration of a local media file. Optional diagnostics;
// probe failures never fail an upload.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Result is the outcome of a successful upload.
type Result struct {
	// Token is the public identifier for the published video.
	Token string
	// WatchPath is the service-relative watch link.
	WatchPath string
	// VideoURL is the public URL of the stored asset.
	VideoURL string
	// FileName is the name the asset was stored under.
	FileName string
	// SizeBytes is the stored asset size.
	SizeBytes int64
	// ExpiresAt is when the video stops being served.
	ExpiresAt time.Time
}

// Params holds the orchestration limits and the transcode target profile.
type Params struct {
	// TempDir is where fetched assets are staged before upload.
	TempDir string
	// MaxFileSizeBytes is the byte budget an asset must fit.
	MaxFileSizeBytes int64
	// MaxDuration is the source duration ceiling passed to the fetcher.
	MaxDuration time.Duration
	// Retention is the window after which the asset is reclaimed.
	Retention time.Duration
	// Profile is the fixed transcode target for over-budget assets.
	Profile media.TargetProfile
	// AllowedHosts optionally restricts source hosts. Empty allows all.
	AllowedHosts []string
}

// Service orchestrates the upload pipeline. Each call owns its own temp
// files and token; no state is shared between concurrent uploads.
type Service struct {
	fetcher    fetch.Fetcher
	transcoder media.Transcoder
	backends   []backend.Backend
	catalog    catalog.Catalog
	logger     *slog.Logger
	params     Params
	prober     Prober
	now        func() time.Time
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithNow sets the clock used to stamp expiry times. Used in tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithProber enables duration logging for fetched assets.
func WithProber(p Prober) Option {
	return func(s *Service) {
		s.prober = p
	}
}

// NewService creates a new upload orchestrator. Backends are attempted in
// the order given; the first successful put wins.
func NewService(
	fetcher fetch.Fetcher,
	transcoder media.Transcoder,
	backends []backend.Backend,
	cat catalog.Catalog,
	logger *slog.Logger,
	params Params,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		fetcher:    fetcher,
		transcoder: transcoder,
		backends:   backends,
		catalog:    cat,
		logger:     logger,
		params:     params,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload fetches the media at sourceURL, fits it to the size budget, stores
// it in the first backend that accepts it, and records a catalog entry
// binding a fresh token to the stored asset.
func (s *Service) Upload(ctx context.Context, sourceURL string) (*Result, error) {
	if err := s.checkHost(sourceURL); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.params.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("upload: create temp dir: %w", err)
	}

	fileName := token.TempFileName()
	localPath := filepath.Join(s.params.TempDir, fileName)
	tempPaths := []string{localPath}
	defer s.cleanupTemp(&tempPaths)

	// 1. Fetch. The fetcher encodes its own retry policy; a failure here
	// is terminal for the request.
	if err := s.fetcher.Fetch(ctx, sourceURL, localPath, s.params.MaxDuration); err != nil {
		s.logger.Warn("fetch failed",
			slog.String("url", sourceURL),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s", ErrDownloadFailed, truncate(err.Error(), 200))
	}

	// 2. Verify the fetcher actually produced a non-empty file.
	size, err := fileSize(localPath)
	if err != nil || size == 0 {
		return nil, ErrDownloadMissing
	}

	if s.prober != nil {
		if d, probeErr := s.prober.Duration(ctx, localPath); probeErr == nil {
			s.logger.Debug("fetched asset",
				slog.String("file", fileName),
				slog.Int64("size_bytes", size),
				slog.Duration("duration", d),
			)
		}
	}

	// 3. Size governance with a single transcode attempt. A transcode
	// failure falls back to the original bytes; the budget is re-checked
	// either way.
	uploadPath := localPath
	if Decide(size, s.params.MaxFileSizeBytes) == DecisionTranscode {
		uploadPath, size = s.transcodeOnce(ctx, localPath, size, &tempPaths)
	}
	if size > s.params.MaxFileSizeBytes {
		return nil, fmt.Errorf("%w: %d bytes over budget of %d", ErrFileTooLarge, size, s.params.MaxFileSizeBytes)
	}

	// 4. Fresh token and absolute expiry.
	tok := token.New()
	expiresAt := s.now().Add(s.params.Retention).UTC()

	// 5. Strictly ordered backend fallback, one attempt per backend.
	result, provider, err := s.putWithFallback(ctx, uploadPath, fileName)
	if err != nil {
		return nil, err
	}

	// The backend is authoritative now; local copies are disposable.
	s.cleanupTemp(&tempPaths)

	// 6. Catalog insert. A failure here is logged but not fatal: the bytes
	// are already durably stored and the caller still gets a working link.
	// The asset becomes orphaned and will never be reclaimed.
	rec := &catalog.Record{
		Token:     tok,
		FileName:  fileName,
		Provider:  provider,
		Handle:    result.Handle,
		VideoURL:  result.URL,
		SizeBytes: size,
		ExpiresAt: expiresAt,
	}
	if err := s.catalog.Insert(ctx, rec); err != nil {
		s.logger.Error("catalog insert failed, asset orphaned",
			slog.String("token", tok),
			slog.String("provider", string(provider)),
			slog.String("video_url", result.URL),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("upload complete",
		slog.String("token", tok),
		slog.String("provider", string(provider)),
		slog.Int64("size_bytes", size),
		slog.Time("expires_at", expiresAt),
	)

	return &Result{
		Token:     tok,
		WatchPath: "/watch/" + tok,
		VideoURL:  result.URL,
		FileName:  fileName,
		SizeBytes: size,
		ExpiresAt: expiresAt,
	}, nil
}

// transcodeOnce makes the single allowed transcode attempt. On failure the
// original path and size are kept; the final budget check still applies.
func (s *Service) transcodeOnce(ctx context.Context, localPath string, size int64, tempPaths *[]string) (string, int64) {
	transcodedPath := localPath + ".tc.mp4"
	if err := s.transcoder.Transcode(ctx, localPath, transcodedPath, s.params.Profile); err != nil {
		s.logger.Warn("transcode failed, continuing with original file",
			slog.String("file", filepath.Base(localPath)),
			slog.String("error", err.Error()),
		)
		return localPath, size
	}
	*tempPaths = append(*tempPaths, transcodedPath)

	newSize, err := fileSize(transcodedPath)
	if err != nil || newSize == 0 {
		s.logger.Warn("transcode produced no output, continuing with original file",
			slog.String("file", filepath.Base(localPath)),
		)
		return localPath, size
	}

	s.logger.Info("transcoded over-budget asset",
		slog.String("file", filepath.Base(localPath)),
		slog.Int64("original_bytes", size),
		slog.Int64("transcoded_bytes", newSize),
	)
	return transcodedPath, newSize
}

// putWithFallback tries each backend in order and returns the first
// successful put. No backend is retried; a failure logs and falls through.
func (s *Service) putWithFallback(ctx context.Context, localPath, name string) (*backend.PutResult, backend.Provider, error) {
	for _, b := range s.backends {
		result, err := b.Put(ctx, localPath, name)
		if err != nil {
			s.logger.Warn("backend put failed, falling through",
				slog.String("provider", string(b.Name())),
				slog.String("error", err.Error()),
			)
			continue
		}
		return result, b.Name(), nil
	}
	return nil, "", ErrAllUploadsFailed
}

// checkHost enforces the optional source host allow-list.
func (s *Service) checkHost(sourceURL string) error {
	if len(s.params.AllowedHosts) == 0 {
		return nil
	}
	u, err := url.Parse(sourceURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: %q", ErrHostNotAllowed, sourceURL)
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range s.params.AllowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrHostNotAllowed, host)
}

// cleanupTemp removes staged files, tolerating already-removed paths, and
// empties the slice so a later call is a no-op.
func (s *Service) cleanupTemp(paths *[]string) {
	for _, p := range *paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove temp file",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}
	*paths = (*paths)[:0]
}

// fileSize returns the size of the file at path.
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// truncate shortens s to at most n runes for user-visible error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
