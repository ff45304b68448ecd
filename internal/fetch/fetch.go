// Package fetch provides source media retrieval. It defines the Fetcher
// interface (port) and an implementation backed by the yt-dlp CLI.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ErrEmptyURL is returned when no source URL is provided.
var ErrEmptyURL = errors.New("fetch: source URL is required")

// Fetcher defines the interface for turning a source URL into a local file.
// Implementations encode their own retry policy; callers never retry a
// failed fetch.
type Fetcher interface {
	// Fetch downloads the media at url into destPath, refusing sources
	// longer than maxDuration.
	Fetch(ctx context.Context, url, destPath string, maxDuration time.Duration) error
}

// YtDlpFetcher implements Fetcher using the yt-dlp CLI.
type YtDlpFetcher struct {
	// binPath is the path to the yt-dlp binary. Defaults to "yt-dlp".
	binPath string
	// timeout bounds a single fetch. Defaults to 10 minutes.
	timeout time.Duration
}

// YtDlpOption is a function that configures a YtDlpFetcher.
type YtDlpOption func(*YtDlpFetcher)

// WithBinPath sets a custom yt-dlp binary path.
func WithBinPath(path string) YtDlpOption {
	return func(f *YtDlpFetcher) {
		f.binPath = path
	}
}

// WithTimeout sets the per-fetch execution ceiling.
func WithTimeout(d time.Duration) YtDlpOption {
	return func(f *YtDlpFetcher) {
		f.timeout = d
	}
}

// NewYtDlpFetcher creates a new yt-dlp backed fetcher.
func NewYtDlpFetcher(opts ...YtDlpOption) *YtDlpFetcher {
	f := &YtDlpFetcher{
		binPath: "yt-dlp",
		timeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the media at url into destPath. Sources longer than
// maxDuration are rejected by a match filter before any bytes transfer.
func (f *YtDlpFetcher) Fetch(ctx context.Context, url, destPath string, maxDuration time.Duration) error {
	if url == "" {
		return ErrEmptyURL
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := []string{
		"-f", "best[ext=mp4]/best",
		"--no-playlist",
		"--match-filter", "duration <= " + strconv.Itoa(int(maxDuration.Seconds())),
		"-o", destPath,
		url,
	}

	// #nosec G204 - binPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.binPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("fetch: yt-dlp cancelled: %w", ctx.Err())
		}
		return &FetchError{
			URL:    url,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FetchError wraps a yt-dlp execution failure with its stderr output.
type FetchError struct {
	URL    string
	Stderr string
	Err    error
}

// Error returns a description including the captured stderr.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch: yt-dlp error for %s: %v\nstderr: %s", e.URL, e.Err, e.Stderr)
}

// Unwrap returns the underlying execution error.
func (e *FetchError) Unwrap() error {
	return e.Err
}
