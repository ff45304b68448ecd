package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Static errors for media operations.
var (
	// ErrInvalidProfile is returned when the target profile is not positive.
	ErrInvalidProfile = errors.New("media: target height must be positive")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("media: ffprobe execution failed")
)

// FFmpegTranscoder implements Transcoder using the ffmpeg CLI.
type FFmpegTranscoder struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
	// timeout bounds a single transcode. Defaults to 10 minutes.
	timeout time.Duration
}

// FFmpegOption is a function that configures an FFmpegTranscoder.
type FFmpegOption func(*FFmpegTranscoder)

// WithFFmpegPath sets a custom ffmpeg binary path.
func WithFFmpegPath(path string) FFmpegOption {
	return func(t *FFmpegTranscoder) {
		t.ffmpegPath = path
	}
}

// WithFFprobePath sets a custom ffprobe binary path.
func WithFFprobePath(path string) FFmpegOption {
	return func(t *FFmpegTranscoder) {
		t.ffprobePath = path
	}
}

// WithTranscodeTimeout sets the per-transcode execution ceiling.
func WithTranscodeTimeout(d time.Duration) FFmpegOption {
	return func(t *FFmpegTranscoder) {
		t.timeout = d
	}
}

// NewFFmpegTranscoder creates a new FFmpegTranscoder.
func NewFFmpegTranscoder(opts ...FFmpegOption) *FFmpegTranscoder {
	t := &FFmpegTranscoder{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		timeout:     10 * time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcode re-encodes src into dst at the profile's bitrates, capping the
// vertical resolution at profile.MaxHeight. Sources already at or below the
// cap keep their dimensions.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, src, dst string, profile TargetProfile) error {
	if profile.MaxHeight <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidProfile, profile.MaxHeight)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	return t.runFFmpeg(ctx, TranscodeArgs(src, dst, profile))
}

// TranscodeArgs builds the ffmpeg argument list for a transcode.
// The scale expression takes the smaller of the source height and the cap,
// so content below the cap passes through at its original dimensions.
func TranscodeArgs(src, dst string, profile TargetProfile) []string {
	filter := fmt.Sprintf("scale=-2:'min(%d,ih)'", profile.MaxHeight)
	return []string{
		"-y",      // Overwrite output file without asking
		"-i", src, // Input file
		"-vf", filter, // Height cap without upscaling
		"-c:v", "libx264", // Video codec
		"-preset", "fast", // Encoding speed preset
		"-b:v", profile.VideoBitrate, // Video bitrate
		"-c:a", "aac", // Audio codec
		"-b:a", profile.AudioBitrate, // Audio bitrate
		"-movflags", "+faststart", // Streamable output
		dst, // Output file
	}
}

// Duration probes the media duration of the file at path.
func (t *FFmpegTranscoder) Duration(ctx context.Context, path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, t.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%w: %v: %s", ErrFFprobeExecution, err, stderr.String())
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("media: parse ffprobe duration: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// carrying the captured stderr on failure.
func (t *FFmpegTranscoder) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("media: ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError wraps an ffmpeg execution failure with its arguments and stderr.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

// Error returns a description including the captured stderr.
func (e *FFmpegError) Error() string {
	return fmt.Sprintf("media: ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

// Unwrap returns the underlying execution error.
func (e *FFmpegError) Unwrap() error {
	return e.Err
}
