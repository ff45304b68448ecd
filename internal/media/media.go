// Package media provides video transcoding. It defines the Transcoder
// interface (port) and an implementation backed by the ffmpeg CLI.
package media

import "context"

// TargetProfile is the fixed re-encode target applied when an asset exceeds
// the size budget.
type TargetProfile struct {
	// MaxHeight caps the vertical resolution. Sources below the cap keep
	// their dimensions; the transcoder never upscales.
	MaxHeight int
	// VideoBitrate is the target video bitrate, e.g. "1000k".
	VideoBitrate string
	// AudioBitrate is the target audio bitrate, e.g. "128k".
	AudioBitrate string
}

// Transcoder defines the interface for re-encoding a local file to a
// smaller target. At most one transcode attempt is made per asset.
type Transcoder interface {
	// Transcode re-encodes the file at src into dst using the profile.
	Transcode(ctx context.Context, src, dst string, profile TargetProfile) error
}
