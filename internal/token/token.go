// Package token provides URL-safe random identifier generation for
// published videos and uniquely named temporary files.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// tokenBytes is the entropy width of a public token. 16 bytes keeps tokens
// short while making enumeration infeasible.
const tokenBytes = 16

// New creates a new URL-safe public token.
// Example: 3q2-7_9kXzJQv4mP8sT1uA
func New() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		// Fallback to a timestamp-derived token if crypto/rand fails
		return fmt.Sprintf("t%d", time.Now().UnixNano())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// TempFileName creates a unique file name for a downloaded asset.
// Format: video-<timestamp>-<random>.mp4
// Example: video-1701432000-a1b2c3d4.mp4
func TempFileName() string {
	timestamp := time.Now().Unix()
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		return fmt.Sprintf("video-%d.mp4", timestamp)
	}
	return fmt.Sprintf("video-%d-%s.mp4", timestamp, hex.EncodeToString(random))
}
