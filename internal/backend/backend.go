// Package backend provides remote storage backends for video assets.
// It defines the Backend interface (port) and the tagged Handle union that
// carries the provider-specific fields needed to delete a stored object later.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Static errors for backend operations.
var (
	// ErrIncompleteHandle is returned by Delete when the handle is missing
	// fields required to identify the remote object. Callers treat this as
	// a skip, not a failure.
	ErrIncompleteHandle = errors.New("backend: handle is missing fields required for deletion")
	// ErrHandleMismatch is returned when a handle of the wrong provider is
	// passed to a backend.
	ErrHandleMismatch = errors.New("backend: handle provider does not match backend")
	// ErrUnknownProvider is returned when decoding a handle for an unknown provider.
	ErrUnknownProvider = errors.New("backend: unknown provider")
)

// Provider identifies a storage backend.
type Provider string

const (
	// ProviderGitHub is the primary, versioned content-addressable store.
	ProviderGitHub Provider = "github"
	// ProviderGofile is the secondary, anonymous upload store.
	ProviderGofile Provider = "gofile"
	// ProviderS3 is the optional S3-compatible object store.
	ProviderS3 Provider = "s3"
)

// IsValid returns true if the provider is known.
func (p Provider) IsValid() bool {
	return p == ProviderGitHub || p == ProviderGofile || p == ProviderS3
}

// Handle carries the provider-specific data required to delete a previously
// stored object. It is a tagged union; deletion logic switches exhaustively
// on the concrete type instead of probing optional fields.
type Handle interface {
	// HandleProvider returns the provider this handle belongs to.
	HandleProvider() Provider
	// Complete reports whether the handle carries every field needed for deletion.
	Complete() bool
}

// GitHubHandle identifies an object stored in the GitHub contents backend.
type GitHubHandle struct {
	// Path is the repository path the object was written to.
	Path string `json:"path"`
	// SHA is the blob SHA of the stored content, required for deletion.
	SHA string `json:"sha"`
}

// HandleProvider returns ProviderGitHub.
func (GitHubHandle) HandleProvider() Provider { return ProviderGitHub }

// Complete reports whether both path and SHA are present.
func (h GitHubHandle) Complete() bool { return h.Path != "" && h.SHA != "" }

// GofileHandle identifies an object stored in the Gofile backend.
type GofileHandle struct {
	// FileID is the Gofile content identifier.
	FileID string `json:"file_id"`
	// AdminCode is the credential allowing deletion of the upload.
	AdminCode string `json:"admin_code,omitempty"`
}

// HandleProvider returns ProviderGofile.
func (GofileHandle) HandleProvider() Provider { return ProviderGofile }

// Complete reports whether the file ID and delete credential are present.
func (h GofileHandle) Complete() bool { return h.FileID != "" && h.AdminCode != "" }

// S3Handle identifies an object stored in the S3 backend.
type S3Handle struct {
	// Key is the object key within the configured bucket.
	Key string `json:"key"`
}

// HandleProvider returns ProviderS3.
func (S3Handle) HandleProvider() Provider { return ProviderS3 }

// Complete reports whether the object key is present.
func (h S3Handle) Complete() bool { return h.Key != "" }

// PutResult is the outcome of a successful Put.
type PutResult struct {
	// URL is the public URL where the object can be fetched.
	URL string
	// Handle carries the fields needed to delete the object later.
	Handle Handle
}

// Backend defines the interface for a remote storage provider.
// Implementations must bound every network call with a timeout and never
// retry internally; fallback across backends is the orchestrator's job.
type Backend interface {
	// Name returns the provider identity of this backend.
	Name() Provider

	// Put uploads the file at localPath under the given name and returns
	// the public URL plus a deletion handle.
	Put(ctx context.Context, localPath, name string) (*PutResult, error)

	// Delete removes a previously stored object identified by the handle.
	// Returns ErrIncompleteHandle when the handle cannot identify the object.
	Delete(ctx context.Context, h Handle) error
}

// EncodeHandle serializes a handle to its catalog representation.
func EncodeHandle(h Handle) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("backend: encode handle: %w", err)
	}
	return data, nil
}

// DecodeHandle deserializes a catalog handle payload back into its typed form.
// Missing fields decode to zero values; completeness is checked at deletion time.
func DecodeHandle(p Provider, data []byte) (Handle, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	switch p {
	case ProviderGitHub:
		var h GitHubHandle
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("backend: decode github handle: %w", err)
		}
		return h, nil
	case ProviderGofile:
		var h GofileHandle
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("backend: decode gofile handle: %w", err)
		}
		return h, nil
	case ProviderS3:
		var h S3Handle
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("backend: decode s3 handle: %w", err)
		}
		return h, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
}
