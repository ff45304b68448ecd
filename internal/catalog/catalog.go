// Package catalog provides the record store mapping public tokens to asset
// location and expiry. It defines the Catalog interface (port) and
// implementations backed by memory, Supabase REST, and Postgres.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/clipvault/clipvault-api/internal/backend"
)

// ErrRecordNotFound is returned when no record exists for a token.
var ErrRecordNotFound = errors.New("catalog: record not found")

// Record is the durable unit of truth for a published video. Exactly one
// record exists per token; it is never updated in place after creation.
type Record struct {
	// Token is the opaque public identifier bound 1:1 to this record.
	Token string
	// FileName is the name the asset was stored under.
	FileName string
	// Provider identifies the backend holding the bytes.
	Provider backend.Provider
	// Handle carries the provider-specific fields needed to delete the asset.
	Handle backend.Handle
	// VideoURL is the public URL of the stored asset.
	VideoURL string
	// SizeBytes is the stored asset size.
	SizeBytes int64
	// ExpiresAt is the absolute UTC timestamp after which the record and
	// asset must be reclaimed. Immutable once set.
	ExpiresAt time.Time
}

// Expired reports whether the record's retention window has passed at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Catalog defines the interface for record persistence.
// DeleteByToken must be idempotent: deleting an absent row is a no-op
// success. Implementations backed by remote stores must convert
// unavailability into errors the caller can log and skip, never panic.
type Catalog interface {
	// Insert persists a new record.
	Insert(ctx context.Context, rec *Record) error

	// FindByToken retrieves a record by its token.
	// Returns ErrRecordNotFound if no record exists.
	FindByToken(ctx context.Context, token string) (*Record, error)

	// FindExpiredBefore returns all records whose expiry is strictly before t.
	FindExpiredBefore(ctx context.Context, t time.Time) ([]*Record, error)

	// DeleteByToken removes the record for a token, if present.
	DeleteByToken(ctx context.Context, token string) error
}
