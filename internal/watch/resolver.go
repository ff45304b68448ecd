// Package watch provides token resolution for published videos.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clipvault/clipvault-api/internal/catalog"
)

// ErrNotFound is returned when no live video exists for a token.
var ErrNotFound = errors.New("watch: video not found")

// Resolver looks up catalog records by token. Expired records resolve to
// not-found and are opportunistically deleted, so expiry is self-healing
// for looked-up tokens even when the reconciler is delayed.
type Resolver struct {
	catalog catalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// ResolverOption is a function that configures a Resolver.
type ResolverOption func(*Resolver)

// WithNow sets the clock used for expiry checks. Used in tests.
func WithNow(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a new Resolver.
func NewResolver(cat catalog.Catalog, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		catalog: cat,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the live catalog record for a token, or ErrNotFound.
// An expired record triggers a fire-and-forget catalog delete; the remote
// bytes are left for the reconciler.
func (r *Resolver) Resolve(ctx context.Context, token string) (*catalog.Record, error) {
	rec, err := r.catalog.FindByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, catalog.ErrRecordNotFound) {
			// Catalog unavailability is a skip, not a crash.
			r.logger.Warn("catalog lookup failed",
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
		}
		return nil, ErrNotFound
	}

	if rec.Expired(r.now()) {
		// Use a detached context so the cleanup outlives the request.
		go func(ctx context.Context, token string) {
			if err := r.catalog.DeleteByToken(ctx, token); err != nil {
				r.logger.Warn("opportunistic delete of expired record failed",
					slog.String("token", token),
					slog.String("error", err.Error()),
				)
			}
		}(context.WithoutCancel(ctx), token)

		r.logger.Info("expired record looked up, scheduling removal",
			slog.String("token", token),
			slog.Time("expired_at", rec.ExpiresAt),
		)
		return nil, ErrNotFound
	}

	return rec, nil
}
