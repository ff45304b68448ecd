// Package lifecycle provides the background reconciler that enforces the
// retention window: expired catalog rows are removed and their backing
// objects deleted from whichever backend holds them, best-effort.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/clipvault/clipvault-api/internal/backend"
	"github.com/clipvault/clipvault-api/internal/catalog"
)

// Reconciler runs a fixed-interval loop for the lifetime of the process.
// Every failure is isolated per record; nothing aborts a cycle or the loop.
type Reconciler struct {
	catalog  catalog.Catalog
	backends map[backend.Provider]backend.Backend
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// ReconcilerOption is a function that configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithNow sets the clock used for expiry queries. Used in tests.
func WithNow(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// NewReconciler creates a new Reconciler over the given backends.
func NewReconciler(
	cat catalog.Catalog,
	backends []backend.Backend,
	interval time.Duration,
	logger *slog.Logger,
	opts ...ReconcilerOption,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	byProvider := make(map[backend.Provider]backend.Backend, len(backends))
	for _, b := range backends {
		byProvider[b.Name()] = b
	}
	r := &Reconciler{
		catalog:  cat,
		backends: byProvider,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes reconcile cycles at the configured interval until the
// context is cancelled. Failures are reported only through logging; the
// loop itself never returns an error.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler started",
		slog.Duration("interval", r.interval),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconcile cycle: find expired records, attempt
// backend deletion for each, and unconditionally remove the catalog rows.
func (r *Reconciler) RunOnce(ctx context.Context) {
	expired, err := r.catalog.FindExpiredBefore(ctx, r.now())
	if err != nil {
		// Catalog unavailability skips the cycle, never crashes it.
		r.logger.Warn("expired record query failed, skipping cycle",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(expired) == 0 {
		return
	}

	var attempted, reclaimed int
	for _, rec := range expired {
		if r.reclaim(ctx, rec) {
			attempted++
		}
		reclaimed++
	}

	r.logger.Info("reconcile cycle complete",
		slog.Int("expired", len(expired)),
		slog.Int("backend_deletes_attempted", attempted),
		slog.Int("rows_reclaimed", reclaimed),
	)
}

// reclaim handles one expired record: best-effort backend delete followed
// by an unconditional catalog delete. Returns true if a backend delete was
// attempted. A panic in any step is contained to this record.
func (r *Reconciler) reclaim(ctx context.Context, rec *catalog.Record) (attempted bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic while reclaiming record",
				slog.String("token", rec.Token),
				slog.Any("panic", p),
			)
		}
	}()

	attempted = r.deleteFromBackend(ctx, rec)

	// The catalog row gates visibility, so it goes regardless of whether
	// the backend bytes could be deleted.
	if err := r.catalog.DeleteByToken(ctx, rec.Token); err != nil {
		r.logger.Warn("catalog delete failed, row retried next cycle",
			slog.String("token", rec.Token),
			slog.String("error", err.Error()),
		)
	}
	return attempted
}

// deleteFromBackend attempts to delete the record's remote object. Records
// with no matching backend or an incomplete handle are skipped; there is
// nothing actionable to delete.
func (r *Reconciler) deleteFromBackend(ctx context.Context, rec *catalog.Record) bool {
	b, ok := r.backends[rec.Provider]
	if !ok {
		r.logger.Warn("no backend configured for provider, skipping delete",
			slog.String("token", rec.Token),
			slog.String("provider", string(rec.Provider)),
		)
		return false
	}
	if rec.Handle == nil || !rec.Handle.Complete() {
		r.logger.Info("incomplete handle, skipping backend delete",
			slog.String("token", rec.Token),
			slog.String("provider", string(rec.Provider)),
		)
		return false
	}

	if err := b.Delete(ctx, rec.Handle); err != nil {
		r.logger.Warn("backend delete failed",
			slog.String("token", rec.Token),
			slog.String("provider", string(rec.Provider)),
			slog.String("error", err.Error()),
		)
	}
	return true
}
