// Package bootstrap provides dependency initialization for the ClipVault API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clipvault/clipvault-api/internal/backend"
	"github.com/clipvault/clipvault-api/internal/catalog"
	"github.com/clipvault/clipvault-api/internal/config"
	"github.com/clipvault/clipvault-api/internal/fetch"
	"github.com/clipvault/clipvault-api/internal/lifecycle"
	"github.com/clipvault/clipvault-api/internal/media"
	"github.com/clipvault/clipvault-api/internal/upload"
	"github.com/clipvault/clipvault-api/internal/watch"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	UploadService *upload.Service
	Resolver      *watch.Resolver
	Reconciler    *lifecycle.Reconciler

	// closeCatalog releases catalog resources on shutdown, if any.
	closeCatalog func() error
}

// Close releases resources held by the dependency graph.
func (d *Dependencies) Close() error {
	if d.closeCatalog != nil {
		return d.closeCatalog()
	}
	return nil
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	backends, err := initBackends(cfg, logger)
	if err != nil {
		return nil, err
	}

	cat, closeCatalog, err := initCatalog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.NewYtDlpFetcher()
	transcoder := media.NewFFmpegTranscoder()

	svc := upload.NewService(
		fetcher,
		transcoder,
		backends,
		cat,
		logger,
		upload.Params{
			TempDir:          cfg.TempDir,
			MaxFileSizeBytes: cfg.MaxFileSizeBytes,
			MaxDuration:      cfg.MaxDuration(),
			Retention:        cfg.Retention(),
			Profile: media.TargetProfile{
				MaxHeight:    cfg.TranscodeTargetHeight,
				VideoBitrate: cfg.TranscodeVideoBitrate,
				AudioBitrate: cfg.TranscodeAudioBitrate,
			},
			AllowedHosts: cfg.AllowedSourceHosts,
		},
		upload.WithProber(transcoder),
	)

	resolver := watch.NewResolver(cat, logger)
	reconciler := lifecycle.NewReconciler(cat, backends, cfg.ReconcileInterval(), logger)

	return &Dependencies{
		UploadService: svc,
		Resolver:      resolver,
		Reconciler:    reconciler,
		closeCatalog:  closeCatalog,
	}, nil
}

// initBackends assembles the ranked backend chain: GitHub first when
// configured, then Gofile, then S3 when configured.
func initBackends(cfg *config.Config, logger *slog.Logger) ([]backend.Backend, error) {
	var backends []backend.Backend

	if cfg.GitHubEnabled() {
		gh, err := backend.NewGitHubBackend(backend.GitHubConfig{
			Token:      cfg.GitHubToken,
			Owner:      cfg.GitHubOwner,
			Repo:       cfg.GitHubRepo,
			Branch:     cfg.GitHubBranch,
			UploadPath: cfg.GitHubUploadPath,
		})
		if err != nil {
			return nil, fmt.Errorf("create GitHub backend: %w", err)
		}
		backends = append(backends, gh)
		logger.Info("GitHub backend configured",
			slog.String("owner", cfg.GitHubOwner),
			slog.String("repo", cfg.GitHubRepo),
			slog.String("branch", cfg.GitHubBranch),
		)
	}

	// Gofile accepts anonymous uploads, so it is always in the chain.
	backends = append(backends, backend.NewGofileBackend(cfg.GofileToken))
	logger.Info("Gofile backend configured",
		slog.Bool("account_token", cfg.GofileToken != ""),
	)

	if cfg.S3Enabled() {
		s3b, err := backend.NewS3Backend(backend.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 backend: %w", err)
		}
		backends = append(backends, s3b)
		logger.Info("S3 backend configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
	}

	return backends, nil
}

// initCatalog selects the catalog implementation: Postgres when a DSN is
// set, then Supabase, then in-memory.
func initCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (catalog.Catalog, func() error, error) {
	if cfg.DatabaseDSN != "" {
		pg, err := catalog.NewPostgresCatalog(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("create Postgres catalog: %w", err)
		}
		logger.Info("Postgres catalog configured")
		return pg, pg.Close, nil
	}

	if cfg.SupabaseEnabled() {
		sb, err := catalog.NewSupabaseCatalog(cfg.SupabaseURL, cfg.SupabaseAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("create Supabase catalog: %w", err)
		}
		logger.Info("Supabase catalog configured",
			slog.String("url", cfg.SupabaseURL),
		)
		return sb, nil, nil
	}

	logger.Warn("no durable catalog configured, using in-memory catalog")
	return catalog.NewMemoryCatalog(), nil, nil
}
