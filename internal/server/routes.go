package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// APISecret is the shared secret required on upload requests.
	APISecret string
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Only the upload endpoint requires the shared secret.
	requireSecret := SecretMiddleware(cfg.APISecret, logger)

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("POST /upload", requireSecret(http.HandlerFunc(h.Upload)))
	mux.HandleFunc("GET /watch/{token}", h.Watch)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
