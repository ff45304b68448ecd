package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/clipvault/clipvault-api/internal/catalog"
	"github.com/clipvault/clipvault-api/internal/upload"
	"github.com/clipvault/clipvault-api/internal/watch"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Uploader is the request-time upload pipeline the handlers drive.
type Uploader interface {
	Upload(ctx context.Context, sourceURL string) (*upload.Result, error)
}

// Resolver resolves a public token to its catalog record.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*catalog.Record, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	uploader  Uploader
	resolver  Resolver
	validator *validator.Validate
	logger    *slog.Logger
	watchTmpl *template.Template
	// publicBaseURL builds absolute watch links when configured.
	publicBaseURL string
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithPublicBaseURL sets the base URL used to build absolute watch links.
func WithPublicBaseURL(baseURL string) HandlerOption {
	return func(h *Handlers) {
		h.publicBaseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(uploader Uploader, resolver Resolver, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		uploader:  uploader,
		resolver:  resolver,
		validator: validator.New(),
		logger:    logger,
		watchTmpl: template.Must(template.ParseFS(templatesFS, "templates/watch.html")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Upload handles POST /upload requests.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "a valid url field is required", "VALIDATION_ERROR")
		return
	}

	// A started upload runs to completion even if the client disconnects.
	result, err := h.uploader.Upload(context.WithoutCancel(r.Context()), req.URL)
	if err != nil {
		h.writeUploadError(w, req.URL, err)
		return
	}

	resp := UploadResponse{
		Token:     result.Token,
		WatchPath: result.WatchPath,
		VideoURL:  result.VideoURL,
		SizeBytes: result.SizeBytes,
		ExpiresAt: result.ExpiresAt,
	}
	if h.publicBaseURL != "" {
		resp.WatchURL = h.publicBaseURL + result.WatchPath
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeUploadError maps pipeline errors onto HTTP status codes and stable
// error codes.
func (h *Handlers) writeUploadError(w http.ResponseWriter, sourceURL string, err error) {
	h.logger.Warn("upload failed",
		slog.String("url", sourceURL),
		slog.String("error", err.Error()),
	)

	switch {
	case errors.Is(err, upload.ErrHostNotAllowed):
		writeError(w, http.StatusBadRequest, "source host is not allowed", "HOST_NOT_ALLOWED")
	case errors.Is(err, upload.ErrDownloadFailed):
		writeError(w, http.StatusBadGateway, "could not download the source video", "DOWNLOAD_FAILED")
	case errors.Is(err, upload.ErrDownloadMissing):
		writeError(w, http.StatusBadGateway, "download produced no file", "DOWNLOAD_MISSING")
	case errors.Is(err, upload.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "video is too large, try a shorter one", "FILE_TOO_LARGE")
	case errors.Is(err, upload.ErrAllUploadsFailed):
		writeError(w, http.StatusBadGateway, "all storage backends failed", "ALL_UPLOAD_FAILED")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

// Watch handles GET /watch/{token} requests. Browsers get an HTML page;
// clients asking for JSON get the record rendering.
func (h *Handlers) Watch(w http.ResponseWriter, r *http.Request) {
	tok := r.PathValue("token")
	if tok == "" {
		writeError(w, http.StatusBadRequest, "token is required", "MISSING_TOKEN")
		return
	}

	rec, err := h.resolver.Resolve(r.Context(), tok)
	if err != nil {
		if errors.Is(err, watch.ErrNotFound) {
			h.writeNotFound(w, r)
			return
		}
		h.logger.Error("failed to resolve token",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, WatchResponse{
			Token:     rec.Token,
			FileName:  rec.FileName,
			VideoURL:  rec.VideoURL,
			Size:      humanSize(rec.SizeBytes),
			ExpiresAt: rec.ExpiresAt,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := watchPageData{
		FileName:  rec.FileName,
		VideoURL:  rec.VideoURL,
		Size:      humanSize(rec.SizeBytes),
		ExpiresAt: rec.ExpiresAt.Format("2006-01-02 15:04:05 MST"),
	}
	if err := h.watchTmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render watch page",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
	}
}

// writeNotFound renders a 404 in the format the client asked for.
func (h *Handlers) writeNotFound(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		writeError(w, http.StatusNotFound, "video not found or expired", "NOT_FOUND")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = fmt.Fprint(w, "<!doctype html><title>Not found</title><h1>Video not found or expired</h1>")
}

// watchPageData is the template context for the watch page.
type watchPageData struct {
	FileName  string
	VideoURL  string
	Size      string
	ExpiresAt string
}

// wantsJSON reports whether the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// humanSize formats a byte count for presentation.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
