// Package server provides the HTTP server for the ClipVault API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// UploadRequest is the HTTP request body for publishing a video.
type UploadRequest struct {
	// URL is the source media URL to fetch.
	URL string `json:"url" validate:"required,url"`
}

// UploadResponse is the HTTP response after a successful upload.
type UploadResponse struct {
	// Token is the public identifier for the published video.
	Token string `json:"token"`
	// WatchPath is the service-relative watch link.
	WatchPath string `json:"watch_path"`
	// WatchURL is the absolute watch link when a public base URL is configured.
	WatchURL string `json:"watch_url,omitempty"`
	// VideoURL is the direct URL of the stored asset.
	VideoURL string `json:"video_url"`
	// SizeBytes is the stored asset size.
	SizeBytes int64 `json:"size_bytes"`
	// ExpiresAt is when the video stops being served.
	ExpiresAt time.Time `json:"expires_at"`
}

// WatchResponse is the JSON rendering of a published video.
type WatchResponse struct {
	// Token is the public identifier for the video.
	Token string `json:"token"`
	// FileName is the name the asset was stored under.
	FileName string `json:"file_name"`
	// VideoURL is the direct URL of the stored asset.
	VideoURL string `json:"video_url"`
	// Size is the human-readable asset size.
	Size string `json:"size"`
	// ExpiresAt is when the video stops being served.
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
