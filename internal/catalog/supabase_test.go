package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault-api/internal/backend"
)

func TestNewSupabaseCatalog_Validation(t *testing.T) {
	_, err := NewSupabaseCatalog("", "key")
	assert.ErrorIs(t, err, ErrSupabaseURLRequired)

	_, err = NewSupabaseCatalog("https://proj.supabase.co", "")
	assert.ErrorIs(t, err, ErrSupabaseKeyRequired)
}

func TestSupabaseCatalog_Insert(t *testing.T) {
	var gotRow videoRow
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/videos", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRow))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cat, err := NewSupabaseCatalog(srv.URL, "secret-key")
	require.NoError(t, err)

	expiresAt := time.Date(2026, 8, 29, 13, 0, 0, 0, time.UTC)
	err = cat.Insert(context.Background(), &Record{
		Token:     "abc123",
		FileName:  "v.mp4",
		Provider:  backend.ProviderGitHub,
		Handle:    backend.GitHubHandle{Path: "cdn/v.mp4", SHA: "s1"},
		VideoURL:  "https://raw.example.com/cdn/v.mp4",
		SizeBytes: 5_000_000,
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)

	assert.Equal(t, "abc123", gotRow.Token)
	assert.Equal(t, "github", gotRow.Provider)
	assert.Equal(t, expiresAt, gotRow.ExpiresAt)
	assert.JSONEq(t, `{"path":"cdn/v.mp4","sha":"s1"}`, string(gotRow.ProviderMeta))
}

func TestSupabaseCatalog_FindByToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.abc123", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`[{
			"token": "abc123",
			"file_name": "v.mp4",
			"provider": "gofile",
			"provider_meta": {"file_id": "f1", "admin_code": "a1"},
			"video_url": "https://gofile.example/d/f1",
			"size_bytes": 123,
			"expires_at": "2026-08-29T13:00:00Z"
		}]`))
	}))
	defer srv.Close()

	cat, err := NewSupabaseCatalog(srv.URL, "secret-key")
	require.NoError(t, err)

	rec, err := cat.FindByToken(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, backend.ProviderGofile, rec.Provider)
	assert.Equal(t, backend.GofileHandle{FileID: "f1", AdminCode: "a1"}, rec.Handle)
	assert.Equal(t, "https://gofile.example/d/f1", rec.VideoURL)
}

func TestSupabaseCatalog_FindByToken_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cat, err := NewSupabaseCatalog(srv.URL, "secret-key")
	require.NoError(t, err)

	_, err = cat.FindByToken(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSupabaseCatalog_FindExpiredBefore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lt.2026-08-29T12:00:00Z", r.URL.Query().Get("expires_at"))
		_, _ = w.Write([]byte(`[{
			"token": "old",
			"file_name": "old.mp4",
			"provider": "github",
			"provider_meta": {"path": "cdn/old.mp4"},
			"video_url": "https://raw.example.com/cdn/old.mp4",
			"size_bytes": 1,
			"expires_at": "2026-08-29T11:00:00Z"
		}]`))
	}))
	defer srv.Close()

	cat, err := NewSupabaseCatalog(srv.URL, "secret-key")
	require.NoError(t, err)

	recs, err := cat.FindExpiredBefore(context.Background(), time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	// Missing handle fields decode to zero values, flagged at deletion time.
	gh, ok := recs[0].Handle.(backend.GitHubHandle)
	require.True(t, ok)
	assert.False(t, gh.Complete())
}

func TestSupabaseCatalog_DeleteByToken(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "eq.abc123", r.URL.Query().Get("token"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cat, err := NewSupabaseCatalog(srv.URL, "secret-key")
	require.NoError(t, err)

	require.NoError(t, cat.DeleteByToken(context.Background(), "abc123"))
	assert.True(t, called)
}

func TestSupabaseCatalog_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cat, err := NewSupabaseCatalog(srv.URL, "secret-key")
	require.NoError(t, err)

	assert.ErrorIs(t, cat.Insert(context.Background(), &Record{
		Token:    "x",
		Provider: backend.ProviderGofile,
		Handle:   backend.GofileHandle{FileID: "f"},
	}), ErrSupabaseRequestFailed)

	_, err = cat.FindByToken(context.Background(), "x")
	assert.ErrorIs(t, err, ErrSupabaseRequestFailed)

	assert.ErrorIs(t, cat.DeleteByToken(context.Background(), "x"), ErrSupabaseRequestFailed)
}
