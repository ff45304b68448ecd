package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clipvault/clipvault-api/internal/backend"
)

// Static errors for the Supabase catalog.
var (
	// ErrSupabaseURLRequired is returned when the project URL is not provided.
	ErrSupabaseURLRequired = errors.New("supabase: project URL is required")
	// ErrSupabaseKeyRequired is returned when the API key is not provided.
	ErrSupabaseKeyRequired = errors.New("supabase: API key is required")
	// ErrSupabaseRequestFailed is returned when the REST API rejects a request.
	ErrSupabaseRequestFailed = errors.New("supabase: request failed")
)

// Compile-time check that SupabaseCatalog implements Catalog.
var _ Catalog = (*SupabaseCatalog)(nil)

// SupabaseCatalog persists records in a Supabase "videos" table through the
// PostgREST interface.
type SupabaseCatalog struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// SupabaseOption is a function that configures a SupabaseCatalog.
type SupabaseOption func(*SupabaseCatalog)

// WithSupabaseHTTPClient sets a custom HTTP client.
func WithSupabaseHTTPClient(c *http.Client) SupabaseOption {
	return func(s *SupabaseCatalog) {
		s.httpClient = c
	}
}

// NewSupabaseCatalog creates a new Supabase-backed catalog.
func NewSupabaseCatalog(baseURL, apiKey string, opts ...SupabaseOption) (*SupabaseCatalog, error) {
	if baseURL == "" {
		return nil, ErrSupabaseURLRequired
	}
	if apiKey == "" {
		return nil, ErrSupabaseKeyRequired
	}

	s := &SupabaseCatalog{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// videoRow is the wire representation of a record in the videos table.
type videoRow struct {
	Token        string          `json:"token"`
	FileName     string          `json:"file_name"`
	Provider     string          `json:"provider"`
	ProviderMeta json.RawMessage `json:"provider_meta"`
	VideoURL     string          `json:"video_url"`
	SizeBytes    int64           `json:"size_bytes"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// toRow converts a Record to its wire representation.
func toRow(rec *Record) (*videoRow, error) {
	meta, err := backend.EncodeHandle(rec.Handle)
	if err != nil {
		return nil, err
	}
	return &videoRow{
		Token:        rec.Token,
		FileName:     rec.FileName,
		Provider:     string(rec.Provider),
		ProviderMeta: meta,
		VideoURL:     rec.VideoURL,
		SizeBytes:    rec.SizeBytes,
		ExpiresAt:    rec.ExpiresAt.UTC(),
	}, nil
}

// fromRow converts a wire row back to a Record, decoding the handle by
// its provider tag.
func fromRow(row *videoRow) (*Record, error) {
	provider := backend.Provider(row.Provider)
	handle, err := backend.DecodeHandle(provider, row.ProviderMeta)
	if err != nil {
		return nil, err
	}
	return &Record{
		Token:     row.Token,
		FileName:  row.FileName,
		Provider:  provider,
		Handle:    handle,
		VideoURL:  row.VideoURL,
		SizeBytes: row.SizeBytes,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// Insert persists a new record via POST /rest/v1/videos.
func (s *SupabaseCatalog) Insert(ctx context.Context, rec *Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("supabase: marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rest/v1/videos", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("supabase: create insert request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase: insert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: insert returned status %d", ErrSupabaseRequestFailed, resp.StatusCode)
	}
	return nil
}

// FindByToken retrieves a record by token via an eq filter.
func (s *SupabaseCatalog) FindByToken(ctx context.Context, token string) (*Record, error) {
	query := url.Values{}
	query.Set("token", "eq."+token)
	query.Set("limit", "1")

	rows, err := s.selectRows(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrRecordNotFound
	}
	return fromRow(&rows[0])
}

// FindExpiredBefore returns all records whose expiry is strictly before t.
func (s *SupabaseCatalog) FindExpiredBefore(ctx context.Context, t time.Time) ([]*Record, error) {
	query := url.Values{}
	query.Set("expires_at", "lt."+t.UTC().Format(time.RFC3339))

	rows, err := s.selectRows(ctx, query)
	if err != nil {
		return nil, err
	}
	result := make([]*Record, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// DeleteByToken removes the record for a token. PostgREST deletes are
// filters, so deleting an absent token is naturally a no-op success.
func (s *SupabaseCatalog) DeleteByToken(ctx context.Context, token string) error {
	query := url.Values{}
	query.Set("token", "eq."+token)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/rest/v1/videos?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("supabase: create delete request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase: delete: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: delete returned status %d", ErrSupabaseRequestFailed, resp.StatusCode)
	}
	return nil
}

// selectRows performs a filtered GET against the videos table.
func (s *SupabaseCatalog) selectRows(ctx context.Context, query url.Values) ([]videoRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/rest/v1/videos?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("supabase: create select request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase: select: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: select returned status %d", ErrSupabaseRequestFailed, resp.StatusCode)
	}

	var rows []videoRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("supabase: decode select response: %w", err)
	}
	return rows, nil
}

// setHeaders applies the PostgREST authentication headers.
func (s *SupabaseCatalog) setHeaders(req *http.Request) {
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
}
