package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// Static errors for the Gofile backend.
var (
	// ErrGofileNoServer is returned when server discovery yields no upload server.
	ErrGofileNoServer = errors.New("gofile: no upload server available")
	// ErrGofileRequestFailed is returned when the Gofile API rejects a request.
	ErrGofileRequestFailed = errors.New("gofile: request failed")
)

// GofileBackend stores objects in Gofile via anonymous multipart upload.
// Uploads discover an upload server first; deletion needs the admin code
// returned at upload time (or the configured account token).
type GofileBackend struct {
	token      string
	apiBaseURL string
	uploadURL  string // overrides server discovery when set
	httpClient *http.Client
}

// GofileOption is a function that configures a GofileBackend.
type GofileOption func(*GofileBackend)

// WithGofileHTTPClient sets a custom HTTP client.
func WithGofileHTTPClient(c *http.Client) GofileOption {
	return func(b *GofileBackend) {
		b.httpClient = c
	}
}

// WithGofileAPIBaseURL sets a custom base URL for the Gofile API.
func WithGofileAPIBaseURL(url string) GofileOption {
	return func(b *GofileBackend) {
		b.apiBaseURL = url
	}
}

// WithGofileUploadURL sets a fixed upload URL, skipping server discovery.
func WithGofileUploadURL(url string) GofileOption {
	return func(b *GofileBackend) {
		b.uploadURL = url
	}
}

// NewGofileBackend creates a new Gofile backend. The account token is
// optional; anonymous uploads work without it but deletion then depends on
// the per-upload admin code.
func NewGofileBackend(token string, opts ...GofileOption) *GofileBackend {
	b := &GofileBackend{
		token:      token,
		apiBaseURL: "https://api.gofile.io",
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns ProviderGofile.
func (b *GofileBackend) Name() Provider { return ProviderGofile }

// gofileResponse is the envelope every Gofile API response uses.
type gofileResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// serversData is the payload of the server discovery response.
type serversData struct {
	Servers []struct {
		Name string `json:"name"`
	} `json:"servers"`
}

// uploadData is the payload of the upload response.
type uploadData struct {
	DownloadPage string `json:"downloadPage"`
	FileID       string `json:"fileId"`
	AdminCode    string `json:"adminCode"`
}

// Put uploads the file at localPath as an anonymous multipart upload and
// returns the download page URL plus a deletion handle.
func (b *GofileBackend) Put(ctx context.Context, localPath, name string) (*PutResult, error) {
	uploadURL := b.uploadURL
	if uploadURL == "" {
		server, err := b.discoverServer(ctx)
		if err != nil {
			return nil, err
		}
		uploadURL = fmt.Sprintf("https://%s.gofile.io/contents/uploadfile", server)
	}

	f, err := os.Open(localPath) // #nosec G304 - path is produced by the pipeline
	if err != nil {
		return nil, fmt.Errorf("gofile: open local file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("gofile: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("gofile: copy file into form: %w", err)
	}
	if b.token != "" {
		if err := writer.WriteField("token", b.token); err != nil {
			return nil, fmt.Errorf("gofile: write token field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gofile: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return nil, fmt.Errorf("gofile: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gofile: upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: upload returned status %d", ErrGofileRequestFailed, resp.StatusCode)
	}

	var upload uploadData
	if err := decodeGofile(resp.Body, &upload); err != nil {
		return nil, err
	}

	return &PutResult{
		URL: upload.DownloadPage,
		Handle: GofileHandle{
			FileID:    upload.FileID,
			AdminCode: upload.AdminCode,
		},
	}, nil
}

// Delete removes a previously uploaded file by content ID, authorized by
// the upload's admin code or the configured account token.
func (b *GofileBackend) Delete(ctx context.Context, h Handle) error {
	gf, ok := h.(GofileHandle)
	if !ok {
		return ErrHandleMismatch
	}
	credential := gf.AdminCode
	if credential == "" {
		credential = b.token
	}
	if gf.FileID == "" || credential == "" {
		return ErrIncompleteHandle
	}

	reqBody, err := json.Marshal(map[string]string{"contentsId": gf.FileID})
	if err != nil {
		return fmt.Errorf("gofile: marshal delete request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.apiBaseURL+"/contents", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("gofile: create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gofile: delete: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// An already-deleted content ID is a no-op success.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: delete returned status %d", ErrGofileRequestFailed, resp.StatusCode)
	}

	return nil
}

// discoverServer asks the API which upload server to use and returns the
// first one offered.
func (b *GofileBackend) discoverServer(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiBaseURL+"/servers", nil)
	if err != nil {
		return "", fmt.Errorf("gofile: create servers request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gofile: discover server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: servers returned status %d", ErrGofileRequestFailed, resp.StatusCode)
	}

	var servers serversData
	if err := decodeGofile(resp.Body, &servers); err != nil {
		return "", err
	}
	if len(servers.Servers) == 0 {
		return "", ErrGofileNoServer
	}
	return servers.Servers[0].Name, nil
}

// decodeGofile unwraps the Gofile response envelope into dst, rejecting
// non-ok statuses.
func decodeGofile(r io.Reader, dst any) error {
	var envelope gofileResponse
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return fmt.Errorf("gofile: decode response: %w", err)
	}
	if envelope.Status != "ok" {
		return fmt.Errorf("%w: status %q", ErrGofileRequestFailed, envelope.Status)
	}
	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		return fmt.Errorf("gofile: decode response data: %w", err)
	}
	return nil
}
