package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"
)

// Static errors for the GitHub backend.
var (
	// ErrGitHubTokenRequired is returned when the API token is not provided.
	ErrGitHubTokenRequired = errors.New("github: token is required")
	// ErrGitHubRepoRequired is returned when owner or repository is not provided.
	ErrGitHubRepoRequired = errors.New("github: owner and repository are required")
	// ErrGitHubRequestFailed is returned when the contents API rejects a request.
	ErrGitHubRequestFailed = errors.New("github: request failed")
)

// GitHubConfig holds the configuration for the GitHub contents backend.
type GitHubConfig struct {
	Token      string
	Owner      string
	Repo       string
	Branch     string
	UploadPath string
}

// GitHubBackend stores objects as files in a Git repository via the
// contents API. Writes are create-or-update: an existing file at the same
// path is updated by passing its current blob SHA.
type GitHubBackend struct {
	token      string
	owner      string
	repo       string
	branch     string
	uploadPath string
	apiBaseURL string
	rawBaseURL string
	httpClient *http.Client
}

// GitHubOption is a function that configures a GitHubBackend.
type GitHubOption func(*GitHubBackend)

// WithGitHubHTTPClient sets a custom HTTP client.
func WithGitHubHTTPClient(c *http.Client) GitHubOption {
	return func(b *GitHubBackend) {
		b.httpClient = c
	}
}

// WithGitHubAPIBaseURL sets a custom base URL for the contents API.
func WithGitHubAPIBaseURL(url string) GitHubOption {
	return func(b *GitHubBackend) {
		b.apiBaseURL = url
	}
}

// WithGitHubRawBaseURL sets a custom base URL for raw content links.
func WithGitHubRawBaseURL(url string) GitHubOption {
	return func(b *GitHubBackend) {
		b.rawBaseURL = url
	}
}

// NewGitHubBackend creates a new GitHub contents backend.
func NewGitHubBackend(cfg GitHubConfig, opts ...GitHubOption) (*GitHubBackend, error) {
	if cfg.Token == "" {
		return nil, ErrGitHubTokenRequired
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, ErrGitHubRepoRequired
	}

	b := &GitHubBackend{
		token:      cfg.Token,
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		branch:     cfg.Branch,
		uploadPath: cfg.UploadPath,
		apiBaseURL: "https://api.github.com",
		rawBaseURL: "https://raw.githubusercontent.com",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	if b.branch == "" {
		b.branch = "main"
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Name returns ProviderGitHub.
func (b *GitHubBackend) Name() Provider { return ProviderGitHub }

// contentsResponse is the subset of the contents API response we read.
type contentsResponse struct {
	SHA     string `json:"sha"`
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// putRequest is the contents API create-or-update request body.
type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

// deleteRequest is the contents API delete request body.
type deleteRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

// Put uploads the file at localPath to the repository under the configured
// upload path. If a file already exists at the target path, it is updated
// in place by passing its current SHA.
func (b *GitHubBackend) Put(ctx context.Context, localPath, name string) (*PutResult, error) {
	data, err := os.ReadFile(localPath) // #nosec G304 - path is produced by the pipeline
	if err != nil {
		return nil, fmt.Errorf("github: read local file: %w", err)
	}

	repoPath := path.Join(b.uploadPath, name)
	contentsURL := fmt.Sprintf("%s/repos/%s/%s/contents/%s", b.apiBaseURL, b.owner, b.repo, repoPath)

	// The contents API requires the current blob SHA to overwrite a path.
	existingSHA, err := b.lookupSHA(ctx, contentsURL)
	if err != nil {
		return nil, err
	}

	reqBody := putRequest{
		Message: fmt.Sprintf("upload %s", name),
		Content: base64.StdEncoding.EncodeToString(data),
		Branch:  b.branch,
		SHA:     existingSHA,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("github: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, contentsURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("github: create request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: put contents: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: put returned status %d: %s", ErrGitHubRequestFailed, resp.StatusCode, readErrorBody(resp.Body))
	}

	var putResp contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&putResp); err != nil {
		return nil, fmt.Errorf("github: decode put response: %w", err)
	}

	return &PutResult{
		URL: fmt.Sprintf("%s/%s/%s/%s/%s", b.rawBaseURL, b.owner, b.repo, b.branch, repoPath),
		Handle: GitHubHandle{
			Path: repoPath,
			SHA:  putResp.Content.SHA,
		},
	}, nil
}

// Delete removes a previously stored object by path and blob SHA.
func (b *GitHubBackend) Delete(ctx context.Context, h Handle) error {
	gh, ok := h.(GitHubHandle)
	if !ok {
		return ErrHandleMismatch
	}
	if !gh.Complete() {
		return ErrIncompleteHandle
	}

	reqBody := deleteRequest{
		Message: fmt.Sprintf("expire %s", path.Base(gh.Path)),
		SHA:     gh.SHA,
		Branch:  b.branch,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("github: marshal delete request: %w", err)
	}

	contentsURL := fmt.Sprintf("%s/repos/%s/%s/contents/%s", b.apiBaseURL, b.owner, b.repo, gh.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, contentsURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("github: create delete request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github: delete contents: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// An already-deleted path is a no-op success.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: delete returned status %d: %s", ErrGitHubRequestFailed, resp.StatusCode, readErrorBody(resp.Body))
	}

	return nil
}

// lookupSHA returns the blob SHA of an existing file at the contents URL,
// or an empty string if no file exists there yet.
func (b *GitHubBackend) lookupSHA(ctx context.Context, contentsURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentsURL+"?ref="+b.branch, nil)
	if err != nil {
		return "", fmt.Errorf("github: create lookup request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("github: lookup contents: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: lookup returned status %d", ErrGitHubRequestFailed, resp.StatusCode)
	}

	var lookup contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&lookup); err != nil {
		return "", fmt.Errorf("github: decode lookup response: %w", err)
	}
	return lookup.SHA, nil
}

// setHeaders applies authentication and API versioning headers.
func (b *GitHubBackend) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
}

// readErrorBody reads a bounded amount of an error response body for messages.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}
