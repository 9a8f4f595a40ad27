// Package contextdb is the HTTP client for the context-database service.
// It exposes the narrow mutation and query surface the sync engine and the
// memory manager depend on; request framing stays inside this package.
package contextdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// SearchResult is one ranked snippet returned by the remote search index.
type SearchResult struct {
	URI     string  `json:"uri"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// SearchOptions configures a search call.
type SearchOptions struct {
	Limit      int     `json:"limit"`
	MinScore   float64 `json:"min_score"`
	SessionKey string  `json:"session_key,omitempty"`
}

// SystemStatus is the remote service's self-reported state.
type SystemStatus struct {
	Version    string `json:"version"`
	QueueDepth int    `json:"queue_depth"`
	Indexing   bool   `json:"indexing"`
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Client talks to a context database over HTTP. Every call carries its own
// timeout through the underlying http.Client; there is no shared deadline.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for the service at cfg.BaseURL.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: cfg.Logger,
	}
}

// Exists reports whether a resource exists at uri. A missing path is not an
// error; transport and auth failures are.
func (c *Client) Exists(ctx context.Context, uri string) (bool, error) {
	err := c.post(ctx, "/api/v1/resource/stat", map[string]any{"uri": uri}, nil)
	if err == nil {
		return true, nil
	}
	if IsMissingPath(err) {
		return false, nil
	}
	return false, err
}

// Mkdir creates a directory node at uri. The caller is expected to treat an
// already-exists error as success when racing a concurrent creator.
func (c *Client) Mkdir(ctx context.Context, uri string) error {
	return c.post(ctx, "/api/v1/resource/mkdir", map[string]any{"uri": uri}, nil)
}

// Remove deletes the resource at uri, optionally recursively. A missing path
// surfaces as an error the caller can classify as a no-op.
func (c *Client) Remove(ctx context.Context, uri string, recursive bool) error {
	return c.post(ctx, "/api/v1/resource/remove", map[string]any{
		"uri":       uri,
		"recursive": recursive,
	}, nil)
}

// Move renames the resource at from to to.
func (c *Client) Move(ctx context.Context, from, to string) error {
	return c.post(ctx, "/api/v1/resource/move", map[string]any{
		"from": from,
		"to":   to,
	}, nil)
}

// Import uploads the local file's bytes under targetParentURI and returns the
// URI the import actually landed at. The remote derives its own leaf naming,
// so the landed URI may differ from what the caller wanted.
func (c *Client) Import(ctx context.Context, localPath, targetParentURI string) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read local file: %w", err)
	}

	var resp struct {
		URI string `json:"uri"`
	}
	err = c.post(ctx, "/api/v1/resource/import", map[string]any{
		"target_parent_uri": targetParentURI,
		"content":           string(content),
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.URI == "" {
		return "", fmt.Errorf("contextdb: import returned no landed uri")
	}
	return resp.URI, nil
}

// ReadContent returns the full content of the resource at uri.
func (c *Client) ReadContent(ctx context.Context, uri string) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	if err := c.post(ctx, "/api/v1/resource/content", map[string]any{"uri": uri}, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ReadOverview returns the summary tier for the resource at uri.
func (c *Client) ReadOverview(ctx context.Context, uri string) (string, error) {
	var resp struct {
		Overview string `json:"overview"`
	}
	if err := c.post(ctx, "/api/v1/resource/overview", map[string]any{"uri": uri}, &resp); err != nil {
		return "", err
	}
	return resp.Overview, nil
}

// Search queries the remote index and returns ranked snippets.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	var resp struct {
		Results []SearchResult `json:"results"`
	}
	err := c.post(ctx, "/api/v1/search", map[string]any{
		"query":       query,
		"limit":       opts.Limit,
		"min_score":   opts.MinScore,
		"session_key": opts.SessionKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// WaitForProcessing blocks until the remote processing queue drains or the
// timeout elapses.
func (c *Client) WaitForProcessing(ctx context.Context, timeout time.Duration) error {
	return c.post(ctx, "/api/v1/queue/wait", map[string]any{
		"timeout_seconds": int(timeout.Seconds()),
	}, nil)
}

// Health probes the service's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

// SystemStatus returns the service's self-reported status.
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var status SystemStatus
	if err := c.get(ctx, "/api/v1/system/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contextdb request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Str("path", req.URL.Path).
			Str("code", apiErr.Code).
			Msg("Remote call failed")
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
