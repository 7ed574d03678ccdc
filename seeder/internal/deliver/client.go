// CLAUDE:SUMMARY HTTP client for the downstream knowledge store: health, document ingest, stats.
// CLAUDE:EXPORTS Client, Config, HTTPError, RejectedError, IngestResult, Health
//
// Package deliver sends extracted documents to the knowledge store's REST API.
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config configures the client.
type Config struct {
	BaseURL   string        // default http://localhost:8000
	Timeout   time.Duration // per request, default 120s
	UserAgent string
	Client    *http.Client
}

// Client talks to the knowledge store.
type Client struct {
	base   string
	ua     string
	client *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "KnowledgeSeeder/0.1.0"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{base: strings.TrimRight(cfg.BaseURL, "/"), ua: cfg.UserAgent, client: client}
}

// BaseURL returns the store endpoint.
func (c *Client) BaseURL() string { return c.base }

// HTTPError is a non-2xx response. Its status drives retry classification.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("deliver: %s %s: http %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

// RejectedError is a 2xx response refusing the document. Never retried.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return "deliver: document rejected: " + e.Message }

// Transient always reports false.
func (e *RejectedError) Transient() bool { return false }

// Health is the store's health report.
type Health struct {
	Status       string
	TotalContent int
}

// Healthy reports whether the store accepts documents.
func (h *Health) Healthy() bool {
	return h.Status == "healthy" || h.Status == "ok"
}

// Health calls GET /api/v1/health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var body struct {
		Status string `json:"status"`
		Stats  struct {
			TotalContent int `json:"total_content"`
		} `json:"stats"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &body); err != nil {
		return nil, err
	}
	return &Health{Status: body.Status, TotalContent: body.Stats.TotalContent}, nil
}

// Stats calls GET /api/v1/stats and returns the raw statistics object.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IngestResult is the persisted outcome of a delivery.
type IngestResult struct {
	DocumentID string
	ChunkCount int
	Duplicate  bool
	Message    string
}

type ingestResponse struct {
	ExternalDocumentID string `json:"external_document_id"`
	ChunkCount         *int   `json:"chunk_count"`

	Success       *bool  `json:"success"`
	ContentID     string `json:"content_id"`
	ChunksCreated int    `json:"chunks_created"`
	Message       string `json:"message"`
	Error         string `json:"error"`
}

// Ingest calls POST /api/v1/ingest/document. Both the
// {external_document_id, chunk_count} and {success, content_id,
// chunks_created, message} response shapes are accepted; a "duplicate"
// refusal counts as delivered.
func (c *Client) Ingest(ctx context.Context, p Payload) (*IngestResult, error) {
	var resp ingestResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/ingest/document", p, &resp); err != nil {
		return nil, err
	}

	res := &IngestResult{DocumentID: resp.ExternalDocumentID, Message: resp.Message}
	if resp.ChunkCount != nil {
		res.ChunkCount = *resp.ChunkCount
	} else {
		res.ChunkCount = resp.ChunksCreated
	}
	if res.DocumentID == "" {
		res.DocumentID = resp.ContentID
	}

	duplicate := strings.Contains(strings.ToLower(resp.Message+" "+resp.Error), "duplicate")
	if resp.Success != nil && !*resp.Success {
		if !duplicate {
			msg := resp.Error
			if msg == "" {
				msg = resp.Message
			}
			return nil, &RejectedError{Message: msg}
		}
		res.Duplicate = true
	}
	if res.DocumentID == "" && !res.Duplicate {
		return nil, &RejectedError{Message: "response carries no document id"}
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("deliver: marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}

	url := c.base + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RejectedError{Message: fmt.Sprintf("decode %s response: %v", path, err)}
	}
	return nil
}
