// Package httpext calls a remote extraction engine over HTTP. The engine
// receives one document reference per request and answers with structured
// fields.
package httpext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

// Config holds connection settings for the extraction engine.
type Config struct {
	// BaseURL is the engine root, e.g. "http://extractor:9000".
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Timeout bounds each request when the caller context carries no
	// earlier deadline (default 30s).
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client implements pipeline.Extractor against a remote engine.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{cfg: cfg, client: client}
}

type extractRequest struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

type extractResponse struct {
	Title       string            `json:"title"`
	EffectiveAt *time.Time        `json:"effective_at,omitempty"`
	Codes       []string          `json:"codes,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Extract posts the unit's source URL to the engine and decodes the
// structured document. Engine overload and server faults come back as
// transient errors so the queue can retry them; client-side rejections are
// permanent.
func (c *Client) Extract(ctx context.Context, unit pipeline.WorkUnit) (pipeline.ExtractedDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(extractRequest{URL: unit.Key, Label: unit.Label})
	if err != nil {
		return pipeline.ExtractedDocument{}, pipeline.Permanent(fmt.Errorf("encode extract request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return pipeline.ExtractedDocument{}, pipeline.Permanent(fmt.Errorf("build extract request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return pipeline.ExtractedDocument{}, pipeline.Transient(fmt.Errorf("call extraction engine: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return pipeline.ExtractedDocument{}, pipeline.Transient(fmt.Errorf("extraction engine returned %d", resp.StatusCode))
	default:
		io.Copy(io.Discard, resp.Body)
		return pipeline.ExtractedDocument{}, pipeline.Permanent(fmt.Errorf("extraction engine returned %d", resp.StatusCode))
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return pipeline.ExtractedDocument{}, pipeline.Permanent(fmt.Errorf("decode extract response: %w", err))
	}
	return pipeline.ExtractedDocument{
		Key:         unit.Key,
		SourceURL:   unit.Key,
		Title:       out.Title,
		EffectiveAt: out.EffectiveAt,
		Codes:       out.Codes,
		Fields:      out.Fields,
	}, nil
}
