package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SubmitResponse is the indexer's acknowledgement of a page submission.
type SubmitResponse struct {
	JobID        string `json:"job_id"`
	Queued       bool   `json:"queued"`
	Deduplicated bool   `json:"deduplicated"`
}

// IndexerClient submits crawled pages to the indexer service.
type IndexerClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewIndexerClient creates a client for the indexer at baseURL.
func NewIndexerClient(client *http.Client, baseURL, apiKey string) *IndexerClient {
	return &IndexerClient{client: client, baseURL: baseURL, apiKey: apiKey}
}

type submitRequest struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Outlinks []string `json:"outlinks,omitempty"`
}

// SubmitPage posts one page for indexing.
func (c *IndexerClient) SubmitPage(ctx context.Context, url, title, content string, outlinks []string) (*SubmitResponse, error) {
	payload, err := json.Marshal(submitRequest{
		URL:      url,
		Title:    title,
		Content:  content,
		Outlinks: outlinks,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/indexer/page", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to submit page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("indexer returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result SubmitResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&result); decodeErr != nil {
		return nil, fmt.Errorf("failed to decode submit response: %w", decodeErr)
	}

	return &result, nil
}
