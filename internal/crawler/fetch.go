package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Fetch limits.
const (
	DefaultMaxBodyBytes = 10 << 20
	DefaultFetchTimeout = 10 * time.Second
)

// Fetch failure classes. The worker maps these onto its retry policy.
var (
	ErrNotHTML      = errors.New("content type is not HTML")
	ErrBodyTooLarge = errors.New("response body exceeds size cap")
)

// HTTPStatusError wraps a non-200 response so the worker can classify
// it by status code.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
}

// FetchResult is one successful page retrieval.
type FetchResult struct {
	Body         []byte
	StatusCode   int
	NotModified  bool
	ETag         string
	LastModified string
}

// ConditionalHeaders carries validators from the previous crawl of the
// same URL.
type ConditionalHeaders struct {
	ETag         string
	LastModified string
}

// Fetcher retrieves pages over HTTP with a per-request timeout, an
// HTML-only content-type check, and a hard body size cap.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

// NewFetcher creates a fetcher. maxBody <= 0 selects the default cap.
func NewFetcher(client *http.Client, userAgent string, maxBody int64) *Fetcher {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Fetcher{client: client, userAgent: userAgent, maxBody: maxBody}
}

// Fetch GETs rawURL. A 304 against the conditional headers returns
// NotModified with no body. Non-200 statuses return *HTTPStatusError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, cond ConditionalHeaders) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if cond.ETag != "" {
		req.Header.Set("If-None-Match", cond.ETag)
	}
	if cond.LastModified != "" {
		req.Header.Set("If-Modified-Since", cond.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{StatusCode: resp.StatusCode, NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTMLContentType(contentType) {
		return nil, fmt.Errorf("%w: %q", ErrNotHTML, contentType)
	}
	if resp.ContentLength > f.maxBody {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrBodyTooLarge, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.maxBody)
	}

	return &FetchResult{
		Body:         body,
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

func isHTMLContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType := strings.TrimSpace(strings.ToLower(strings.Split(contentType, ";")[0]))
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// RetryableStatus reports whether an HTTP status warrants a retry with
// priority decay. 429 and the transient 5xx family qualify.
func RetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
