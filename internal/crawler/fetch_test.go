package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReturnsBodyAndValidators(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "quarrybot-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		_, _ = w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "quarrybot-test", 0)
	result, err := fetcher.Fetch(context.Background(), server.URL, ConditionalHeaders{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.False(t, result.NotModified)
	assert.Contains(t, string(result.Body), "hi")
	assert.Equal(t, `"v1"`, result.ETag)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", result.LastModified)
}

func TestFetchSendsConditionalHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "quarrybot-test", 0)
	result, err := fetcher.Fetch(context.Background(), server.URL,
		ConditionalHeaders{ETag: `"v1"`, LastModified: "Mon, 02 Jan 2006 15:04:05 GMT"})
	require.NoError(t, err)

	assert.True(t, result.NotModified)
	assert.Empty(t, result.Body)
}

func TestFetchRejectsNonHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"not": "html"}`))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "quarrybot-test", 0)
	_, err := fetcher.Fetch(context.Background(), server.URL, ConditionalHeaders{})
	assert.ErrorIs(t, err, ErrNotHTML)
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>" + strings.Repeat("x", 4096) + "</html>"))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "quarrybot-test", 1024)
	_, err := fetcher.Fetch(context.Background(), server.URL, ConditionalHeaders{})
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestFetchNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "quarrybot-test", 0)
	_, err := fetcher.Fetch(context.Background(), server.URL, ConditionalHeaders{})

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, RetryableStatus(http.StatusTooManyRequests))
	assert.True(t, RetryableStatus(http.StatusInternalServerError))
	assert.True(t, RetryableStatus(http.StatusBadGateway))
	assert.True(t, RetryableStatus(http.StatusServiceUnavailable))
	assert.True(t, RetryableStatus(http.StatusGatewayTimeout))

	assert.False(t, RetryableStatus(http.StatusNotFound))
	assert.False(t, RetryableStatus(http.StatusForbidden))
	assert.False(t, RetryableStatus(http.StatusOK))
}
