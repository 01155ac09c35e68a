package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/logger"
)

// delayRecorder captures SetCrawlDelay calls.
type delayRecorder struct {
	host  string
	delay time.Duration
}

func (d *delayRecorder) SetCrawlDelay(host string, delay time.Duration) {
	d.host = host
	d.delay = delay
}

func newTestRobotsCache(t *testing.T, client *http.Client, delays CrawlDelaySink) *RobotsCache {
	t.Helper()

	cache, err := NewRobotsCache(client, "quarrybot-test", 10, delays, logger.NewNop())
	require.NoError(t, err)
	return cache
}

func TestAllowedHonorsDisallowRules(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer server.Close()

	cache := newTestRobotsCache(t, server.Client(), nil)
	ctx := context.Background()

	allowed, err := cache.Allowed(ctx, server.URL+"/public/page")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = cache.Allowed(ctx, server.URL+"/private/page")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllowedCachesRobotsPerHost(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
	}))
	defer server.Close()

	cache := newTestRobotsCache(t, server.Client(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := cache.Allowed(ctx, server.URL+"/page")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.Equal(t, 1, requests)
}

func TestAllowedTreatsMissingRobotsAsAllowAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cache := newTestRobotsCache(t, server.Client(), nil)

	allowed, err := cache.Allowed(context.Background(), server.URL+"/anything")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllowedBlocksHostAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cache := newTestRobotsCache(t, server.Client(), nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := base
	cache.SetNowFunc(func() time.Time { return now })

	// Below the threshold robots failures fail open.
	for i := 0; i < 2; i++ {
		allowed, err := cache.Allowed(ctx, server.URL+"/page")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	// The third failure blocks the host.
	allowed, err := cache.Allowed(ctx, server.URL+"/page")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = cache.Allowed(ctx, server.URL+"/other")
	require.NoError(t, err)
	assert.False(t, allowed)

	// The block lapses after its TTL.
	now = base.Add(time.Hour + time.Minute)
	allowed, err = cache.Allowed(ctx, server.URL+"/page")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllowedReportsCrawlDelay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nCrawl-delay: 7\n"))
	}))
	defer server.Close()

	delays := &delayRecorder{}
	cache := newTestRobotsCache(t, server.Client(), delays)

	_, err := cache.Allowed(context.Background(), server.URL+"/page")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", delays.host)
	assert.Equal(t, 7*time.Second, delays.delay)
}
