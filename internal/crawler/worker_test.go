package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/domain"
	"github.com/quarrysearch/quarry/internal/logger"
	"github.com/quarrysearch/quarry/internal/urlstore"
)

// fakeGate records completion outcomes per host.
type fakeGate struct {
	starts    []string
	completes []bool
}

func (g *fakeGate) GetReady(context.Context, int) ([]URLItem, error) { return nil, nil }
func (g *fakeGate) RecordStart(host string)                          { g.starts = append(g.starts, host) }
func (g *fakeGate) RecordComplete(_ string, success bool) {
	g.completes = append(g.completes, success)
}

// fakeSubmitter accepts or rejects every page.
type fakeSubmitter struct {
	err       error
	submitted []string
}

func (s *fakeSubmitter) SubmitPage(_ context.Context, url, _, _ string, _ []string) (*SubmitResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.submitted = append(s.submitted, url)
	return &SubmitResponse{JobID: "job-1", Queued: true}, nil
}

type workerFixture struct {
	worker    *Worker
	urls      *urlstore.Store
	history   *urlstore.HistoryStore
	gate      *fakeGate
	submitter *fakeSubmitter
}

func newWorkerFixture(t *testing.T, client *http.Client, submitter *fakeSubmitter) *workerFixture {
	t.Helper()

	db, err := database.Open(database.Config{URL: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	urls := urlstore.New(db, 7*24*time.Hour)
	history := urlstore.NewHistoryStore(urls)
	gate := &fakeGate{}

	robots := newTestRobotsCache(t, client, nil)
	fetcher := NewFetcher(client, "quarrybot-test", 0)
	metrics := NewMetrics(prometheus.NewRegistry())

	worker := NewWorker(urls, history, gate, robots, fetcher, submitter, metrics, logger.NewNop(), Config{})

	return &workerFixture{
		worker:    worker,
		urls:      urls,
		history:   history,
		gate:      gate,
		submitter: submitter,
	}
}

// claim adds the URL and moves it to crawling, as the scheduler would.
func (f *workerFixture) claim(t *testing.T, rawURL string, priority float64) URLItem {
	t.Helper()
	ctx := context.Background()

	_, err := f.urls.Add(ctx, urlstore.AddRequest{URL: rawURL, Priority: priority})
	require.NoError(t, err)

	claimed, err := f.urls.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func (f *workerFixture) status(t *testing.T, rawURL string) string {
	t.Helper()

	attempts, err := f.history.Recent(context.Background(), rawURL, 1)
	require.NoError(t, err)
	require.NotEmpty(t, attempts)
	return attempts[0].Status
}

func TestProcessURLHappyPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Page</title></head>
			<body>hello <a href="/next">next</a></body></html>`))
	}))
	defer server.Close()

	submitter := &fakeSubmitter{}
	f := newWorkerFixture(t, server.Client(), submitter)
	ctx := context.Background()

	pageURL := server.URL + "/page"
	item := f.claim(t, pageURL, 50)

	f.worker.processURL(ctx, item, urlstore.HostOf(pageURL))

	assert.Equal(t, []string{pageURL}, submitter.submitted)
	assert.Equal(t, []bool{true}, f.gate.completes)
	assert.Equal(t, domain.URLStatusDone, f.status(t, pageURL))

	// The discovered link entered the store as pending.
	pending, err := f.urls.Peek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, server.URL+"/next", pending[0].URL)
	assert.Greater(t, pending[0].Priority, 0.0)
}

func TestProcessURLRobotsDisallow(t *testing.T) {
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		fetches++
		w.Header().Set("Content-Type", "text/html")
	}))
	defer server.Close()

	submitter := &fakeSubmitter{}
	f := newWorkerFixture(t, server.Client(), submitter)
	ctx := context.Background()

	pageURL := server.URL + "/page"
	item := f.claim(t, pageURL, 50)

	f.worker.processURL(ctx, item, urlstore.HostOf(pageURL))

	assert.Zero(t, fetches)
	assert.Empty(t, submitter.submitted)
	// Robots denial is not a host fault.
	assert.Equal(t, []bool{true}, f.gate.completes)

	attempts, err := f.history.Recent(ctx, pageURL, 1)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.URLStatusFailed, attempts[0].Status)
	require.NotNil(t, attempts[0].Error)
	assert.Equal(t, "blocked by robots.txt", *attempts[0].Error)
}

func TestProcessURLRetriesThenDeadLetters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	submitter := &fakeSubmitter{}
	f := newWorkerFixture(t, server.Client(), submitter)
	ctx := context.Background()

	pageURL := server.URL + "/flaky"
	host := urlstore.HostOf(pageURL)

	item := f.claim(t, pageURL, 50)

	// First two attempts release the URL for retry at decayed priority.
	for attempt := 1; attempt <= 2; attempt++ {
		f.worker.processURL(ctx, item, host)
		assert.Equal(t, domain.AttemptStatusRetry, f.status(t, pageURL))

		pending, err := f.urls.Peek(ctx, 1)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.InDelta(t, 50-float64(attempt)*priorityDecay, pending[0].Priority, 1e-9)

		item = f.claim(t, pageURL, pending[0].Priority)
	}

	// The third attempt dead-letters.
	f.worker.processURL(ctx, item, host)

	attempts, err := f.history.Recent(ctx, pageURL, 1)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptStatusDeadLetter, attempts[0].Status)
	require.NotNil(t, attempts[0].Error)
	assert.Contains(t, *attempts[0].Error, "max retries exceeded")

	stats, err := f.urls.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []bool{false, false, false}, f.gate.completes)
}

func TestProcessURLPermanentHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	submitter := &fakeSubmitter{}
	f := newWorkerFixture(t, server.Client(), submitter)
	ctx := context.Background()

	pageURL := server.URL + "/gone"
	item := f.claim(t, pageURL, 50)

	f.worker.processURL(ctx, item, urlstore.HostOf(pageURL))

	// 404 is permanent: no retry row, URL failed immediately.
	assert.Equal(t, domain.URLStatusFailed, f.status(t, pageURL))
	stats, err := f.urls.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []bool{false}, f.gate.completes)
}

func TestProcessURLSubmitFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>fine</body></html>"))
	}))
	defer server.Close()

	submitter := &fakeSubmitter{err: errors.New("indexer down")}
	f := newWorkerFixture(t, server.Client(), submitter)
	ctx := context.Background()

	pageURL := server.URL + "/page"
	item := f.claim(t, pageURL, 50)

	f.worker.processURL(ctx, item, urlstore.HostOf(pageURL))

	assert.Equal(t, domain.AttemptStatusRetry, f.status(t, pageURL))

	attempts, err := f.history.Recent(ctx, pageURL, 1)
	require.NoError(t, err)
	require.NotNil(t, attempts[0].Error)
	assert.Contains(t, *attempts[0].Error, "indexer submit failed")
}

func TestProcessURLNotModifiedSkipsSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	submitter := &fakeSubmitter{}
	f := newWorkerFixture(t, server.Client(), submitter)
	ctx := context.Background()

	pageURL := server.URL + "/page"
	item := f.claim(t, pageURL, 50)
	etag := `"v1"`
	item.ETag = &etag

	f.worker.processURL(ctx, item, urlstore.HostOf(pageURL))

	assert.Empty(t, submitter.submitted)
	assert.Equal(t, domain.URLStatusDone, f.status(t, pageURL))
	assert.Equal(t, []bool{true}, f.gate.completes)
}
