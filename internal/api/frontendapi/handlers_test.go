package frontendapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/analytics"
	"github.com/quarrysearch/quarry/internal/analyzer"
	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/logger"
	"github.com/quarrysearch/quarry/internal/search"
)

type frontendFixture struct {
	router   *gin.Engine
	db       *database.DB
	recorder *analytics.Recorder
}

func newFrontendFixture(t *testing.T, crawlerURL string) *frontendFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{URL: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	an, err := analyzer.New()
	require.NoError(t, err)

	engine := search.NewEngine(db, an, search.DefaultParams(), nil)
	recorder := analytics.NewRecorder(db, logger.NewNop())
	reporter := analytics.NewReporter(db)

	handler := NewHandler(engine, recorder, reporter,
		&http.Client{Timeout: time.Second}, crawlerURL, "test-salt", logger.NewNop())
	router := NewRouter(handler, prometheus.NewRegistry(), logger.NewNop())

	return &frontendFixture{router: router, db: db, recorder: recorder}
}

func (f *frontendFixture) indexDoc(t *testing.T, url, title, content string) {
	t.Helper()

	an, err := analyzer.New()
	require.NoError(t, err)
	writer := index.NewWriter(f.db, an)
	require.NoError(t, writer.IndexDocument(context.Background(), url, title, content))
}

func TestSearchEndpoint(t *testing.T) {
	f := newFrontendFixture(t, "")
	f.indexDoc(t, "https://a.test/", "Python Guide", "python guide text")

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=python", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Query     string       `json:"query"`
		Total     int          `json:"total"`
		Hits      []search.Hit `json:"hits"`
		RequestID string       `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "python", body.Query)
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Hits, 1)
	assert.Equal(t, "https://a.test/", body.Hits[0].URL)
	assert.NotEmpty(t, body.RequestID)

	// The impression landed in the recorder buffer.
	assert.Equal(t, 1, f.recorder.Pending())
}

func TestSearchEndpointRequiresQuery(t *testing.T) {
	f := newFrontendFixture(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_QUERY")
}

func TestSearchEndpointSemanticUnavailable(t *testing.T) {
	f := newFrontendFixture(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=x&mode=semantic", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MODE_UNAVAILABLE")
}

func postClick(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/search/click", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestClickEndpoint(t *testing.T) {
	f := newFrontendFixture(t, "")

	rec := postClick(t, f.router, gin.H{
		"request_id": "req-1",
		"query":      "python",
		"url":        "https://a.test/",
		"rank":       2,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.recorder.Pending())
}

func TestClickEndpointValidation(t *testing.T) {
	f := newFrontendFixture(t, "")

	rec := postClick(t, f.router, gin.H{"request_id": "r", "query": "q"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")

	rec = postClick(t, f.router, gin.H{
		"request_id": "r", "query": "q", "url": "not-a-url", "rank": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_URL")

	rec = postClick(t, f.router, gin.H{
		"request_id": "r", "query": "q", "url": "https://a.test/", "rank": 1001,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_RANK")
}

func TestQualitySummaryEndpoint(t *testing.T) {
	f := newFrontendFixture(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/quality/summary", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var summary analytics.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, analytics.Window24h, summary.Window)

	req = httptest.NewRequest(http.MethodGet, "/api/quality/summary?window=1h", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_WINDOW")
}

func TestPredictProxiesToCrawler(t *testing.T) {
	crawler := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/score/predict", r.URL.Path)

		var body struct {
			URL         string  `json:"url"`
			ParentScore float64 `json:"parent_score"`
			Visits      int     `json:"visits"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://a.test/list", body.URL)
		assert.InDelta(t, 80.0, body.ParentScore, 1e-9)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score": 42.5}`))
	}))
	defer crawler.Close()

	f := newFrontendFixture(t, crawler.URL)

	req := httptest.NewRequest(http.MethodGet,
		"/api/predict?url=https://a.test/list&parent_score=80&visits=3", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "42.5")
}

func TestPredictCrawlerUnreachable(t *testing.T) {
	f := newFrontendFixture(t, "http://127.0.0.1:1")

	req := httptest.NewRequest(http.MethodGet, "/api/predict?url=https://a.test/", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "CRAWLER_UNAVAILABLE")
}
