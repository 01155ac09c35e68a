package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/domain"
)

type eventSeed struct {
	eventType   string
	requestID   string
	resultCount int
	clickedRank int
	latencyMs   int64
	age         time.Duration
}

func seedEvents(t *testing.T, db *database.DB, now time.Time, seeds []eventSeed) {
	t.Helper()

	insert := db.Rebind(`
		INSERT INTO search_events (event_type, query, query_norm, request_id,
			result_count, clicked_rank, latency_ms, created_at)
		VALUES (?, 'q', 'q', ?, ?, ?, ?, ?)
	`)
	for _, seed := range seeds {
		_, err := db.ExecContext(context.Background(), insert,
			seed.eventType, seed.requestID, seed.resultCount,
			seed.clickedRank, seed.latencyMs, now.Add(-seed.age))
		require.NoError(t, err)
	}
}

func seedDocument(t *testing.T, db *database.DB, url, contentHash string, wordCount int) {
	t.Helper()

	_, err := db.ExecContext(context.Background(), db.Rebind(`
		INSERT INTO documents (url, title, content, content_hash, word_count, indexed_at)
		VALUES (?, '', '', ?, ?, CURRENT_TIMESTAMP)
	`), url, contentHash, wordCount)
	require.NoError(t, err)
}

func seedURL(t *testing.T, db *database.DB, url, status string) {
	t.Helper()

	_, err := db.ExecContext(context.Background(), db.Rebind(`
		INSERT INTO urls (url_hash, url, domain, status, priority, created_at)
		VALUES (?, ?, 'x.test', ?, 0, CURRENT_TIMESTAMP)
	`), url, url, status)
	require.NoError(t, err)
}

func TestQualitySummarySearchMetrics(t *testing.T) {
	db := newTestDB(t)
	reporter := NewReporter(db)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	reporter.SetNowFunc(func() time.Time { return now })

	seedEvents(t, db, now, []eventSeed{
		{eventType: domain.EventTypeImpression, requestID: "r1", resultCount: 5, latencyMs: 10, age: time.Hour},
		{eventType: domain.EventTypeImpression, requestID: "r2", resultCount: 0, latencyMs: 30, age: time.Hour},
		{eventType: domain.EventTypeImpression, requestID: "r3", resultCount: 2, latencyMs: 20, age: 2 * time.Hour},
		{eventType: domain.EventTypeImpression, requestID: "r4", resultCount: 9, latencyMs: 100, age: 3 * time.Hour},
		{eventType: domain.EventTypeClick, requestID: "r1", clickedRank: 1, age: time.Hour},
		{eventType: domain.EventTypeClick, requestID: "r1", clickedRank: 3, age: time.Hour},
		{eventType: domain.EventTypeClick, requestID: "r3", clickedRank: 2, age: 2 * time.Hour},
		// Outside the 24h window; never counted.
		{eventType: domain.EventTypeImpression, requestID: "old", resultCount: 0, latencyMs: 500, age: 48 * time.Hour},
	})

	summary, err := reporter.QualitySummary(context.Background(), Window24h)
	require.NoError(t, err)

	assert.Equal(t, Window24h, summary.Window)
	assert.Equal(t, 4, summary.Impressions)
	assert.InDelta(t, 0.25, summary.ZeroHitRate, 1e-9)
	// Two of four requests got a click; repeat clicks on r1 count once.
	assert.InDelta(t, 0.5, summary.ClickThroughRate, 1e-9)
	assert.InDelta(t, 2.0, summary.AvgClickRank, 1e-9)
	assert.Equal(t, int64(20), summary.LatencyP50Ms)
	assert.Equal(t, int64(100), summary.LatencyP95Ms)
}

func TestQualitySummaryWindow7d(t *testing.T) {
	db := newTestDB(t)
	reporter := NewReporter(db)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	reporter.SetNowFunc(func() time.Time { return now })

	seedEvents(t, db, now, []eventSeed{
		{eventType: domain.EventTypeImpression, requestID: "r1", resultCount: 1, latencyMs: 10, age: 48 * time.Hour},
	})

	day, err := reporter.QualitySummary(context.Background(), Window24h)
	require.NoError(t, err)
	assert.Zero(t, day.Impressions)

	week, err := reporter.QualitySummary(context.Background(), Window7d)
	require.NoError(t, err)
	assert.Equal(t, 1, week.Impressions)
}

func TestQualitySummaryCrawlMetrics(t *testing.T) {
	db := newTestDB(t)
	reporter := NewReporter(db)

	seedDocument(t, db, "https://a.test/", "hash-1", 500)
	seedDocument(t, db, "https://b.test/", "hash-1", 40)
	seedDocument(t, db, "https://c.test/", "hash-2", 300)
	seedDocument(t, db, "https://d.test/", "hash-3", 10)

	seedURL(t, db, "https://a.test/", domain.URLStatusDone)
	seedURL(t, db, "https://b.test/", domain.URLStatusDone)
	seedURL(t, db, "https://c.test/", domain.URLStatusDone)
	seedURL(t, db, "https://x.test/", domain.URLStatusFailed)
	seedURL(t, db, "https://y.test/", domain.URLStatusPending)

	summary, err := reporter.QualitySummary(context.Background(), Window24h)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.IndexedCount)
	assert.Equal(t, 1, summary.PendingCount)
	assert.InDelta(t, 0.75, summary.CrawlSuccessRate, 1e-9)
	// Two of four documents sit under the short-content threshold.
	assert.InDelta(t, 0.5, summary.ShortContentRate, 1e-9)
	// Four documents over three distinct hashes.
	assert.InDelta(t, 0.25, summary.DuplicateContentRate, 1e-9)
}

func TestQualitySummaryUnknownWindow(t *testing.T) {
	db := newTestDB(t)
	reporter := NewReporter(db)

	_, err := reporter.QualitySummary(context.Background(), "1h")
	assert.ErrorIs(t, err, ErrUnknownWindow)
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, int64(0), percentile(nil, 0.5))
	assert.Equal(t, int64(7), percentile([]int64{7}, 0.95))

	samples := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, int64(50), percentile(samples, 0.50))
	assert.Equal(t, int64(100), percentile(samples, 0.95))
}
