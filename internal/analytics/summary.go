package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/domain"
)

// Summary windows.
const (
	Window24h = "24h"
	Window7d  = "7d"
)

// ErrUnknownWindow is returned for a window other than 24h or 7d.
var ErrUnknownWindow = fmt.Errorf("unknown summary window")

// shortContentWords is the word-count threshold below which a document
// counts as thin content.
const shortContentWords = 80

// Summary is the rolled-up quality report for one time window.
type Summary struct {
	Window               string  `json:"window"`
	Impressions          int     `json:"impressions"`
	ZeroHitRate          float64 `json:"zero_hit_rate"`
	ClickThroughRate     float64 `json:"click_through_rate"`
	AvgClickRank         float64 `json:"avg_click_rank"`
	LatencyP50Ms         int64   `json:"latency_p50_ms"`
	LatencyP95Ms         int64   `json:"latency_p95_ms"`
	IndexedCount         int     `json:"indexed_count"`
	PendingCount         int     `json:"pending_count"`
	CrawlSuccessRate     float64 `json:"crawl_success_rate"`
	ShortContentRate     float64 `json:"short_content_rate"`
	DuplicateContentRate float64 `json:"duplicate_content_rate"`
}

// Reporter computes quality summaries over the event and crawl tables.
type Reporter struct {
	db  *database.DB
	now func() time.Time
}

// NewReporter creates a summary reporter.
func NewReporter(db *database.DB) *Reporter {
	return &Reporter{db: db, now: time.Now}
}

// SetNowFunc overrides the clock.
func (r *Reporter) SetNowFunc(now func() time.Time) { r.now = now }

// QualitySummary computes the metrics block for the given window.
func (r *Reporter) QualitySummary(ctx context.Context, window string) (*Summary, error) {
	var span time.Duration
	switch window {
	case Window24h:
		span = 24 * time.Hour
	case Window7d:
		span = 7 * 24 * time.Hour
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownWindow, window)
	}

	cutoff := r.now().UTC().Add(-span)
	summary := &Summary{Window: window}

	if err := r.fillSearchMetrics(ctx, summary, cutoff); err != nil {
		return nil, err
	}
	if err := r.fillCrawlMetrics(ctx, summary); err != nil {
		return nil, err
	}

	return summary, nil
}

// fillSearchMetrics computes impression and click rollups since cutoff.
func (r *Reporter) fillSearchMetrics(ctx context.Context, s *Summary, cutoff time.Time) error {
	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(`
		SELECT result_count, latency_ms FROM search_events
		WHERE event_type = ? AND created_at >= ?
	`), domain.EventTypeImpression, cutoff)
	if err != nil {
		return fmt.Errorf("failed to load impressions: %w", err)
	}
	defer rows.Close()

	var latencies []int64
	zeroHits := 0
	for rows.Next() {
		var resultCount int
		var latencyMs int64
		if scanErr := rows.Scan(&resultCount, &latencyMs); scanErr != nil {
			return fmt.Errorf("failed to scan impression: %w", scanErr)
		}
		s.Impressions++
		if resultCount == 0 {
			zeroHits++
		}
		latencies = append(latencies, latencyMs)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return fmt.Errorf("failed to iterate impressions: %w", rowsErr)
	}

	var clickedRequests int
	err = r.db.GetContext(ctx, &clickedRequests, r.db.Rebind(`
		SELECT COUNT(DISTINCT c.request_id) FROM search_events c
		WHERE c.event_type = ? AND c.created_at >= ?
		  AND EXISTS (
			SELECT 1 FROM search_events i
			WHERE i.event_type = ? AND i.request_id = c.request_id AND i.created_at >= ?
		  )
	`), domain.EventTypeClick, cutoff, domain.EventTypeImpression, cutoff)
	if err != nil {
		return fmt.Errorf("failed to count clicked impressions: %w", err)
	}

	var avgRank sql.NullFloat64
	err = r.db.GetContext(ctx, &avgRank, r.db.Rebind(`
		SELECT AVG(clicked_rank) FROM search_events
		WHERE event_type = ? AND created_at >= ?
	`), domain.EventTypeClick, cutoff)
	if err != nil {
		return fmt.Errorf("failed to average click rank: %w", err)
	}

	if s.Impressions > 0 {
		s.ZeroHitRate = float64(zeroHits) / float64(s.Impressions)
		s.ClickThroughRate = float64(clickedRequests) / float64(s.Impressions)
	}
	if avgRank.Valid {
		s.AvgClickRank = avgRank.Float64
	}
	s.LatencyP50Ms = percentile(latencies, 0.50)
	s.LatencyP95Ms = percentile(latencies, 0.95)

	return nil
}

// fillCrawlMetrics computes index and crawl health counters. These are
// snapshots of current state, not windowed.
func (r *Reporter) fillCrawlMetrics(ctx context.Context, s *Summary) error {
	if err := r.db.GetContext(ctx, &s.IndexedCount,
		`SELECT COUNT(*) FROM documents`,
	); err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}

	if err := r.db.GetContext(ctx, &s.PendingCount, r.db.Rebind(
		`SELECT COUNT(*) FROM urls WHERE status = ?`,
	), domain.URLStatusPending); err != nil {
		return fmt.Errorf("failed to count pending urls: %w", err)
	}

	var done, failed int
	if err := r.db.GetContext(ctx, &done, r.db.Rebind(
		`SELECT COUNT(*) FROM urls WHERE status = ?`,
	), domain.URLStatusDone); err != nil {
		return fmt.Errorf("failed to count done urls: %w", err)
	}
	if err := r.db.GetContext(ctx, &failed, r.db.Rebind(
		`SELECT COUNT(*) FROM urls WHERE status = ?`,
	), domain.URLStatusFailed); err != nil {
		return fmt.Errorf("failed to count failed urls: %w", err)
	}
	if done+failed > 0 {
		s.CrawlSuccessRate = float64(done) / float64(done+failed)
	}

	if s.IndexedCount > 0 {
		var short int
		if err := r.db.GetContext(ctx, &short, r.db.Rebind(
			`SELECT COUNT(*) FROM documents WHERE word_count < ?`,
		), shortContentWords); err != nil {
			return fmt.Errorf("failed to count short documents: %w", err)
		}
		s.ShortContentRate = float64(short) / float64(s.IndexedCount)

		var distinctHashes int
		if err := r.db.GetContext(ctx, &distinctHashes,
			`SELECT COUNT(DISTINCT content_hash) FROM documents`,
		); err != nil {
			return fmt.Errorf("failed to count distinct content hashes: %w", err)
		}
		s.DuplicateContentRate = float64(s.IndexedCount-distinctHashes) / float64(s.IndexedCount)
	}

	return nil
}

// percentile returns the nearest-rank percentile of the samples, zero
// when empty.
func percentile(samples []int64, p float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
