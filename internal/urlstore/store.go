// Package urlstore implements the URL lifecycle store shared by the
// crawler services: pending -> crawling -> done/failed, with re-crawl
// scheduling and crash recovery.
package urlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/domain"
)

// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid URL: must be absolute http or https")

// urlSelectColumns lists columns for SELECT queries on urls.
const urlSelectColumns = `url_hash, url, domain, status, priority, source_url,
	crawl_count, etag, last_modified, created_at, last_crawled_at`

// Store handles database operations for the URL lifecycle.
type Store struct {
	db               *database.DB
	recrawlThreshold time.Duration
	now              func() time.Time
}

// New creates a URL store. recrawlThreshold is the minimum elapsed time
// before a done/failed URL may be re-queued.
func New(db *database.DB, recrawlThreshold time.Duration) *Store {
	return &Store{
		db:               db,
		recrawlThreshold: recrawlThreshold,
		now:              time.Now,
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.now = now
}

// AddRequest describes one URL to add to the store.
type AddRequest struct {
	URL       string
	Priority  float64
	SourceURL string
}

// Add inserts a fresh URL as pending, or restores a done/failed URL whose
// last crawl is older than the recrawl threshold. Re-adding a pending or
// crawling URL is a no-op. Returns whether the URL was added or restored.
func (s *Store) Add(ctx context.Context, req AddRequest) (bool, error) {
	added, err := s.AddBatch(ctx, []AddRequest{req})
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

// AddBatch applies Add semantics to every request in one transaction and
// returns the count truly added or restored. A database error rolls back
// the whole batch.
func (s *Store) AddBatch(ctx context.Context, reqs []AddRequest) (int, error) {
	if len(reqs) == 0 {
		return 0, nil
	}

	for _, req := range reqs {
		if !ValidURL(req.URL) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidURL, req.URL)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin add transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	added := 0
	for _, req := range reqs {
		ok, addErr := s.addOne(ctx, tx, req)
		if addErr != nil {
			return 0, addErr
		}
		if ok {
			added++
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return 0, fmt.Errorf("failed to commit add transaction: %w", commitErr)
	}

	return added, nil
}

// addOne applies Add semantics for a single URL within a transaction.
func (s *Store) addOne(ctx context.Context, tx *sqlx.Tx, req AddRequest) (bool, error) {
	hash := domain.URLHash(req.URL)
	now := s.now().UTC()

	var existing struct {
		Status        string     `db:"status"`
		LastCrawledAt *time.Time `db:"last_crawled_at"`
	}

	query := tx.Rebind(`SELECT status, last_crawled_at FROM urls WHERE url_hash = ?`)
	err := tx.GetContext(ctx, &existing, query, hash)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.insertPending(ctx, tx, hash, req, now)
	case err != nil:
		return false, fmt.Errorf("failed to look up URL: %w", err)
	}

	if existing.Status == domain.URLStatusPending || existing.Status == domain.URLStatusCrawling {
		return false, nil
	}

	// done/failed: restore only past the recrawl threshold.
	if existing.LastCrawledAt != nil && now.Sub(*existing.LastCrawledAt) < s.recrawlThreshold {
		return false, nil
	}

	restore := tx.Rebind(`
		UPDATE urls
		SET status = ?, priority = ?, source_url = ?
		WHERE url_hash = ?
	`)
	if _, updateErr := tx.ExecContext(ctx, restore,
		domain.URLStatusPending, req.Priority, nullable(req.SourceURL), hash,
	); updateErr != nil {
		return false, fmt.Errorf("failed to restore URL: %w", updateErr)
	}

	return true, nil
}

// insertPending inserts a fresh pending row. A concurrent insert of the
// same URL is treated as a no-op.
func (s *Store) insertPending(
	ctx context.Context,
	tx *sqlx.Tx,
	hash string,
	req AddRequest,
	now time.Time,
) (bool, error) {
	query := tx.Rebind(`
		INSERT INTO urls (url_hash, url, domain, status, priority, source_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := tx.ExecContext(ctx, query,
		hash, req.URL, HostOf(req.URL), domain.URLStatusPending,
		req.Priority, nullable(req.SourceURL), now,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert URL: %w", err)
	}

	return true, nil
}

// ClaimBatch selects up to n pending rows with the highest priority (ties
// broken by ascending created_at), flips them to crawling, and returns them.
// No row is returned to two concurrent callers: PostgreSQL relies on
// FOR UPDATE SKIP LOCKED, SQLite on its single-writer connection.
func (s *Store) ClaimBatch(ctx context.Context, n int) ([]domain.URLRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	selectQuery := `
		SELECT ` + urlSelectColumns + `
		FROM urls
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`
	if s.db.SupportsSkipLocked() {
		selectQuery += "\n\t\tFOR UPDATE SKIP LOCKED"
	}

	var records []domain.URLRecord
	if selectErr := tx.SelectContext(ctx, &records,
		tx.Rebind(selectQuery), domain.URLStatusPending, n,
	); selectErr != nil {
		return nil, fmt.Errorf("failed to select claimable URLs: %w", selectErr)
	}

	if len(records) == 0 {
		return nil, tx.Commit()
	}

	hashes := make([]string, len(records))
	for i := range records {
		hashes[i] = records[i].URLHash
	}

	updateQuery, args, inErr := sqlx.In(
		`UPDATE urls SET status = ? WHERE url_hash IN (?)`,
		domain.URLStatusCrawling, hashes,
	)
	if inErr != nil {
		return nil, fmt.Errorf("failed to build claim update: %w", inErr)
	}

	if _, updateErr := tx.ExecContext(ctx, tx.Rebind(updateQuery), args...); updateErr != nil {
		return nil, fmt.Errorf("failed to update claimed URLs: %w", updateErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", commitErr)
	}

	for i := range records {
		records[i].Status = domain.URLStatusCrawling
	}

	return records, nil
}

// RecordParams carries optional fields captured on a crawl attempt.
type RecordParams struct {
	ETag         *string
	LastModified *string
}

// Record sets a URL's terminal status, stamps last_crawled_at, and bumps
// crawl_count. An unknown URL is inserted directly in its terminal state.
func (s *Store) Record(ctx context.Context, rawURL, status string, params RecordParams) error {
	if status != domain.URLStatusDone && status != domain.URLStatusFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}

	now := s.now().UTC()
	query := s.db.Rebind(`
		INSERT INTO urls (url_hash, url, domain, status, priority, crawl_count,
			etag, last_modified, created_at, last_crawled_at)
		VALUES (?, ?, ?, ?, 0, 1, ?, ?, ?, ?)
		ON CONFLICT (url_hash) DO UPDATE SET
			status = excluded.status,
			crawl_count = urls.crawl_count + 1,
			etag = COALESCE(excluded.etag, urls.etag),
			last_modified = COALESCE(excluded.last_modified, urls.last_modified),
			last_crawled_at = excluded.last_crawled_at
	`)

	_, err := s.db.ExecContext(ctx, query,
		domain.URLHash(rawURL), rawURL, HostOf(rawURL), status,
		params.ETag, params.LastModified, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record crawl result: %w", err)
	}

	return nil
}

// ReleaseForRetry puts a claimed URL back to pending at a new priority.
// Used by the crawl worker for retryable fetch failures.
func (s *Store) ReleaseForRetry(ctx context.Context, rawURL string, priority float64) error {
	query := s.db.Rebind(`UPDATE urls SET status = ?, priority = ? WHERE url_hash = ?`)

	if _, err := s.db.ExecContext(ctx, query,
		domain.URLStatusPending, priority, domain.URLHash(rawURL),
	); err != nil {
		return fmt.Errorf("failed to release URL for retry: %w", err)
	}

	return nil
}

// RecoverStaleCrawling resets every crawling row back to pending. Run at
// worker startup; the crawl worker is the only process that flips rows
// into crawling, so anything still there is leftover from a crash.
func (s *Store) RecoverStaleCrawling(ctx context.Context) (int64, error) {
	query := s.db.Rebind(`UPDATE urls SET status = ? WHERE status = ?`)

	result, err := s.db.ExecContext(ctx, query, domain.URLStatusPending, domain.URLStatusCrawling)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale crawling URLs: %w", err)
	}

	count, raErr := result.RowsAffected()
	if raErr != nil {
		return 0, fmt.Errorf("failed to count recovered URLs: %w", raErr)
	}

	return count, nil
}

// IsRecentlyCrawled reports whether the URL was crawled within the
// recrawl threshold.
func (s *Store) IsRecentlyCrawled(ctx context.Context, rawURL string) (bool, error) {
	query := s.db.Rebind(`SELECT last_crawled_at FROM urls WHERE url_hash = ?`)

	var lastCrawledAt sql.NullTime
	err := s.db.GetContext(ctx, &lastCrawledAt, query, domain.URLHash(rawURL))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check recent crawl: %w", err)
	}

	if !lastCrawledAt.Valid {
		return false, nil
	}

	return s.now().UTC().Sub(lastCrawledAt.Time) < s.recrawlThreshold, nil
}

// Stats contains aggregate counts by URL lifecycle status.
type Stats struct {
	Pending  int `json:"pending"`
	Crawling int `json:"crawling"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
}

// Total returns the number of URL records across all statuses.
func (st Stats) Total() int {
	return st.Pending + st.Crawling + st.Done + st.Failed
}

// Stats returns aggregate counts of URLs grouped by status.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM urls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query URL stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan URL stats row: %w", scanErr)
		}

		switch status {
		case domain.URLStatusPending:
			stats.Pending = count
		case domain.URLStatusCrawling:
			stats.Crawling = count
		case domain.URLStatusDone:
			stats.Done = count
		case domain.URLStatusFailed:
			stats.Failed = count
		}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate URL stats: %w", rowsErr)
	}

	return stats, nil
}

// Peek returns the top-n pending URLs in claim order without claiming them.
func (s *Store) Peek(ctx context.Context, n int) ([]domain.URLRecord, error) {
	query := s.db.Rebind(`
		SELECT ` + urlSelectColumns + `
		FROM urls
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`)

	var records []domain.URLRecord
	if err := s.db.SelectContext(ctx, &records, query, domain.URLStatusPending, n); err != nil {
		return nil, fmt.Errorf("failed to peek pending URLs: %w", err)
	}

	return records, nil
}

// DomainCount is the number of URL records under one domain.
type DomainCount struct {
	Domain string `db:"domain" json:"domain"`
	Count  int    `db:"count"  json:"count"`
}

// DomainCounts returns the most-represented domains in the store.
func (s *Store) DomainCounts(ctx context.Context, limit int) ([]DomainCount, error) {
	query := s.db.Rebind(`
		SELECT domain, COUNT(*) AS count
		FROM urls
		GROUP BY domain
		ORDER BY count DESC
		LIMIT ?
	`)

	var counts []DomainCount
	if err := s.db.SelectContext(ctx, &counts, query, limit); err != nil {
		return nil, fmt.Errorf("failed to count domains: %w", err)
	}

	return counts, nil
}

// DomainVisits returns the number of completed crawls under one domain.
// Feeds the domain decay factor in outlink scoring.
func (s *Store) DomainVisits(ctx context.Context, host string) (int, error) {
	query := s.db.Rebind(`SELECT COUNT(*) FROM urls WHERE domain = ? AND status = ?`)

	var count int
	if err := s.db.GetContext(ctx, &count, query, host, domain.URLStatusDone); err != nil {
		return 0, fmt.Errorf("failed to count domain visits: %w", err)
	}

	return count, nil
}

// ValidURL reports whether raw is an absolute http or https URL.
func ValidURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// HostOf returns the lowercased host part of a URL, or "" if unparseable.
func HostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// nullable converts "" to a NULL-able pointer.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
