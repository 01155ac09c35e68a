package urlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/quarrysearch/quarry/internal/domain"
)

// HistoryStore appends and reads the crawl attempt log. Rows are
// append-only; dead-letter entries land here too.
type HistoryStore struct {
	urls *Store
	now  func() time.Time
}

// NewHistoryStore creates a history store sharing the URL store's connection.
func NewHistoryStore(urls *Store) *HistoryStore {
	return &HistoryStore{urls: urls, now: time.Now}
}

// AppendParams describes one crawl attempt to log.
type AppendParams struct {
	URL        string
	Status     string
	HTTPStatus *int
	Error      string
	DurationMs int64
}

// Append writes one attempt row.
func (h *HistoryStore) Append(ctx context.Context, params AppendParams) error {
	query := h.urls.db.Rebind(`
		INSERT INTO crawl_history (url, status, http_status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	_, err := h.urls.db.ExecContext(ctx, query,
		params.URL, params.Status, params.HTTPStatus,
		nullable(params.Error), params.DurationMs, h.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append crawl history: %w", err)
	}

	return nil
}

// Recent returns the latest attempts, optionally filtered to one URL.
func (h *HistoryStore) Recent(ctx context.Context, rawURL string, limit int) ([]domain.CrawlAttempt, error) {
	var (
		query string
		args  []any
	)

	if rawURL != "" {
		query = `
			SELECT id, url, status, http_status, error, duration_ms, created_at
			FROM crawl_history
			WHERE url = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?`
		args = []any{rawURL, limit}
	} else {
		query = `
			SELECT id, url, status, http_status, error, duration_ms, created_at
			FROM crawl_history
			ORDER BY created_at DESC, id DESC
			LIMIT ?`
		args = []any{limit}
	}

	var attempts []domain.CrawlAttempt
	if err := h.urls.db.SelectContext(ctx, &attempts, h.urls.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list crawl history: %w", err)
	}

	return attempts, nil
}
