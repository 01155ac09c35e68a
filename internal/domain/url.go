// Package domain holds the model types shared by the crawler, indexer,
// and frontend services.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// URL lifecycle status constants.
const (
	URLStatusPending  = "pending"
	URLStatusCrawling = "crawling"
	URLStatusDone     = "done"
	URLStatusFailed   = "failed"
)

// urlHashLength is the number of hex characters kept from the URL digest.
const urlHashLength = 16

// URLHash returns the stable 16-character digest used as a URL's primary key.
func URLHash(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:urlHashLength]
}

// URLRecord represents a URL in the lifecycle store.
type URLRecord struct {
	URLHash string `db:"url_hash" json:"url_hash"`
	URL     string `db:"url"      json:"url"`
	Domain  string `db:"domain"   json:"domain"`

	Status    string  `db:"status"     json:"status"`
	Priority  float64 `db:"priority"   json:"priority"`
	SourceURL *string `db:"source_url" json:"source_url,omitempty"`

	CrawlCount    int        `db:"crawl_count"     json:"crawl_count"`
	ETag          *string    `db:"etag"            json:"etag,omitempty"`
	LastModified  *string    `db:"last_modified"   json:"last_modified,omitempty"`
	CreatedAt     time.Time  `db:"created_at"      json:"created_at"`
	LastCrawledAt *time.Time `db:"last_crawled_at" json:"last_crawled_at,omitempty"`
}

// Seed represents a durable entry-point URL, kept separate from the URL
// store so clearing crawl history does not clear seeds.
type Seed struct {
	URL        string     `db:"url"         json:"url"`
	AddedAt    time.Time  `db:"added_at"    json:"added_at"`
	LastQueued *time.Time `db:"last_queued" json:"last_queued,omitempty"`
}

// CrawlAttempt is one row of the append-only crawl history log.
type CrawlAttempt struct {
	ID         int64     `db:"id"          json:"id"`
	URL        string    `db:"url"         json:"url"`
	Status     string    `db:"status"      json:"status"`
	HTTPStatus *int      `db:"http_status" json:"http_status,omitempty"`
	Error      *string   `db:"error"       json:"error,omitempty"`
	DurationMs int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}

// CrawlAttempt status values beyond the URL lifecycle statuses.
const (
	AttemptStatusRetry      = "retry"
	AttemptStatusDeadLetter = "dead_letter"
)
