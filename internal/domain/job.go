package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Index job status constants.
const (
	JobStatusPending         = "pending"
	JobStatusProcessing      = "processing"
	JobStatusDone            = "done"
	JobStatusFailedRetry     = "failed_retry"
	JobStatusFailedPermanent = "failed_permanent"
)

// ContentHash returns the hex SHA-256 digest of page content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// DedupeKey collapses repeat submissions of the same (url, content) pair.
func DedupeKey(url, contentHash string) string {
	sum := sha256.Sum256([]byte(url + contentHash))
	return hex.EncodeToString(sum[:])
}

// IndexJob is one durable unit of indexing work.
type IndexJob struct {
	ID          string `db:"id"           json:"id"`
	URL         string `db:"url"          json:"url"`
	Title       string `db:"title"        json:"title"`
	Content     string `db:"content"      json:"content"`
	Outlinks    string `db:"outlinks"     json:"outlinks"` // JSON array of URLs
	ContentHash string `db:"content_hash" json:"content_hash"`
	DedupeKey   string `db:"dedupe_key"   json:"dedupe_key"`

	Status     string     `db:"status"       json:"status"`
	RetryCount int        `db:"retry_count"  json:"retry_count"`
	MaxRetries int        `db:"max_retries"  json:"max_retries"`
	AvailableAt time.Time `db:"available_at" json:"available_at"`
	LeaseUntil *time.Time `db:"lease_until"  json:"lease_until,omitempty"`
	WorkerID   *string    `db:"worker_id"    json:"worker_id,omitempty"`
	LastError  *string    `db:"last_error"   json:"last_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
