// Package jobqueue implements the durable index job queue: dedupe-keyed
// enqueue, lease-based claim with at-least-once delivery, bounded retries
// with exponential backoff, and a permanent-failure dead state.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/domain"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("index job not found")

// Retry arithmetic defaults.
const (
	DefaultMaxRetries  = 3
	DefaultRetryBase   = 30 * time.Second
	DefaultMaxBackoff  = 30 * time.Minute
	DefaultLeaseWindow = 2 * time.Minute
)

// jobSelectColumns lists columns for SELECT queries on index_jobs.
const jobSelectColumns = `id, url, title, content, outlinks, content_hash,
	dedupe_key, status, retry_count, max_retries, available_at, lease_until,
	worker_id, last_error, created_at, updated_at`

// Queue handles database operations for index jobs.
type Queue struct {
	db         *database.DB
	maxRetries int
	retryBase  time.Duration
	maxBackoff time.Duration
	now        func() time.Time
}

// New creates a job queue with default retry arithmetic.
func New(db *database.DB) *Queue {
	return &Queue{
		db:         db,
		maxRetries: DefaultMaxRetries,
		retryBase:  DefaultRetryBase,
		maxBackoff: DefaultMaxBackoff,
		now:        time.Now,
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (q *Queue) SetNowFunc(now func() time.Time) {
	q.now = now
}

// EnqueueResult reports the outcome of an enqueue.
type EnqueueResult struct {
	JobID   string
	Created bool
}

// Enqueue inserts a new job, or returns the pre-existing job when the
// same (url, content) pair is already queued. Never blocks other enqueues.
func (q *Queue) Enqueue(ctx context.Context, url, title, content string, outlinks []string) (EnqueueResult, error) {
	contentHash := domain.ContentHash(content)
	dedupeKey := domain.DedupeKey(url, contentHash)

	outlinksJSON, err := json.Marshal(outlinks)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("failed to marshal outlinks: %w", err)
	}
	if outlinks == nil {
		outlinksJSON = []byte("[]")
	}

	jobID := uuid.NewString()
	now := q.now().UTC()

	query := q.db.Rebind(`
		INSERT INTO index_jobs (id, url, title, content, outlinks, content_hash,
			dedupe_key, status, max_retries, available_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err = q.db.ExecContext(ctx, query,
		jobID, url, title, content, string(outlinksJSON), contentHash,
		dedupeKey, domain.JobStatusPending, q.maxRetries, now, now, now,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return q.existingByDedupeKey(ctx, dedupeKey)
		}
		return EnqueueResult{}, fmt.Errorf("failed to enqueue index job: %w", err)
	}

	return EnqueueResult{JobID: jobID, Created: true}, nil
}

// existingByDedupeKey resolves the job id behind a dedupe collision.
func (q *Queue) existingByDedupeKey(ctx context.Context, dedupeKey string) (EnqueueResult, error) {
	query := q.db.Rebind(`SELECT id FROM index_jobs WHERE dedupe_key = ?`)

	var jobID string
	if err := q.db.GetContext(ctx, &jobID, query, dedupeKey); err != nil {
		return EnqueueResult{}, fmt.Errorf("failed to resolve deduplicated job: %w", err)
	}

	return EnqueueResult{JobID: jobID, Created: false}, nil
}

// Claim recovers expired leases, then atomically selects up to limit
// claimable jobs (pending or failed_retry, available now) oldest first,
// marking each processing with a lease. A job is visible to exactly one
// worker at a time.
func (q *Queue) Claim(ctx context.Context, limit int, lease time.Duration, workerID string) ([]domain.IndexJob, error) {
	if _, err := q.RecoverExpiredLeases(ctx); err != nil {
		return nil, err
	}

	now := q.now().UTC()

	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	selectQuery := `
		SELECT ` + jobSelectColumns + `
		FROM index_jobs
		WHERE status IN (?, ?) AND available_at <= ?
		ORDER BY available_at ASC, created_at ASC
		LIMIT ?`
	if q.db.SupportsSkipLocked() {
		selectQuery += "\n\t\tFOR UPDATE SKIP LOCKED"
	}

	var jobs []domain.IndexJob
	if selectErr := tx.SelectContext(ctx, &jobs, tx.Rebind(selectQuery),
		domain.JobStatusPending, domain.JobStatusFailedRetry, now, limit,
	); selectErr != nil {
		return nil, fmt.Errorf("failed to select claimable jobs: %w", selectErr)
	}

	if len(jobs) == 0 {
		return nil, tx.Commit()
	}

	leaseUntil := now.Add(lease)
	ids := make([]string, len(jobs))
	for i := range jobs {
		ids[i] = jobs[i].ID
	}

	updateQuery, args, inErr := sqlx.In(`
		UPDATE index_jobs
		SET status = ?, lease_until = ?, worker_id = ?, updated_at = ?
		WHERE id IN (?)`,
		domain.JobStatusProcessing, leaseUntil, workerID, now, ids,
	)
	if inErr != nil {
		return nil, fmt.Errorf("failed to build claim update: %w", inErr)
	}

	if _, updateErr := tx.ExecContext(ctx, tx.Rebind(updateQuery), args...); updateErr != nil {
		return nil, fmt.Errorf("failed to mark jobs processing: %w", updateErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", commitErr)
	}

	for i := range jobs {
		jobs[i].Status = domain.JobStatusProcessing
		jobs[i].LeaseUntil = &leaseUntil
		jobs[i].WorkerID = &workerID
	}

	return jobs, nil
}

// MarkDone finishes a job and clears its lease. Marking an already-done
// job again is harmless (at-least-once delivery).
func (q *Queue) MarkDone(ctx context.Context, jobID string) error {
	query := q.db.Rebind(`
		UPDATE index_jobs
		SET status = ?, lease_until = NULL, worker_id = NULL, updated_at = ?
		WHERE id = ?
	`)

	result, err := q.db.ExecContext(ctx, query, domain.JobStatusDone, q.now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return nil
}

// MarkFailure records a failed attempt: either schedules a retry with
// exponential backoff or moves the job to failed_permanent.
func (q *Queue) MarkFailure(ctx context.Context, jobID string, jobErr error) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}

	return q.applyFailure(ctx, job, jobErr.Error())
}

// applyFailure performs the shared retry arithmetic for failures and
// lease expiries.
func (q *Queue) applyFailure(ctx context.Context, job *domain.IndexJob, message string) error {
	now := q.now().UTC()
	retryCount := job.RetryCount + 1

	status := domain.JobStatusFailedRetry
	availableAt := now.Add(q.backoff(retryCount))
	if retryCount >= job.MaxRetries {
		status = domain.JobStatusFailedPermanent
		availableAt = now
	}

	query := q.db.Rebind(`
		UPDATE index_jobs
		SET status = ?, retry_count = ?, available_at = ?, last_error = ?,
			lease_until = NULL, worker_id = NULL, updated_at = ?
		WHERE id = ?
	`)

	if _, err := q.db.ExecContext(ctx, query,
		status, retryCount, availableAt, message, now, job.ID,
	); err != nil {
		return fmt.Errorf("failed to mark job failure: %w", err)
	}

	return nil
}

// backoff returns base * 2^(retryCount-1), capped.
func (q *Queue) backoff(retryCount int) time.Duration {
	delay := q.retryBase
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= q.maxBackoff {
			return q.maxBackoff
		}
	}
	if delay > q.maxBackoff {
		return q.maxBackoff
	}
	return delay
}

// RecoverExpiredLeases treats every processing job whose lease has
// expired as a failure, applying the same retry arithmetic. Returns the
// count recovered. Lease expiry is a failure event, not an error.
func (q *Queue) RecoverExpiredLeases(ctx context.Context) (int, error) {
	now := q.now().UTC()

	query := q.db.Rebind(`
		SELECT ` + jobSelectColumns + `
		FROM index_jobs
		WHERE status = ? AND lease_until IS NOT NULL AND lease_until < ?
	`)

	var expired []domain.IndexJob
	if err := q.db.SelectContext(ctx, &expired, query, domain.JobStatusProcessing, now); err != nil {
		return 0, fmt.Errorf("failed to find expired leases: %w", err)
	}

	for i := range expired {
		if err := q.applyFailure(ctx, &expired[i], "lease expired"); err != nil {
			return 0, err
		}
	}

	return len(expired), nil
}

// Get returns one job by id.
func (q *Queue) Get(ctx context.Context, jobID string) (*domain.IndexJob, error) {
	query := q.db.Rebind(`SELECT ` + jobSelectColumns + ` FROM index_jobs WHERE id = ?`)

	var job domain.IndexJob
	err := q.db.GetContext(ctx, &job, query, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get index job: %w", err)
	}

	return &job, nil
}

// Outlinks decodes a job's outlink list.
func Outlinks(job *domain.IndexJob) ([]string, error) {
	var links []string
	if err := json.Unmarshal([]byte(job.Outlinks), &links); err != nil {
		return nil, fmt.Errorf("failed to decode outlinks: %w", err)
	}
	return links, nil
}

// Health contains queue counts by status plus the age of the oldest
// pending job.
type Health struct {
	Pending              int   `json:"pending"`
	Processing           int   `json:"processing"`
	Done                 int   `json:"done"`
	FailedRetry          int   `json:"failed_retry"`
	FailedPermanent      int   `json:"failed_permanent"`
	OldestPendingSeconds int64 `json:"oldest_pending_seconds"`
}

// Health returns queue health counters.
func (q *Queue) Health(ctx context.Context) (*Health, error) {
	rows, err := q.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM index_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query job counts: %w", err)
	}
	defer rows.Close()

	health := &Health{}
	for rows.Next() {
		var status string
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan job count row: %w", scanErr)
		}

		switch status {
		case domain.JobStatusPending:
			health.Pending = count
		case domain.JobStatusProcessing:
			health.Processing = count
		case domain.JobStatusDone:
			health.Done = count
		case domain.JobStatusFailedRetry:
			health.FailedRetry = count
		case domain.JobStatusFailedPermanent:
			health.FailedPermanent = count
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate job counts: %w", rowsErr)
	}

	oldestQuery := q.db.Rebind(`
		SELECT created_at FROM index_jobs
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT 1
	`)

	var oldest time.Time
	err = q.db.GetContext(ctx, &oldest, oldestQuery, domain.JobStatusPending)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query oldest pending job: %w", err)
	}
	if err == nil {
		health.OldestPendingSeconds = int64(q.now().UTC().Sub(oldest).Seconds())
	}

	return health, nil
}

// PurgeDone deletes done jobs older than the cutoff. Returns the count
// removed. Run from the indexer's maintenance cron.
func (q *Queue) PurgeDone(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := q.now().UTC().Add(-olderThan)
	query := q.db.Rebind(`DELETE FROM index_jobs WHERE status = ? AND updated_at < ?`)

	result, err := q.db.ExecContext(ctx, query, domain.JobStatusDone, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge done jobs: %w", err)
	}

	count, raErr := result.RowsAffected()
	if raErr != nil {
		return 0, fmt.Errorf("failed to count purged jobs: %w", raErr)
	}

	return count, nil
}
