package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/domain"
	"github.com/quarrysearch/quarry/internal/jobqueue"
	"github.com/quarrysearch/quarry/internal/logger"
)

func newTestJobWorker(t *testing.T) (*JobWorker, *jobqueue.Queue) {
	t.Helper()

	writer, db := newTestWriter(t)
	queue := jobqueue.New(db)
	worker := NewJobWorker(queue, writer, logger.NewNop(), JobWorkerConfig{})
	return worker, queue
}

func TestJobWorkerProcessIndexesAndMarksDone(t *testing.T) {
	worker, queue := newTestJobWorker(t)
	ctx := context.Background()

	res, err := queue.Enqueue(ctx, "https://a.test/", "Guide",
		"search engine guide", []string{"https://b.test/"})
	require.NoError(t, err)

	jobs, err := queue.Claim(ctx, 1, time.Minute, worker.workerID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	worker.process(ctx, &jobs[0])

	job, err := queue.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, job.Status)

	// The document and its outgoing edge landed in the index.
	writer := worker.writer
	var count int
	err = writer.db.GetContext(ctx, &count, writer.db.Rebind(
		`SELECT COUNT(*) FROM documents WHERE url = ?`), "https://a.test/")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = writer.db.GetContext(ctx, &count, writer.db.Rebind(
		`SELECT COUNT(*) FROM link_edges WHERE src_url = ?`), "https://a.test/")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJobWorkerProcessFailureFeedsRetry(t *testing.T) {
	worker, queue := newTestJobWorker(t)
	ctx := context.Background()

	res, err := queue.Enqueue(ctx, "https://a.test/", "Guide", "text", nil)
	require.NoError(t, err)

	// Corrupt the stored outlinks so indexing fails after the claim.
	_, err = worker.writer.db.ExecContext(ctx, worker.writer.db.Rebind(
		`UPDATE index_jobs SET outlinks = ? WHERE id = ?`), "not json", res.JobID)
	require.NoError(t, err)

	jobs, err := queue.Claim(ctx, 1, time.Minute, worker.workerID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	worker.process(ctx, &jobs[0])

	job, err := queue.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailedRetry, job.Status)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "outlinks")
}
