package index

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quarrysearch/quarry/internal/domain"
	"github.com/quarrysearch/quarry/internal/jobqueue"
	"github.com/quarrysearch/quarry/internal/logger"
)

// JobWorkerConfig sizes the indexing worker pool.
type JobWorkerConfig struct {
	Workers      int
	ClaimBatch   int
	LeaseWindow  time.Duration
	PollInterval time.Duration
}

func (c JobWorkerConfig) withDefaults() JobWorkerConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = 10
	}
	if c.LeaseWindow <= 0 {
		c.LeaseWindow = jobqueue.DefaultLeaseWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// JobWorker drains the index job queue into the index writer. Claims
// carry a lease; a crash releases the jobs back after expiry.
type JobWorker struct {
	queue    *jobqueue.Queue
	writer   *Writer
	log      logger.Logger
	cfg      JobWorkerConfig
	workerID string
}

// NewJobWorker creates a job worker pool.
func NewJobWorker(queue *jobqueue.Queue, writer *Writer, log logger.Logger, cfg JobWorkerConfig) *JobWorker {
	return &JobWorker{
		queue:    queue,
		writer:   writer,
		log:      log,
		cfg:      cfg.withDefaults(),
		workerID: uuid.NewString(),
	}
}

// Run executes claim loops until ctx is cancelled.
func (w *JobWorker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *JobWorker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		jobs, err := w.queue.Claim(ctx, w.cfg.ClaimBatch, w.cfg.LeaseWindow, w.workerID)
		if err != nil {
			w.log.Error("failed to claim index jobs", logger.Error(err))
			w.sleep(ctx)
			continue
		}
		if len(jobs) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range jobs {
			w.process(ctx, &jobs[i])
		}
	}
}

// process indexes one job and settles it in the queue. Failures feed
// the queue's retry arithmetic.
func (w *JobWorker) process(ctx context.Context, job *domain.IndexJob) {
	if err := w.indexJob(ctx, job); err != nil {
		w.log.Warn("index job failed",
			logger.String("job_id", job.ID),
			logger.String("url", job.URL),
			logger.Error(err),
		)
		if failErr := w.queue.MarkFailure(ctx, job.ID, err); failErr != nil {
			w.log.Error("failed to mark job failure", logger.Error(failErr))
		}
		return
	}

	if doneErr := w.queue.MarkDone(ctx, job.ID); doneErr != nil {
		w.log.Error("failed to mark job done", logger.Error(doneErr))
	}
}

func (w *JobWorker) indexJob(ctx context.Context, job *domain.IndexJob) error {
	if err := w.writer.IndexDocument(ctx, job.URL, job.Title, job.Content); err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}

	outlinks, err := jobqueue.Outlinks(job)
	if err != nil {
		return fmt.Errorf("failed to decode outlinks: %w", err)
	}
	if err := w.writer.ReplaceOutlinks(ctx, job.URL, outlinks); err != nil {
		return fmt.Errorf("failed to store outlinks: %w", err)
	}

	return nil
}

func (w *JobWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
