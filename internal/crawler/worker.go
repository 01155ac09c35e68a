package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrysearch/quarry/internal/domain"
	"github.com/quarrysearch/quarry/internal/logger"
	"github.com/quarrysearch/quarry/internal/urlstore"
)

// Retry policy for transient fetch failures. Retried URLs re-enter the
// store at a decayed priority; the counter is process-local.
const (
	DefaultRetryLimit = 3
	priorityDecay     = 5
	priorityFloor     = -100
)

// defaultIdleSleep is the pause between empty scheduler polls.
const defaultIdleSleep = 500 * time.Millisecond

// PageSubmitter sends parsed pages to the indexer service.
type PageSubmitter interface {
	SubmitPage(ctx context.Context, url, title, content string, outlinks []string) (*SubmitResponse, error)
}

// Config holds worker pool settings.
type Config struct {
	Concurrency int
	MaxOutlinks int
	RetryLimit  int
	IdleSleep   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.MaxOutlinks <= 0 {
		c.MaxOutlinks = DefaultMaxOutlinks
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = DefaultRetryLimit
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = defaultIdleSleep
	}
	return c
}

// Worker runs the crawl loop: pull ready URLs from the scheduler, fetch
// and parse them under a bounded pool, submit pages to the indexer, and
// feed discovered links back into the URL store.
type Worker struct {
	urls      *urlstore.Store
	history   *urlstore.HistoryStore
	sched     Gate
	robots    *RobotsCache
	fetcher   *Fetcher
	submitter PageSubmitter
	metrics   *Metrics
	log       logger.Logger
	cfg       Config

	mu      sync.Mutex
	retries map[string]int
}

// URLItem is one claimed URL as released by the scheduler.
type URLItem = domain.URLRecord

// Gate is the scheduler surface the worker needs.
type Gate interface {
	GetReady(ctx context.Context, count int) ([]URLItem, error)
	RecordStart(host string)
	RecordComplete(host string, success bool)
}

// NewWorker creates a crawl worker pool.
func NewWorker(
	urls *urlstore.Store,
	history *urlstore.HistoryStore,
	sched Gate,
	robots *RobotsCache,
	fetcher *Fetcher,
	submitter PageSubmitter,
	metrics *Metrics,
	log logger.Logger,
	cfg Config,
) *Worker {
	return &Worker{
		urls:      urls,
		history:   history,
		sched:     sched,
		robots:    robots,
		fetcher:   fetcher,
		submitter: submitter,
		metrics:   metrics,
		log:       log,
		cfg:       cfg.withDefaults(),
		retries:   make(map[string]int),
	}
}

// Run executes the crawl loop until ctx is cancelled, then waits for
// in-flight page tasks to drain. Stale crawling rows are recovered
// before the first claim.
func (w *Worker) Run(ctx context.Context) error {
	recovered, err := w.urls.RecoverStaleCrawling(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover stale URLs: %w", err)
	}
	if recovered > 0 {
		w.log.Info("recovered stale crawling URLs", logger.Int64("count", recovered))
	}

	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Concurrency)

	for ctx.Err() == nil {
		items, readyErr := w.sched.GetReady(ctx, 1)
		if readyErr != nil {
			w.log.Error("failed to get ready URLs", logger.Error(readyErr))
			w.sleep(ctx)
			continue
		}
		if len(items) == 0 {
			w.sleep(ctx)
			continue
		}

		item := items[0]
		host := urlstore.HostOf(item.URL)
		w.sched.RecordStart(host)
		g.Go(func() error {
			w.processURL(ctx, item, host)
			return nil
		})
	}

	return g.Wait()
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processURL handles one claimed URL end to end. Failures never
// propagate; they are recorded and counted.
func (w *Worker) processURL(ctx context.Context, item URLItem, host string) {
	start := time.Now()

	allowed, robotsErr := w.robots.Allowed(ctx, item.URL)
	if robotsErr != nil || !allowed {
		w.failPermanent(ctx, item, host, 0, "blocked by robots.txt", "robots")
		return
	}

	cond := ConditionalHeaders{}
	if item.ETag != nil {
		cond.ETag = *item.ETag
	}
	if item.LastModified != nil {
		cond.LastModified = *item.LastModified
	}

	result, fetchErr := w.fetcher.Fetch(ctx, item.URL, cond)
	w.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if fetchErr != nil {
		w.handleFetchError(ctx, item, host, fetchErr)
		return
	}

	if result.NotModified {
		w.recordDone(ctx, item, host, result, start)
		w.metrics.PagesSkipped.WithLabelValues("not_modified").Inc()
		return
	}

	page, parseErr := ParsePage(result.Body, item.URL, w.cfg.MaxOutlinks)
	if parseErr != nil {
		w.failPermanent(ctx, item, host, result.StatusCode, parseErr.Error(), "parse")
		return
	}

	if _, submitErr := w.submitter.SubmitPage(ctx, item.URL, page.Title, page.Text, page.Outlinks); submitErr != nil {
		w.retryOrDeadLetter(ctx, item, host, 0, fmt.Sprintf("indexer submit failed: %v", submitErr))
		return
	}

	w.addOutlinks(ctx, item, page.Outlinks)
	w.recordDone(ctx, item, host, result, start)
	w.clearRetries(item.URL)
	w.metrics.PagesCrawled.Inc()
}

// handleFetchError classifies a fetch failure into the retry policy.
func (w *Worker) handleFetchError(ctx context.Context, item URLItem, host string, fetchErr error) {
	var statusErr *HTTPStatusError
	switch {
	case errors.As(fetchErr, &statusErr):
		if RetryableStatus(statusErr.StatusCode) {
			w.retryOrDeadLetter(ctx, item, host, statusErr.StatusCode, fetchErr.Error())
			return
		}
		w.failPermanent(ctx, item, host, statusErr.StatusCode, fetchErr.Error(), "http_status")

	case errors.Is(fetchErr, ErrNotHTML), errors.Is(fetchErr, ErrBodyTooLarge):
		w.failPermanent(ctx, item, host, 0, fetchErr.Error(), "content")

	default:
		// Transport errors (timeout, DNS, connection reset) are retryable.
		w.retryOrDeadLetter(ctx, item, host, 0, fetchErr.Error())
	}
}

// retryOrDeadLetter re-releases the URL at a decayed priority until the
// process-local counter is exhausted, then records it failed with a
// dead-letter history entry.
func (w *Worker) retryOrDeadLetter(ctx context.Context, item URLItem, host string, httpStatus int, reason string) {
	attempts := w.bumpRetries(item.URL)
	if attempts >= w.cfg.RetryLimit {
		w.clearRetries(item.URL)

		message := fmt.Sprintf("max retries exceeded: %s", reason)
		if recErr := w.urls.Record(ctx, item.URL, domain.URLStatusFailed, urlstore.RecordParams{}); recErr != nil {
			w.log.Error("failed to record dead-lettered URL", logger.Error(recErr))
		}
		w.appendHistory(ctx, item.URL, domain.AttemptStatusDeadLetter, httpStatus, message, 0)
		w.sched.RecordComplete(host, false)
		w.metrics.CrawlFailures.WithLabelValues("dead_letter").Inc()
		w.log.Warn("URL dead-lettered",
			logger.String("url", item.URL),
			logger.String("reason", reason),
		)
		return
	}

	newPriority := item.Priority - priorityDecay
	if newPriority < priorityFloor {
		newPriority = priorityFloor
	}
	if relErr := w.urls.ReleaseForRetry(ctx, item.URL, newPriority); relErr != nil {
		w.log.Error("failed to release URL for retry", logger.Error(relErr))
	}
	w.appendHistory(ctx, item.URL, domain.AttemptStatusRetry, httpStatus, reason, 0)
	w.sched.RecordComplete(host, false)
	w.metrics.CrawlFailures.WithLabelValues("retryable").Inc()
}

// failPermanent records the URL failed with no retry.
func (w *Worker) failPermanent(ctx context.Context, item URLItem, host string, httpStatus int, reason, class string) {
	if recErr := w.urls.Record(ctx, item.URL, domain.URLStatusFailed, urlstore.RecordParams{}); recErr != nil {
		w.log.Error("failed to record failed URL", logger.Error(recErr))
	}
	w.appendHistory(ctx, item.URL, domain.URLStatusFailed, httpStatus, reason, 0)

	// Robots denial is not a host fault; do not feed the backoff.
	w.sched.RecordComplete(host, class == "robots")
	w.metrics.CrawlFailures.WithLabelValues(class).Inc()
	w.clearRetries(item.URL)
}

// recordDone marks the crawl successful and captures validators for
// conditional refetches.
func (w *Worker) recordDone(ctx context.Context, item URLItem, host string, result *FetchResult, start time.Time) {
	params := urlstore.RecordParams{}
	if result.ETag != "" {
		params.ETag = &result.ETag
	}
	if result.LastModified != "" {
		params.LastModified = &result.LastModified
	}

	if recErr := w.urls.Record(ctx, item.URL, domain.URLStatusDone, params); recErr != nil {
		w.log.Error("failed to record crawled URL", logger.Error(recErr))
	}
	w.appendHistory(ctx, item.URL, domain.URLStatusDone, result.StatusCode, "", time.Since(start).Milliseconds())
	w.sched.RecordComplete(host, true)
}

// addOutlinks scores each discovered link and feeds it to the URL store.
func (w *Worker) addOutlinks(ctx context.Context, item URLItem, outlinks []string) {
	reqs := make([]urlstore.AddRequest, 0, len(outlinks))
	for _, link := range outlinks {
		visits, visErr := w.urls.DomainVisits(ctx, urlstore.HostOf(link))
		if visErr != nil {
			w.log.Error("failed to count domain visits", logger.Error(visErr))
			continue
		}
		reqs = append(reqs, urlstore.AddRequest{
			URL:       link,
			Priority:  Score(link, item.Priority, visits),
			SourceURL: item.URL,
		})
	}

	if len(reqs) == 0 {
		return
	}
	if _, addErr := w.urls.AddBatch(ctx, reqs); addErr != nil {
		w.log.Error("failed to add outlinks", logger.Error(addErr))
	}
}

func (w *Worker) appendHistory(ctx context.Context, url, status string, httpStatus int, message string, durationMs int64) {
	params := urlstore.AppendParams{
		URL:        url,
		Status:     status,
		DurationMs: durationMs,
	}
	if httpStatus != 0 {
		params.HTTPStatus = &httpStatus
	}
	if message != "" {
		params.Error = message
	}
	if histErr := w.history.Append(ctx, params); histErr != nil {
		w.log.Error("failed to append crawl history", logger.Error(histErr))
	}
}

func (w *Worker) bumpRetries(url string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retries[url]++
	return w.retries[url]
}

func (w *Worker) clearRetries(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.retries, url)
}
