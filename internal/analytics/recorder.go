// Package analytics records impression and click events from the query
// path and rolls them up into quality metrics. Events are append-only.
package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/domain"
	"github.com/quarrysearch/quarry/internal/logger"
)

const (
	// insertBatchSize caps rows per INSERT statement.
	insertBatchSize = 50

	// flushTimeout bounds each flush round trip.
	flushTimeout = 5 * time.Second

	// DefaultBufferSize is the event channel capacity.
	DefaultBufferSize = 4096

	// DefaultFlushInterval drives periodic flushes of partial batches.
	DefaultFlushInterval = 2 * time.Second

	// DefaultFlushThreshold flushes eagerly once this many events queue up.
	DefaultFlushThreshold = 100
)

// Recorder buffers search events in memory and batch-inserts them in a
// background goroutine, so the query path never blocks on the event
// table. A full buffer drops the event rather than stall a search.
type Recorder struct {
	db             *database.DB
	log            logger.Logger
	events         chan domain.SearchEvent
	closed         chan struct{}
	once           sync.Once
	wg             sync.WaitGroup
	flushInterval  time.Duration
	flushThreshold int
	now            func() time.Time
}

// NewRecorder creates a recorder; call Start to begin flushing.
func NewRecorder(db *database.DB, log logger.Logger) *Recorder {
	return &Recorder{
		db:             db,
		log:            log,
		events:         make(chan domain.SearchEvent, DefaultBufferSize),
		closed:         make(chan struct{}),
		flushInterval:  DefaultFlushInterval,
		flushThreshold: DefaultFlushThreshold,
		now:            time.Now,
	}
}

// Start launches the background flush goroutine.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.flushLoop()
}

// Stop closes the buffer, flushes everything queued, and waits for the
// flush goroutine to exit.
func (r *Recorder) Stop() {
	r.once.Do(func() { close(r.closed) })
	r.wg.Wait()
}

// ImpressionParams describes one served search request.
type ImpressionParams struct {
	RequestID   string
	Query       string
	SessionHash string
	ResultCount int
	LatencyMs   int64
}

// RecordImpression queues an impression event. Returns false when the
// buffer is full and the event was dropped.
func (r *Recorder) RecordImpression(p ImpressionParams) bool {
	resultCount := p.ResultCount
	latencyMs := p.LatencyMs
	return r.send(domain.SearchEvent{
		EventType:   domain.EventTypeImpression,
		Query:       p.Query,
		QueryNorm:   NormalizeQuery(p.Query),
		RequestID:   p.RequestID,
		SessionHash: nullableString(p.SessionHash),
		ResultCount: &resultCount,
		LatencyMs:   &latencyMs,
		CreatedAt:   r.now().UTC(),
	})
}

// ClickParams describes one result click reported by the client.
type ClickParams struct {
	RequestID   string
	Query       string
	SessionHash string
	ClickedURL  string
	ClickedRank int
}

// RecordClick queues a click event. Returns false when the buffer is
// full and the event was dropped.
func (r *Recorder) RecordClick(p ClickParams) bool {
	clickedRank := p.ClickedRank
	return r.send(domain.SearchEvent{
		EventType:   domain.EventTypeClick,
		Query:       p.Query,
		QueryNorm:   NormalizeQuery(p.Query),
		RequestID:   p.RequestID,
		SessionHash: nullableString(p.SessionHash),
		ClickedURL:  nullableString(p.ClickedURL),
		ClickedRank: &clickedRank,
		CreatedAt:   r.now().UTC(),
	})
}

// Pending returns the number of buffered, unflushed events.
func (r *Recorder) Pending() int {
	return len(r.events)
}

func (r *Recorder) send(event domain.SearchEvent) bool {
	select {
	case r.events <- event:
		return true
	default:
		r.log.Warn("analytics buffer full, event dropped",
			logger.String("event_type", event.EventType),
		)
		return false
	}
}

// flushLoop accumulates events and flushes on threshold, tick, or stop.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]domain.SearchEvent, 0, r.flushThreshold)

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= r.flushThreshold {
				r.flush(batch)
				batch = make([]domain.SearchEvent, 0, r.flushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = make([]domain.SearchEvent, 0, r.flushThreshold)
			}

		case <-r.closed:
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				r.flush(batch)
			}
			return
		}
	}
}

// flush writes a batch in chunks of insertBatchSize.
func (r *Recorder) flush(batch []domain.SearchEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for start := 0; start < len(batch); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(batch) {
			end = len(batch)
		}

		if err := r.batchInsert(ctx, batch[start:end]); err != nil {
			r.log.Error("failed to insert search events",
				logger.Error(err),
				logger.Int("batch_size", end-start),
			)
		}
	}

	r.log.Debug("flushed search events", logger.Int("total", len(batch)))
}

// batchInsert executes a single multi-row INSERT.
func (r *Recorder) batchInsert(ctx context.Context, events []domain.SearchEvent) error {
	if len(events) == 0 {
		return nil
	}

	const columns = 10
	args := make([]any, 0, len(events)*columns)
	var sb strings.Builder

	sb.WriteString("INSERT INTO search_events (event_type, query, query_norm, request_id, " +
		"session_hash, result_count, clicked_url, clicked_rank, latency_ms, created_at) VALUES ")

	for i, e := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			e.EventType, e.Query, e.QueryNorm, e.RequestID,
			e.SessionHash, e.ResultCount, e.ClickedURL, e.ClickedRank,
			e.LatencyMs, e.CreatedAt,
		)
	}

	if _, err := r.db.ExecContext(ctx, r.db.Rebind(sb.String()), args...); err != nil {
		return fmt.Errorf("failed to insert search events: %w", err)
	}

	return nil
}

// nullableString converts "" to a NULL-able pointer.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NormalizeQuery lowercases a query and collapses runs of whitespace.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// SessionHash derives an anonymous, salted session identifier.
func SessionHash(salt, sessionID string) string {
	if sessionID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(salt + ":" + sessionID))
	return hex.EncodeToString(sum[:16])
}
