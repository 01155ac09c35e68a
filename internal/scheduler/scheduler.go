// Package scheduler is the in-process decision point between the URL store
// and the crawl workers. It buffers claimed URLs and applies per-host
// politeness gates: earliest-next-fetch, in-flight limits, and exponential
// backoff on failing hosts.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/internal/domain"
	"github.com/quarrysearch/quarry/internal/logger"
)

// MaxBackoff caps the exponential per-host backoff.
const MaxBackoff = time.Hour

// ClaimSource supplies prioritized URL batches; satisfied by urlstore.Store.
type ClaimSource interface {
	ClaimBatch(ctx context.Context, n int) ([]domain.URLRecord, error)
}

// Config controls scheduler behavior.
type Config struct {
	// BatchSize is the claim size used to refill the buffer.
	BatchSize int
	// MinInterval is the default spacing between fetches to one host.
	MinInterval time.Duration
	// ConcurrencyLimit is the default per-host in-flight cap.
	ConcurrencyLimit int
}

// hostGate tracks politeness state for one host. Gates live only for the
// uptime of the process; they are reconstructible and may be lost freely.
type hostGate struct {
	nextFetchAt      time.Time
	inFlight         int
	minInterval      time.Duration
	concurrencyLimit int
	failStreak       int
}

// Scheduler owns the URL buffer and the host-gate map.
type Scheduler struct {
	source ClaimSource
	cfg    Config
	log    logger.Logger

	mu     sync.Mutex
	buffer []domain.URLRecord
	gates  map[string]*hostGate
	now    func() time.Time
}

// New creates a scheduler pulling from the given source.
func New(source ClaimSource, cfg Config, log logger.Logger) *Scheduler {
	return &Scheduler{
		source: source,
		cfg:    cfg,
		log:    log,
		gates:  make(map[string]*hostGate),
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (s *Scheduler) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetReady returns up to count buffered items whose host gate allows a
// fetch now. Rate-limited items stay in the buffer in store priority
// order; the buffer refills from the source when it drops below half the
// batch size.
func (s *Scheduler) GetReady(ctx context.Context, count int) ([]domain.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) < s.cfg.BatchSize/2 {
		if err := s.refillLocked(ctx); err != nil {
			return nil, err
		}
	}

	now := s.now()
	ready := make([]domain.URLRecord, 0, count)
	remaining := s.buffer[:0]

	for _, item := range s.buffer {
		if len(ready) < count && s.allowedLocked(item.Domain, now) {
			ready = append(ready, item)
			continue
		}
		remaining = append(remaining, item)
	}

	s.buffer = remaining
	return ready, nil
}

// refillLocked claims another batch from the source into the buffer.
func (s *Scheduler) refillLocked(ctx context.Context) error {
	claimed, err := s.source.ClaimBatch(ctx, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to refill scheduler buffer: %w", err)
	}

	if len(claimed) > 0 {
		s.buffer = append(s.buffer, claimed...)
		s.log.Debug("scheduler buffer refilled",
			logger.Int("claimed", len(claimed)),
			logger.Int("buffered", len(s.buffer)),
		)
	}

	return nil
}

// allowedLocked reports whether a fetch to host may start now.
func (s *Scheduler) allowedLocked(host string, now time.Time) bool {
	gate := s.gateLocked(host)
	return !now.Before(gate.nextFetchAt) && gate.inFlight < gate.concurrencyLimit
}

// gateLocked returns the gate for host, creating it with defaults.
func (s *Scheduler) gateLocked(host string) *hostGate {
	gate, ok := s.gates[host]
	if !ok {
		gate = &hostGate{
			minInterval:      s.cfg.MinInterval,
			concurrencyLimit: s.cfg.ConcurrencyLimit,
		}
		s.gates[host] = gate
	}
	return gate
}

// RecordStart notes an in-flight fetch to host.
func (s *Scheduler) RecordStart(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gateLocked(host).inFlight++
}

// RecordComplete finishes an in-flight fetch. Success resets the fail
// streak and spaces the next fetch by the host's min interval; failure
// doubles the wait per consecutive failure, capped at MaxBackoff.
func (s *Scheduler) RecordComplete(host string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gate := s.gateLocked(host)
	if gate.inFlight > 0 {
		gate.inFlight--
	}

	now := s.now()
	if success {
		gate.failStreak = 0
		gate.nextFetchAt = now.Add(gate.minInterval)
		return
	}

	gate.failStreak++
	backoff := gate.minInterval << gate.failStreak
	if backoff > MaxBackoff || backoff <= 0 {
		backoff = MaxBackoff
	}
	gate.nextFetchAt = now.Add(backoff)
}

// SetCrawlDelay raises a host's min interval to honor a robots.txt
// Crawl-delay. The interval never decreases.
func (s *Scheduler) SetCrawlDelay(host string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gate := s.gateLocked(host)
	if delay > gate.minInterval {
		gate.minInterval = delay
	}
}

// ReturnToBuffer reinserts an item at the head of the buffer, ahead of
// everything else. Used for robots-retryable items.
func (s *Scheduler) ReturnToBuffer(item domain.URLRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append([]domain.URLRecord{item}, s.buffer...)
}

// BufferLen returns the number of buffered items.
func (s *Scheduler) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// NextFetchIn reports how long until host is allowed another fetch.
// Zero means it is allowed now.
func (s *Scheduler) NextFetchIn(host string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	gate := s.gateLocked(host)
	wait := gate.nextFetchAt.Sub(s.now())
	if wait < 0 {
		return 0
	}
	return wait
}
