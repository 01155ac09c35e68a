package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/temoto/robotstxt"

	"github.com/quarrysearch/quarry/internal/logger"
)

// Robots cache parameters.
const (
	DefaultRobotsCacheSize = 1000
	robotsFetchTimeout     = 10 * time.Second
	robotsMaxBody          = 512 * 1024

	// blockThreshold consecutive fetch failures place a host in the
	// blocked set for blockTTL.
	blockThreshold = 3
	blockTTL       = time.Hour
)

// CrawlDelaySink receives Crawl-delay directives discovered in robots
// files. The scheduler implements it.
type CrawlDelaySink interface {
	SetCrawlDelay(host string, delay time.Duration)
}

// RobotsCache caches parsed robots.txt per host with LRU eviction, and
// tracks hosts whose robots endpoint keeps failing. Per process; state
// is reconstructible.
type RobotsCache struct {
	client    *http.Client
	userAgent string
	delays    CrawlDelaySink
	log       logger.Logger
	now       func() time.Time

	records *lru.Cache[string, *robotstxt.RobotsData]

	mu       sync.Mutex
	failures map[string]int
	blocked  map[string]time.Time
}

// NewRobotsCache creates a robots cache. delays may be nil when no
// scheduler is attached.
func NewRobotsCache(client *http.Client, userAgent string, size int, delays CrawlDelaySink, log logger.Logger) (*RobotsCache, error) {
	if size <= 0 {
		size = DefaultRobotsCacheSize
	}
	records, err := lru.New[string, *robotstxt.RobotsData](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create robots cache: %w", err)
	}

	return &RobotsCache{
		client:    client,
		userAgent: userAgent,
		delays:    delays,
		log:       log,
		now:       time.Now,
		records:   records,
		failures:  make(map[string]int),
		blocked:   make(map[string]time.Time),
	}, nil
}

// SetNowFunc overrides the clock.
func (c *RobotsCache) SetNowFunc(now func() time.Time) { c.now = now }

// Allowed reports whether the user agent may fetch rawURL. A host in the
// blocked set denies everything until its TTL lapses. Robots fetch
// failures below the block threshold fail open.
func (c *RobotsCache) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("failed to parse url: %w", err)
	}
	host := parsed.Host

	if c.isBlocked(host) {
		return false, nil
	}

	data, ok := c.records.Get(host)
	if !ok {
		data, err = c.fetch(ctx, parsed.Scheme, host)
		if err != nil {
			if c.recordFailure(host) {
				return false, nil
			}
			return true, nil
		}
		c.clearFailures(host)
		c.records.Add(host, data)

		if c.delays != nil {
			if group := data.FindGroup(c.userAgent); group != nil && group.CrawlDelay > 0 {
				c.delays.SetCrawlDelay(parsed.Hostname(), group.CrawlDelay)
			}
		}
	}

	return data.TestAgent(parsed.RequestURI(), c.userAgent), nil
}

// IsBlocked reports whether the host is currently in the blocked set.
func (c *RobotsCache) IsBlocked(host string) bool {
	return c.isBlocked(host)
}

func (c *RobotsCache) isBlocked(host string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, ok := c.blocked[host]
	if !ok {
		return false
	}
	if c.now().After(until) {
		delete(c.blocked, host)
		return false
	}
	return true
}

// recordFailure bumps the host's failure streak; at the threshold the
// host enters the blocked set and true is returned.
func (c *RobotsCache) recordFailure(host string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures[host]++
	if c.failures[host] < blockThreshold {
		return false
	}

	c.blocked[host] = c.now().Add(blockTTL)
	delete(c.failures, host)
	c.log.Warn("host blocked after repeated robots failures",
		logger.String("host", host),
		logger.Duration("ttl", blockTTL),
	)
	return true
}

func (c *RobotsCache) clearFailures(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, host)
}

// fetch retrieves and parses the host's robots.txt. A 404 parses as
// allow-all per robotstxt.FromResponse.
func (c *RobotsCache) fetch(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	robotsURL := scheme + "://" + host + "/robots.txt"

	reqCtx, cancel := context.WithTimeout(ctx, robotsFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build robots request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots: %w", err)
	}
	defer resp.Body.Close()

	// 5xx counts toward the block threshold instead of caching a
	// disallow-all record.
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("robots fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read robots body: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse robots: %w", err)
	}

	return data, nil
}
