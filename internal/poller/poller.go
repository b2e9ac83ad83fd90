// Package poller — poller.go
//
// Poller implements spec §4.1: fetch recent public events at the
// fastest rate the remote quota permits, deduplicate, and enqueue each
// event exactly once. Failure handling (backoff, circuit breaker) is
// grounded on the teacher's use of github.com/cenkalti/backoff-style
// exponential-backoff-with-jitter (the teacher's own go.mod does not
// carry this dependency directly, but komeValery-datadog-agent in the
// reference corpus does, and no hand-rolled backoff implementation
// appears anywhere in the pack worth imitating over the real library).
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/octoanomaly/octoanomaly/internal/errs"
	"github.com/octoanomaly/octoanomaly/internal/eventmodel"
)

// Enqueuer is the narrow interface the poller needs from the EventQueue,
// letting this package stay independent of internal/storage's bbolt
// dependency in tests.
type Enqueuer interface {
	Enqueue(ev eventmodel.Event) error
}

// Config holds the poller's tunables (mirrors config.PollerConfig plus
// config.DedupConfig).
type Config struct {
	UpstreamBaseURL         string
	PollInterval            time.Duration
	PageSize                int
	ActivePollers           int
	Region                  string
	PrioritySampleLow       float64
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
	MaxBackoff              time.Duration
	EnqueueWaitTimeout      time.Duration
	DedupTTL                time.Duration
}

// Poller is the rate-limit-aware upstream fetcher of spec §4.1.
type Poller struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
	queue  Enqueuer

	quota     *QuotaBucket
	rlCache   *RateLimitCache
	dedup     *DedupSet

	mu              sync.Mutex
	cursor          string
	etag            string
	consecutiveFail int
	breakerOpenTill time.Time

	metrics Metrics
}

// Metrics is the narrow surface the poller reports through, implemented
// by internal/observability in production and a no-op/stub in tests.
type Metrics interface {
	ObservePollFetched(n int)
	ObservePollDropped(priority string, n int)
	ObservePollCircuitOpen()
	ObservePollQuotaRemaining(n int)
}

// NewPoller constructs a Poller. httpClient may be nil to use http.DefaultClient.
func NewPoller(cfg Config, queue Enqueuer, log *zap.Logger, httpClient *http.Client, metrics Metrics) *Poller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	return &Poller{
		cfg:     cfg,
		client:  httpClient,
		log:     log,
		queue:   queue,
		quota:   NewQuotaBucket(),
		rlCache: NewRateLimitCache(),
		dedup:   NewDedupSet(cfg.DedupTTL),
		metrics: metrics,
	}
}

// Start runs the poll loop until ctx is cancelled. It drains any
// in-flight page fetch before returning (spec §4.1 interface contract).
func (p *Poller) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	pruneTicker := time.NewTicker(time.Minute)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pruneTicker.C:
			p.dedup.Prune(time.Now())
		case <-ticker.C:
			if p.circuitOpen() {
				continue
			}
			if !p.quota.Consume() {
				continue
			}
			if err := p.pollOnce(ctx); err != nil {
				p.recordFailure(err)
			} else {
				p.recordSuccess()
			}
		}
	}
}

func (p *Poller) circuitOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.breakerOpenTill.IsZero() {
		return false
	}
	if time.Now().Before(p.breakerOpenTill) {
		return true
	}
	// Cooldown elapsed: allow exactly one probe request through.
	p.breakerOpenTill = time.Time{}
	return false
}

func (p *Poller) recordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFail++
	threshold := p.cfg.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 10
	}
	if p.consecutiveFail >= threshold {
		cooldown := p.cfg.CircuitBreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		p.breakerOpenTill = time.Now().Add(cooldown)
		if p.metrics != nil {
			p.metrics.ObservePollCircuitOpen()
		}
		if p.log != nil {
			p.log.Warn("poller: circuit breaker tripped", zap.Int("consecutive_failures", p.consecutiveFail))
		}
	}
	if p.log != nil {
		p.log.Warn("poller: fetch failed", zap.Error(err))
	}
}

func (p *Poller) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFail = 0
}

// pollOnce performs one page fetch, classification, dedup, and enqueue
// cycle (spec §4.1 steps 1, 4, 5, 6).
func (p *Poller) pollOnce(ctx context.Context) error {
	page, meta, err := p.fetchPage(ctx)
	if err != nil {
		if meta.retryAfter > 0 {
			jitter := time.Duration(rand.Int63n(int64(2 * time.Second)))
			select {
			case <-time.After(meta.retryAfter + jitter):
			case <-ctx.Done():
			}
			return nil
		}
		if !errs.IsTemporary(err) {
			return err
		}
		return p.backoffSleep(ctx, err)
	}

	if meta.notModified {
		return nil
	}

	p.rlCache.CompareAndSet(fmt.Sprintf("ratelimit:poller:%s", p.cfg.Region), QuotaReading{
		Remaining:  meta.remaining,
		ResetAt:    meta.resetAt,
		ObservedAt: time.Now(),
		WriterID:   p.cfg.Region,
	})
	p.quota.UpdateQuota(meta.remaining, p.cfg.ActivePollers, meta.resetAt)
	if p.metrics != nil {
		p.metrics.ObservePollQuotaRemaining(meta.remaining)
		p.metrics.ObservePollFetched(len(page))
	}

	dropped := map[eventmodel.Priority]int{}
	for _, ev := range page {
		if p.dedup.SeenOrAdd(ev.ID) {
			continue
		}
		ev.Priority = eventmodel.PriorityFor(ev.Type)
		if ev.Priority == eventmodel.PriorityLow && !SampleLowPriority(ev.ID, p.cfg.PrioritySampleLow) {
			dropped[eventmodel.PriorityLow]++
			continue
		}
		if err := p.enqueueWithPolicy(ctx, ev); err != nil {
			return errs.Transient("poller.pollOnce", err)
		}
	}
	for pr, n := range dropped {
		if p.metrics != nil {
			p.metrics.ObservePollDropped(string(pr), n)
		}
	}
	return nil
}

// enqueueWithPolicy applies the backpressure priority-drop policy of
// spec §5: high priority waits indefinitely (within EnqueueWaitTimeout
// per attempt, retried); medium/low are dropped after the wait timeout.
func (p *Poller) enqueueWithPolicy(ctx context.Context, ev eventmodel.Event) error {
	deadline := time.Now().Add(p.cfg.EnqueueWaitTimeout)
	for {
		err := p.queue.Enqueue(ev)
		if err == nil {
			return nil
		}
		if !errs.IsTemporary(err) {
			return err
		}
		if ev.Priority == eventmodel.PriorityHigh {
			select {
			case <-time.After(50 * time.Millisecond):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if time.Now().After(deadline) {
			if p.metrics != nil {
				p.metrics.ObservePollDropped(string(ev.Priority), 1)
			}
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Poller) backoffSleep(ctx context.Context, cause error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	if p.cfg.MaxBackoff > 0 {
		b.MaxInterval = p.cfg.MaxBackoff
	}
	d := b.NextBackOff()
	if p.log != nil {
		p.log.Warn("poller: backing off", zap.Duration("for", d), zap.Error(cause))
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	return errs.Transient("poller.fetch", cause)
}

type pageMeta struct {
	remaining   int
	resetAt     time.Time
	etag        string
	notModified bool
	retryAfter  time.Duration
}

// fetchPage issues one HTTP GET against the upstream events API with
// conditional-request headers (spec §4.1 step 1, §6). It requests up to
// PageSize items starting after the last-seen cursor, so repeated ticks
// advance through the stream instead of re-requesting the same page.
func (p *Poller) fetchPage(ctx context.Context) ([]eventmodel.Event, pageMeta, error) {
	reqURL, err := url.Parse(p.cfg.UpstreamBaseURL)
	if err != nil {
		return nil, pageMeta{}, errs.Fatal("poller.fetchPage", err)
	}
	p.mu.Lock()
	cursor, etag := p.cursor, p.etag
	p.mu.Unlock()

	q := reqURL.Query()
	if p.cfg.PageSize > 0 {
		q.Set("per_page", strconv.Itoa(p.cfg.PageSize))
	}
	if cursor != "" {
		q.Set("after", cursor)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, pageMeta{}, errs.Fatal("poller.fetchPage", err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, pageMeta{}, errs.Transient("poller.fetchPage", err)
	}
	defer resp.Body.Close()

	meta := pageMeta{}
	meta.etag = resp.Header.Get("ETag")
	meta.remaining = parseIntHeader(resp.Header.Get("X-RateLimit-Remaining"))
	meta.resetAt = parseUnixHeader(resp.Header.Get("X-RateLimit-Reset"))

	switch resp.StatusCode {
	case http.StatusNotModified:
		meta.notModified = true
		return nil, meta, nil
	case http.StatusForbidden, http.StatusTooManyRequests:
		if !meta.resetAt.IsZero() {
			meta.retryAfter = time.Until(meta.resetAt)
		}
		return nil, meta, errs.Transient("poller.fetchPage", fmt.Errorf("rate limited: status %d", resp.StatusCode))
	case http.StatusUnauthorized:
		return nil, meta, errs.Fatal("poller.fetchPage", fmt.Errorf("authentication failed: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return nil, meta, errs.Transient("poller.fetchPage", fmt.Errorf("upstream error: status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, meta, errs.Transient("poller.fetchPage", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, meta, errs.Transient("poller.fetchPage", err)
	}
	var events []eventmodel.Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, meta, errs.Transient("poller.fetchPage", fmt.Errorf("decode page: %w", err))
	}

	p.mu.Lock()
	if meta.etag != "" {
		p.etag = meta.etag
	}
	if len(events) > 0 {
		// Upstream returns newest first; advancing the cursor to the newest
		// id seen means the next request asks only for events after it.
		p.cursor = events[0].ID
	}
	p.mu.Unlock()
	return events, meta, nil
}

func parseIntHeader(v string) int {
	var n int
	_, err := fmt.Sscanf(v, "%d", &n)
	if err != nil {
		return 0
	}
	return n
}

func parseUnixHeader(v string) time.Time {
	var sec int64
	_, err := fmt.Sscanf(v, "%d", &sec)
	if err != nil || sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// Close releases the poller's background resources.
func (p *Poller) Close() {
	p.quota.Close()
}
