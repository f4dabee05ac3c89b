// Package frontier implements the pending-work queue of URLs awaiting fetch,
// together with the visited set that guarantees at-most-one enqueue per URL.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/contentcollector/collector/internal/crawler"
)

// ErrClosed is returned by Dequeue once the frontier has drained and closed.
var ErrClosed = errors.New("frontier closed")

// RejectReason explains why an entry was not admitted. Rejections are policy
// outcomes, not errors.
type RejectReason string

// Reject reasons reported by Admit.
const (
	RejectNone     RejectReason = ""
	RejectInvalid  RejectReason = "invalid_url"
	RejectVisited  RejectReason = "already_visited"
	RejectDepth    RejectReason = "max_depth"
	RejectDomain   RejectReason = "cross_domain"
	RejectMaxPages RejectReason = "max_pages"
	RejectClosed   RejectReason = "closed"
)

// Config bounds what the frontier will admit.
type Config struct {
	MaxDepth         int
	MaxPages         int
	AllowCrossDomain bool
	QueueDepth       int
}

// Frontier is the producer-consumer queue driving the crawl. Admit performs
// the visited-set test-and-insert and the enqueue as one atomic step; this is
// the engine's sole dedup boundary.
type Frontier struct {
	cfg    Config
	logger *zap.Logger

	ch chan crawler.FrontierEntry

	mu          sync.Mutex
	visited     map[string]struct{}
	allowed     map[string]struct{}
	overflow    []crawler.FrontierEntry
	admitted    int
	outstanding int
	closed      bool
}

// New constructs a Frontier. QueueDepth sizes the channel; admissions beyond
// it spill into an overflow list drained on dequeue, so workers producing
// children never block no matter how far the run fans out.
func New(cfg Config, logger *zap.Logger) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 1024
		if cfg.MaxPages > depth {
			depth = cfg.MaxPages
		}
	}
	return &Frontier{
		cfg:     cfg,
		logger:  logger,
		ch:      make(chan crawler.FrontierEntry, depth),
		visited: make(map[string]struct{}),
		allowed: make(map[string]struct{}),
	}
}

// AllowDomain adds a domain to the set seed domains derive. Ignored when
// cross-domain crawling is enabled.
func (f *Frontier) AllowDomain(domain string) {
	if domain == "" {
		return
	}
	f.mu.Lock()
	f.allowed[domain] = struct{}{}
	f.mu.Unlock()
}

// Admit normalizes the entry URL and enqueues it if it passes the visited,
// depth, domain and max-pages checks. The visited insertion and admission
// counter update are atomic with respect to concurrent callers, so two
// workers racing on the same URL produce exactly one frontier entry. Admit
// never blocks: workers are producers as well as consumers, and a blocking
// admit would let a full queue strand the whole pool mid-send.
func (f *Frontier) Admit(ctx context.Context, entry crawler.FrontierEntry) (RejectReason, error) {
	if !crawler.IsFetchable(entry.URL) {
		return RejectInvalid, nil
	}
	normalized, err := crawler.NormalizeURL(entry.URL)
	if err != nil {
		return RejectInvalid, nil
	}
	entry.URL = normalized

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return RejectClosed, nil
	}
	if entry.Depth > f.cfg.MaxDepth {
		f.mu.Unlock()
		return RejectDepth, nil
	}
	if !f.cfg.AllowCrossDomain {
		if _, ok := f.allowed[crawler.Domain(entry.URL)]; !ok {
			f.mu.Unlock()
			return RejectDomain, nil
		}
	}
	if f.cfg.MaxPages > 0 && f.admitted >= f.cfg.MaxPages {
		f.mu.Unlock()
		return RejectMaxPages, nil
	}
	if _, seen := f.visited[entry.URL]; seen {
		f.mu.Unlock()
		return RejectVisited, nil
	}
	f.visited[entry.URL] = struct{}{}
	f.admitted++
	f.outstanding++
	select {
	case f.ch <- entry:
	default:
		f.overflow = append(f.overflow, entry)
	}
	f.mu.Unlock()
	return RejectNone, nil
}

// Dequeue blocks until an entry is available, the frontier closes, or the
// context ends.
func (f *Frontier) Dequeue(ctx context.Context) (crawler.FrontierEntry, error) {
	select {
	case <-ctx.Done():
		return crawler.FrontierEntry{}, fmt.Errorf("frontier dequeue: %w", ctx.Err())
	case entry, ok := <-f.ch:
		if !ok {
			return crawler.FrontierEntry{}, ErrClosed
		}
		f.refill()
		return entry, nil
	}
}

// refill moves overflow entries into the slots dequeues free up. Overflow
// entries count as outstanding, so the channel cannot close underneath a
// pending refill.
func (f *Frontier) refill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.overflow) > 0 && !f.closed {
		select {
		case f.ch <- f.overflow[0]:
			f.overflow = f.overflow[1:]
		default:
			return
		}
	}
}

// TaskDone marks one dequeued entry as fully processed, including any child
// admissions it performed. When no entries remain queued or in flight the
// frontier closes: that is the run's termination fixed point.
func (f *Frontier) TaskDone() {
	f.taskDone()
}

func (f *Frontier) taskDone() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outstanding > 0 {
		f.outstanding--
	}
	if f.outstanding == 0 && !f.closed {
		f.closed = true
		close(f.ch)
		f.logger.Debug("frontier drained", zap.Int("admitted", f.admitted))
	}
}

// Close stops admission and releases blocked dequeues. Safe to call more
// than once.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}

// Admitted returns how many entries have ever been admitted.
func (f *Frontier) Admitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admitted
}

// VisitedCount returns the size of the visited set.
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}
