// Package engine runs the crawl: it seeds the frontier, drives the worker
// pool, and owns per-URL retry and circuit breaker interplay.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/contentcollector/collector/internal/crawler"
	"github.com/contentcollector/collector/internal/frontier"
	"github.com/contentcollector/collector/internal/lineage"
	"github.com/contentcollector/collector/internal/metrics"
	"github.com/contentcollector/collector/internal/ratelimit"
	"github.com/contentcollector/collector/internal/retry"
)

// lastErrorSuspended marks pages skipped because their domain's breaker was
// open with no recovery in sight.
const lastErrorSuspended = "domain_suspended"

// Config fixes the shape of a run. All pool sizes derive from the mode at
// start and never change mid-run.
type Config struct {
	Mode             crawler.PerformanceMode
	MaxDepth         int
	MaxPages         int
	AllowCrossDomain bool
	InputFile        string

	Retry     retry.Config
	RateLimit ratelimit.Config
}

// Deps are the collaborators the engine drives. Store, Fetcher, Parser,
// Clock, and IDs are required; Headless plus Detector are optional and
// enable browser promotion when both are set.
type Deps struct {
	Store     crawler.PageStore
	Artifacts crawler.ArtifactStore
	Fetcher   crawler.Fetcher
	Headless  crawler.Fetcher
	Detector  crawler.HeadlessDetector
	Parser    crawler.Parser
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Logger    *zap.Logger
}

// Engine executes crawl runs. One engine may execute runs sequentially;
// run-scoped state lives on the stack of Run.
type Engine struct {
	cfg      Config
	deps     Deps
	settings crawler.ModeSettings
	logger   *zap.Logger
}

// New validates dependencies and resolves the performance mode.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("engine: page store is required")
	case deps.Artifacts == nil:
		return nil, errors.New("engine: artifact store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("engine: fetcher is required")
	case deps.Parser == nil:
		return nil, errors.New("engine: parser is required")
	case deps.Clock == nil:
		return nil, errors.New("engine: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("engine: id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	metrics.Init()

	settings := crawler.SettingsForMode(cfg.Mode)
	if cfg.RateLimit.Delay <= 0 {
		cfg.RateLimit.Delay = settings.RateDelay
	}

	return &Engine{cfg: cfg, deps: deps, settings: settings, logger: deps.Logger}, nil
}

// Run crawls from the seeds until the frontier drains, returning the final
// counters. Per-URL failures never abort the run; the returned error covers
// run-level faults such as store unavailability or cancellation.
func (e *Engine) Run(ctx context.Context, seeds []crawler.SeedEntry) (lineage.Snapshot, error) {
	runID, err := e.deps.IDs.NewID()
	if err != nil {
		return lineage.Snapshot{}, fmt.Errorf("generate run id: %w", err)
	}

	now := e.deps.Clock.Now()
	run := crawler.Run{
		ID:        runID,
		InputFile: e.cfg.InputFile,
		Status:    crawler.RunStatusRunning,
		MaxDepth:  e.cfg.MaxDepth,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.deps.Store.CreateRun(ctx, run); err != nil {
		return lineage.Snapshot{}, fmt.Errorf("create run: %w", err)
	}

	front := frontier.New(frontier.Config{
		MaxDepth:         e.cfg.MaxDepth,
		MaxPages:         e.cfg.MaxPages,
		AllowCrossDomain: e.cfg.AllowCrossDomain,
	}, e.logger)
	limiter := ratelimit.New(e.cfg.RateLimit, e.logger)
	policy := retry.New(e.cfg.Retry)
	stats := &lineage.Stats{}
	tracker := lineage.New(runID, e.deps.Store, e.deps.Artifacts, front, e.deps.Clock, e.deps.IDs, e.logger, stats)

	seeded := e.seed(ctx, front, seeds)
	if seeded == 0 {
		front.Close()
		_ = e.deps.Store.UpdateRunStatus(ctx, runID, crawler.RunStatusFailed, "no seeds admitted")
		return stats.Snapshot(), errors.New("no seeds admitted")
	}
	if err := e.deps.Store.UpdateRunTotals(ctx, runID, seeded); err != nil {
		e.logger.Warn("update run totals", zap.Error(err))
	}

	e.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("mode", string(e.cfg.Mode)),
		zap.Int("workers", e.settings.Workers),
		zap.Int("seeds", seeded),
	)

	reporterDone := make(chan struct{})
	go e.reportStats(front, stats, reporterDone)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.settings.Workers; i++ {
		g.Go(func() error {
			return e.workerLoop(gctx, front, limiter, policy, tracker)
		})
	}
	runErr := g.Wait()
	close(reporterDone)
	front.Close()

	snapshot := stats.Snapshot()
	status := crawler.RunStatusCompleted
	errText := ""
	if runErr != nil {
		status = crawler.RunStatusFailed
		errText = runErr.Error()
	}
	if err := e.deps.Store.UpdateRunStatus(ctx, runID, status, errText); err != nil {
		e.logger.Warn("update run status", zap.Error(err))
	}
	if err := e.deps.Store.UpdateRunTotals(ctx, runID, front.Admitted()); err != nil {
		e.logger.Warn("update run totals", zap.Error(err))
	}

	e.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Int64("succeeded", snapshot.Succeeded),
		zap.Int64("failed", snapshot.Failed),
		zap.Int64("bytes", snapshot.Bytes),
	)
	return snapshot, runErr
}

// seed admits the input URLs at depth zero and derives the allowed-domain
// set from them.
func (e *Engine) seed(ctx context.Context, front *frontier.Frontier, seeds []crawler.SeedEntry) int {
	admitted := 0
	for _, seed := range seeds {
		if normalized, err := crawler.NormalizeURL(seed.URL); err == nil {
			front.AllowDomain(crawler.Domain(normalized))
		}
		entry := crawler.FrontierEntry{URL: seed.URL, Depth: 0, DiscoveredAt: e.deps.Clock.Now()}
		reason, err := front.Admit(ctx, entry)
		if err != nil {
			return admitted
		}
		if reason != frontier.RejectNone {
			e.logger.Debug("seed rejected", zap.String("url", seed.URL), zap.String("reason", string(reason)))
			metrics.ObserveRejection(string(reason))
			continue
		}
		admitted++
	}
	return admitted
}

func (e *Engine) workerLoop(
	ctx context.Context,
	front *frontier.Frontier,
	limiter *ratelimit.Limiter,
	policy *retry.Policy,
	tracker *lineage.Tracker,
) error {
	for {
		entry, err := front.Dequeue(ctx)
		if errors.Is(err, frontier.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		metrics.IncActiveWorkers()
		e.process(ctx, entry, limiter, policy, tracker)
		metrics.DecActiveWorkers()
		front.TaskDone()
	}
}

// process drives one frontier entry to a terminal outcome: a success record,
// a failure record, or silence when the run itself is shutting down.
func (e *Engine) process(
	ctx context.Context,
	entry crawler.FrontierEntry,
	limiter *ratelimit.Limiter,
	policy *retry.Policy,
	tracker *lineage.Tracker,
) {
	domain := crawler.Domain(entry.URL)
	attempts := 0
	var lastStatus int
	var lastKind crawler.ErrorKind

	for {
		if err := limiter.Acquire(ctx, domain); err != nil {
			if errors.Is(err, ratelimit.ErrDomainSuspended) {
				// A suspension mid-retry keeps the error that drove the entry
				// there; only entries that never fetched record the suspension.
				status, lastError := 0, lastErrorSuspended
				if lastKind != "" {
					status, lastError = lastStatus, string(lastKind)
				}
				e.recordFailure(ctx, tracker, entry, status, lastError, attempts)
				return
			}
			return
		}

		attempts++
		tracker.Stats().AddFetched()
		resp, kind := e.fetchOnce(ctx, entry)

		if kind == "" {
			limiter.Report(domain, true)
			metrics.ObserveFetchDuration(domain, resp.Elapsed)
			e.handleSuccess(ctx, entry, resp, tracker, attempts-1)
			return
		}
		if kind == crawler.ErrKindCanceled {
			limiter.Cancel(domain)
			return
		}
		lastStatus, lastKind = resp.StatusCode, kind

		// Domain health only degrades on kinds that suggest the host is
		// struggling; a 404 is a healthy answer.
		limiter.Report(domain, !domainFailure(kind))

		decision := policy.Decide(attempts-1, kind)
		if !decision.Retry {
			e.recordFailure(ctx, tracker, entry, resp.StatusCode, string(kind), attempts)
			return
		}

		tracker.Stats().AddRetried()
		metrics.ObserveRetry(string(kind))
		e.logger.Debug("retrying fetch",
			zap.String("url", entry.URL),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempts),
			zap.Duration("delay", decision.Delay),
		)
		select {
		case <-time.After(decision.Delay):
		case <-ctx.Done():
			return
		}
	}
}

// fetchOnce performs a single fetch attempt, including optional headless
// promotion, and classifies the outcome. An empty kind means success.
func (e *Engine) fetchOnce(ctx context.Context, entry crawler.FrontierEntry) (crawler.FetchResponse, crawler.ErrorKind) {
	resp, err := e.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: entry.URL, Depth: entry.Depth})
	if err != nil {
		return crawler.FetchResponse{}, crawler.KindOf(err)
	}
	if kind := crawler.ClassifyStatus(resp.StatusCode); kind != "" {
		return resp, kind
	}

	if e.deps.Headless != nil && e.deps.Detector != nil && e.deps.Detector.ShouldPromote(resp) {
		metrics.ObserveHeadlessFetch()
		rendered, herr := e.deps.Headless.Fetch(ctx, crawler.FetchRequest{URL: entry.URL, Depth: entry.Depth})
		if herr == nil && crawler.ClassifyStatus(rendered.StatusCode) == "" {
			return rendered, ""
		}
		e.logger.Debug("headless promotion failed, keeping plain response",
			zap.String("url", entry.URL),
			zap.Error(herr),
		)
	}
	return resp, ""
}

func (e *Engine) handleSuccess(
	ctx context.Context,
	entry crawler.FrontierEntry,
	resp crawler.FetchResponse,
	tracker *lineage.Tracker,
	retries int,
) {
	content, err := e.deps.Parser.Parse(resp.Body, resp.Headers.Get("Content-Type"), resp.URL)
	if err != nil {
		// Parse failures are terminal: record the page, admit nothing.
		e.recordFailure(ctx, tracker, entry, resp.StatusCode, string(crawler.ErrKindParse), retries)
		return
	}

	if _, err := tracker.RecordSuccess(ctx, entry, resp, content, retries); err != nil {
		e.logger.Error("record page", zap.String("url", entry.URL), zap.Error(err))
		tracker.Stats().AddFailed()
		return
	}
	metrics.ObservePage(crawler.Domain(entry.URL), resp.StatusCode, len(resp.Body))
}

func (e *Engine) recordFailure(
	ctx context.Context,
	tracker *lineage.Tracker,
	entry crawler.FrontierEntry,
	status int,
	lastError string,
	retries int,
) {
	if _, err := tracker.RecordFailure(ctx, entry, status, lastError, retries); err != nil {
		e.logger.Error("record failure", zap.String("url", entry.URL), zap.Error(err))
		return
	}
	metrics.ObservePage(crawler.Domain(entry.URL), status, 0)
	e.logger.Warn("page failed",
		zap.String("url", entry.URL),
		zap.String("last_error", lastError),
		zap.Int("retries", retries),
	)
}

// domainFailure reports whether an error kind should count against the
// domain's circuit breaker. Client errors are answers, not outages.
func domainFailure(kind crawler.ErrorKind) bool {
	switch kind {
	case crawler.ErrKindTimeout, crawler.ErrKindConnection, crawler.ErrKindServerError, crawler.ErrKindRateLimited:
		return true
	default:
		return false
	}
}

// reportStats logs counters at the mode's cadence until the run ends.
func (e *Engine) reportStats(front *frontier.Frontier, stats *lineage.Stats, done <-chan struct{}) {
	ticker := time.NewTicker(e.settings.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snap := stats.Snapshot()
			metrics.SetFrontierAdmitted(front.Admitted())
			e.logger.Info("crawl progress",
				zap.Int64("fetched", snap.Fetched),
				zap.Int64("succeeded", snap.Succeeded),
				zap.Int64("failed", snap.Failed),
				zap.Int64("retried", snap.Retried),
				zap.Int64("rejected", snap.Rejected),
				zap.Int64("bytes", snap.Bytes),
				zap.Int("admitted", front.Admitted()),
			)
		}
	}
}
