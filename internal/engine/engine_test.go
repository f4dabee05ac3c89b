package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/contentcollector/collector/internal/crawler"
	"github.com/contentcollector/collector/internal/parser"
	"github.com/contentcollector/collector/internal/ratelimit"
	"github.com/contentcollector/collector/internal/retry"
)

type memStore struct {
	mu       sync.Mutex
	runs     map[string]crawler.Run
	statuses map[string]crawler.RunStatus
	totals   map[string]int
	pages    []crawler.PageRecord
}

func newMemStore() *memStore {
	return &memStore{
		runs:     make(map[string]crawler.Run),
		statuses: make(map[string]crawler.RunStatus),
		totals:   make(map[string]int),
	}
}

func (m *memStore) CreateRun(_ context.Context, run crawler.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	m.statuses[run.ID] = run.Status
	return nil
}

func (m *memStore) UpdateRunStatus(_ context.Context, runID string, status crawler.RunStatus, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[runID] = status
	return nil
}

func (m *memStore) UpdateRunTotals(_ context.Context, runID string, totalURLs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[runID] = totalURLs
	return nil
}

func (m *memStore) WritePage(_ context.Context, page crawler.PageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append(m.pages, page)
	return nil
}

func (m *memStore) pageByURL(url string) (crawler.PageRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pages {
		if p.URL == url {
			return p, true
		}
	}
	return crawler.PageRecord{}, false
}

type memArtifacts struct {
	mu     sync.Mutex
	writes int
}

func (m *memArtifacts) Write(_ context.Context, pageID, kind string, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	return "/artifacts/" + pageID + "/" + kind, nil
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]crawler.FetchResponse
	errs      map[string]error
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]crawler.FetchResponse),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *fakeFetcher) page(url, body string) {
	f.responses[url] = crawler.FetchResponse{
		URL:        url,
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(body),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	if err, ok := f.errs[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	if resp, ok := f.responses[req.URL]; ok {
		return resp, nil
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 404, Headers: http.Header{}}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type testClock struct{}

func (testClock) Now() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%04d", s.n), nil
}

func fastConfig() Config {
	return Config{
		Mode:     crawler.ModeBalanced,
		MaxDepth: 2,
		MaxPages: 50,
		Retry:    retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond},
		RateLimit: ratelimit.Config{
			Delay:            time.Millisecond,
			FailureThreshold: 100,
			Cooldown:         time.Minute,
		},
	}
}

func newTestEngine(t *testing.T, cfg Config, fetcher crawler.Fetcher) (*Engine, *memStore) {
	t.Helper()
	store := newMemStore()
	eng, err := New(cfg, Deps{
		Store:     store,
		Artifacts: &memArtifacts{},
		Fetcher:   fetcher,
		Parser:    parser.New(),
		Clock:     testClock{},
		IDs:       &seqIDs{},
	})
	require.NoError(t, err)
	return eng, store
}

func TestRun_CrawlsGraphToCompletion(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.page("https://site.test/", `<html><body><a href="/a">A</a> <a href="/b">B</a></body></html>`)
	fetcher.page("https://site.test/a", `<html><body><a href="/c">C</a></body></html>`)
	fetcher.page("https://site.test/b", `<html><body>leaf</body></html>`)
	fetcher.page("https://site.test/c", `<html><body>too deep</body></html>`)

	cfg := fastConfig()
	cfg.MaxDepth = 1
	eng, store := newTestEngine(t, cfg, fetcher)

	snap, err := eng.Run(context.Background(), []crawler.SeedEntry{{URL: "https://site.test/"}})
	require.NoError(t, err)

	require.Equal(t, int64(3), snap.Succeeded)
	require.Equal(t, int64(0), snap.Failed)
	require.Len(t, store.pages, 3)
	require.Equal(t, 0, fetcher.callCount("https://site.test/c"))

	root, ok := store.pageByURL("https://site.test/")
	require.True(t, ok)
	require.Equal(t, 0, root.Depth)
	require.Empty(t, root.ParentID)

	child, ok := store.pageByURL("https://site.test/a")
	require.True(t, ok)
	require.Equal(t, 1, child.Depth)
	require.Equal(t, root.ID, child.ParentID)

	require.Equal(t, crawler.RunStatusCompleted, store.statuses[root.RunID])
	require.Equal(t, 3, store.totals[root.RunID])
}

func TestRun_SharedLinkFetchedOnce(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.page("https://site.test/", `<a href="/a">A</a><a href="/b">B</a>`)
	fetcher.page("https://site.test/a", `<a href="/shared">S</a>`)
	fetcher.page("https://site.test/b", `<a href="/shared">S</a>`)
	fetcher.page("https://site.test/shared", `<p>once</p>`)

	eng, store := newTestEngine(t, fastConfig(), fetcher)

	_, err := eng.Run(context.Background(), []crawler.SeedEntry{{URL: "https://site.test/"}})
	require.NoError(t, err)

	require.Equal(t, 1, fetcher.callCount("https://site.test/shared"))
	require.Len(t, store.pages, 4)
}

func TestRun_TimeoutsExhaustRetries(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.errs["https://site.test/slow"] = crawler.NewFetchError(crawler.ErrKindTimeout, "https://site.test/slow", 0, context.DeadlineExceeded)

	cfg := fastConfig()
	cfg.Retry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	eng, store := newTestEngine(t, cfg, fetcher)

	snap, err := eng.Run(context.Background(), []crawler.SeedEntry{{URL: "https://site.test/slow"}})
	require.NoError(t, err)

	require.Equal(t, int64(1), snap.Failed)
	require.Equal(t, int64(3), snap.Fetched)
	require.Equal(t, int64(2), snap.Retried)

	page, ok := store.pageByURL("https://site.test/slow")
	require.True(t, ok)
	require.Equal(t, 3, page.RetryCount)
	require.Equal(t, "timeout", page.LastError)
	require.Empty(t, page.Artifacts.Raw)
	require.Equal(t, crawler.RunStatusCompleted, store.statuses[page.RunID])
}

func TestRun_ClientErrorTerminalWithoutRetry(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	// Unknown URLs 404 by default.

	cfg := fastConfig()
	cfg.Retry = retry.Config{MaxAttempts: 5, BaseDelay: time.Millisecond}
	eng, store := newTestEngine(t, cfg, fetcher)

	snap, err := eng.Run(context.Background(), []crawler.SeedEntry{{URL: "https://site.test/missing"}})
	require.NoError(t, err)

	require.Equal(t, int64(1), snap.Failed)
	require.Equal(t, int64(0), snap.Retried)
	require.Equal(t, 1, fetcher.callCount("https://site.test/missing"))

	page, ok := store.pageByURL("https://site.test/missing")
	require.True(t, ok)
	require.Equal(t, "http_4xx", page.LastError)
	require.Equal(t, 404, page.StatusCode)
}

func TestRun_SuspendedDomainSkipsRemainingURLs(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	for _, u := range []string{"https://down.test/1", "https://down.test/2", "https://down.test/3"} {
		fetcher.errs[u] = crawler.NewFetchError(crawler.ErrKindConnection, u, 0, fmt.Errorf("connrefused"))
	}

	cfg := fastConfig()
	cfg.RateLimit = ratelimit.Config{Delay: 80 * time.Millisecond, FailureThreshold: 1, Cooldown: time.Minute}
	eng, store := newTestEngine(t, cfg, fetcher)

	snap, err := eng.Run(context.Background(), []crawler.SeedEntry{
		{URL: "https://down.test/1"},
		{URL: "https://down.test/2"},
		{URL: "https://down.test/3"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), snap.Failed)

	suspended := 0
	connection := 0
	store.mu.Lock()
	for _, p := range store.pages {
		switch p.LastError {
		case lastErrorSuspended:
			suspended++
		case "connection":
			connection++
		}
	}
	store.mu.Unlock()
	require.Equal(t, 1, connection)
	require.Equal(t, 2, suspended)
}

func TestRun_UnlimitedPagesWideFanOutTerminates(t *testing.T) {
	t.Parallel()

	// MaxPages 0 removes the page cap, so the frontier must absorb a fan-out
	// far wider than its queue without the workers wedging as producers.
	fetcher := newFakeFetcher()
	const mids, leaves = 40, 40
	var seedBody string
	for i := 0; i < mids; i++ {
		mid := fmt.Sprintf("https://m%02d.test/", i)
		seedBody += fmt.Sprintf(`<a href="%s">m</a>`, mid)
		var midBody string
		for j := 0; j < leaves; j++ {
			midBody += fmt.Sprintf(`<a href="/leaf%02d">l</a>`, j)
		}
		fetcher.page(mid, midBody)
	}
	fetcher.page("https://site.test/", seedBody)
	// Leaves are unknown URLs and 404 terminally.

	cfg := fastConfig()
	cfg.MaxPages = 0
	cfg.MaxDepth = 2
	cfg.AllowCrossDomain = true
	eng, store := newTestEngine(t, cfg, fetcher)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := eng.Run(ctx, []crawler.SeedEntry{{URL: "https://site.test/"}})
	require.NoError(t, err)

	require.Equal(t, int64(1+mids), snap.Succeeded)
	require.Equal(t, int64(mids*leaves), snap.Failed)
	require.Len(t, store.pages, 1+mids+mids*leaves)
}

func TestRun_SuspensionKeepsLastFetchError(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.errs["https://down.test/only"] = crawler.NewFetchError(crawler.ErrKindConnection, "https://down.test/only", 0, fmt.Errorf("connrefused"))

	cfg := fastConfig()
	cfg.Retry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}
	cfg.RateLimit = ratelimit.Config{Delay: time.Millisecond, FailureThreshold: 1, Cooldown: time.Minute}
	eng, store := newTestEngine(t, cfg, fetcher)

	snap, err := eng.Run(context.Background(), []crawler.SeedEntry{{URL: "https://down.test/only"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Failed)
	require.Equal(t, int64(1), snap.Fetched)

	// The first attempt opened the circuit; the retry hit the suspension.
	// The record keeps the connection error, not the suspension marker.
	page, ok := store.pageByURL("https://down.test/only")
	require.True(t, ok)
	require.Equal(t, "connection", page.LastError)
	require.Equal(t, 1, page.RetryCount)
}

func TestRun_HeadlessPromotion(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.responses["https://spa.test/"] = crawler.FetchResponse{
		URL:        "https://spa.test/",
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       nil,
	}

	rendered := newFakeFetcher()
	rendered.page("https://spa.test/", `<html><head><title>Rendered</title></head><body>content</body></html>`)

	store := newMemStore()
	eng, err := New(fastConfig(), Deps{
		Store:     store,
		Artifacts: &memArtifacts{},
		Fetcher:   fetcher,
		Headless:  rendered,
		Detector:  promoteEmpty{},
		Parser:    parser.New(),
		Clock:     testClock{},
		IDs:       &seqIDs{},
	})
	require.NoError(t, err)

	snap, runErr := eng.Run(context.Background(), []crawler.SeedEntry{{URL: "https://spa.test/"}})
	require.NoError(t, runErr)
	require.Equal(t, int64(1), snap.Succeeded)

	page, ok := store.pageByURL("https://spa.test/")
	require.True(t, ok)
	require.Equal(t, "Rendered", page.Title)
	require.Equal(t, 1, rendered.callCount("https://spa.test/"))
}

type promoteEmpty struct{}

func (promoteEmpty) ShouldPromote(resp crawler.FetchResponse) bool {
	return len(resp.Body) == 0
}

func TestRun_NoSeedsFailsRun(t *testing.T) {
	t.Parallel()

	eng, store := newTestEngine(t, fastConfig(), newFakeFetcher())

	_, err := eng.Run(context.Background(), []crawler.SeedEntry{{URL: "not a url"}})
	require.Error(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.statuses, 1)
	for _, status := range store.statuses {
		require.Equal(t, crawler.RunStatusFailed, status)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}
