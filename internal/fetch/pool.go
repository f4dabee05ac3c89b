// Package fetch performs the engine's network I/O through a fixed pool of
// independent HTTP clients.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/contentcollector/collector/internal/crawler"
)

// Config sizes the client pool. ClientCount is deliberately distinct from the
// engine's worker count: it bounds connection concurrency, not task
// concurrency.
type Config struct {
	ClientCount     int
	MaxConnections  int
	MaxConnsPerHost int
	Timeout         time.Duration
	UserAgent       string
	MaxBodyBytes    int64
}

func (c Config) withDefaults() Config {
	if c.ClientCount <= 0 {
		c.ClientCount = 1
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = c.ClientCount * 20
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "content-collector/1.0"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	return c
}

// Pool is a round-robin balanced set of HTTP clients implementing
// crawler.Fetcher. Each client owns its transport so unrelated domains never
// serialize on one connection pool.
type Pool struct {
	cfg     Config
	clients []*http.Client
	next    atomic.Uint64
	logger  *zap.Logger
}

// NewPool constructs the client pool. Sizes are fixed for the lifetime of
// the pool.
func NewPool(cfg Config, logger *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	perClient := cfg.MaxConnections / cfg.ClientCount
	if perClient < 1 {
		perClient = 1
	}

	clients := make([]*http.Client, cfg.ClientCount)
	for i := range clients {
		transport := &http.Transport{
			MaxIdleConns:        perClient,
			MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
			MaxConnsPerHost:     cfg.MaxConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
		clients[i] = &http.Client{Transport: transport}
	}

	logger.Debug("fetcher pool initialised",
		zap.Int("clients", cfg.ClientCount),
		zap.Int("max_connections", cfg.MaxConnections),
	)

	return &Pool{cfg: cfg, clients: clients, logger: logger}
}

// Fetch issues the request through the next client in the rotation. The
// request is bounded by the configured timeout and the error, if any, comes
// back classified.
func (p *Pool) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	client := p.clients[p.next.Add(1)%uint64(len(p.clients))]

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, request.URL, nil)
	if err != nil {
		return crawler.FetchResponse{}, crawler.NewFetchError(crawler.ErrKindConnection, request.URL, 0, err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for key, values := range request.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		kind := crawler.ClassifyError(err)
		// The parent context is intact, so a deadline here is our own timeout.
		if kind == crawler.ErrKindCanceled && ctx.Err() == nil {
			kind = crawler.ErrKindTimeout
		}
		return crawler.FetchResponse{}, crawler.NewFetchError(kind, request.URL, 0, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes))
	if err != nil {
		kind := crawler.ClassifyError(err)
		return crawler.FetchResponse{}, crawler.NewFetchError(kind, request.URL, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	return crawler.FetchResponse{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Elapsed:    time.Since(start),
	}, nil
}

// Close shuts down idle connections across all clients.
func (p *Pool) Close() {
	for _, c := range p.clients {
		if t, ok := c.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}
