// Package headless fetches pages through a real browser so JavaScript-built
// DOMs come back fully rendered.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/contentcollector/collector/internal/crawler"
)

// Config controls the browser fetcher.
type Config struct {
	// MaxTabs bounds concurrent browser tabs. Zero means unbounded.
	MaxTabs   int
	UserAgent string
	// NavTimeout covers the whole navigate-and-render sequence.
	NavTimeout time.Duration
	// SettleDelay gives client scripts a beat after body readiness before the
	// DOM is captured.
	SettleDelay time.Duration
}

// Browser implements crawler.Fetcher on top of chromedp. One exec allocator
// is shared; each Fetch runs in its own tab.
type Browser struct {
	cfg    Config
	slots  chan struct{}
	alloc  context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// New starts the shared allocator. Callers must Close when done.
func New(cfg Config, logger *zap.Logger) *Browser {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var slots chan struct{}
	if cfg.MaxTabs > 0 {
		slots = make(chan struct{}, cfg.MaxTabs)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	alloc, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{cfg: cfg, slots: slots, alloc: alloc, cancel: cancel, logger: logger}
}

// Close tears down the allocator and any remaining browser processes.
func (b *Browser) Close() {
	b.cancel()
}

// Fetch renders the URL in a fresh tab and returns the post-JavaScript DOM.
func (b *Browser) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if b.slots != nil {
		select {
		case b.slots <- struct{}{}:
			defer func() { <-b.slots }()
		case <-ctx.Done():
			return crawler.FetchResponse{}, crawler.NewFetchError(crawler.ErrKindCanceled, request.URL, 0, ctx.Err())
		}
	}

	tabCtx, tabCancel := chromedp.NewContext(b.alloc)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavTimeout)
	defer cancel()

	var doc docResponse
	chromedp.ListenTarget(tabCtx, doc.onEvent)

	var (
		html     string
		finalURL string
	)
	start := time.Now()
	err := chromedp.Run(tabCtx,
		b.sessionSetup(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		kind := crawler.ClassifyError(err)
		if kind == crawler.ErrKindCanceled && ctx.Err() == nil {
			kind = crawler.ErrKindTimeout
		}
		return crawler.FetchResponse{}, crawler.NewFetchError(kind, request.URL, 0, fmt.Errorf("headless navigate: %w", err))
	}

	status, headers, url := doc.resolved(request.URL, finalURL)
	b.logger.Debug("headless fetch complete",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)),
	)

	return crawler.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Elapsed:      time.Since(start),
		UsedHeadless: true,
	}, nil
}

// sessionSetup enables the network domain and applies identity before the
// first navigation.
func (b *Browser) sessionSetup(extra http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("override user-agent: %w", err)
			}
		}
		if len(extra) == 0 {
			return nil
		}
		headers := network.Headers{}
		for key, values := range extra {
			if len(values) == 1 {
				headers[key] = values[0]
			} else if len(values) > 1 {
				headers[key] = append([]string(nil), values...)
			}
		}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

// docResponse records the main-document network response observed during
// navigation. Subresource responses are ignored.
type docResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *docResponse) onEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
	d.mu.Unlock()
}

// resolved returns the captured metadata, falling back to the browser's
// location and then the request URL when no document event arrived.
func (d *docResponse) resolved(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	url := d.url
	if url == "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}
