package input

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contentcollector/collector/internal/crawler"
)

const (
	defaultSitemapMaxURLs = 5000
	sitemapMaxNesting     = 3
	sitemapFetchTimeout   = 30 * time.Second
	sitemapMaxBytes       = 50 << 20
)

// SitemapExpander replaces seeds that point at an XML sitemap with the page
// URLs the sitemap lists, following sitemap indexes and gzip-compressed
// files. Page seeds pass through untouched.
type SitemapExpander struct {
	client    *http.Client
	userAgent string
	maxURLs   int
	logger    *zap.Logger
}

// SitemapOption adjusts expander behaviour.
type SitemapOption func(*SitemapExpander)

// WithSitemapMaxURLs caps how many page URLs one sitemap seed may expand to.
func WithSitemapMaxURLs(n int) SitemapOption {
	return func(e *SitemapExpander) {
		if n > 0 {
			e.maxURLs = n
		}
	}
}

// NewSitemapExpander creates an expander. A nil client gets a default with a
// conservative timeout.
func NewSitemapExpander(client *http.Client, userAgent string, logger *zap.Logger, opts ...SitemapOption) *SitemapExpander {
	if client == nil {
		client = &http.Client{Timeout: sitemapFetchTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &SitemapExpander{
		client:    client,
		userAgent: userAgent,
		maxURLs:   defaultSitemapMaxURLs,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsSitemapURL reports whether a URL names an XML sitemap rather than a
// page: an .xml or .xml.gz path whose file name mentions "sitemap".
func IsSitemapURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	name := strings.ToLower(path.Base(u.Path))
	name = strings.TrimSuffix(name, ".gz")
	return strings.HasSuffix(name, ".xml") && strings.Contains(name, "sitemap")
}

// Expand resolves sitemap seeds into page seeds. Unreadable sitemaps are
// dropped with a warning; duplicates keep their first occurrence. Expanded
// entries inherit the sitemap seed's description.
func (e *SitemapExpander) Expand(ctx context.Context, seeds []crawler.SeedEntry) []crawler.SeedEntry {
	var out []crawler.SeedEntry
	seen := make(map[string]struct{})
	add := func(entry crawler.SeedEntry) {
		normalized, err := crawler.NormalizeURL(entry.URL)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		entry.URL = normalized
		out = append(out, entry)
	}

	for _, seed := range seeds {
		if !IsSitemapURL(seed.URL) {
			add(seed)
			continue
		}
		urls, err := e.discover(ctx, seed.URL, 0)
		if err != nil {
			e.logger.Warn("dropping unreadable sitemap seed", zap.String("url", seed.URL), zap.Error(err))
			continue
		}
		e.logger.Info("sitemap seed expanded", zap.String("url", seed.URL), zap.Int("urls", len(urls)))
		for _, loc := range urls {
			if !crawler.IsFetchable(loc) {
				continue
			}
			add(crawler.SeedEntry{URL: loc, Description: seed.Description})
		}
	}
	return out
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type urlSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

func (e *SitemapExpander) discover(ctx context.Context, sitemapURL string, nesting int) ([]string, error) {
	if nesting > sitemapMaxNesting {
		return nil, fmt.Errorf("sitemap nested deeper than %d", sitemapMaxNesting)
	}
	body, err := e.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	if isSitemapIndex(body) {
		var index sitemapIndex
		if err := xml.Unmarshal(body, &index); err != nil {
			return nil, fmt.Errorf("parse sitemap index: %w", err)
		}
		var urls []string
		for _, child := range index.Sitemaps {
			loc := strings.TrimSpace(child.Loc)
			if loc == "" {
				continue
			}
			childURLs, err := e.discover(ctx, loc, nesting+1)
			if err != nil {
				e.logger.Warn("skipping sitemap index entry", zap.String("url", loc), zap.Error(err))
				continue
			}
			urls = append(urls, childURLs...)
			if len(urls) >= e.maxURLs {
				return urls[:e.maxURLs], nil
			}
		}
		return urls, nil
	}

	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" {
			continue
		}
		urls = append(urls, loc)
		if len(urls) >= e.maxURLs {
			break
		}
	}
	return urls, nil
}

func (e *SitemapExpander) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build sitemap request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sitemap: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, sitemapMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read sitemap: %w", err)
	}
	if strings.HasSuffix(rawURL, ".gz") || resp.Header.Get("Content-Encoding") == "gzip" {
		// A mislabeled plain XML body stays as-is.
		if unzipped, gerr := gunzip(body); gerr == nil {
			body = unzipped
		}
	}
	return body, nil
}

func gunzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = gz.Close()
	}()
	return io.ReadAll(io.LimitReader(gz, sitemapMaxBytes))
}

func isSitemapIndex(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), "<sitemapindex")
}
