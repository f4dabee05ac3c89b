// Package detector decides when a plain HTTP response is too thin to trust
// and the URL should be re-fetched with a rendering browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/contentcollector/collector/internal/crawler"
)

// Heuristic promotes responses based on cheap byte-level signals: empty
// bodies, known SPA shell markers, and script-heavy short documents.
type Heuristic struct {
	minBodyBytes   int
	scriptSharePct int
}

// Option tweaks a Heuristic.
type Option func(*Heuristic)

// WithMinBodyBytes overrides the short-body threshold.
func WithMinBodyBytes(n int) Option {
	return func(h *Heuristic) { h.minBodyBytes = n }
}

// NewHeuristic builds the default rule set.
func NewHeuristic(opts ...Option) *Heuristic {
	h := &Heuristic{minBodyBytes: 2048, scriptSharePct: 25}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var shellMarkers = [][]byte{
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("__NEXT_DATA__"),
	[]byte("window.__NUXT__"),
	[]byte("ng-version="),
}

// ShouldPromote reports whether the response looks like an unrendered
// JavaScript shell. Non-200 responses are never promoted; retrying them in a
// browser would only repeat the failure slowly.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.UsedHeadless || resp.StatusCode != 200 {
		return false
	}
	if ct := resp.Headers.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return false
	}
	if len(resp.Body) == 0 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}
	return len(resp.Body) < h.minBodyBytes && h.scriptShare(resp.Body) >= h.scriptSharePct
}

// scriptShare returns the percentage of the document occupied by script
// elements, counting unterminated scripts through to the end of the body.
func (h *Heuristic) scriptShare(body []byte) int {
	doc := strings.ToLower(string(body))
	total := len(doc)
	covered := 0
	pos := 0
	for {
		open := strings.Index(doc[pos:], "<script")
		if open == -1 {
			break
		}
		start := pos + open
		end := strings.Index(doc[start:], "</script>")
		if end == -1 {
			covered += total - start
			break
		}
		covered += end + len("</script>")
		pos = start + end + len("</script>")
	}
	if total == 0 {
		return 0
	}
	return covered * 100 / total
}
