// Package parser extracts structured content and outbound links from fetched
// HTML documents.
package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/contentcollector/collector/internal/crawler"
)

// HTML parses documents with goquery. It is stateless and safe for
// concurrent use.
type HTML struct {
	// PreviewBytes caps the extracted text preview.
	PreviewBytes int
}

// New returns a parser with sensible extraction limits.
func New() *HTML {
	return &HTML{PreviewBytes: 10_000}
}

// chrome elements whose text is navigation noise, not page content.
var strippedSelectors = []string{"script", "style", "noscript", "nav", "footer", "aside"}

// Parse extracts title, description, headings, a text preview, and outbound
// links. Non-HTML content types yield only a content hash. A document that
// cannot be tokenized is a parse failure.
func (h *HTML) Parse(body []byte, contentType string, baseURL string) (crawler.ParsedContent, error) {
	content := crawler.ParsedContent{ContentHash: HashContent(body)}

	if contentType != "" && !strings.Contains(contentType, "html") && !strings.Contains(contentType, "xml") {
		return content, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.ParsedContent{}, crawler.NewFetchError(crawler.ErrKindParse, baseURL, 0, err)
	}

	content.Title = strings.TrimSpace(doc.Find("title").First().Text())
	content.MetaDescription = metaDescription(doc)
	content.Headings = headings(doc)
	content.TextPreview = h.textPreview(doc)
	content.Links = outboundLinks(doc, baseURL)
	return content, nil
}

// HashContent returns the hex sha256 of the raw body, the basis for
// content-level deduplication.
func HashContent(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func metaDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok && strings.TrimSpace(desc) != "" {
		return strings.TrimSpace(desc)
	}
	if desc, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	return ""
}

func headings(doc *goquery.Document) map[string][]string {
	out := make(map[string][]string, 3)
	for _, level := range []string{"h1", "h2", "h3"} {
		doc.Find(level).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				out[level] = append(out[level], text)
			}
		})
	}
	return out
}

func (h *HTML) textPreview(doc *goquery.Document) string {
	clone := doc.Selection.Clone()
	for _, sel := range strippedSelectors {
		clone.Find(sel).Remove()
	}
	text := strings.Join(strings.Fields(clone.Text()), " ")
	if h.PreviewBytes > 0 && len(text) > h.PreviewBytes {
		text = text[:h.PreviewBytes]
	}
	return text
}

// outboundLinks collects candidate URLs from anchors, form actions, and
// data-href attributes, resolved against the document URL. Unfetchable
// schemes and fragments are dropped; order of first appearance is kept.
func outboundLinks(doc *goquery.Document, baseURL string) []string {
	var links []string
	seen := make(map[string]struct{})

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			return
		}
		resolved := crawler.ResolveRelative(baseURL, raw)
		if !crawler.IsFetchable(resolved) {
			return
		}
		if _, ok := seen[resolved]; ok {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			add(href)
		}
	})
	doc.Find("form[action]").Each(func(_ int, s *goquery.Selection) {
		if action, ok := s.Attr("action"); ok {
			add(action)
		}
	})
	doc.Find("[data-href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("data-href"); ok {
			add(href)
		}
	})
	return links
}
