package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contentcollector/collector/internal/crawler"
)

const sampleDoc = `<!doctype html>
<html>
<head>
  <title> Widgets Weekly </title>
  <meta name="description" content="All about widgets.">
  <meta property="og:description" content="og fallback">
  <script>window.analytics = true;</script>
</head>
<body>
  <nav><a href="/nav-link">Nav</a>ignore this text</nav>
  <h1>Widgets</h1>
  <h2>Sprockets</h2>
  <h2>Cogs</h2>
  <p>Main article body text.</p>
  <a href="/about">About</a>
  <a href="https://other.test/page#section">External</a>
  <a href="mailto:team@widgets.test">Mail</a>
  <a href="javascript:void(0)">JS</a>
  <a href="#top">Top</a>
  <a href="/about">Duplicate</a>
  <form action="/search"></form>
  <div data-href="/promoted">Promo</div>
  <footer>Footer boilerplate</footer>
</body>
</html>`

func TestParse_ExtractsStructuredContent(t *testing.T) {
	t.Parallel()

	content, err := New().Parse([]byte(sampleDoc), "text/html; charset=utf-8", "https://widgets.test/index")
	require.NoError(t, err)

	require.Equal(t, "Widgets Weekly", content.Title)
	require.Equal(t, "All about widgets.", content.MetaDescription)
	require.Equal(t, []string{"Widgets"}, content.Headings["h1"])
	require.Equal(t, []string{"Sprockets", "Cogs"}, content.Headings["h2"])
	require.NotEmpty(t, content.ContentHash)
	require.Len(t, content.ContentHash, 64)
}

func TestParse_LinkExtraction(t *testing.T) {
	t.Parallel()

	content, err := New().Parse([]byte(sampleDoc), "text/html", "https://widgets.test/index")
	require.NoError(t, err)

	require.Equal(t, []string{
		"https://widgets.test/nav-link",
		"https://widgets.test/about",
		"https://other.test/page#section",
		"https://widgets.test/search",
		"https://widgets.test/promoted",
	}, content.Links)
}

func TestParse_TextPreviewStripsChrome(t *testing.T) {
	t.Parallel()

	content, err := New().Parse([]byte(sampleDoc), "text/html", "https://widgets.test/")
	require.NoError(t, err)

	require.Contains(t, content.TextPreview, "Main article body text.")
	require.NotContains(t, content.TextPreview, "window.analytics")
	require.NotContains(t, content.TextPreview, "ignore this text")
	require.NotContains(t, content.TextPreview, "Footer boilerplate")
}

func TestParse_PreviewCapped(t *testing.T) {
	t.Parallel()

	p := New()
	p.PreviewBytes = 32
	long := "<html><body><p>" + strings.Repeat("word ", 100) + "</p></body></html>"
	content, err := p.Parse([]byte(long), "text/html", "https://a.test/")
	require.NoError(t, err)
	require.LessOrEqual(t, len(content.TextPreview), 32)
}

func TestParse_NonHTMLHashOnly(t *testing.T) {
	t.Parallel()

	body := []byte(`{"not": "html"}`)
	content, err := New().Parse(body, "application/json", "https://a.test/data")
	require.NoError(t, err)
	require.Empty(t, content.Title)
	require.Empty(t, content.Links)
	require.Equal(t, HashContent(body), content.ContentHash)
}

func TestParse_MissingDescriptionFallsBackToOG(t *testing.T) {
	t.Parallel()

	doc := `<html><head><meta property="og:description" content="from og"></head><body></body></html>`
	content, err := New().Parse([]byte(doc), "text/html", "https://a.test/")
	require.NoError(t, err)
	require.Equal(t, "from og", content.MetaDescription)
}

func TestHashContent_Deterministic(t *testing.T) {
	t.Parallel()

	a := HashContent([]byte("same bytes"))
	b := HashContent([]byte("same bytes"))
	c := HashContent([]byte("other bytes"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestParse_ErrorKindIsParse(t *testing.T) {
	t.Parallel()

	// goquery tolerates malformed markup, so exercise the classification on
	// the error type directly.
	err := crawler.NewFetchError(crawler.ErrKindParse, "https://a.test/", 0, errors.New("bad tree"))
	require.Equal(t, crawler.ErrKindParse, crawler.KindOf(err))
	require.False(t, crawler.ErrKindParse.Retryable())
}
