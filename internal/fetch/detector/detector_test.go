package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contentcollector/collector/internal/crawler"
)

func htmlResp(status int, body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func TestShouldPromote(t *testing.T) {
	t.Parallel()

	filler := strings.Repeat("<p>plenty of rendered words here</p>", 200)

	tests := []struct {
		name string
		resp crawler.FetchResponse
		want bool
	}{
		{"empty body", htmlResp(200, ""), true},
		{"react shell", htmlResp(200, `<html><body><div id="root"></div><script src="/b.js"></script></body></html>`), true},
		{"next marker", htmlResp(200, `<html><script id="__NEXT_DATA__" type="application/json">{}</script></html>`), true},
		{"script heavy short page", htmlResp(200, `<html><script>`+strings.Repeat("x", 600)+`</script><p>hi</p></html>`), true},
		{"rendered content", htmlResp(200, "<html><body>"+filler+"</body></html>"), false},
		{"server error not promoted", htmlResp(500, ""), false},
		{"not found not promoted", htmlResp(404, ""), false},
	}

	h := NewHeuristic()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, h.ShouldPromote(tc.resp))
		})
	}
}

func TestShouldPromote_NonHTMLSkipped(t *testing.T) {
	t.Parallel()

	resp := crawler.FetchResponse{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       nil,
	}
	require.False(t, NewHeuristic().ShouldPromote(resp))
}

func TestShouldPromote_HeadlessResultNeverPromoted(t *testing.T) {
	t.Parallel()

	resp := htmlResp(200, "")
	resp.UsedHeadless = true
	require.False(t, NewHeuristic().ShouldPromote(resp))
}

func TestShouldPromote_ThresholdOption(t *testing.T) {
	t.Parallel()

	body := `<html><script>var x=1;</script><p>tiny</p></html>`
	require.False(t, NewHeuristic(WithMinBodyBytes(10)).ShouldPromote(htmlResp(200, body)))
}
