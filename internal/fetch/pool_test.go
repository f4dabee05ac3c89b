package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/contentcollector/collector/internal/crawler"
)

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "collector-test/1.0", r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	pool := NewPool(Config{ClientCount: 2, Timeout: 5 * time.Second, UserAgent: "collector-test/1.0"}, nil)
	defer pool.Close()

	resp, err := pool.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "hello")
	require.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
	require.Greater(t, resp.Elapsed, time.Duration(0))
}

func TestFetch_ErrorStatusStillReturnsResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	pool := NewPool(Config{ClientCount: 1, Timeout: 5 * time.Second}, nil)
	defer pool.Close()

	resp, err := pool.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetch_TimeoutClassified(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	pool := NewPool(Config{ClientCount: 1, Timeout: 50 * time.Millisecond}, nil)
	defer pool.Close()

	_, err := pool.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, crawler.ErrKindTimeout, fe.Kind)
}

func TestFetch_ConnectionRefusedClassified(t *testing.T) {
	t.Parallel()

	pool := NewPool(Config{ClientCount: 1, Timeout: time.Second}, nil)
	defer pool.Close()

	// Reserved port with nothing listening.
	_, err := pool.Fetch(context.Background(), crawler.FetchRequest{URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, crawler.ErrKindConnection, fe.Kind)
}

func TestFetch_RoundRobinAcrossClients(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := NewPool(Config{ClientCount: 3, Timeout: 5 * time.Second}, nil)
	defer pool.Close()
	require.Len(t, pool.clients, 3)

	for i := 0; i < 6; i++ {
		_, err := pool.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
	}
	require.Equal(t, int64(6), hits.Load())
}

func TestFetch_BodyCapped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	pool := NewPool(Config{ClientCount: 1, Timeout: 5 * time.Second, MaxBodyBytes: 1024}, nil)
	defer pool.Close()

	resp, err := pool.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Len(t, resp.Body, 1024)
}
