package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrKindRateLimited, ClassifyStatus(http.StatusTooManyRequests))
	require.Equal(t, ErrKindServerError, ClassifyStatus(http.StatusBadGateway))
	require.Equal(t, ErrKindTimeout, ClassifyStatus(http.StatusRequestTimeout))
	require.Equal(t, ErrKindClientError, ClassifyStatus(http.StatusNotFound))
	require.Equal(t, ErrorKind(""), ClassifyStatus(http.StatusOK))
	require.Equal(t, ErrorKind(""), ClassifyStatus(http.StatusMovedPermanently))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrKindCanceled, ClassifyError(context.Canceled))
	require.Equal(t, ErrKindTimeout, ClassifyError(context.DeadlineExceeded))
	require.Equal(t, ErrKindTimeout, ClassifyError(fmt.Errorf("get: %w", timeoutErr{})))
	require.Equal(t, ErrKindConnection, ClassifyError(errors.New("connection refused")))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	for _, kind := range []ErrorKind{ErrKindTimeout, ErrKindConnection, ErrKindServerError, ErrKindRateLimited} {
		require.True(t, kind.Retryable(), string(kind))
	}
	for _, kind := range []ErrorKind{ErrKindClientError, ErrKindParse, ErrKindCanceled} {
		require.False(t, kind.Retryable(), string(kind))
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	fe := NewFetchError(ErrKindServerError, "https://a.test/", 503, nil)
	require.Equal(t, ErrKindServerError, KindOf(fmt.Errorf("wrapped: %w", fe)))
	require.Equal(t, ErrKindConnection, KindOf(errors.New("plain")))
}

func TestSettingsForMode(t *testing.T) {
	t.Parallel()

	s := SettingsForMode(ModeConservative)
	require.Equal(t, 10, s.Workers)
	require.Equal(t, 20, s.Connections)

	// Unknown modes fall back to balanced.
	require.Equal(t, SettingsForMode(ModeBalanced), SettingsForMode(PerformanceMode("turbo")))
	require.False(t, ValidMode(PerformanceMode("turbo")))
	require.True(t, ValidMode(ModeMaximum))
}
