package genclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"aigc-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return &Client{
		endpoint:     srv.URL,
		apiKey:       "test-key",
		limiter:      rate.NewLimiter(rate.Inf, 1),
		httpClient:   srv.Client(),
		callTimeout:  2 * time.Second,
		maxAttempts:  3,
		initialDelay: time.Millisecond,
		maxDelay:     5 * time.Millisecond,
		log:          log.NewHelper(log.NewStdLogger(io.Discard)),
	}
}

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":[{"url":"https://cdn.example.com/img.png"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	result := c.Generate(context.Background(), &biz.GenerateRequest{Prompt: "a cat", BatchIndex: 2})

	require.NoError(t, result.Err)
	assert.Equal(t, "https://cdn.example.com/img.png", result.URL)
	assert.Equal(t, 2, result.Index)
	assert.Equal(t, 1, result.Attempts)
}

func TestGenerate_RetriesOn500(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":[{"url":"https://cdn.example.com/img.png"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	result := c.Generate(context.Background(), &biz.GenerateRequest{Prompt: "a cat"})

	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerate_RetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":[{"url":"https://cdn.example.com/img.png"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	result := c.Generate(context.Background(), &biz.GenerateRequest{Prompt: "a cat"})

	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.Attempts)
}

func TestGenerate_TerminalOn400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"prompt rejected"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	result := c.Generate(context.Background(), &biz.GenerateRequest{Prompt: "bad"})

	require.Error(t, result.Err)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerate_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	result := c.Generate(context.Background(), &biz.GenerateRequest{Prompt: "a cat"})

	require.Error(t, result.Err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerate_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := c.Generate(ctx, &biz.GenerateRequest{Prompt: "a cat"})
	require.Error(t, result.Err)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&apiError{Status: http.StatusInternalServerError}))
	assert.True(t, isRetryable(&apiError{Status: http.StatusBadGateway}))
	assert.True(t, isRetryable(&apiError{Status: http.StatusTooManyRequests}))
	assert.True(t, isRetryable(context.DeadlineExceeded))

	assert.False(t, isRetryable(&apiError{Status: http.StatusBadRequest}))
	assert.False(t, isRetryable(&apiError{Status: http.StatusUnauthorized}))
	assert.False(t, isRetryable(&apiError{Status: http.StatusNotFound}))
}

func TestBackoffDelay(t *testing.T) {
	initial := time.Second
	max := 30 * time.Second

	for attempt := 1; attempt <= 8; attempt++ {
		base := initial << (attempt - 1)
		if base > max {
			base = max
		}
		for i := 0; i < 50; i++ {
			d := backoffDelay(initial, max, attempt)
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8),
				"attempt %d below jitter floor", attempt)
			assert.LessOrEqual(t, d, time.Duration(float64(base)*1.2),
				"attempt %d above jitter ceiling", attempt)
		}
	}
}
