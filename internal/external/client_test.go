package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climascope/internal/types"
)

// newTestBaseClient builds a BaseClient with retries enabled and sleeping
// replaced by a recorder so tests run instantly.
func newTestBaseClient(policy RetryPolicy, slept *[]time.Duration) *BaseClient {
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		policy,
		"ClimaScope-Test/1.0",
		WithSleepFunc(func(d time.Duration) {
			*slept = append(*slept, d)
		}),
	)
}

func TestBaseClient_SuccessPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ClimaScope-Test/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestBaseClient(DefaultRetryPolicy(), &slept)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, slept)
}

func TestBaseClient_TraceIDPropagated(t *testing.T) {
	var gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = r.Header.Get("X-B3-TraceId")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestBaseClient(DefaultRetryPolicy(), &slept)

	ctx := types.WithRequestID(context.Background(), "trace-abc-123")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "trace-abc-123", gotTrace)
}

func TestBaseClient_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestBaseClient(RetryPolicy{MaxRetries: 2, MinWait: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond}, &slept)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, slept, 1)
}

func TestBaseClient_ExhaustedRetriesReturns5xxError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestBaseClient(RetryPolicy{MaxRetries: 2, MinWait: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond}, &slept)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.Error(t, err)
	require.Nil(t, resp)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamProvider, appErr.Code)
	assert.Equal(t, int32(3), calls.Load(), "1 initial + 2 retries")
}

func TestBaseClient_429MapsToRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestBaseClient(RetryPolicy{MaxRetries: 1, MinWait: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond}, &slept)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
	assert.Equal(t, http.StatusTooManyRequests, appErr.HTTPStatus())
}

func TestBaseClient_RespectsRetryAfterSeconds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestBaseClient(RetryPolicy{MaxRetries: 1, MinWait: 10 * time.Millisecond, MaxWait: 5 * time.Second}, &slept)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, slept, 1)
	assert.Equal(t, 2*time.Second, slept[0])
}

func TestBaseClient_No4xxRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestBaseClient(RetryPolicy{MaxRetries: 3, MinWait: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond}, &slept)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	// 4xx (other than 429) is a valid response, not a transport failure.
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, slept)
}

func TestBaseClient_BodyReplayedOnRetry(t *testing.T) {
	var calls atomic.Int32
	bodies := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		bodies <- string(buf[:n])
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestBaseClient(RetryPolicy{MaxRetries: 1, MinWait: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond}, &slept)

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"k":"v"}`))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, `{"k":"v"}`, <-bodies)
	assert.Equal(t, `{"k":"v"}`, <-bodies)
}

func TestBaseClient_CircuitBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var slept []time.Duration
	// No retries; drive the breaker open through repeated independent calls.
	client := newTestBaseClient(RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond}, &slept)

	var lastErr error
	for i := 0; i < 10; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		_, lastErr = client.Do(req)
		require.Error(t, lastErr)
	}

	var appErr *types.AppError
	require.ErrorAs(t, lastErr, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code, "open breaker maps to rate-limited")
}

func TestBaseClient_NetworkErrorMapsToProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	var slept []time.Duration
	client := newTestBaseClient(RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond}, &slept)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamProvider, appErr.Code)
}

func TestComputeBackoff_ClampedToMaxWait(t *testing.T) {
	var slept []time.Duration
	client := newTestBaseClient(RetryPolicy{MaxRetries: 5, MinWait: 100 * time.Millisecond, MaxWait: 300 * time.Millisecond}, &slept)

	for attempt := 0; attempt < 6; attempt++ {
		wait := client.computeBackoff(attempt, nil)
		assert.GreaterOrEqual(t, wait, 100*time.Millisecond)
		assert.LessOrEqual(t, wait, 300*time.Millisecond)
	}
}

func TestComputeBackoff_RetryAfterCappedAtMaxWait(t *testing.T) {
	var slept []time.Duration
	client := newTestBaseClient(RetryPolicy{MaxRetries: 1, MinWait: 10 * time.Millisecond, MaxWait: 3 * time.Second}, &slept)

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"120"}}}
	assert.Equal(t, 3*time.Second, client.computeBackoff(0, resp))
}
