package retry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type zeroRand struct{}

func (zeroRand) Int63n(int64) int64 { return 0 }

func newTestPolicy(maxAttempts int, slept *[]time.Duration) *Policy {
	return NewPolicy(maxAttempts, time.Second, 8*time.Second).
		WithRand(zeroRand{}).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		})
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var slept []time.Duration
	p := newTestPolicy(4, &slept)

	calls := 0
	err := p.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &ServerError{Status: 502}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	// Exponential without jitter: 1s, 2s.
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var slept []time.Duration
	p := newTestPolicy(4, &slept)

	calls := 0
	err := p.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return &ClientError{Status: 404, Body: "not found"}
	})
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, 404, ce.Status)
	require.Equal(t, 1, calls)
	require.Empty(t, slept)
}

func TestDo_RetryAfterHonored(t *testing.T) {
	var slept []time.Duration
	p := newTestPolicy(3, &slept)

	calls := 0
	err := p.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitError{RetryAfter: 2 * time.Second}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{2 * time.Second}, slept)
}

func TestDo_Exhaustion(t *testing.T) {
	var slept []time.Duration
	p := newTestPolicy(3, &slept)

	boom := errors.New("boom")
	err := p.Do(context.Background(), "test", func(ctx context.Context) error {
		return boom
	})
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Len(t, slept, 2)
}

func TestDo_MalformedIsRetryable(t *testing.T) {
	require.True(t, Retryable(errors.Wrap(ErrMalformed, "decode")))
	require.True(t, Retryable(&ServerError{Status: 500}))
	require.True(t, Retryable(&RateLimitError{}))
	require.False(t, Retryable(&ClientError{Status: 400}))
}

func TestResponseError_Taxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(200)
		case "/limited":
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(429)
		case "/server":
			w.WriteHeader(503)
		default:
			w.WriteHeader(422)
			_, _ = w.Write([]byte(`{"errors":"bad payload"}`))
		}
	}))
	defer srv.Close()

	get := func(path string) error {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		return ResponseError(resp)
	}

	require.NoError(t, get("/ok"))

	var rle *RateLimitError
	require.ErrorAs(t, get("/limited"), &rle)
	require.Equal(t, 2*time.Second, rle.RetryAfter)

	var se *ServerError
	require.ErrorAs(t, get("/server"), &se)
	require.Equal(t, 503, se.Status)

	var ce *ClientError
	require.ErrorAs(t, get("/bad"), &ce)
	require.Equal(t, 422, ce.Status)
	require.Contains(t, ce.Body, "bad payload")
}

func TestParseRetryAfter(t *testing.T) {
	require.Equal(t, 5*time.Second, parseRetryAfter("5"))
	require.Equal(t, time.Duration(0), parseRetryAfter(""))
	require.Equal(t, time.Duration(0), parseRetryAfter("garbage"))
}
