// Package retry is the single retry policy shared by the carrier resolver and
// the platform write path: bounded attempts, exponential backoff with jitter,
// Retry-After honored verbatim, and a fixed taxonomy of outbound-call errors.
package retry

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// RateLimitError is a 429. RetryAfter carries the server-provided delay when
// the header was present and parseable, else zero.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return "rate limited (retry after " + e.RetryAfter.String() + ")"
	}
	return "rate limited"
}

// ServerError is a 5xx response.
type ServerError struct {
	Status int
}

func (e *ServerError) Error() string {
	return "server error: http " + strconv.Itoa(e.Status)
}

// ClientError is any non-429 4xx. Never retried; Body is captured for
// diagnostics.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	return "client error: http " + strconv.Itoa(e.Status)
}

// ErrMalformed marks an empty or non-parseable response body. Retried a
// bounded number of times like a network fault.
var ErrMalformed = errors.New("malformed response body")

// Retryable reports whether err is worth another attempt. Unknown errors
// (network faults, timeouts, wrapped ErrMalformed) are retryable; only a
// ClientError is terminal.
func Retryable(err error) bool {
	var ce *ClientError
	return !errors.As(err, &ce)
}

// ResponseError classifies a non-2xx response into the taxonomy above and
// drains the body. Returns nil for 2xx.
func ResponseError(resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode/100 == 5:
		return &ServerError{Status: resp.StatusCode}
	default:
		return &ClientError{Status: resp.StatusCode, Body: string(body)}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

type Rand interface {
	Int63n(n int64) int64
}

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	rand  Rand
	sleep func(context.Context, time.Duration) error
}

func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:       sleepCtx,
	}
}

// WithRand injects the jitter source (tests).
func (p *Policy) WithRand(r Rand) *Policy {
	if r != nil {
		p.rand = r
	}
	return p
}

// WithSleep injects the sleep function (tests).
func (p *Policy) WithSleep(f func(context.Context, time.Duration) error) *Policy {
	if f != nil {
		p.sleep = f
	}
	return p
}

// Do runs fn up to MaxAttempts times. A ClientError or context cancellation
// stops immediately; exhaustion returns the last error, never a silent
// success.
func (p *Policy) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !Retryable(last) {
			return last
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.backoff(attempt)
		var rle *RateLimitError
		if errors.As(last, &rle) && rle.RetryAfter > 0 {
			delay = rle.RetryAfter
		}
		slog.Warn("retrying call", "call", label, "attempt", attempt, "delay", delay.String(), "error", last.Error())
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return errors.Wrapf(last, "%s: %d attempts exhausted", label, p.MaxAttempts)
}

// backoff doubles BaseDelay per attempt, adds up to 50% jitter, caps at
// MaxDelay.
func (p *Policy) backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if jitter := int64(d / 2); jitter > 0 {
		d += time.Duration(p.rand.Int63n(jitter))
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
