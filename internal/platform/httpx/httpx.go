// Package httpx holds small retry/backoff helpers shared by outbound HTTP
// clients. It does not wrap net/http itself; callers keep their own
// *http.Client and just consult these helpers between attempts.
package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"
)

// IsRetryableError reports whether a round-trip error or status code is
// worth a retry. Connection resets and 429/5xx are retryable; anything else
// (4xx other than 429, context cancellation) is not.
func IsRetryableError(err error, statusCode int) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout() || !netErr.Temporary()
		}
		return true
	}
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode <= 599
}

// RetryAfterDuration parses a Retry-After header, supporting both the
// delta-seconds and HTTP-date forms. It returns (0, false) when the header
// is absent or unparseable.
func RetryAfterDuration(h http.Header) (time.Duration, bool) {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(raw); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0, true
		}
		return d, true
	}
	return 0, false
}

// JitterSleep sleeps for base plus up to 25% random jitter, or until ctx is
// done, whichever comes first. It returns ctx.Err() if the context fired.
func JitterSleep(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 4 + 1))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
