package httpclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryableStatus: 408, 429 and every 5xx.
func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		(code >= 500 && code < 600)
}

func goodStatus(code int) bool {
	return code >= 200 && code < 300
}

// shouldRetry is the retry predicate: any transport error, or a retryable status.
func shouldRetry(status int, transportErr error) bool {
	return transportErr != nil || retryableStatus(status)
}

// NextDelay computes the backoff before retry number attempt (1 for the first
// retry): base = RetryBase * 2^(attempt-1), delay = min(base + U[0, base], RetryMax).
func (c *Client) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.opts.RetryBase
	for i := 1; i < attempt && base < c.opts.RetryMax; i++ {
		base *= 2
	}
	delay := base
	if base > 0 {
		delay += time.Duration(c.rnd.Int64N(int64(base) + 1))
	}
	return min(delay, c.opts.RetryMax)
}

// retryAfter parses a Retry-After header given either as delta-seconds or as
// an HTTP-date. ok is false when the header is absent or unusable.
func retryAfter(h http.Header, now time.Time) (d time.Duration, ok bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	if d = at.Sub(now); d < 0 {
		d = 0
	}
	return d, true
}
