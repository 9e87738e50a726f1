package httpclient

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport error")
	// ErrHTTPStatus matches every *StatusError.
	ErrHTTPStatus = errors.New("http status error")
)

// maxErrorBody is how much of a failed response body is kept on StatusError.
const maxErrorBody = 512

// TransportError is returned when the last attempt failed below HTTP
// (DNS, connect, TLS, timeout, truncated body).
type TransportError struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport error after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// StatusError is returned when the last attempt got a non-2xx response that
// was either not retryable or the retry budget was exhausted.
type StatusError struct {
	Method     string
	URL        string
	Attempts   int
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: http status %d after %d attempt(s)", e.Method, e.URL, e.StatusCode, e.Attempts)
}

func (e *StatusError) Is(target error) bool { return target == ErrHTTPStatus }

// Retryable reports whether the status belongs to the retryable set.
func (e *StatusError) Retryable() bool { return retryableStatus(e.StatusCode) }

func truncateBody(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	return string(b[:maxErrorBody]) + "…"
}
