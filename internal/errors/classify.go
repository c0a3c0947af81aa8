package errors

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"time"
)

// IsRetryable checks if an error should go through the generic backoff path.
func IsRetryable(err error) bool {
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be.Code
	}
	return ErrCodeInternalError
}

// GetRetryAfter returns the platform-advertised retry interval, or zero
// when the error carries none.
func GetRetryAfter(err error) time.Duration {
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be.RetryAfter
	}
	return 0
}

// ClassifyHTTP maps a transport-level error or response status onto the
// delivery taxonomy. Timeouts, connection resets and 5xx responses are
// transient; 429 carries the Retry-After header verbatim.
func ClassifyHTTP(err error, resp *http.Response) error {
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return Transient(err, "request timed out")
		}
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return Transient(err, "request timed out")
		}
		return Transient(err, "request failed")
	}
	if resp == nil {
		return nil
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return RateLimited(parseRetryAfter(resp), "rate limited")
	case resp.StatusCode >= 500:
		return Transient(nil, "server error "+strconv.Itoa(resp.StatusCode))
	case resp.StatusCode >= 400:
		return New(ErrCodeInvalidInput, "request rejected with status "+strconv.Itoa(resp.StatusCode))
	}
	return nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return time.Second
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}
