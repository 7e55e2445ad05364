// Package reliability centralizes retry classification and backoff math
// for synthesis provider calls and the stream transport.
package reliability

import "time"

// IsRetryableHTTPStatus classifies provider HTTP status codes that are
// worth another attempt.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration
// for the given zero-based attempt number.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
