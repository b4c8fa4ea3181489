package reliability

import "time"

// IsRetryableHTTPStatus reports whether an upstream status is worth one more
// attempt. Rate limits and server-side failures qualify; client errors do not.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff for the given
// zero-based attempt.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
