package upstream

import "errors"

// Error categories for upstream failures. The handler maps each to a
// generic client-facing message and logs the wrapped detail server-side;
// raw provider error text never reaches the caller.
var (
	// ErrAuth: the OAuth exchange failed or the provider rejected the token.
	ErrAuth = errors.New("upstream authentication failed")

	// ErrRateLimited: the provider returned 429.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrTimeout: the request or token exchange hit its deadline.
	ErrTimeout = errors.New("upstream timeout")

	// ErrUpstream: any other provider failure.
	ErrUpstream = errors.New("upstream request failed")
)

// Category names the error class for logs and metrics labels.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "unknown"
	}
}
