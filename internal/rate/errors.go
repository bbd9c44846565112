package rate

import "errors"

var (
	// ErrRateLimited is returned once a counter exceeds its budget for the window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
