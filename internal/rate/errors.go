package rate

import "errors"

var (
	// ErrRateLimited is returned when an attempt budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any Redis transport failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
