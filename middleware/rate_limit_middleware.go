package middleware

import (
	"context"
	"msfrpc/message"
	"msfrpc/rpcerr"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware admits at most r calls per second with the given burst.
// Callers wait for a token; if ctx ends first the call fails with a Timeout
// ConnectionError without reaching the transport.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) error {
			if err := limiter.Wait(ctx); err != nil {
				return &rpcerr.ConnectionError{
					Kind: rpcerr.KindTimeout,
					Op:   "rate limit",
					Err:  err,
				}
			}
			return next(ctx, call)
		}
	}
}
