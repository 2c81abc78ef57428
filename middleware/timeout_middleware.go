package middleware

import (
	"context"
	"msfrpc/message"
	"time"
)

// TimeOutMiddleware bounds each call by timeout. The transport observes the
// deadline and reports a Timeout ConnectionError when it fires.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) error {
			if timeout <= 0 {
				return next(ctx, call)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, call)
		}
	}
}
