package middleware

import (
	"context"
	"msfrpc/message"
	"msfrpc/rpcerr"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RetryMiddleware retries calls that failed with a refused, reset or timed
// out connection, sleeping baseDelay, 2*baseDelay, 4*baseDelay... between
// attempts. Server, protocol and invalid-state errors return immediately, as
// does any error once ctx is done.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) error {
			err := next(ctx, call)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) || ctx.Err() != nil {
					return err
				}
				logger.Info("retrying rpc call",
					zap.String("method", call.Method),
					zap.Int("attempt", i+1),
					zap.Error(err))

				timer := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					timer.Stop()
					return err
				case <-timer.C:
				}
				err = next(ctx, call)
			}
			return err
		}
	}
}

func retryable(err error) bool {
	var ce *rpcerr.ConnectionError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case rpcerr.KindRefused, rpcerr.KindReset, rpcerr.KindTimeout:
		return true
	}
	return false
}
