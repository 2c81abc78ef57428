package middleware

import (
	"context"
	"msfrpc/message"
	"msfrpc/rpcerr"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoggingMiddleware logs one entry per call. Params are never logged since
// they carry tokens and passwords.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) error {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			start := time.Now()
			err := next(ctx, call)

			fields := []zap.Field{
				zap.String("method", call.Method),
				zap.String("request_id", call.ID),
				zap.Duration("duration", time.Since(start)),
				zap.String("outcome", rpcerr.Outcome(err)),
			}
			if err != nil {
				logger.Warn("rpc call failed", append(fields, zap.Error(err))...)
				return err
			}
			logger.Debug("rpc call", fields...)
			return nil
		}
	}
}
