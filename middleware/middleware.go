// Package middleware wraps a call handler with cross-cutting behaviour. The
// same chain type serves the client pipeline and the test server.
package middleware

import (
	"context"
	"msfrpc/message"
)

// HandlerFunc performs one call. On the client it encodes, sends and resolves;
// on the server it dispatches to the registered method.
type HandlerFunc func(ctx context.Context, call *message.Call) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
