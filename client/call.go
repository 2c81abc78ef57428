package client

import "context"

// Call is an asynchronous invocation started by Go.
type Call struct {
	Method string
	Reply  any
	Error  error      // Set before Done is signalled
	Done   chan *Call // Receives the call once it completes
}

// Go runs Call on a new goroutine and returns immediately. The returned
// Call's Done channel receives it, with Error set, when the exchange ends.
func (c *Client) Go(ctx context.Context, method string, reply any, args ...any) *Call {
	call := &Call{
		Method: method,
		Reply:  reply,
		Done:   make(chan *Call, 1),
	}
	go func() {
		call.Error = c.Call(ctx, method, reply, args...)
		call.Done <- call
	}()
	return call
}

// Wait blocks until the call completes or ctx ends, returning the call's error
// or ctx's.
func (call *Call) Wait(ctx context.Context) error {
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}
