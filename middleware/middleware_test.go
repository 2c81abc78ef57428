package middleware

import (
	"context"
	"msfrpc/message"
	"msfrpc/rpcerr"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// okHandler fills the reply like a successful exchange would
func okHandler(ctx context.Context, call *message.Call) error {
	if s, ok := call.Reply.(*string); ok {
		*s = "ok"
	}
	return nil
}

// deadlineHandler blocks until ctx ends, as a stalled transport would
func deadlineHandler(ctx context.Context, call *message.Call) error {
	<-ctx.Done()
	return &rpcerr.ConnectionError{Kind: rpcerr.KindTimeout, Op: "read", Err: ctx.Err()}
}

// failing returns a handler that fails with err for the first n calls
func failing(n int32, err error) (HandlerFunc, *int32) {
	var calls int32
	return func(ctx context.Context, call *message.Call) error {
		if atomic.AddInt32(&calls, 1) <= n {
			return err
		}
		return nil
	}, &calls
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(okHandler)

	var reply string
	call := &message.Call{Method: "auth.login", Params: []any{"msf", "s3cret"}, Reply: &reply}
	if err := handler(context.Background(), call); err != nil {
		t.Fatal(err)
	}
	if reply != "ok" {
		t.Fatalf("expect reply 'ok', got '%s'", reply)
	}
	if call.ID == "" {
		t.Fatal("expect request id to be assigned")
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expect 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["method"] != "auth.login" || fields["outcome"] != "success" || fields["request_id"] != call.ID {
		t.Fatalf("unexpected fields: %v", fields)
	}
	for _, e := range entries {
		for _, v := range e.ContextMap() {
			if v == "s3cret" {
				t.Fatal("password leaked into logs")
			}
		}
	}
}

func TestLoggingFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(func(ctx context.Context, call *message.Call) error {
		return &rpcerr.ServerError{Method: call.Method}
	})

	err := handler(context.Background(), &message.Call{Method: "job.stop"})
	if !rpcerr.IsServer(err) {
		t.Fatalf("expect server error to pass through, got %v", err)
	}
	entries := logs.FilterMessage("rpc call failed").All()
	if len(entries) != 1 || entries[0].ContextMap()["outcome"] != "server_error" {
		t.Fatalf("unexpected log entries: %v", logs.All())
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(okHandler)
	if err := handler(context.Background(), &message.Call{Method: "core.version"}); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(deadlineHandler)

	start := time.Now()
	err := handler(context.Background(), &message.Call{Method: "core.version"})
	if !rpcerr.IsTimeout(err) {
		t.Fatalf("expect timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
}

func TestRetryConnectionErrors(t *testing.T) {
	refused := &rpcerr.ConnectionError{Kind: rpcerr.KindRefused, Op: "dial"}
	next, calls := failing(2, refused)
	handler := RetryMiddleware(3, time.Millisecond, nil)(next)

	if err := handler(context.Background(), &message.Call{Method: "core.version"}); err != nil {
		t.Fatalf("expect success after retries, got %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 3 {
		t.Fatalf("expect 3 attempts, got %d", n)
	}
}

func TestRetryGivesUp(t *testing.T) {
	reset := &rpcerr.ConnectionError{Kind: rpcerr.KindReset, Op: "read"}
	next, calls := failing(10, reset)
	handler := RetryMiddleware(2, time.Millisecond, nil)(next)

	if err := handler(context.Background(), &message.Call{Method: "core.version"}); !rpcerr.IsConnection(err) {
		t.Fatalf("expect connection error, got %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 3 {
		t.Fatalf("expect 1 attempt plus 2 retries, got %d", n)
	}
}

func TestRetrySkipsNonConnectionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"server", &rpcerr.ServerError{Method: "auth.login"}},
		{"protocol", &rpcerr.ProtocolError{Method: "auth.login"}},
		{"invalid state", rpcerr.NewInvalidState("job.list", "no token")},
		{"tls", &rpcerr.ConnectionError{Kind: rpcerr.KindTLS, Op: "dial"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, calls := failing(10, tt.err)
			handler := RetryMiddleware(3, time.Millisecond, nil)(next)
			if err := handler(context.Background(), &message.Call{Method: "x.y"}); err != tt.err {
				t.Fatalf("expect original error, got %v", err)
			}
			if n := atomic.LoadInt32(calls); n != 1 {
				t.Fatalf("expect a single attempt, got %d", n)
			}
		})
	}
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	refused := &rpcerr.ConnectionError{Kind: rpcerr.KindRefused, Op: "dial"}
	next, calls := failing(10, refused)
	handler := RetryMiddleware(5, time.Hour, nil)(next)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := handler(ctx, &message.Call{Method: "core.version"}); !rpcerr.IsConnection(err) {
		t.Fatalf("expect connection error, got %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Fatalf("expect backoff to be cut short by ctx, got %d attempts", n)
	}
}

func TestRateLimit(t *testing.T) {
	// 1 per second with burst 2: two calls pass at once, the third must wait
	handler := RateLimitMiddleware(1, 2)(okHandler)
	for i := 0; i < 2; i++ {
		if err := handler(context.Background(), &message.Call{Method: "core.version"}); err != nil {
			t.Fatalf("request %d should pass, got %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := handler(ctx, &message.Call{Method: "core.version"})
	if !rpcerr.IsTimeout(err) {
		t.Fatalf("request 3 should time out waiting for the limiter, got %v", err)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatal(err)
	}
	// a second client on the same registry shares the collectors
	again, err := NewMetrics(reg)
	if err != nil {
		t.Fatal(err)
	}
	if again.Calls != m.Calls {
		t.Fatal("expect collectors to be reused")
	}

	ok := MetricsMiddleware(m)(okHandler)
	bad := MetricsMiddleware(again)(func(ctx context.Context, call *message.Call) error {
		return &rpcerr.ConnectionError{Kind: rpcerr.KindRefused}
	})
	_ = ok(context.Background(), &message.Call{Method: "core.version"})
	_ = ok(context.Background(), &message.Call{Method: "core.version"})
	_ = bad(context.Background(), &message.Call{Method: "core.version"})

	if v := testutil.ToFloat64(m.Calls.WithLabelValues("core.version", "success")); v != 2 {
		t.Fatalf("expect 2 successes, got %v", v)
	}
	if v := testutil.ToFloat64(m.Calls.WithLabelValues("core.version", "connection_error")); v != 1 {
		t.Fatalf("expect 1 connection error, got %v", v)
	}
	if n := testutil.CollectAndCount(m.Duration); n != 1 {
		t.Fatalf("expect 1 histogram series, got %d", n)
	}
}

func TestChain(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, call *message.Call) error {
				order = append(order, name)
				return next(ctx, call)
			}
		}
	}

	handler := Chain(trace("outer"), LoggingMiddleware(nil), TimeOutMiddleware(500*time.Millisecond), trace("inner"))(okHandler)
	if err := handler(context.Background(), &message.Call{Method: "core.version"}); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("unexpected order: %v", order)
	}
}
