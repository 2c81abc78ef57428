package middleware

import (
	"context"
	"msfrpc/message"
	"msfrpc/rpcerr"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the collectors updated by MetricsMiddleware.
type Metrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics registers the call collectors with reg, reusing any that are
// already registered so several clients can share one registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "msfrpc",
		Name:      "calls_total",
		Help:      "RPC calls by method and outcome.",
	}, []string{"method", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "msfrpc",
		Name:      "call_duration_seconds",
		Help:      "RPC call latency by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	var err error
	if calls, err = registerOrReuse(reg, calls); err != nil {
		return nil, err
	}
	if duration, err = registerOrReuse(reg, duration); err != nil {
		return nil, err
	}
	return &Metrics{Calls: calls, Duration: duration}, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register metrics")
	}
	return c, nil
}

func MetricsMiddleware(m *Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) error {
			start := time.Now()
			err := next(ctx, call)
			m.Duration.WithLabelValues(call.Method).Observe(time.Since(start).Seconds())
			m.Calls.WithLabelValues(call.Method, rpcerr.Outcome(err)).Inc()
			return err
		}
	}
}
