package config

import (
	"context"
	"msfrpc/client"
	"msfrpc/codec"
	"msfrpc/loadbalance"
	"msfrpc/middleware"
	"msfrpc/registry"
	"msfrpc/transport"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production logger at LogLevel, or a development logger
// when LogLevel is debug.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	cfg := zap.NewProductionConfig()
	if level == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// Options turns the config into client options. Middlewares are added in
// the order rate limit, retry, metrics, so each retry is metered and waits
// for the limiter once.
func (c *Config) Options(logger *zap.Logger) ([]client.Option, error) {
	ct, err := codec.ParseType(c.Codec)
	if err != nil {
		return nil, err
	}

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithCodec(codec.GetCodec(ct)),
		client.WithTimeout(c.Timeout),
	}

	switch c.Transport {
	case "stream":
		opts = append(opts, client.WithTransport(transport.NewStreamTransport(
			transport.WithPoolSize(c.PoolSize),
			transport.WithDialTimeout(c.DialTimeout),
		)))
	default:
		opts = append(opts, client.WithTransport(transport.NewHTTPTransport(
			transport.WithMaxInFlight(c.MaxInFlight),
			transport.WithInsecureSkipVerify(c.Endpoint.InsecureSkipVerify),
		)))
	}

	if c.RateLimit > 0 {
		opts = append(opts, client.WithMiddleware(middleware.RateLimitMiddleware(c.RateLimit, c.RateBurst)))
	}
	if c.RetryMax > 0 {
		opts = append(opts, client.WithMiddleware(middleware.RetryMiddleware(c.RetryMax, c.RetryBaseDelay, logger)))
	}
	if c.Metrics {
		m, err := middleware.NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, errors.Wrap(err, "metrics")
		}
		opts = append(opts, client.WithMiddleware(middleware.MetricsMiddleware(m)))
	}
	return opts, nil
}

// Connect validates the config and returns a client bound to Endpoint, or to
// an instance picked from the discovery registry.
func (c *Config) Connect(ctx context.Context, logger *zap.Logger) (*client.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opts, err := c.Options(logger)
	if err != nil {
		return nil, err
	}
	if !c.Discovery.Enabled() {
		return client.New(c.Endpoint, opts...)
	}

	reg, err := c.registry(ctx, logger)
	if err != nil {
		return nil, err
	}
	key := c.Discovery.Key
	if key == "" {
		key = c.Username
	}
	bal, err := loadbalance.New(c.Discovery.Balancer, key)
	if err != nil {
		reg.Close()
		return nil, err
	}
	cli, err := client.NewFromRegistry(ctx, reg, bal, c.Discovery.Service, append(opts, client.WithCloser(reg))...)
	if err != nil {
		reg.Close()
		return nil, err
	}
	logger.Debug("picked instance",
		zap.String("service", c.Discovery.Service),
		zap.String("balancer", bal.Name()),
		zap.String("endpoint", cli.Endpoint().String()))
	return cli, nil
}

// registry returns an etcd registry when etcd endpoints are configured, and
// otherwise a static registry holding Discovery.Endpoints.
func (c *Config) registry(ctx context.Context, logger *zap.Logger) (registry.Registry, error) {
	d := c.Discovery
	if len(d.EtcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(d.EtcdEndpoints, c.DialTimeout, logger)
		if err != nil {
			return nil, errors.Wrap(err, "etcd registry")
		}
		return reg, nil
	}

	reg := registry.NewStaticRegistry()
	for _, ep := range d.Endpoints {
		if err := reg.Register(ctx, d.Service, registry.ServiceInstance{Endpoint: ep, Weight: 1}, 0); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
