// Package registry provides the etcd-based implementation of the Registry interface.
//
// etcd works as a shared phonebook of msfrpcd instances:
//
//	Key:   /msfrpc/{ServiceName}/{host:port}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the announcing process dies, the
// lease expires and the entry disappears with it.
package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/msfrpc/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	logger *zap.Logger

	// Lease renewals outlive the ctx passed to Register and stop on Close.
	keepAliveCtx    context.Context
	cancelKeepAlive context.CancelFunc
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
// A nil logger discards etcd client logs.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect etcd")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client:          c,
		logger:          logger,
		keepAliveCtx:    ctx,
		cancelKeepAlive: cancel,
	}, nil
}

func serviceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

// Register stores instance under a lease of ttl seconds and keeps renewing it
// until Close.
//
// The lease id stays local so several announcements can share one registry
// without racing on it.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "grant lease")
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return errors.Wrap(err, "encode instance")
	}

	key := serviceKey(serviceName, instance.Addr())
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}

	ch, err := r.client.KeepAlive(r.keepAliveCtx, lease.ID)
	if err != nil {
		return errors.Wrap(err, "keep lease alive")
	}

	// Drain renewals so the channel never fills.
	go func() {
		for range ch {
		}
		r.logger.Debug("lease renewal stopped", zap.String("key", key))
	}()
	return nil
}

// Deregister removes an instance ahead of its lease expiry.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	if _, err := r.client.Delete(ctx, serviceKey(serviceName, addr)); err != nil {
		return errors.Wrap(err, "deregister")
	}
	return nil
}

// Watch re-reads the instance list on every change under the service prefix.
// The channel closes when ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	prefix := keyPrefix + serviceName + "/"

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.logger.Warn("rediscover after watch event", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every instance currently registered under serviceName.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	prefix := keyPrefix + serviceName + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "discover")
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

// Close stops lease renewal and closes the etcd client. Registered
// instances expire once their TTL runs out.
func (r *EtcdRegistry) Close() error {
	r.cancelKeepAlive()
	return r.client.Close()
}
