package registry

import (
	"context"
	"msfrpc/transport"
	"sync"

	"github.com/pkg/errors"
)

// ServiceInstance is one msfrpcd endpoint offered under a service name.
type ServiceInstance struct {
	Endpoint transport.Endpoint `json:"endpoint"`
	Weight   int                `json:"weight"`            // Weight for load balancing
	Version  string             `json:"version,omitempty"` // Metasploit version reported by core.version
}

// Addr identifies the instance within its service.
func (i ServiceInstance) Addr() string {
	return i.Endpoint.Addr()
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx ends.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}

// StaticRegistry serves a fixed, in-process instance list. It backs
// configurations that name their endpoints directly instead of using etcd.
type StaticRegistry struct {
	mu       sync.RWMutex
	services map[string][]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		services: make(map[string][]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

// Register adds or replaces the instance. ttl is ignored.
func (r *StaticRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	if err := instance.Endpoint.Validate(); err != nil {
		return errors.Wrap(err, "register")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.services[serviceName]
	for i := range list {
		if list[i].Addr() == instance.Addr() {
			list[i] = instance
			r.notify(serviceName)
			return nil
		}
	}
	r.services[serviceName] = append(list, instance)
	r.notify(serviceName)
	return nil
}

func (r *StaticRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.services[serviceName]
	for i := range list {
		if list[i].Addr() == addr {
			r.services[serviceName] = append(list[:i:i], list[i+1:]...)
			r.notify(serviceName)
			return nil
		}
	}
	return nil
}

func (r *StaticRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.services[serviceName]
	out := make([]ServiceInstance, len(list))
	copy(out, list)
	return out, nil
}

func (r *StaticRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[serviceName]
		for i, w := range ws {
			if w == ch {
				r.watchers[serviceName] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify hands each watcher the latest list, replacing one it has not read yet.
// Callers hold r.mu.
func (r *StaticRegistry) notify(serviceName string) {
	list := make([]ServiceInstance, len(r.services[serviceName]))
	copy(list, r.services[serviceName])
	for _, ch := range r.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}

func (r *StaticRegistry) Close() error { return nil }
