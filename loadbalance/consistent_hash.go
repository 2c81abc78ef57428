package loadbalance

import (
	"fmt"
	"hash/crc32"
	"msfrpc/registry"
	"sort"
	"sync"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance until the ring changes.
//
// Each real instance gets 100 virtual nodes so a handful of instances still
// spread evenly around the ring.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int    // Virtual nodes per real instance
	key      string // Key hashed by Pick

	mu    sync.RWMutex
	ring  []uint32                            // Sorted hash values on the ring
	nodes map[uint32]registry.ServiceInstance // Hash value → instance
	addrs map[string]bool                     // Instances currently on the ring
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per
// instance. Pick hashes key.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		key:      key,
		nodes:    make(map[uint32]registry.ServiceInstance),
		addrs:    make(map[string]bool),
	}
}

// Add places an instance onto the hash ring with N virtual nodes hashed from
// "{addr}#{i}".
func (b *ConsistentHashBalancer) Add(instance registry.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(instance)
}

func (b *ConsistentHashBalancer) add(instance registry.ServiceInstance) {
	addr := instance.Addr()
	if b.addrs[addr] {
		return
	}
	b.addrs[addr] = true
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// PickKey finds the instance responsible for key: the first ring node at or
// after the key's hash, wrapping around past the end.
func (b *ConsistentHashBalancer) PickKey(key string) (*registry.ServiceInstance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

// Pick rebuilds the ring when the instance set changed, then hashes the
// balancer's key.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	if !b.matches(instances) {
		b.mu.Lock()
		b.ring = b.ring[:0]
		b.nodes = make(map[uint32]registry.ServiceInstance)
		b.addrs = make(map[string]bool)
		for _, inst := range instances {
			b.add(inst)
		}
		b.mu.Unlock()
	}
	return b.PickKey(b.key)
}

func (b *ConsistentHashBalancer) matches(instances []registry.ServiceInstance) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(instances) != len(b.addrs) {
		return false
	}
	for _, inst := range instances {
		if !b.addrs[inst.Addr()] {
			return false
		}
	}
	return true
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
