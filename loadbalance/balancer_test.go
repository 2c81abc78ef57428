package loadbalance

import (
	"fmt"
	"msfrpc/registry"
	"msfrpc/transport"
	"testing"
)

func inst(port, weight int) registry.ServiceInstance {
	return registry.ServiceInstance{
		Endpoint: transport.Endpoint{Host: "127.0.0.1", Port: port},
		Weight:   weight,
		Version:  "6.4.0",
	}
}

var testInstances = []registry.ServiceInstance{
	inst(8001, 10),
	inst(8002, 5),
	inst(8003, 10),
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr()
	}
	if results[0] != testInstances[0].Addr() || results[2] != testInstances[2].Addr() {
		t.Fatalf("expect instances in order, got %v", results)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(testInstances)
	if inst.Addr() != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr())
	}
}

func TestEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer("msf")} {
		if _, err := b.Pick(nil); err != ErrNoInstances {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr()]++
	}

	// Weight ratio is 10:5:10, so 8001 and 8003 should be ~2x of 8002
	ratio := float64(counts["127.0.0.1:8001"]) / float64(counts["127.0.0.1:8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio 8001/8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	if _, err := b.Pick([]registry.ServiceInstance{inst(8001, 0), inst(8002, -3)}); err != nil {
		t.Fatal(err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer("")
	for i := range testInstances {
		b.Add(testInstances[i])
	}

	// Same key should always map to the same instance
	inst1, _ := b.PickKey("msf-operator")
	inst2, _ := b.PickKey("msf-operator")
	if inst1.Addr() != inst2.Addr() {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr(), inst2.Addr())
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.PickKey(fmt.Sprintf("key-%d", i))
		seen[inst.Addr()] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashPickFollowsInstances(t *testing.T) {
	b := NewConsistentHashBalancer("msf-operator")

	first, err := b.Pick(testInstances)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := b.Pick(testInstances)
	if first.Addr() != again.Addr() {
		t.Fatalf("expect sticky pick, got %s then %s", first.Addr(), again.Addr())
	}

	// dropping the chosen instance moves the key elsewhere
	var rest []registry.ServiceInstance
	for _, i := range testInstances {
		if i.Addr() != first.Addr() {
			rest = append(rest, i)
		}
	}
	moved, err := b.Pick(rest)
	if err != nil {
		t.Fatal(err)
	}
	if moved.Addr() == first.Addr() {
		t.Fatalf("expect a different instance after %s left", first.Addr())
	}
}

func TestNew(t *testing.T) {
	tests := map[string]string{
		"":                "RoundRobin",
		"round_robin":     "RoundRobin",
		"weighted_random": "WeightedRandom",
		"consistent_hash": "ConsistentHash",
	}
	for name, want := range tests {
		b, err := New(name, "msf")
		if err != nil {
			t.Fatal(err)
		}
		if b.Name() != want {
			t.Fatalf("New(%q) = %s, want %s", name, b.Name(), want)
		}
	}
	if _, err := New("random", ""); err == nil {
		t.Fatal("expect unknown balancer to fail")
	}
}
