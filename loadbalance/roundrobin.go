package loadbalance

import (
	"sync/atomic"

	"erp-rpc/registry"
)

// RoundRobinBalancer cycles through instances in order, starting with the first.
type RoundRobinBalancer struct {
	counter int64
}

// Pick selects the next instance.
func (b *RoundRobinBalancer) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, registry.ErrNoInstances
	}
	index := (atomic.AddInt64(&b.counter, 1) - 1) % int64(len(instances))
	inst := instances[index]
	return &inst, nil
}

// Name of the strategy.
func (b *RoundRobinBalancer) Name() string {
	return "roundrobin"
}
