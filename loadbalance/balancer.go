// Package loadbalance picks one ERP instance out of those a registry knows.
//
//   - RoundRobin:      equal instances, spread clients evenly
//   - WeightedRandom:  instances of different capacity
//   - ConsistentHash:  same key (usually the database name) lands on the same instance
package loadbalance

import (
	"github.com/pkg/errors"

	"erp-rpc/registry"
)

// Balancer selects an instance. Implementations are goroutine-safe.
type Balancer interface {
	Pick(instances []registry.Instance) (*registry.Instance, error)
	Name() string
}

// New returns the balancer for name: "roundrobin", "random" or "hash".
// key is only used by the hash balancer.
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "random":
		return &WeightedRandomBalancer{}, nil
	case "hash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, errors.Errorf("unknown balancer %q", name)
	}
}
