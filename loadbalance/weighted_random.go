package loadbalance

import (
	"math/rand"

	"erp-rpc/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to
// its weight. Weights <= 0 count as 1.
type WeightedRandomBalancer struct{}

// Pick selects a random instance.
func (b *WeightedRandomBalancer) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, registry.ErrNoInstances
	}

	totalWeight := 0
	for _, v := range instances {
		totalWeight += weightOf(v)
	}

	r := rand.Intn(totalWeight) //nolint:gosec // not security sensitive
	for _, v := range instances {
		r -= weightOf(v)
		if r < 0 {
			inst := v
			return &inst, nil
		}
	}
	inst := instances[len(instances)-1]
	return &inst, nil
}

// Name of the strategy.
func (b *WeightedRandomBalancer) Name() string {
	return "random"
}

func weightOf(inst registry.Instance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
