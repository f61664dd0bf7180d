package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"erp-rpc/registry"
)

// ConsistentHashBalancer maps a fixed key onto a hash ring of instances, so
// clients using the same key keep landing on the same server while the
// instance set is stable. Each instance gets replicas virtual nodes.
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
	key      string
	replicas int

	mu    sync.Mutex
	sig   string // instance set the ring was built for
	ring  []uint32
	nodes map[uint32]registry.Instance
}

// NewConsistentHashBalancer makes a ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key, replicas: 100}
}

// Pick returns the instance owning the balancer's key. The ring is rebuilt
// when the instance set changes.
func (b *ConsistentHashBalancer) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, registry.ErrNoInstances
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sig := signature(instances); sig != b.sig {
		b.build(instances)
		b.sig = sig
	}
	inst := b.lookup(b.key)
	return &inst, nil
}

// Name of the strategy.
func (b *ConsistentHashBalancer) Name() string {
	return "hash"
}

func (b *ConsistentHashBalancer) build(instances []registry.Instance) {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]registry.Instance, len(instances)*b.replicas)
	for _, inst := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.URL, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = inst
		}
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// lookup finds the first node clockwise from the key's hash
func (b *ConsistentHashBalancer) lookup(key string) registry.Instance {
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]]
}

func signature(instances []registry.Instance) string {
	urls := make([]string, len(instances))
	for i, inst := range instances {
		urls[i] = inst.URL
	}
	sort.Strings(urls)
	return strings.Join(urls, "|")
}
