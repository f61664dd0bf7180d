// Package registry keeps track of ERP instances that clients can connect to.
//
// An instance is identified by its base URL. Registries are looked up once
// when a client is built (see client.ResolveURL); a client never switches
// instances mid-session because its uid is only valid on the server that
// issued it.
package registry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoInstances is returned when a service has nothing registered.
var ErrNoInstances = errors.New("no instances available")

// Instance is one ERP server.
type Instance struct {
	URL      string `json:"url"`
	Weight   int    `json:"weight"`  // for weighted balancing, <= 0 counts as 1
	Version  string `json:"version"` // server_version reported by the instance
	Database string `json:"database,omitempty"`
}

// Registry stores instances per service name.
type Registry interface {
	Register(ctx context.Context, service string, inst Instance, ttl int64) error
	Deregister(ctx context.Context, service, url string) error
	Discover(ctx context.Context, service string) ([]Instance, error)
}

// StaticRegistry is an in-memory Registry, for fixed deployments and tests.
// TTLs are ignored.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]Instance
}

// NewStaticRegistry makes a registry holding insts under service.
func NewStaticRegistry(service string, insts ...Instance) *StaticRegistry {
	r := &StaticRegistry{instances: map[string][]Instance{}}
	if len(insts) > 0 {
		r.instances[service] = append([]Instance(nil), insts...)
	}
	return r
}

// Register adds inst, replacing one with the same URL.
func (r *StaticRegistry) Register(_ context.Context, service string, inst Instance, _ int64) error {
	if inst.URL == "" {
		return errors.New("instance url is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.instances[service]
	for i := range list {
		if list[i].URL == inst.URL {
			list[i] = inst
			return nil
		}
	}
	r.instances[service] = append(list, inst)
	return nil
}

// Deregister removes the instance with the given URL, if any.
func (r *StaticRegistry) Deregister(_ context.Context, service, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.instances[service]
	for i := range list {
		if list[i].URL == url {
			r.instances[service] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

// Discover returns a copy of the registered instances.
func (r *StaticRegistry) Discover(_ context.Context, service string) ([]Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Instance{}, r.instances[service]...), nil
}
