package registry

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyPrefix is the root of all registry keys in etcd.
//
//	Key:   /erp-rpc/{service}/{escaped base url}
//	Value: JSON-encoded Instance
const KeyPrefix = "/erp-rpc/"

// EtcdRegistry implements Registry on etcd v3. Registrations are bound to a
// lease, so an instance whose registrar went away expires on its own.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to etcd %v", endpoints)
	}
	return &EtcdRegistry{client: c}, nil
}

func instanceKey(service, instURL string) string {
	return KeyPrefix + service + "/" + url.PathEscape(instURL)
}

// Register puts inst under a lease of ttl seconds and keeps the lease alive
// until ctx is done.
func (r *EtcdRegistry) Register(ctx context.Context, service string, inst Instance, ttl int64) error {
	if inst.URL == "" {
		return errors.New("instance url is empty")
	}
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "failed to grant lease")
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return errors.Wrap(err, "failed to marshal instance")
	}

	key := instanceKey(service, inst.URL)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "failed to put %s", key)
	}

	// leaseID stays local, one registry can hold several registrations
	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to keep lease %x alive", lease.ID)
	}
	go func() {
		for range ch {
		}
		log.Printf("[DEBUG] lease for %s stopped", key)
	}()

	log.Printf("[INFO] registered %s as %s, ttl %ds", inst.URL, service, ttl)
	return nil
}

// Deregister deletes the instance key.
func (r *EtcdRegistry) Deregister(ctx context.Context, service, instURL string) error {
	key := instanceKey(service, instURL)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "failed to delete %s", key)
	}
	log.Printf("[INFO] deregistered %s from %s", instURL, service)
	return nil
}

// Discover lists the instances registered under service. Entries that
// can't be decoded are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	prefix := KeyPrefix + service + "/"
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", prefix)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			log.Printf("[WARN] skip bad registry entry %s: %v", kv.Key, err)
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Close releases the etcd connection.
func (r *EtcdRegistry) Close() error {
	return errors.Wrap(r.client.Close(), "failed to close etcd client")
}
