package client

import (
	"context"

	"github.com/pkg/errors"

	"erp-rpc/config"
	"erp-rpc/loadbalance"
	"erp-rpc/registry"
)

// ResolveURL picks the base URL of one instance registered under service.
// The choice is made once; a client stays on its instance because the uid
// it gets is only valid there.
func ResolveURL(ctx context.Context, reg registry.Registry, service string, bal loadbalance.Balancer) (string, error) {
	insts, err := reg.Discover(ctx, service)
	if err != nil {
		return "", errors.Wrapf(err, "failed to discover %s", service)
	}
	inst, err := bal.Pick(insts)
	if err != nil {
		return "", errors.Wrapf(err, "can't pick %s instance with %s balancer", service, bal.Name())
	}
	return inst.URL, nil
}

// NewFromRegistry resolves the ERP URL with ResolveURL and makes a client
// for it. cfg.URL is ignored.
func NewFromRegistry(ctx context.Context, cfg config.Config, reg registry.Registry, service string,
	bal loadbalance.Balancer, opts ...Option) (*Client, error) {
	url, err := ResolveURL(ctx, reg, service, bal)
	if err != nil {
		return nil, err
	}
	cfg.URL = url
	return New(cfg, opts...)
}
