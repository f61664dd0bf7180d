package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewStaticRegistry("erp", Instance{URL: "http://a:8069", Weight: 1})

	require.NoError(t, reg.Register(ctx, "erp", Instance{URL: "http://b:8069", Weight: 2}, 10))
	require.NoError(t, reg.Register(ctx, "erp", Instance{URL: "http://a:8069", Weight: 3}, 10))
	assert.Error(t, reg.Register(ctx, "erp", Instance{}, 10))

	insts, err := reg.Discover(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, []Instance{{URL: "http://a:8069", Weight: 3}, {URL: "http://b:8069", Weight: 2}}, insts)

	// returned slice is a copy
	insts[0].Weight = 100
	again, err := reg.Discover(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, 3, again[0].Weight)

	require.NoError(t, reg.Deregister(ctx, "erp", "http://a:8069"))
	require.NoError(t, reg.Deregister(ctx, "erp", "http://nope:8069"))
	insts, err = reg.Discover(ctx, "erp")
	require.NoError(t, err)
	assert.Equal(t, []Instance{{URL: "http://b:8069", Weight: 2}}, insts)

	insts, err = reg.Discover(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, insts)
}
