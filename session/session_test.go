// SPDX-License-Identifier: GPL-3.0-or-later

package session_test

import (
	"context"
	"testing"

	"github.com/rbmk-project/routesim/mocknet"
	"github.com/rbmk-project/routesim/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// core mimics a routing-layer type that creates its transport.
type core struct {
	svc *mocknet.Service[string]
}

func newCore(ctx context.Context) *core {
	return &core{svc: session.TakeCurrent[string](ctx)}
}

func TestMakeCurrent(t *testing.T) {
	network := mocknet.NewNetwork[string](8, &mocknet.Seed{Hi: 1, Lo: 2})
	svc := network.NewService(nil, nil)

	c := session.MakeCurrent(svc, newCore)
	require.NotNil(t, c)
	assert.Same(t, svc, c.svc)
}

func TestTakeCurrent(t *testing.T) {
	network := mocknet.NewNetwork[string](8, &mocknet.Seed{Hi: 1, Lo: 2})
	svc := network.NewService(nil, nil)

	t.Run("the slot is single use", func(t *testing.T) {
		ctx := session.WithCurrent(context.Background(), svc)
		assert.Same(t, svc, session.TakeCurrent[string](ctx))
		assert.Panics(t, func() {
			session.TakeCurrent[string](ctx)
		})
	})

	t.Run("missing slot", func(t *testing.T) {
		assert.Panics(t, func() {
			session.TakeCurrent[string](context.Background())
		})
	})

	t.Run("wrong identity type", func(t *testing.T) {
		ctx := session.WithCurrent(context.Background(), svc)
		assert.Panics(t, func() {
			session.TakeCurrent[int](ctx)
		})
	})

	t.Run("nil service", func(t *testing.T) {
		assert.Panics(t, func() {
			session.WithCurrent[string](context.Background(), nil)
		})
	})
}
