// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package session hands a test-prepared [*mocknet.Service] to code that
would otherwise construct its own transport.

Routing-layer constructors receive a [context.Context]. A test stores a
simulated service inside the context using [WithCurrent] (or wraps the
construction with [MakeCurrent]) and the constructor retrieves it using
[TakeCurrent]. This avoids maintaining separate test-only constructors
without resorting to goroutine-local state.

The slot is single use: the first [TakeCurrent] consumes it and any
further attempt panics, as does taking from a context without a slot.
*/
package session

import (
	"context"
	"sync"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/routesim/mocknet"
)

// slotKey is the context key for the slot.
type slotKey struct{}

// slot holds a service until it is taken.
type slot struct {
	// mu provides mutual exclusion.
	mu sync.Mutex

	// svc is the service or nil once taken.
	svc any
}

// WithCurrent returns a copy of ctx carrying svc as the current service.
func WithCurrent[U mocknet.UID](ctx context.Context, svc *mocknet.Service[U]) context.Context {
	runtimex.Assert(svc != nil, "session: nil service")
	return context.WithValue(ctx, slotKey{}, &slot{svc: svc})
}

// TakeCurrent returns the current service stored in ctx and empties
// the slot. It panics if there is no service to take.
func TakeCurrent[U mocknet.UID](ctx context.Context) *mocknet.Service[U] {
	st, found := ctx.Value(slotKey{}).(*slot)
	runtimex.Assert(found, "session: no current service")
	st.mu.Lock()
	value := st.svc
	st.svc = nil
	st.mu.Unlock()
	runtimex.Assert(value != nil, "session: current service already taken")
	svc, ok := value.(*mocknet.Service[U])
	runtimex.Assert(ok, "session: current service has another identity type")
	return svc
}

// MakeCurrent invokes fx with a context carrying svc as the current
// service and returns what fx returns.
func MakeCurrent[U mocknet.UID, R any](svc *mocknet.Service[U], fx func(ctx context.Context) R) R {
	return fx(WithCurrent(context.Background(), svc))
}
