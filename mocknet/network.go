//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Simulated network
//

package mocknet

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"weak"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/routesim/mocknet/packet"
)

// Seed seeds the [*Network] scheduler. Using the same seed with
// the same sequence of operations yields the same delivery order.
type Seed struct {
	Hi, Lo uint64
}

// String returns the string representation of the seed.
func (s Seed) String() string {
	return fmt.Sprintf("Seed{%#x, %#x}", s.Hi, s.Lo)
}

// pair is a directed (source, destination) endpoint pair.
type pair struct {
	src, dst Endpoint
}

// comparePairs orders pairs by source and then by destination.
func comparePairs(a, b pair) int {
	if c := cmp.Compare(a.src, b.src); c != 0 {
		return c
	}
	return cmp.Compare(a.dst, b.dst)
}

// Network is the simulated network shared by all the simulated services
// of a test. Use [NewNetwork] to create one and [*Network.NewService] to
// create services attached to it.
//
// Nothing is delivered until [*Network.Drain] is invoked.
//
// The network only holds weak references to its services: a service
// whose owner dropped it, or which has been closed, is treated
// like an unreachable host.
type Network[U UID] struct {
	// Logger is the optional structured logger. If this field is nil,
	// we will not be emitting structured logs. Set it before using
	// the network and do not modify it afterwards.
	Logger *slog.Logger

	// blocked contains the pairs whose requests always fail.
	blocked map[pair]struct{}

	// delayed contains the pairs with low scheduling priority.
	delayed map[pair]struct{}

	// messageSent is true if we enqueued a packet since the last reset.
	messageSent bool

	// minSectionSize is the minimum section size of the routing layer.
	minSectionSize int

	// mu protects the mutable fields of the network.
	mu sync.Mutex

	// nextEndpoint is the next endpoint to allocate.
	nextEndpoint Endpoint

	// queue contains the non-empty per-pair FIFO queues.
	queue map[pair][]packet.Packet[U]

	// rng drives the scheduler.
	rng *rand.Rand

	// seed is the seed used to create rng.
	seed Seed

	// services maps endpoints to services.
	services map[Endpoint]weak.Pointer[Service[U]]
}

// NewNetwork creates a new [*Network]. When seed is nil, we draw a
// random seed, which [*Network.Seed] returns so that a failing run
// can be reproduced.
func NewNetwork[U UID](minSectionSize int, seed *Seed) *Network[U] {
	var s Seed
	if seed != nil {
		s = *seed
	} else {
		s = Seed{Hi: rand.Uint64(), Lo: rand.Uint64()}
	}
	return &Network[U]{
		blocked:        make(map[pair]struct{}),
		delayed:        make(map[pair]struct{}),
		messageSent:    false,
		minSectionSize: minSectionSize,
		mu:             sync.Mutex{},
		nextEndpoint:   0,
		queue:          make(map[pair][]packet.Packet[U]),
		rng:            rand.New(rand.NewPCG(s.Hi, s.Lo)),
		seed:           s,
		services:       make(map[Endpoint]weak.Pointer[Service[U]]),
	}
}

// MinSectionSize returns the minimum section size.
func (n *Network[U]) MinSectionSize() int {
	return n.minSectionSize
}

// Seed returns the seed of the scheduler.
func (n *Network[U]) Seed() Seed {
	return n.seed
}

// NewService creates a new [*Service] attached to the network.
//
// A nil config means no bootstrap contacts. A nil endpoint means
// allocating the next free endpoint. Using an endpoint that is
// already registered replaces the previous registration.
//
// The caller owns the returned service. The network does not keep
// it alive: call [*Service.Close] to tear it down explicitly.
func (n *Network[U]) NewService(config *Config, endpoint *Endpoint) *Service[U] {
	ep := n.GenEndpoint(endpoint)
	svc := newService(n, config.clone(), ep)

	n.mu.Lock()
	_, duplicate := n.services[ep]
	n.services[ep] = weak.Make(svc)
	n.mu.Unlock()

	if duplicate {
		n.log(slog.LevelWarn, "duplicateService", slog.Any("endpoint", ep))
	}
	return svc
}

// GenEndpoint allocates an endpoint. When endpoint is not nil we use
// it and make sure subsequent allocations will not return it.
func (n *Network[U]) GenEndpoint(endpoint *Endpoint) Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep := n.nextEndpoint
	if endpoint != nil {
		ep = *endpoint
	}
	n.nextEndpoint = max(n.nextEndpoint, ep+1)
	return ep
}

// Drain delivers packets until no packet is pending anywhere in
// the network, including the packets generated while delivering.
// It returns the number of packets it processed.
//
// Packets between the same pair of endpoints are delivered in FIFO
// order. Across pairs the order is chosen by the seeded scheduler,
// which prefers non-delayed pairs but still serves delayed pairs
// when nothing else is pending.
func (n *Network[U]) Drain() int {
	var count int
	for {
		src, dst, pkt, ok := n.popPacket()
		if !ok {
			return count
		}
		n.processPacket(src, dst, pkt)
		count++
	}
}

// BlockConnection causes all the requests from src to dst to fail.
//
// Messages and disconnects still flow: blocking models a failing
// handshake channel rather than a severed wire.
func (n *Network[U]) BlockConnection(src, dst Endpoint) {
	n.mu.Lock()
	n.blocked[pair{src, dst}] = struct{}{}
	n.mu.Unlock()
	n.log(slog.LevelInfo, "blockConnection", slog.Any("src", src), slog.Any("dst", dst))
}

// UnblockConnection reverts [*Network.BlockConnection].
func (n *Network[U]) UnblockConnection(src, dst Endpoint) {
	n.mu.Lock()
	delete(n.blocked, pair{src, dst})
	n.mu.Unlock()
	n.log(slog.LevelInfo, "unblockConnection", slog.Any("src", src), slog.Any("dst", dst))
}

// DelayConnection lowers the scheduling priority of packets from src
// to dst for the lifetime of the network.
func (n *Network[U]) DelayConnection(src, dst Endpoint) {
	n.mu.Lock()
	n.delayed[pair{src, dst}] = struct{}{}
	n.mu.Unlock()
	n.log(slog.LevelInfo, "delayConnection", slog.Any("src", src), slog.Any("dst", dst))
}

// LostConnection simulates losing the connection between two services.
//
// When the first service is not connected to the second one, this
// method does nothing, even if the second one believes it is connected
// to the first. Otherwise, both services drop the connection and emit
// [LostPeer] right away, regardless of any queued packet.
//
// This method panics if either service does not exist.
func (n *Network[U]) LostConnection(node1, node2 Endpoint) {
	svc1 := n.findService(node1)
	runtimex.Assert(svc1 != nil, fmt.Sprintf("cannot fetch service of %s", node1))
	if _, found := svc1.removeConnectionByEndpoint(node2); !found {
		return
	}
	svc2 := n.findService(node2)
	runtimex.Assert(svc2 != nil, fmt.Sprintf("cannot fetch service of %s", node2))
	svc2.removeConnectionByEndpoint(node1)

	n.log(slog.LevelInfo, "lostConnection", slog.Any("src", node1), slog.Any("dst", node2))
	svc1.emit(LostPeer[U]{ID: svc2.mustUID()})
	svc2.emit(LostPeer[U]{ID: svc1.mustUID()})
}

// SendEvent delivers an event directly to the service at the given
// endpoint, bypassing the packet protocol.
//
// This method panics if the service does not exist.
func (n *Network[U]) SendEvent(node Endpoint, ev Event) {
	svc := n.findService(node)
	runtimex.Assert(svc != nil, fmt.Sprintf("cannot fetch service of %s", node))
	svc.emit(ev)
}

// NewRand returns a new random source seeded from the network's one.
func (n *Network[U]) NewRand() *rand.Rand {
	n.mu.Lock()
	defer n.mu.Unlock()
	return rand.New(rand.NewPCG(n.rng.Uint64(), n.rng.Uint64()))
}

// ResetMessageSent returns whether we enqueued any packet since
// the previous call and resets the flag.
func (n *Network[U]) ResetMessageSent() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	sent := n.messageSent
	n.messageSent = false
	return sent
}

// Pending returns the number of packets waiting to be delivered.
func (n *Network[U]) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var count int
	for _, packets := range n.queue {
		count += len(packets)
	}
	return count
}

// send enqueues a packet from src to dst.
func (n *Network[U]) send(src, dst Endpoint, pkt packet.Packet[U]) {
	n.mu.Lock()
	n.messageSent = true
	key := pair{src, dst}
	n.queue[key] = append(n.queue[key], pkt)
	n.mu.Unlock()
	n.log(slog.LevelDebug, "enqueue",
		slog.Any("src", src), slog.Any("dst", dst), slog.String("packet", pkt.String()))
}

// dropPending drops the packets pending from src to dst. It does
// not touch the packets flowing in the opposite direction.
func (n *Network[U]) dropPending(src, dst Endpoint) {
	n.mu.Lock()
	delete(n.queue, pair{src, dst})
	n.mu.Unlock()
}

// dropAllPending drops all the packets pending across the whole network.
func (n *Network[U]) dropAllPending() {
	n.mu.Lock()
	clear(n.queue)
	n.mu.Unlock()
	n.log(slog.LevelDebug, "dropAllPending")
}

// popPacket selects a pair according to the scheduling policy and
// removes the packet at the front of its queue.
func (n *Network[U]) popPacket() (Endpoint, Endpoint, packet.Packet[U], bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var ready, urgent []pair
	for key := range n.queue {
		ready = append(ready, key)
		if _, delayed := n.delayed[key]; !delayed {
			urgent = append(urgent, key)
		}
	}
	if len(ready) <= 0 {
		return 0, 0, packet.Packet[U]{}, false
	}

	// When every pending pair is delayed we must still make progress.
	eligible := urgent
	if len(eligible) <= 0 {
		eligible = ready
	}

	// Map iteration order is random: sort to make the choice a
	// pure function of the seeded generator.
	slices.SortFunc(eligible, comparePairs)
	key := eligible[n.rng.IntN(len(eligible))]

	packets := n.queue[key]
	pkt := packets[0]
	packets[0] = packet.Packet[U]{}
	if len(packets) <= 1 {
		delete(n.queue, key)
	} else {
		n.queue[key] = packets[1:]
	}
	return key.src, key.dst, pkt, true
}

// processPacket delivers a packet popped by popPacket.
func (n *Network[U]) processPacket(src, dst Endpoint, pkt packet.Packet[U]) {
	n.mu.Lock()
	_, blocked := n.blocked[pair{src, dst}]
	n.mu.Unlock()

	if blocked {
		if failure, ok := pkt.Failure(); ok {
			n.reject(src, dst, pkt, failure, ECONNREFUSED)
			return
		}
	}

	if svc := n.findService(dst); svc != nil {
		n.log(slog.LevelDebug, "deliver",
			slog.Any("src", src), slog.Any("dst", dst), slog.String("packet", pkt.String()))
		svc.receive(src, pkt)
		return
	}

	if failure, ok := pkt.Failure(); ok {
		n.reject(src, dst, pkt, failure, EHOSTUNREACH)
		return
	}
	n.log(slog.LevelDebug, "drop",
		slog.Any("src", src), slog.Any("dst", dst), slog.String("packet", pkt.String()))
}

// reject answers a request that cannot be delivered with its failure.
func (n *Network[U]) reject(src, dst Endpoint, pkt, failure packet.Packet[U], err error) {
	n.log(slog.LevelDebug, "reject",
		slog.Any("src", src),
		slog.Any("dst", dst),
		slog.String("packet", pkt.String()),
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
	)
	n.send(dst, src, failure)
}

// findService returns the live service bound to the given endpoint or nil.
func (n *Network[U]) findService(ep Endpoint) *Service[U] {
	n.mu.Lock()
	wp, found := n.services[ep]
	n.mu.Unlock()
	if !found {
		return nil
	}
	svc := wp.Value()
	if svc == nil || svc.isClosed() {
		return nil
	}
	return svc
}

// log emits a structured log entry when we have a logger.
func (n *Network[U]) log(level slog.Level, msg string, attrs ...slog.Attr) {
	if n.Logger != nil {
		n.Logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
