// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package mocknet provides a deterministic, in-process simulated transport
that routing-protocol tests can use instead of real sockets.

# Usage and Features

The [NewNetwork] function creates a new simulated [*Network]. The
[*Network.NewService] method creates a simulated [*Service] bound to a
fresh [Endpoint]. Once started with an [EventSink] and an identity, a
service supports the operations a real transport would:

- StartListeningTCP

- StartBootstrap

- PrepareConnectionInfo and Connect

- SendMessage

- Disconnect and DisconnectAll

Operations never block. They either enqueue a [Packet] on the network or
synchronously emit an [Event] to the sink. Nothing is delivered until the
test invokes [*Network.Drain], which keeps delivering packets, including
the ones generated while delivering, until none is left.

Packets between a pair of endpoints are delivered in FIFO order. The order
across pairs is chosen by a scheduler seeded with a [Seed], so the same
seed reproduces the same interleaving.

The network can simulate failures:

- [*Network.BlockConnection] makes requests (bootstrap and connect) fail
while letting messages through;

- [*Network.DelayConnection] deprioritizes a pair, which is still served
when nothing else is pending;

- [*Network.LostConnection] drops a connection on both sides at once.

A service that is closed, or that its owner dropped, is unreachable: the
network only keeps weak references to services. Note that closing a single
service drops the packets pending across the whole network.

The [*Scenario] type bundles a network and services started with a
[*Recorder], which is convenient for writing tests. Bootstrap contacts
may be read from a DNS zone using [ParseContactsZone].

# Design Documents

This package has no design documents for now.
*/
package mocknet
