// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet contains [Packet], [Endpoint] and the related definitions.
package packet

import (
	"fmt"
	"net/netip"
)

// UID constrains the node identity carried by packets.
type UID interface {
	comparable
}

// Endpoint is a simulated network endpoint (think socket address)
// identifying one service in the simulated network.
type Endpoint uint64

// mappedAddr is the IP address all endpoints map to.
var mappedAddr = netip.AddrFrom4([4]byte{123, 123, 255, 255})

// AddrPort returns the address the endpoint maps to. The port is the
// endpoint value so that endpoints and addresses can be mapped to each
// other during testing.
func (ep Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(mappedAddr, uint16(ep))
}

// String returns the string representation of the endpoint.
func (ep Endpoint) String() string {
	return fmt.Sprintf("Endpoint(%d)", uint64(ep))
}

// EndpointFromAddrPort is the inverse of [Endpoint.AddrPort]. The
// boolean is false when addr is not a mapped endpoint address.
func EndpointFromAddrPort(addr netip.AddrPort) (Endpoint, bool) {
	if addr.Addr() != mappedAddr {
		return 0, false
	}
	return Endpoint(addr.Port()), true
}

// Role is the kind of user bootstrapping against a peer.
type Role uint8

const (
	// RoleNode is a routing node.
	RoleNode Role = iota

	// RoleClient is a client that does not route.
	RoleClient
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case RoleNode:
		return "node"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// Kind is the kind of a [Packet].
type Kind uint8

const (
	// KindBootstrapRequest asks a listening peer to accept us.
	KindBootstrapRequest Kind = iota + 1

	// KindBootstrapSuccess tells the requester it has been accepted.
	KindBootstrapSuccess

	// KindBootstrapFailure tells the requester it has been refused.
	KindBootstrapFailure

	// KindConnectRequest asks a peer to establish a direct connection.
	KindConnectRequest

	// KindConnectSuccess confirms a direct connection.
	KindConnectSuccess

	// KindConnectFailure reports a failed direct connection.
	KindConnectFailure

	// KindMessage carries an opaque payload.
	KindMessage

	// KindDisconnect tells the peer we dropped the connection.
	KindDisconnect
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindBootstrapRequest:
		return "BootstrapRequest"
	case KindBootstrapSuccess:
		return "BootstrapSuccess"
	case KindBootstrapFailure:
		return "BootstrapFailure"
	case KindConnectRequest:
		return "ConnectRequest"
	case KindConnectSuccess:
		return "ConnectSuccess"
	case KindConnectFailure:
		return "ConnectFailure"
	case KindMessage:
		return "Message"
	case KindDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// Packet is a simulated transport packet.
//
// Which fields are meaningful depends on Kind:
//
//   - BootstrapRequest: ID is the requester, Role its role;
//
//   - BootstrapSuccess: ID is the accepting peer;
//
//   - ConnectRequest and ConnectSuccess: ID is the sender and PeerID the receiver;
//
//   - ConnectFailure: ID is the peer we failed to reach and PeerID is us;
//
//   - Message: Payload is the opaque payload.
type Packet[U UID] struct {
	// Kind is the packet kind.
	Kind Kind

	// ID is the identity described above.
	ID U

	// PeerID is the other identity described above.
	PeerID U

	// Role is the role of a bootstrap requester.
	Role Role

	// Payload is the message payload.
	Payload []byte
}

// NewBootstrapRequest creates a new bootstrap request packet.
func NewBootstrapRequest[U UID](id U, role Role) Packet[U] {
	return Packet[U]{Kind: KindBootstrapRequest, ID: id, Role: role}
}

// NewBootstrapSuccess creates a new bootstrap success packet.
func NewBootstrapSuccess[U UID](id U) Packet[U] {
	return Packet[U]{Kind: KindBootstrapSuccess, ID: id}
}

// NewConnectRequest creates a new connect request packet.
func NewConnectRequest[U UID](ourID, theirID U) Packet[U] {
	return Packet[U]{Kind: KindConnectRequest, ID: ourID, PeerID: theirID}
}

// NewConnectSuccess creates a new connect success packet.
func NewConnectSuccess[U UID](ourID, theirID U) Packet[U] {
	return Packet[U]{Kind: KindConnectSuccess, ID: ourID, PeerID: theirID}
}

// NewMessage creates a new message packet.
func NewMessage[U UID](payload []byte) Packet[U] {
	return Packet[U]{Kind: KindMessage, Payload: payload}
}

// NewDisconnect creates a new disconnect packet.
func NewDisconnect[U UID]() Packet[U] {
	return Packet[U]{Kind: KindDisconnect}
}

// IsRequest returns true for the packets that have a failure counterpart.
func (p Packet[U]) IsRequest() bool {
	_, ok := p.Failure()
	return ok
}

// Failure returns the failure packet corresponding to a request
// packet. The boolean is false for all the other kinds.
func (p Packet[U]) Failure() (Packet[U], bool) {
	switch p.Kind {
	case KindBootstrapRequest:
		return Packet[U]{Kind: KindBootstrapFailure}, true
	case KindConnectRequest:
		return Packet[U]{Kind: KindConnectFailure, ID: p.PeerID, PeerID: p.ID}, true
	default:
		return Packet[U]{}, false
	}
}

// String returns the string representation of the packet.
func (p Packet[U]) String() string {
	switch p.Kind {
	case KindBootstrapRequest:
		return fmt.Sprintf("%s(%v, %s)", p.Kind, p.ID, p.Role)
	case KindBootstrapSuccess:
		return fmt.Sprintf("%s(%v)", p.Kind, p.ID)
	case KindConnectRequest, KindConnectSuccess, KindConnectFailure:
		return fmt.Sprintf("%s(%v, %v)", p.Kind, p.ID, p.PeerID)
	case KindMessage:
		return fmt.Sprintf("%s length=%d", p.Kind, len(p.Payload))
	default:
		return p.Kind.String()
	}
}
