//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Transport events delivered to the owner of a Service.
//

package mocknet

import (
	"fmt"
	"net/netip"
)

// Event is a transport event delivered to the owner of a [*Service].
//
// The set of events is closed: it contains [ListenerStarted],
// [BootstrapAccept], [BootstrapConnect], [BootstrapFailed],
// [ConnectSuccess], [ConnectFailure], [LostPeer], [NewMessage]
// and [ConnectionInfoPrepared].
type Event interface {
	fmt.Stringer
	isEvent()
}

// ListenerStarted is emitted when a service starts listening.
type ListenerStarted struct {
	// Port is the listening port.
	Port uint16
}

// BootstrapAccept is emitted by a listening service that
// accepted a bootstrap request from a peer.
type BootstrapAccept[U UID] struct {
	// ID is the identity of the bootstrapping peer.
	ID U

	// Role is the role the peer declared.
	Role Role
}

// BootstrapConnect is emitted when a bootstrap request succeeds.
type BootstrapConnect[U UID] struct {
	// ID is the identity of the accepting peer.
	ID U

	// Addr is the address the accepting peer maps to.
	Addr netip.AddrPort
}

// BootstrapFailed is emitted when no bootstrap contact accepted us.
type BootstrapFailed struct{}

// ConnectSuccess is emitted when a direct connection is established.
type ConnectSuccess[U UID] struct {
	// ID is the identity of the connected peer.
	ID U
}

// ConnectFailure is emitted when a direct connection could not be established.
type ConnectFailure[U UID] struct {
	// ID is the identity of the unreachable peer.
	ID U
}

// LostPeer is emitted when the connection to a peer is lost.
type LostPeer[U UID] struct {
	// ID is the identity of the lost peer.
	ID U
}

// NewMessage is emitted when a message arrives from a connected peer.
type NewMessage[U UID] struct {
	// ID is the identity of the sender.
	ID U

	// Data is the message payload.
	Data []byte
}

// PrivConnectionInfo is our own connection info, ready to be
// exchanged with a peer through a side channel.
type PrivConnectionInfo[U UID] struct {
	// ID is our identity.
	ID U

	// Endpoint is our endpoint.
	Endpoint Endpoint
}

// ToPub returns the public counterpart of the connection info.
func (info PrivConnectionInfo[U]) ToPub() PubConnectionInfo[U] {
	return PubConnectionInfo[U](info)
}

// PubConnectionInfo is the connection info of a peer.
type PubConnectionInfo[U UID] struct {
	// ID is the identity of the peer.
	ID U

	// Endpoint is the endpoint of the peer.
	Endpoint Endpoint
}

// ConnectionInfoPrepared is emitted in response to [*Service.PrepareConnectionInfo].
type ConnectionInfoPrepared[U UID] struct {
	// Token is the token passed to PrepareConnectionInfo.
	Token uint32

	// Info is the prepared connection info.
	Info PrivConnectionInfo[U]
}

// isEvent marks the types implementing [Event].
func (ListenerStarted) isEvent() {}
func (BootstrapAccept[U]) isEvent() {}
func (BootstrapConnect[U]) isEvent() {}
func (BootstrapFailed) isEvent() {}
func (ConnectSuccess[U]) isEvent() {}
func (ConnectFailure[U]) isEvent() {}
func (LostPeer[U]) isEvent() {}
func (NewMessage[U]) isEvent() {}
func (ConnectionInfoPrepared[U]) isEvent() {}

// String implements [fmt.Stringer].
func (ev ListenerStarted) String() string {
	return fmt.Sprintf("ListenerStarted(%d)", ev.Port)
}

// String implements [fmt.Stringer].
func (ev BootstrapAccept[U]) String() string {
	return fmt.Sprintf("BootstrapAccept(%v, %s)", ev.ID, ev.Role)
}

// String implements [fmt.Stringer].
func (ev BootstrapConnect[U]) String() string {
	return fmt.Sprintf("BootstrapConnect(%v, %s)", ev.ID, ev.Addr)
}

// String implements [fmt.Stringer].
func (BootstrapFailed) String() string {
	return "BootstrapFailed"
}

// String implements [fmt.Stringer].
func (ev ConnectSuccess[U]) String() string {
	return fmt.Sprintf("ConnectSuccess(%v)", ev.ID)
}

// String implements [fmt.Stringer].
func (ev ConnectFailure[U]) String() string {
	return fmt.Sprintf("ConnectFailure(%v)", ev.ID)
}

// String implements [fmt.Stringer].
func (ev LostPeer[U]) String() string {
	return fmt.Sprintf("LostPeer(%v)", ev.ID)
}

// String implements [fmt.Stringer].
func (ev NewMessage[U]) String() string {
	return fmt.Sprintf("NewMessage(%v, length=%d)", ev.ID, len(ev.Data))
}

// String implements [fmt.Stringer].
func (ev ConnectionInfoPrepared[U]) String() string {
	return fmt.Sprintf("ConnectionInfoPrepared(%d, %v, %s)", ev.Token, ev.Info.ID, ev.Info.Endpoint)
}

// EventsOf returns the events of type T contained in events, in order.
func EventsOf[T Event](events []Event) []T {
	var out []T
	for _, ev := range events {
		if tev, ok := ev.(T); ok {
			out = append(out, tev)
		}
	}
	return out
}
