//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Aliases for Packet and the related definitions.
//

package mocknet

import "github.com/rbmk-project/routesim/mocknet/packet"

// Type aliases
type (
	Endpoint      = packet.Endpoint
	Role          = packet.Role
	UID           = packet.UID
	Packet[U UID] = packet.Packet[U]
	PacketKind    = packet.Kind
)

// Constant aliases
const (
	RoleNode   = packet.RoleNode
	RoleClient = packet.RoleClient
)

// EndpointFromAddrPort is an alias for [packet.EndpointFromAddrPort].
var EndpointFromAddrPort = packet.EndpointFromAddrPort
