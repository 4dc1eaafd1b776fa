//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Simulated transport service
//

package mocknet

import (
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/routesim/mocknet/packet"
)

// Connection is an active connection of a [*Service].
type Connection[U UID] struct {
	// ID is the identity of the peer.
	ID U

	// Endpoint is the endpoint of the peer.
	Endpoint Endpoint
}

// Service is the simulated transport of a single node.
//
// Construct using [*Network.NewService]. The caller owns the service
// and must call [*Service.Close] when done with it.
//
// Events are delivered synchronously to the [EventSink] registered with
// [*Service.Start], after the service has updated its own state and
// enqueued its packets, so the sink may call back into the service.
type Service[U UID] struct {
	// closed is true after Close.
	closed bool

	// config is the service configuration.
	config *Config

	// connecting maps the peers we sent a connect request to whose
	// outcome is still unknown to whether we already reported the
	// connection while serving their racing request.
	connecting map[U]bool

	// connections contains the active connections in insertion order.
	connections []Connection[U]

	// endpoint is the service endpoint.
	endpoint Endpoint

	// hasUID is true once the service has been started.
	hasUID bool

	// listening is true once we started listening.
	listening bool

	// mu protects the mutable fields of the service.
	mu sync.Mutex

	// network is the network we belong to.
	network *Network[U]

	// pendingBootstraps is the number of outstanding bootstrap requests.
	pendingBootstraps int

	// sink receives the events.
	sink EventSink

	// uid is the service identity, valid when hasUID is true.
	uid U

	// whitelist contains the whitelisted endpoints.
	whitelist map[Endpoint]struct{}
}

// newService creates a new [*Service].
func newService[U UID](network *Network[U], config *Config, endpoint Endpoint) *Service[U] {
	return &Service[U]{
		closed:            false,
		config:            config,
		connecting:        make(map[U]bool),
		connections:       nil,
		endpoint:          endpoint,
		hasUID:            false,
		listening:         false,
		mu:                sync.Mutex{},
		network:           network,
		pendingBootstraps: 0,
		sink:              nil,
		whitelist:         make(map[Endpoint]struct{}),
	}
}

// Endpoint returns the endpoint of the service.
func (s *Service[U]) Endpoint() Endpoint {
	return s.endpoint
}

// Network returns the network the service belongs to.
func (s *Service[U]) Network() *Network[U] {
	return s.network
}

// UID returns the identity of the service, if it has been started.
func (s *Service[U]) UID() (U, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid, s.hasUID
}

// IsListening returns whether the service is listening.
func (s *Service[U]) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Connections returns a copy of the active connections.
func (s *Service[U]) Connections() []Connection[U] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.connections)
}

// IsConnected returns whether this service is connected to other.
//
// This method panics if other has not been started.
func (s *Service[U]) IsConnected(other *Service[U]) bool {
	return s.IsPeerConnected(other.mustUID())
}

// ResetMessageSent is like [*Network.ResetMessageSent].
func (s *Service[U]) ResetMessageSent() bool {
	return s.network.ResetMessageSent()
}

// Start assigns the identity and the event sink.
func (s *Service[U]) Start(sink EventSink, uid U) {
	s.mu.Lock()
	s.startLocked(sink, uid)
	s.mu.Unlock()
}

// startLocked is like Start but the caller must hold mu.
func (s *Service[U]) startLocked(sink EventSink, uid U) {
	s.uid = uid
	s.hasUID = true
	s.sink = sink
}

// Restart disconnects from all the peers without emitting any
// event, stops listening and then behaves like [*Service.Start].
//
// Like [*Service.DisconnectAll], this drops all the packets
// pending across the whole network.
func (s *Service[U]) Restart(sink EventSink, uid U) {
	s.network.log(slog.LevelInfo, "restart", slog.Any("endpoint", s.endpoint))
	s.mu.Lock()
	s.disconnectAllLocked()
	clear(s.connecting)
	s.listening = false
	s.startLocked(sink, uid)
	s.mu.Unlock()
}

// StartBootstrap sends a bootstrap request to each configured contact
// except ourselves and the contacts whose address is blacklisted.
//
// We emit [BootstrapFailed] right away when there is nobody to contact,
// and otherwise after all the requests failed without any connection.
func (s *Service[U]) StartBootstrap(blacklist map[netip.AddrPort]struct{}, role Role) {
	s.mu.Lock()
	uid := s.mustUIDLocked()
	var pending int
	for _, ep := range s.config.HardCodedContacts {
		if ep == s.endpoint {
			continue
		}
		if _, found := blacklist[ep.AddrPort()]; found {
			continue
		}
		s.network.send(s.endpoint, ep, packet.NewBootstrapRequest(uid, role))
		pending++
	}
	s.pendingBootstraps = pending
	s.mu.Unlock()

	if pending <= 0 {
		s.emit(BootstrapFailed{})
	}
}

// SendMessage sends data to the connected peer with the given identity.
//
// It returns false, without sending anything, if we are not connected.
func (s *Service[U]) SendMessage(uid U, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, found := s.findEndpointByUIDLocked(uid)
	if !found {
		return false
	}
	s.network.send(s.endpoint, ep, packet.NewMessage[U](slices.Clone(data)))
	return true
}

// IsPeerConnected returns whether we are connected to the given peer.
func (s *Service[U]) IsPeerConnected(uid U) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.findEndpointByUIDLocked(uid)
	return found
}

// WhitelistPeer adds the given endpoint to the whitelist.
func (s *Service[U]) WhitelistPeer(ep Endpoint) {
	s.mu.Lock()
	_, duplicate := s.whitelist[ep]
	s.whitelist[ep] = struct{}{}
	s.mu.Unlock()
	if duplicate {
		s.network.log(slog.LevelDebug, "duplicateWhitelist",
			slog.Any("endpoint", s.endpoint), slog.Any("peer", ep))
	}
}

// IsPeerWhitelisted returns true when the whitelist is empty or the
// given peer is connected through a whitelisted endpoint.
func (s *Service[U]) IsPeerWhitelisted(uid U) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.whitelist) <= 0 {
		return true
	}
	ep, found := s.findEndpointByUIDLocked(uid)
	if !found {
		return false
	}
	_, found = s.whitelist[ep]
	return found
}

// PrepareConnectionInfo immediately emits [ConnectionInfoPrepared]
// containing our identity and endpoint tagged with the given token.
func (s *Service[U]) PrepareConnectionInfo(token uint32) {
	s.emit(ConnectionInfoPrepared[U]{
		Token: token,
		Info: PrivConnectionInfo[U]{
			ID:       s.mustUID(),
			Endpoint: s.endpoint,
		},
	})
}

// Connect sends a connect request to the peer described by their.
//
// We emit [ConnectSuccess] when the peer replies, even if we still hold
// a stale connection to it, and [ConnectFailure] when it cannot be
// reached. A peer that is already connected to us ignores the request.
func (s *Service[U]) Connect(our PrivConnectionInfo[U], their PubConnectionInfo[U]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := s.mustUIDLocked()
	if _, found := s.connecting[their.ID]; !found {
		s.connecting[their.ID] = false
	}
	s.network.send(s.endpoint, their.Endpoint, packet.NewConnectRequest(uid, their.ID))
}

// StartListeningTCP starts accepting bootstrap requests.
func (s *Service[U]) StartListeningTCP(port uint16) {
	s.mu.Lock()
	s.listening = true
	s.mu.Unlock()
	s.emit(ListenerStarted{Port: port})
}

// Disconnect drops the connection with the given peer.
//
// We drop the packets pending between the two endpoints in both
// directions and then send a disconnect notice, so the peer emits
// [LostPeer] once the notice is delivered. We do not emit any event.
//
// It returns whether we were connected.
func (s *Service[U]) Disconnect(uid U) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, found := s.removeConnectionByUIDLocked(uid)
	if !found {
		return false
	}
	s.network.dropPending(s.endpoint, ep)
	s.network.dropPending(ep, s.endpoint)
	s.network.send(s.endpoint, ep, packet.NewDisconnect[U]())
	return true
}

// DisconnectAll drops all the packets pending across the whole network,
// sends a disconnect notice to every connected peer and forgets them.
func (s *Service[U]) DisconnectAll() {
	s.mu.Lock()
	s.disconnectAllLocked()
	s.mu.Unlock()
}

// disconnectAllLocked is like DisconnectAll but the caller must hold mu.
func (s *Service[U]) disconnectAllLocked() {
	s.network.dropAllPending()
	for _, conn := range s.connections {
		s.network.send(s.endpoint, conn.Endpoint, packet.NewDisconnect[U]())
	}
	s.connections = nil
}

// Close tears down the service. It behaves like [*Service.DisconnectAll],
// including dropping all the packets pending across the whole network,
// and makes the service unreachable. Subsequent calls are no-ops.
func (s *Service[U]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.network.log(slog.LevelInfo, "close", slog.Any("endpoint", s.endpoint))
	s.disconnectAllLocked()
	s.closed = true
	return nil
}

// isClosed returns whether the service has been closed.
func (s *Service[U]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// receive processes a packet coming from the given endpoint.
func (s *Service[U]) receive(src Endpoint, pkt packet.Packet[U]) {
	s.emit(s.handle(src, pkt)...)
}

// handle updates the state according to the packet and returns
// the events to emit.
func (s *Service[U]) handle(src Endpoint, pkt packet.Packet[U]) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiveLocked(src, pkt)
}

// receiveLocked is like handle but the caller must hold mu.
func (s *Service[U]) receiveLocked(src Endpoint, pkt packet.Packet[U]) []Event {
	switch pkt.Kind {
	case packet.KindBootstrapRequest:
		return s.handleBootstrapRequestLocked(src, pkt.ID, pkt.Role)
	case packet.KindBootstrapSuccess:
		return s.handleBootstrapSuccessLocked(src, pkt.ID)
	case packet.KindBootstrapFailure:
		return s.decrementPendingBootstrapsLocked()
	case packet.KindConnectRequest:
		return s.handleConnectRequestLocked(src, pkt.ID)
	case packet.KindConnectSuccess:
		return s.handleConnectSuccessLocked(src, pkt.ID)
	case packet.KindConnectFailure:
		delete(s.connecting, pkt.ID)
		return []Event{ConnectFailure[U]{ID: pkt.ID}}
	case packet.KindMessage:
		return s.handleMessageLocked(src, pkt.Payload)
	case packet.KindDisconnect:
		return s.handleDisconnectLocked(src)
	default:
		panic(fmt.Sprintf("mocknet: unexpected packet kind %d", pkt.Kind))
	}
}

// handleBootstrapRequestLocked accepts the requester when we are
// listening and refuses it otherwise.
func (s *Service[U]) handleBootstrapRequestLocked(src Endpoint, uid U, role Role) []Event {
	if !s.listening {
		s.network.send(s.endpoint, src, packet.Packet[U]{Kind: packet.KindBootstrapFailure})
		return nil
	}
	s.addConnectionLocked(uid, src)
	s.network.send(s.endpoint, src, packet.NewBootstrapSuccess(s.mustUIDLocked()))
	return []Event{BootstrapAccept[U]{ID: uid, Role: role}}
}

// handleBootstrapSuccessLocked registers the accepting peer.
func (s *Service[U]) handleBootstrapSuccessLocked(src Endpoint, uid U) []Event {
	s.addConnectionLocked(uid, src)
	events := []Event{BootstrapConnect[U]{ID: uid, Addr: src.AddrPort()}}
	return append(events, s.decrementPendingBootstrapsLocked()...)
}

// decrementPendingBootstrapsLocked accounts for a bootstrap reply and
// reports failure once all replies arrived without any connection.
func (s *Service[U]) decrementPendingBootstrapsLocked() []Event {
	if s.pendingBootstraps <= 0 {
		return nil
	}
	s.pendingBootstraps--
	if s.pendingBootstraps <= 0 && len(s.connections) <= 0 {
		return []Event{BootstrapFailed{}}
	}
	return nil
}

// handleConnectRequestLocked accepts a connect request unless we are
// already connected to the requester.
func (s *Service[U]) handleConnectRequestLocked(src Endpoint, theirID U) []Event {
	if s.isConnectedLocked(src, theirID) {
		return nil
	}
	s.addConnectionLocked(theirID, src)
	if _, found := s.connecting[theirID]; found {
		// Both sides raced to connect to each other.
		s.connecting[theirID] = true
	}
	s.network.send(s.endpoint, src, packet.NewConnectSuccess(s.mustUIDLocked(), theirID))
	return []Event{ConnectSuccess[U]{ID: theirID}}
}

// handleConnectSuccessLocked registers the connection and reports it,
// unless we already did so while serving their racing request.
func (s *Service[U]) handleConnectSuccessLocked(src Endpoint, theirID U) []Event {
	reported := s.connecting[theirID]
	delete(s.connecting, theirID)
	s.addConnectionLocked(theirID, src)
	if reported {
		return nil
	}
	return []Event{ConnectSuccess[U]{ID: theirID}}
}

// handleMessageLocked delivers a message from a connected peer.
func (s *Service[U]) handleMessageLocked(src Endpoint, data []byte) []Event {
	uid, found := s.findUIDByEndpointLocked(src)
	runtimex.Assert(found, fmt.Sprintf("received message from non-connected %s", src))
	return []Event{NewMessage[U]{ID: uid, Data: data}}
}

// handleDisconnectLocked forgets the peer that disconnected from us.
func (s *Service[U]) handleDisconnectLocked(src Endpoint) []Event {
	uid, found := s.removeConnectionByEndpointLocked(src)
	if !found {
		return nil
	}
	return []Event{LostPeer[U]{ID: uid}}
}

// emit delivers events to the sink. The caller must not hold mu.
//
// This method panics if there is no sink or the sink fails.
func (s *Service[U]) emit(events ...Event) {
	if len(events) <= 0 {
		return
	}
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	runtimex.Assert(sink != nil, fmt.Sprintf("could not get event sink of %s", s.endpoint))
	for _, ev := range events {
		s.network.log(slog.LevelDebug, "event",
			slog.Any("endpoint", s.endpoint), slog.String("event", ev.String()))
		runtimex.Try0(sink.Send(ev))
	}
}

// mustUID returns the service identity or panics.
func (s *Service[U]) mustUID() U {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mustUIDLocked()
}

// mustUIDLocked is like mustUID but the caller must hold mu.
func (s *Service[U]) mustUIDLocked() U {
	runtimex.Assert(s.hasUID, fmt.Sprintf("service %s has not been started", s.endpoint))
	return s.uid
}

// addConnectionLocked adds a connection unless the exact same
// connection already exists. It returns whether it added it.
func (s *Service[U]) addConnectionLocked(uid U, ep Endpoint) bool {
	if s.isConnectedLocked(ep, uid) {
		return false
	}
	s.connections = append(s.connections, Connection[U]{ID: uid, Endpoint: ep})
	return true
}

// isConnectedLocked returns whether the exact connection exists.
func (s *Service[U]) isConnectedLocked(ep Endpoint, uid U) bool {
	return slices.Contains(s.connections, Connection[U]{ID: uid, Endpoint: ep})
}

// removeConnectionByEndpoint removes the first connection with the
// given endpoint and returns the peer identity, if any.
func (s *Service[U]) removeConnectionByEndpoint(ep Endpoint) (U, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeConnectionByEndpointLocked(ep)
}

// removeConnectionByEndpointLocked is like removeConnectionByEndpoint
// but the caller must hold mu.
func (s *Service[U]) removeConnectionByEndpointLocked(ep Endpoint) (U, bool) {
	idx := slices.IndexFunc(s.connections, func(c Connection[U]) bool { return c.Endpoint == ep })
	if idx < 0 {
		var zero U
		return zero, false
	}
	uid := s.connections[idx].ID
	s.connections = slices.Delete(s.connections, idx, idx+1)
	return uid, true
}

// removeConnectionByUIDLocked removes the first connection with the
// given peer identity and returns its endpoint, if any.
func (s *Service[U]) removeConnectionByUIDLocked(uid U) (Endpoint, bool) {
	idx := slices.IndexFunc(s.connections, func(c Connection[U]) bool { return c.ID == uid })
	if idx < 0 {
		return 0, false
	}
	ep := s.connections[idx].Endpoint
	s.connections = slices.Delete(s.connections, idx, idx+1)
	return ep, true
}

// findEndpointByUIDLocked returns the endpoint of the given peer.
func (s *Service[U]) findEndpointByUIDLocked(uid U) (Endpoint, bool) {
	for _, conn := range s.connections {
		if conn.ID == uid {
			return conn.Endpoint, true
		}
	}
	return 0, false
}

// findUIDByEndpointLocked returns the identity of the peer at ep.
func (s *Service[U]) findUIDByEndpointLocked(ep Endpoint) (U, bool) {
	for _, conn := range s.connections {
		if conn.Endpoint == ep {
			return conn.ID, true
		}
	}
	var zero U
	return zero, false
}
