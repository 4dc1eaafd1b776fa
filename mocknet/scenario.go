// SPDX-License-Identifier: GPL-3.0-or-later

package mocknet

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/routesim/closepool"
)

// Node is a [*Service] started with a [*Recorder] as its sink.
type Node[U UID] struct {
	// Service is the simulated service.
	*Service[U]

	// Events records the events emitted by Service.
	Events *Recorder
}

// NodeConfig contains configuration for creating a new [*Node].
type NodeConfig[U UID] struct {
	// ID is the identity of the node.
	ID U

	// Config is the optional transport configuration.
	Config *Config

	// Endpoint optionally forces the node endpoint.
	Endpoint *Endpoint

	// Listen causes the node to listen on ListenPort.
	Listen bool

	// ListenPort is the port to report in [ListenerStarted].
	ListenPort uint16
}

// Scenario manages a [*Network] and the [*Node] attached to it.
//
// Construct using [NewScenario].
type Scenario[U UID] struct {
	// network is the simulated network.
	network *Network[U]

	// mu protects nodes.
	mu sync.Mutex

	// nodes contains the nodes in creation order.
	nodes []*Node[U]

	// pool tracks the nodes to close.
	pool *closepool.Pool
}

// NewScenario creates a new [*Scenario] around a new [*Network].
func NewScenario[U UID](minSectionSize int, seed *Seed) *Scenario[U] {
	return &Scenario[U]{
		network: NewNetwork[U](minSectionSize, seed),
		mu:      sync.Mutex{},
		nodes:   nil,
		pool:    &closepool.Pool{},
	}
}

// Network returns the scenario network.
func (s *Scenario[U]) Network() *Network[U] {
	return s.network
}

// Nodes returns the nodes created so far, in creation order.
func (s *Scenario[U]) Nodes() []*Node[U] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.nodes)
}

// validate returns an error if the configuration is not valid.
func (s *Scenario[U]) validate(cfg *NodeConfig[U]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range s.nodes {
		if cfg.Endpoint != nil && node.Endpoint() == *cfg.Endpoint {
			return fmt.Errorf("mocknet: endpoint %s already in use", *cfg.Endpoint)
		}
		if uid, _ := node.UID(); uid == cfg.ID {
			return fmt.Errorf("mocknet: identity %v already in use", cfg.ID)
		}
	}
	if !cfg.Listen && cfg.ListenPort != 0 {
		return errors.New("mocknet: ListenPort requires Listen")
	}
	return nil
}

// MustNewNode creates, starts and registers a new [*Node].
//
// This method panics on error.
func (s *Scenario[U]) MustNewNode(cfg *NodeConfig[U]) *Node[U] {
	runtimex.Try0(s.validate(cfg))
	node := &Node[U]{
		Service: s.network.NewService(cfg.Config, cfg.Endpoint),
		Events:  &Recorder{},
	}
	node.Start(node.Events, cfg.ID)
	if cfg.Listen {
		node.StartListeningTCP(cfg.ListenPort)
	}
	s.mu.Lock()
	s.nodes = append(s.nodes, node)
	s.mu.Unlock()
	s.pool.Add(node)
	return node
}

// Drain is like [*Network.Drain].
func (s *Scenario[U]) Drain() int {
	return s.network.Drain()
}

// Close closes all the nodes in reverse creation order. The returned
// error is the join of all the errors that occurred.
func (s *Scenario[U]) Close() error {
	s.mu.Lock()
	s.nodes = nil
	s.mu.Unlock()
	return s.pool.Close()
}
