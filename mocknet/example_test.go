// SPDX-License-Identifier: GPL-3.0-or-later

package mocknet_test

import (
	"fmt"

	"github.com/rbmk-project/routesim/mocknet"
)

// This example shows how to bootstrap a node against a listening
// node and exchange a message using a [*mocknet.Scenario].
func Example_bootstrap() {
	sc := mocknet.NewScenario[string](8, &mocknet.Seed{Hi: 1, Lo: 2})
	defer sc.Close()

	bob := sc.MustNewNode(&mocknet.NodeConfig[string]{
		ID:         "bob",
		Listen:     true,
		ListenPort: 5483,
	})
	alice := sc.MustNewNode(&mocknet.NodeConfig[string]{
		ID:     "alice",
		Config: mocknet.ConfigWithContacts(bob.Endpoint()),
	})

	alice.StartBootstrap(nil, mocknet.RoleNode)
	sc.Drain()

	alice.SendMessage("bob", []byte("hello"))
	sc.Drain()

	for _, ev := range alice.Events.Events() {
		fmt.Println("alice:", ev)
	}
	for _, ev := range bob.Events.Events() {
		fmt.Println("bob:", ev)
	}

	// Output:
	// alice: BootstrapConnect(bob, 123.123.255.255:0)
	// bob: ListenerStarted(5483)
	// bob: BootstrapAccept(alice, node)
	// bob: NewMessage(alice, length=5)
}

// This example shows how [*mocknet.Network.BlockConnection] makes
// requests fail.
func ExampleNetwork_BlockConnection() {
	sc := mocknet.NewScenario[string](8, &mocknet.Seed{Hi: 1, Lo: 2})
	defer sc.Close()

	bob := sc.MustNewNode(&mocknet.NodeConfig[string]{ID: "bob", Listen: true})
	alice := sc.MustNewNode(&mocknet.NodeConfig[string]{
		ID:     "alice",
		Config: mocknet.ConfigWithContacts(bob.Endpoint()),
	})
	sc.Network().BlockConnection(alice.Endpoint(), bob.Endpoint())

	alice.StartBootstrap(nil, mocknet.RoleNode)
	fmt.Println("delivered:", sc.Drain())
	fmt.Println("alice:", alice.Events.Events())
	fmt.Println("connected:", alice.IsConnected(bob.Service))

	// Output:
	// delivered: 2
	// alice: [BootstrapFailed]
	// connected: false
}
