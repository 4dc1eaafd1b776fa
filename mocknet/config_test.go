// SPDX-License-Identifier: GPL-3.0-or-later

package mocknet_test

import (
	"strings"
	"testing"

	"github.com/rbmk-project/routesim/mocknet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWithContacts(t *testing.T) {
	contacts := []mocknet.Endpoint{1, 2}
	config := mocknet.ConfigWithContacts(contacts...)
	contacts[0] = 7
	assert.Equal(t, []mocknet.Endpoint{1, 2}, config.HardCodedContacts)
	assert.Empty(t, mocknet.NewConfig().HardCodedContacts)
}

func TestParseContactsZone(t *testing.T) {
	cases := []struct {
		name    string
		zone    string
		origin  string
		want    []mocknet.Endpoint
		wantErr bool
	}{{
		name: "relative names and duplicates",
		zone: strings.Join([]string{
			"$ORIGIN seeds.example.",
			"$TTL 3600",
			"_routing._tcp IN SRV 0 0 1 node1",
			"_routing._tcp IN SRV 0 0 2 node2",
			"node1 IN A 123.123.255.255",
			"_routing._tcp IN SRV 10 0 1 node1",
			"",
		}, "\n"),
		want: []mocknet.Endpoint{1, 2, 1},
	}, {
		name:   "origin argument",
		zone:   "_routing._tcp 60 IN SRV 0 0 9 node9\n",
		origin: "seeds.example",
		want:   []mocknet.Endpoint{9},
	}, {
		name: "no SRV records",
		zone: "node1.seeds.example. 60 IN A 123.123.255.255\n",
		want: nil,
	}, {
		name:    "malformed record",
		zone:    "_routing._tcp.seeds.example. 60 IN SRV zero\n",
		wantErr: true,
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			contacts, err := mocknet.ParseContactsZone(strings.NewReader(tc.zone), tc.origin)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "mocknet: parsing contacts zone")
				assert.Nil(t, contacts)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, contacts)
		})
	}
}

func TestConfigFromZone(t *testing.T) {
	sc := mocknet.NewScenario[string](8, testSeed)
	defer sc.Close()
	bob := sc.MustNewNode(&mocknet.NodeConfig[string]{ID: "bob", Listen: true})

	config, err := mocknet.ConfigFromZone(strings.NewReader(
		"_routing._tcp.seeds.example. 60 IN SRV 0 0 0 bob.seeds.example.\n"), "")
	require.NoError(t, err)
	require.Equal(t, []mocknet.Endpoint{bob.Endpoint()}, config.HardCodedContacts)

	alice := sc.MustNewNode(&mocknet.NodeConfig[string]{ID: "alice", Config: config})
	alice.StartBootstrap(nil, mocknet.RoleNode)
	sc.Drain()
	assert.True(t, alice.IsConnected(bob.Service))

	_, err = mocknet.ConfigFromZone(strings.NewReader("bogus 60 IN SRV x y z w\n"), "seeds.example")
	assert.Error(t, err)
}
