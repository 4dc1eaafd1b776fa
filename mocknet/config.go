// SPDX-License-Identifier: GPL-3.0-or-later

package mocknet

import (
	"fmt"
	"io"
	"slices"

	"github.com/miekg/dns"
)

// Config is the simulated transport configuration of a [*Service].
type Config struct {
	// HardCodedContacts contains the endpoints to bootstrap against.
	HardCodedContacts []Endpoint
}

// NewConfig creates a [*Config] without contacts.
func NewConfig() *Config {
	return ConfigWithContacts()
}

// ConfigWithContacts creates a [*Config] with the given contacts.
func ConfigWithContacts(contacts ...Endpoint) *Config {
	return &Config{HardCodedContacts: slices.Clone(contacts)}
}

// clone returns a deep copy of the config, handling nil.
func (cfg *Config) clone() *Config {
	if cfg == nil {
		return NewConfig()
	}
	return ConfigWithContacts(cfg.HardCodedContacts...)
}

// ParseContactsZone reads bootstrap contacts from a DNS zone.
//
// Contacts are published as SRV records, which is how DNS seed lists
// are commonly distributed. The SRV port is the contact [Endpoint]. All
// the other record types are ignored. The origin is used to complete
// relative names and may be empty when all names are fully qualified.
//
// For example:
//
//	$ORIGIN seeds.example.
//	_routing._tcp 3600 IN SRV 0 0 1 node1
//	_routing._tcp 3600 IN SRV 0 0 2 node2
//
// yields endpoints 1 and 2 in order. Contacts are kept as given,
// duplicates included, like [Config.HardCodedContacts].
func ParseContactsZone(r io.Reader, origin string) ([]Endpoint, error) {
	if origin != "" {
		origin = dns.Fqdn(origin)
	}
	zp := dns.NewZoneParser(r, origin, "")
	var contacts []Endpoint
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		srv, isSRV := rr.(*dns.SRV)
		if !isSRV {
			continue
		}
		contacts = append(contacts, Endpoint(srv.Port))
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("mocknet: parsing contacts zone: %w", err)
	}
	return contacts, nil
}

// ConfigFromZone is like [ParseContactsZone] but returns a [*Config].
func ConfigFromZone(r io.Reader, origin string) (*Config, error) {
	contacts, err := ParseContactsZone(r, origin)
	if err != nil {
		return nil, err
	}
	return &Config{HardCodedContacts: contacts}, nil
}
