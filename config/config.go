/*
 * A programmable BGP-4 speaker. Copyright (C) 2021-present David Coles
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

// Package config holds the static configuration record the speaker
// consumes. Parsing of the full text configuration format lives
// outside the core; this record - loaded here from YAML - is the
// contract, and the reactor acts on incremental diffs between loads.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/davidcoles/speaker/message"
)

// StaticRoute is one initial route for a neighbor.
type StaticRoute struct {
	Prefix      string   `yaml:"prefix"`
	NextHop     string   `yaml:"next-hop"`
	MED         uint32   `yaml:"med,omitempty"`
	LocalPref   uint32   `yaml:"local-preference,omitempty"`
	Communities []string `yaml:"communities,omitempty"`
	ASPath      []uint32 `yaml:"as-path,omitempty"`
	PathID      uint32   `yaml:"path-id,omitempty"`
}

// Neighbor is everything the speaker needs to run one peering.
type Neighbor struct {
	PeerAddress  string `yaml:"peer-address"`
	LocalAddress string `yaml:"local-address,omitempty"`
	Port         uint16 `yaml:"port,omitempty"`

	LocalAS  uint32 `yaml:"local-as"`
	PeerAS   uint32 `yaml:"peer-as"`
	RouterID string `yaml:"router-id,omitempty"`

	HoldTime uint16 `yaml:"hold-time,omitempty"`
	Passive  bool   `yaml:"passive,omitempty"`

	MD5       string   `yaml:"md5-password,omitempty"`
	TCPAOKeys []string `yaml:"tcp-ao-keys,omitempty"` // carried to the transport, not interpreted

	Families []string `yaml:"families,omitempty"`

	RouteRefresh    bool              `yaml:"route-refresh,omitempty"`
	EnhancedRefresh bool              `yaml:"enhanced-route-refresh,omitempty"`
	ExtendedMessage bool              `yaml:"extended-message,omitempty"`
	Operational     bool              `yaml:"operational,omitempty"`
	MultiSession    bool              `yaml:"multi-session,omitempty"`
	AddPath         map[string]string `yaml:"add-path,omitempty"` // family -> send|receive|send/receive
	GracefulRestart *uint16           `yaml:"graceful-restart,omitempty"`
	HostName        string            `yaml:"host-name,omitempty"`
	DomainName      string            `yaml:"domain-name,omitempty"`

	Routes []StaticRoute `yaml:"routes,omitempty"`
}

// Config is the whole record.
type Config struct {
	RouterID  string              `yaml:"router-id"`
	Neighbors map[string]Neighbor `yaml:"neighbors"`
}

// Load reads and validates the record.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	for name, n := range c.Neighbors {
		if n.PeerAddress == "" {
			n.PeerAddress = name
		}
		if n.RouterID == "" {
			n.RouterID = c.RouterID
		}
		if n.HoldTime == 0 {
			n.HoldTime = 180
		}
		if n.Port == 0 {
			n.Port = 179
		}
		if len(n.Families) == 0 {
			n.Families = []string{"ipv4 unicast"}
		}
		for _, f := range n.Families {
			if _, err := ParseFamily(f); err != nil {
				return nil, fmt.Errorf("neighbor %s: %w", name, err)
			}
		}
		c.Neighbors[name] = n
	}

	return &c, nil
}

var familyNames = map[string]message.Family{
	"ipv4 unicast":   message.IPv4Unicast,
	"ipv4 multicast": message.IPv4Multicast,
	"ipv4 nlri-mpls": message.IPv4Label,
	"ipv4 mpls-vpn":  message.IPv4VPN,
	"ipv4 rtc":       message.IPv4RTC,
	"ipv4 flow":      message.IPv4Flow,
	"ipv4 flow-vpn":  message.IPv4FlowVPN,
	"ipv4 mcast-vpn": message.IPv4MVPN,
	"ipv4 mup":       message.IPv4MUP,
	"ipv6 unicast":   message.IPv6Unicast,
	"ipv6 multicast": message.IPv6Multicast,
	"ipv6 nlri-mpls": message.IPv6Label,
	"ipv6 mpls-vpn":  message.IPv6VPN,
	"ipv6 flow":      message.IPv6Flow,
	"ipv6 mcast-vpn": message.IPv6MVPN,
	"ipv6 mup":       message.IPv6MUP,
	"l2vpn vpls":     message.L2VPLS,
	"l2vpn evpn":     message.L2EVPN,
	"bgp-ls bgp-ls":  message.LinkState,
}

// ParseFamily maps the configuration name of a family ("ipv4 unicast")
// to its identifier pair.
func ParseFamily(s string) (message.Family, error) {
	f, ok := familyNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return message.Family{}, fmt.Errorf("unknown family %q", s)
	}
	return f, nil
}

// MessageFamilies resolves the neighbor's configured family list.
func (n *Neighbor) MessageFamilies() (out []message.Family) {
	for _, s := range n.Families {
		if f, err := ParseFamily(s); err == nil {
			out = append(out, f)
		}
	}
	return
}

// AddPathMode decodes the configured direction for a family.
func (n *Neighbor) AddPathMode(f message.Family) uint8 {
	for name, dir := range n.AddPath {
		if x, err := ParseFamily(name); err == nil && x == f {
			switch strings.ToLower(dir) {
			case "send":
				return message.ADDPATH_SEND
			case "receive":
				return message.ADDPATH_RECEIVE
			case "send/receive", "both":
				return message.ADDPATH_BOTH
			}
		}
	}
	return 0
}

// Equal compares two neighbor records - a changed neighbor is bounced.
func (n Neighbor) Equal(other Neighbor) bool {
	return reflect.DeepEqual(n, other)
}

// Diff reports the neighbor names added, removed, or changed between
// two records.
func Diff(old, new *Config) (added, removed, changed []string) {
	if old == nil {
		old = &Config{}
	}

	for name, n := range new.Neighbors {
		o, ok := old.Neighbors[name]
		if !ok {
			added = append(added, name)
		} else if !o.Equal(n) {
			changed = append(changed, name)
		}
	}

	for name := range old.Neighbors {
		if _, ok := new.Neighbors[name]; !ok {
			removed = append(removed, name)
		}
	}

	return
}
