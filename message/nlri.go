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

package message

import (
	"fmt"
)

type AFI uint16
type SAFI uint8

const (
	AFI_IPV4 AFI = 1
	AFI_IPV6 AFI = 2
	AFI_L2   AFI = 25
	AFI_LS   AFI = 16388

	SAFI_UNICAST   SAFI = 1
	SAFI_MULTICAST SAFI = 2
	SAFI_LABEL     SAFI = 4
	SAFI_MVPN      SAFI = 5
	SAFI_VPLS      SAFI = 65
	SAFI_EVPN      SAFI = 70
	SAFI_LS        SAFI = 71
	SAFI_MUP       SAFI = 85
	SAFI_VPN       SAFI = 128
	SAFI_RTC       SAFI = 132
	SAFI_FLOW      SAFI = 133
	SAFI_FLOW_VPN  SAFI = 134
)

// Family identifies a route family - an (AFI, SAFI) pair.
type Family struct {
	AFI  AFI
	SAFI SAFI
}

var (
	IPv4Unicast   = Family{AFI_IPV4, SAFI_UNICAST}
	IPv4Multicast = Family{AFI_IPV4, SAFI_MULTICAST}
	IPv4Label     = Family{AFI_IPV4, SAFI_LABEL}
	IPv4MVPN      = Family{AFI_IPV4, SAFI_MVPN}
	IPv4VPN       = Family{AFI_IPV4, SAFI_VPN}
	IPv4RTC       = Family{AFI_IPV4, SAFI_RTC}
	IPv4Flow      = Family{AFI_IPV4, SAFI_FLOW}
	IPv4FlowVPN   = Family{AFI_IPV4, SAFI_FLOW_VPN}
	IPv4MUP       = Family{AFI_IPV4, SAFI_MUP}
	IPv6Unicast   = Family{AFI_IPV6, SAFI_UNICAST}
	IPv6Multicast = Family{AFI_IPV6, SAFI_MULTICAST}
	IPv6Label     = Family{AFI_IPV6, SAFI_LABEL}
	IPv6MVPN      = Family{AFI_IPV6, SAFI_MVPN}
	IPv6VPN       = Family{AFI_IPV6, SAFI_VPN}
	IPv6Flow      = Family{AFI_IPV6, SAFI_FLOW}
	IPv6MUP       = Family{AFI_IPV6, SAFI_MUP}
	L2VPLS        = Family{AFI_L2, SAFI_VPLS}
	L2EVPN        = Family{AFI_L2, SAFI_EVPN}
	LinkState     = Family{AFI_LS, SAFI_LS}
)

func (a AFI) String() string {
	switch a {
	case AFI_IPV4:
		return "ipv4"
	case AFI_IPV6:
		return "ipv6"
	case AFI_L2:
		return "l2vpn"
	case AFI_LS:
		return "bgp-ls"
	}
	return fmt.Sprintf("afi-%d", uint16(a))
}

func (s SAFI) String() string {
	switch s {
	case SAFI_UNICAST:
		return "unicast"
	case SAFI_MULTICAST:
		return "multicast"
	case SAFI_LABEL:
		return "nlri-mpls"
	case SAFI_MVPN:
		return "mcast-vpn"
	case SAFI_VPLS:
		return "vpls"
	case SAFI_EVPN:
		return "evpn"
	case SAFI_LS:
		return "bgp-ls"
	case SAFI_MUP:
		return "mup"
	case SAFI_VPN:
		return "mpls-vpn"
	case SAFI_RTC:
		return "rtc"
	case SAFI_FLOW:
		return "flow"
	case SAFI_FLOW_VPN:
		return "flow-vpn"
	}
	return fmt.Sprintf("safi-%d", uint8(s))
}

func (f Family) String() string { return f.AFI.String() + " " + f.SAFI.String() }

func (f Family) pack() []byte { return []byte{byte(f.AFI >> 8), byte(f.AFI), byte(f.SAFI)} }

// NLRI is a single routable destination. Index returns a deterministic
// byte string (as a Go string so it can key maps) distinguishing this
// NLRI from any other at the protocol level - the add-path identifier is
// included when present, the nexthop and attributes never are.
type NLRI interface {
	Family() Family
	Index() string
	Pack(neg *Negotiated) []byte
	String() string
}

// decoder consumes one NLRI from data, returning it and the number of
// bytes used. addpath is true when the negotiated receive direction for
// the family carries path identifiers.
type decoder func(f Family, data []byte, addpath bool) (NLRI, int, error)

var nlriRegistry = map[Family]decoder{}

func register(f Family, d decoder) { nlriRegistry[f] = d }

func init() {
	register(IPv4Unicast, decodePrefix)
	register(IPv4Multicast, decodePrefix)
	register(IPv6Unicast, decodePrefix)
	register(IPv6Multicast, decodePrefix)
	register(IPv4Label, decodeLabelled)
	register(IPv6Label, decodeLabelled)
	register(IPv4VPN, decodeVPN)
	register(IPv6VPN, decodeVPN)
	register(IPv4RTC, decodeRTC)
	register(IPv4Flow, decodeFlow)
	register(IPv4FlowVPN, decodeFlow)
	register(IPv6Flow, decodeFlow)
	register(IPv4MVPN, decodeMVPN)
	register(IPv6MVPN, decodeMVPN)
	register(L2VPLS, decodeVPLS)
	register(L2EVPN, decodeEVPN)
	register(LinkState, decodeLS)
	register(IPv4MUP, decodeMUP)
	register(IPv6MUP, decodeMUP)
}

// Supported reports whether the family has a registered NLRI codec.
func Supported(f Family) bool {
	_, ok := nlriRegistry[f]
	return ok
}

// Families returns every registered family.
func Families() (out []Family) {
	for f := range nlriRegistry {
		out = append(out, f)
	}
	return
}

// DecodeNLRIs unpacks a run of NLRI for one family, as found in the
// UPDATE NLRI field or inside MP_REACH/MP_UNREACH attributes.
func DecodeNLRIs(f Family, data []byte, addpath bool) ([]NLRI, error) {
	d, ok := nlriRegistry[f]

	if !ok {
		return nil, fmt.Errorf("no decoder for family %s", f)
	}

	var out []NLRI

	for len(data) > 0 {
		n, used, err := d(f, data, addpath)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		data = data[used:]
	}

	return out, nil
}

func invalid(f Family, why string) error {
	return fmt.Errorf("%s nlri: %s", f, why)
}
