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

// https://datatracker.ietf.org/doc/html/rfc4760 - Multiprotocol Extensions for BGP-4
// https://datatracker.ietf.org/doc/html/rfc2545 - Use of BGP-4 Multiprotocol Extensions for IPv6

package message

import (
	"fmt"
	"net/netip"
)

// MPReach is attribute 14 - the reachable NLRI for a non-IPv4-unicast
// family, with the family's nexthop encoding. LinkLocal is only valid
// for an IPv6 nexthop pair.
type MPReach struct {
	Fam       Family
	NextHop   netip.Addr
	LinkLocal netip.Addr
	NLRIs     []NLRI
}

func (m *MPReach) Code() uint8  { return MP_REACH_NLRI }
func (m *MPReach) Flags() uint8 { return ONCR }

func (m *MPReach) String() string {
	return fmt.Sprintf("mp-reach %s next-hop %s [%d nlri]", m.Fam, m.NextHop, len(m.NLRIs))
}

// nexthop renders the family specific nexthop field - VPN families
// carry an all-zero route distinguisher before the address.
func (m *MPReach) nexthop() []byte {
	var b []byte

	if !m.NextHop.IsValid() {
		return b
	}

	switch m.Fam.SAFI {
	case SAFI_VPN, SAFI_FLOW_VPN:
		b = append(b, make([]byte, 8)...)
	}

	b = append(b, m.NextHop.AsSlice()...)

	if m.LinkLocal.IsValid() {
		b = append(b, m.LinkLocal.AsSlice()...)
	}

	return b
}

func (m *MPReach) Payload(neg *Negotiated) []byte {
	b := m.Fam.pack()
	nh := m.nexthop()
	b = append(b, byte(len(nh)))
	b = append(b, nh...)
	b = append(b, 0) // SNPA count - long deprecated, always zero

	for _, n := range m.NLRIs {
		b = append(b, n.Pack(neg)...)
	}

	return b
}

func decodeMPReach(p []byte, neg *Negotiated) (Attribute, *attrError) {
	if len(p) < 5 {
		return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
	}

	fam := Family{AFI(ntohs(p[0], p[1])), SAFI(p[2])}
	nhlen := int(p[3])

	if len(p) < 4+nhlen+1 {
		return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
	}

	m := &MPReach{Fam: fam}
	nh := p[4 : 4+nhlen]

	switch fam.SAFI {
	case SAFI_VPN, SAFI_FLOW_VPN:
		// nexthop behind an all-zero RD
		if nhlen >= 8 {
			nh = nh[8:]
			nhlen -= 8
		}
	}

	switch nhlen {
	case 0:
	case 4:
		m.NextHop = netip.AddrFrom4([4]byte(nh))
	case 16:
		m.NextHop = netip.AddrFrom16([16]byte(nh))
	case 32:
		// global + link-local pair; a link-local address in the global
		// half (or vice versa) is a peer bug - discard it from the pair
		global := netip.AddrFrom16([16]byte(nh[:16]))
		local := netip.AddrFrom16([16]byte(nh[16:]))
		if global.IsLinkLocalUnicast() {
			global = netip.Addr{}
		}
		if !local.IsLinkLocalUnicast() {
			local = netip.Addr{}
		}
		m.NextHop = global
		m.LinkLocal = local
	default:
		return nil, treatAsWithdraw(UPDATE_ERROR, INVALID_NEXT_HOP, p)
	}

	rest := p[4+int(p[3]):]

	if len(rest) < 1 {
		return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
	}

	// skip SNPAs
	snpas := int(rest[0])
	rest = rest[1:]
	for i := 0; i < snpas; i++ {
		if len(rest) < 1 || len(rest) < 1+int(rest[0]) {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		rest = rest[1+int(rest[0]):]
	}

	if !Supported(fam) {
		return nil, treatAsWithdraw(UPDATE_ERROR, OPTIONAL_ATTRIBUTE_ERROR, p)
	}

	nlris, err := DecodeNLRIs(fam, rest, neg.AddPathReceive(fam))
	if err != nil {
		return nil, sessionReset(UPDATE_ERROR, INVALID_NETWORK_FIELD, nil)
	}

	m.NLRIs = nlris
	return m, nil
}

// MPUnreach is attribute 15 - withdrawn NLRI for a non-IPv4-unicast
// family. An empty NLRI list is the End-of-RIB marker for the family.
type MPUnreach struct {
	Fam   Family
	NLRIs []NLRI
}

func (m *MPUnreach) Code() uint8  { return MP_UNREACH_NLRI }
func (m *MPUnreach) Flags() uint8 { return ONCR }

func (m *MPUnreach) String() string {
	return fmt.Sprintf("mp-unreach %s [%d nlri]", m.Fam, len(m.NLRIs))
}

func (m *MPUnreach) Payload(neg *Negotiated) []byte {
	b := m.Fam.pack()
	for _, n := range m.NLRIs {
		b = append(b, n.Pack(neg)...)
	}
	return b
}

func decodeMPUnreach(p []byte, neg *Negotiated) (Attribute, *attrError) {
	if len(p) < 3 {
		return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
	}

	fam := Family{AFI(ntohs(p[0], p[1])), SAFI(p[2])}

	if !Supported(fam) {
		return nil, treatAsWithdraw(UPDATE_ERROR, OPTIONAL_ATTRIBUTE_ERROR, p)
	}

	nlris, err := DecodeNLRIs(fam, p[3:], neg.AddPathReceive(fam))
	if err != nil {
		return nil, sessionReset(UPDATE_ERROR, INVALID_NETWORK_FIELD, nil)
	}

	return &MPUnreach{Fam: fam, NLRIs: nlris}, nil
}
