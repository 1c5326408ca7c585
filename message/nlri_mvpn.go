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

// https://datatracker.ietf.org/doc/html/rfc6514 - BGP Encodings and Procedures for Multicast in MPLS/BGP IP VPNs

package message

import (
	"fmt"
	"net/netip"
)

const (
	MVPN_INTRA_AS    = 1 // intra-AS I-PMSI auto-discovery
	MVPN_INTER_AS    = 2 // inter-AS I-PMSI auto-discovery
	MVPN_SPMSI       = 3 // S-PMSI auto-discovery
	MVPN_LEAF        = 4 // leaf auto-discovery
	MVPN_SOURCE_AD   = 5 // source active auto-discovery
	MVPN_SHARED_JOIN = 6 // C-multicast shared tree join
	MVPN_SOURCE_JOIN = 7 // C-multicast source tree join
)

// MVPN is the multicast VPN NLRI - one byte route type, one byte
// length, then a type specific payload. The populated fields depend on
// the route type.
type MVPN struct {
	Fam        Family
	Type       uint8
	RD         RD
	SourceAS   uint32
	Source     netip.Addr
	Group      netip.Addr
	Originator netip.Addr
	Key        []byte // leaf auto-discovery route key
}

func (m *MVPN) Family() Family { return m.Fam }

func (m *MVPN) String() string {
	switch m.Type {
	case MVPN_INTRA_AS:
		return fmt.Sprintf("mvpn:intra-as:%s:%s", m.RD, m.Originator)
	case MVPN_INTER_AS:
		return fmt.Sprintf("mvpn:inter-as:%s:%d", m.RD, m.SourceAS)
	case MVPN_SPMSI:
		return fmt.Sprintf("mvpn:s-pmsi:%s:%s:%s:%s", m.RD, m.Source, m.Group, m.Originator)
	case MVPN_LEAF:
		return fmt.Sprintf("mvpn:leaf:%x:%s", m.Key, m.Originator)
	case MVPN_SOURCE_AD:
		return fmt.Sprintf("mvpn:source-ad:%s:%s:%s", m.RD, m.Source, m.Group)
	case MVPN_SHARED_JOIN:
		return fmt.Sprintf("mvpn:shared-join:%s:%d:%s:%s", m.RD, m.SourceAS, m.Source, m.Group)
	case MVPN_SOURCE_JOIN:
		return fmt.Sprintf("mvpn:source-join:%s:%d:%s:%s", m.RD, m.SourceAS, m.Source, m.Group)
	}
	return fmt.Sprintf("mvpn:%d", m.Type)
}

func (m *MVPN) payload() []byte {
	var b []byte
	as := htonl(m.SourceAS)

	switch m.Type {
	case MVPN_INTRA_AS:
		b = append(b, m.RD[:]...)
		b = append(b, m.Originator.AsSlice()...)
	case MVPN_INTER_AS:
		b = append(b, m.RD[:]...)
		b = append(b, as[:]...)
	case MVPN_SPMSI:
		b = append(b, m.RD[:]...)
		b = append(b, addrField(m.Source)...)
		b = append(b, addrField(m.Group)...)
		b = append(b, m.Originator.AsSlice()...)
	case MVPN_LEAF:
		b = append(b, m.Key...)
		b = append(b, m.Originator.AsSlice()...)
	case MVPN_SOURCE_AD:
		b = append(b, m.RD[:]...)
		b = append(b, addrField(m.Source)...)
		b = append(b, addrField(m.Group)...)
	case MVPN_SHARED_JOIN, MVPN_SOURCE_JOIN:
		b = append(b, m.RD[:]...)
		b = append(b, as[:]...)
		b = append(b, addrField(m.Source)...)
		b = append(b, addrField(m.Group)...)
	}

	return b
}

func (m *MVPN) Index() string {
	p := m.payload()
	return string(append([]byte{m.Type, byte(len(p))}, p...))
}

func (m *MVPN) Pack(neg *Negotiated) []byte {
	p := m.payload()
	return append([]byte{m.Type, byte(len(p))}, p...)
}

func decodeMVPN(f Family, data []byte, addpath bool) (NLRI, int, error) {
	if len(data) < 2 {
		return nil, 0, invalid(f, "truncated mvpn")
	}

	rtype := data[0]
	length := int(data[1])

	if len(data) < 2+length {
		return nil, 0, invalid(f, "truncated mvpn payload")
	}

	p := data[2 : 2+length]
	used := 2 + length
	m := &MVPN{Fam: f, Type: rtype}

	originator := func(d []byte) (netip.Addr, bool) {
		switch len(d) {
		case 4:
			return netip.AddrFrom4([4]byte(d)), true
		case 16:
			return netip.AddrFrom16([16]byte(d)), true
		}
		return netip.Addr{}, false
	}

	switch rtype {
	case MVPN_INTRA_AS:
		if len(p) < 12 {
			return nil, 0, invalid(f, "bad intra-as length")
		}
		copy(m.RD[:], p[0:8])
		o, ok := originator(p[8:])
		if !ok {
			return nil, 0, invalid(f, "bad originator")
		}
		m.Originator = o

	case MVPN_INTER_AS:
		if len(p) != 12 {
			return nil, 0, invalid(f, "bad inter-as length")
		}
		copy(m.RD[:], p[0:8])
		m.SourceAS = ntohl(p[8], p[9], p[10], p[11])

	case MVPN_SPMSI:
		if len(p) < 10 {
			return nil, 0, invalid(f, "bad s-pmsi length")
		}
		copy(m.RD[:], p[0:8])
		rest := p[8:]
		src, n, ok := unpackAddrField(rest)
		if !ok {
			return nil, 0, invalid(f, "bad source")
		}
		rest = rest[n:]
		grp, n, ok := unpackAddrField(rest)
		if !ok {
			return nil, 0, invalid(f, "bad group")
		}
		rest = rest[n:]
		o, ok := originator(rest)
		if !ok {
			return nil, 0, invalid(f, "bad originator")
		}
		m.Source, m.Group, m.Originator = src, grp, o

	case MVPN_LEAF:
		// the route key is the payload minus the trailing originator;
		// the originator width follows the family of the session
		olen := 4
		if f.AFI == AFI_IPV6 {
			olen = 16
		}
		if len(p) < olen {
			return nil, 0, invalid(f, "bad leaf length")
		}
		m.Key = append([]byte{}, p[:len(p)-olen]...)
		o, ok := originator(p[len(p)-olen:])
		if !ok {
			return nil, 0, invalid(f, "bad originator")
		}
		m.Originator = o

	case MVPN_SOURCE_AD:
		if len(p) < 10 {
			return nil, 0, invalid(f, "bad source-ad length")
		}
		copy(m.RD[:], p[0:8])
		rest := p[8:]
		src, n, ok := unpackAddrField(rest)
		if !ok {
			return nil, 0, invalid(f, "bad source")
		}
		rest = rest[n:]
		grp, _, ok := unpackAddrField(rest)
		if !ok {
			return nil, 0, invalid(f, "bad group")
		}
		m.Source, m.Group = src, grp

	case MVPN_SHARED_JOIN, MVPN_SOURCE_JOIN:
		if len(p) < 14 {
			return nil, 0, invalid(f, "bad join length")
		}
		copy(m.RD[:], p[0:8])
		m.SourceAS = ntohl(p[8], p[9], p[10], p[11])
		rest := p[12:]
		src, n, ok := unpackAddrField(rest)
		if !ok {
			return nil, 0, invalid(f, "bad source")
		}
		rest = rest[n:]
		grp, _, ok := unpackAddrField(rest)
		if !ok {
			return nil, 0, invalid(f, "bad group")
		}
		m.Source, m.Group = src, grp

	default:
		return nil, 0, invalid(f, fmt.Sprintf("unknown route type %d", rtype))
	}

	return m, used, nil
}
