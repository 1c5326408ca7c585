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
	"net/netip"
	"strings"
)

// Origin is attribute 1 - IGP, EGP or INCOMPLETE.
type Origin uint8

func (o Origin) Code() uint8  { return ORIGIN }
func (o Origin) Flags() uint8 { return WTCR }

func (o Origin) Payload(neg *Negotiated) []byte { return []byte{uint8(o)} }

func (o Origin) String() string {
	switch o {
	case IGP:
		return "origin igp"
	case EGP:
		return "origin egp"
	}
	return "origin incomplete"
}

// Segment is one AS path segment.
type Segment struct {
	Seq  bool // AS_SEQUENCE when true, AS_SET otherwise
	ASNs []uint32
}

// ASPath is attribute 2.
type ASPath struct {
	Segments []Segment
}

// ASSequence builds the common single-sequence path.
func ASSequence(asns ...uint32) *ASPath {
	if len(asns) == 0 {
		return &ASPath{}
	}
	return &ASPath{Segments: []Segment{{Seq: true, ASNs: asns}}}
}

func (a *ASPath) Code() uint8  { return AS_PATH }
func (a *ASPath) Flags() uint8 { return WTCR }

// wide reports whether any AS number needs four bytes.
func (a *ASPath) wide() bool {
	for _, s := range a.Segments {
		for _, asn := range s.ASNs {
			if asn > 0xffff {
				return true
			}
		}
	}
	return false
}

func (a *ASPath) Payload(neg *Negotiated) []byte {
	asn4 := neg != nil && neg.ASN4

	var b []byte
	for _, s := range a.Segments {
		t := byte(AS_SET)
		if s.Seq {
			t = AS_SEQUENCE
		}
		b = append(b, t, byte(len(s.ASNs)))
		for _, asn := range s.ASNs {
			if asn4 {
				v := htonl(asn)
				b = append(b, v[:]...)
			} else {
				if asn > 0xffff {
					asn = AS_TRANS
				}
				v := htons(uint16(asn))
				b = append(b, v[:]...)
			}
		}
	}
	return b
}

func (a *ASPath) String() string {
	var parts []string
	for _, s := range a.Segments {
		var asns []string
		for _, asn := range s.ASNs {
			asns = append(asns, fmt.Sprintf("%d", asn))
		}
		if s.Seq {
			parts = append(parts, strings.Join(asns, " "))
		} else {
			parts = append(parts, "( "+strings.Join(asns, " ")+" )")
		}
	}
	return "as-path [ " + strings.Join(parts, " ") + " ]"
}

// Contains reports whether the AS number appears anywhere in the path -
// the loop check.
func (a *ASPath) Contains(asn uint32) bool {
	for _, s := range a.Segments {
		for _, x := range s.ASNs {
			if x == asn {
				return true
			}
		}
	}
	return false
}

func decodeSegments(data []byte, asn4 bool) ([]Segment, bool) {
	width := 2
	if asn4 {
		width = 4
	}

	var segments []Segment

	for len(data) > 0 {
		if len(data) < 2 {
			return nil, false
		}
		t := data[0]
		count := int(data[1])
		if t < AS_SET || t > AS_CONFED_SET {
			return nil, false
		}
		if len(data) < 2+count*width {
			return nil, false
		}
		s := Segment{Seq: t == AS_SEQUENCE || t == AS_CONFED_SEQUENCE}
		for i := 0; i < count; i++ {
			o := 2 + i*width
			if asn4 {
				s.ASNs = append(s.ASNs, ntohl(data[o], data[o+1], data[o+2], data[o+3]))
			} else {
				s.ASNs = append(s.ASNs, uint32(ntohs(data[o], data[o+1])))
			}
		}
		segments = append(segments, s)
		data = data[2+count*width:]
	}

	return segments, true
}

// AS4Path is attribute 17, carried alongside a two byte AS_PATH across
// an asn4 boundary.
type AS4Path struct {
	Segments []Segment
}

func (a *AS4Path) Code() uint8  { return AS4_PATH }
func (a *AS4Path) Flags() uint8 { return OTCR }

func (a *AS4Path) Payload(neg *Negotiated) []byte {
	// always four byte, regardless of the session
	return (&ASPath{Segments: a.Segments}).Payload(&Negotiated{ASN4: true})
}

func (a *AS4Path) String() string {
	return "as4-path " + (&ASPath{Segments: a.Segments}).String()[8:]
}

// NextHop is attribute 3 - IPv4 only; other families carry the nexthop
// inside MP_REACH_NLRI.
type NextHop netip.Addr

func (n NextHop) Code() uint8  { return NEXT_HOP }
func (n NextHop) Flags() uint8 { return WTCR }

func (n NextHop) Payload(neg *Negotiated) []byte {
	a := netip.Addr(n)
	if !a.Is4() && !a.Is4In6() {
		return []byte{0, 0, 0, 0}
	}
	v := a.As4()
	return v[:]
}

func (n NextHop) String() string { return "next-hop " + netip.Addr(n).String() }

// MED is attribute 4.
type MED uint32

func (m MED) Code() uint8  { return MULTI_EXIT_DISC }
func (m MED) Flags() uint8 { return ONCR }

func (m MED) Payload(neg *Negotiated) []byte {
	v := htonl(uint32(m))
	return v[:]
}

func (m MED) String() string { return fmt.Sprintf("med %d", uint32(m)) }

// LocalPref is attribute 5 - iBGP only.
type LocalPref uint32

func (l LocalPref) Code() uint8  { return LOCAL_PREF }
func (l LocalPref) Flags() uint8 { return WTCR }

func (l LocalPref) Payload(neg *Negotiated) []byte {
	v := htonl(uint32(l))
	return v[:]
}

func (l LocalPref) String() string { return fmt.Sprintf("local-preference %d", uint32(l)) }

// AtomicAggregate is attribute 6 - present or not, no payload.
type AtomicAggregate struct{}

func (a AtomicAggregate) Code() uint8                      { return ATOMIC_AGGREGATE }
func (a AtomicAggregate) Flags() uint8                     { return WTCR }
func (a AtomicAggregate) Payload(neg *Negotiated) []byte   { return nil }
func (a AtomicAggregate) String() string                   { return "atomic-aggregate" }

// Aggregator is attribute 7 - the ASN and router id of the aggregating
// speaker. The ASN is two bytes on a legacy session.
type Aggregator struct {
	ASN  uint32
	Addr netip.Addr
}

func (a Aggregator) Code() uint8  { return AGGREGATOR }
func (a Aggregator) Flags() uint8 { return OTCR }

func (a Aggregator) Payload(neg *Negotiated) []byte {
	ip := a.Addr.As4()
	if neg != nil && neg.ASN4 {
		asn := htonl(a.ASN)
		return append(asn[:], ip[:]...)
	}
	asn := a.ASN
	if asn > 0xffff {
		asn = AS_TRANS
	}
	v := htons(uint16(asn))
	return append(v[:], ip[:]...)
}

func (a Aggregator) String() string { return fmt.Sprintf("aggregator ( %d:%s )", a.ASN, a.Addr) }

// AS4Aggregator is attribute 18.
type AS4Aggregator struct {
	ASN  uint32
	Addr netip.Addr
}

func (a AS4Aggregator) Code() uint8  { return AS4_AGGREGATOR }
func (a AS4Aggregator) Flags() uint8 { return OTCR }

func (a AS4Aggregator) Payload(neg *Negotiated) []byte {
	asn := htonl(a.ASN)
	ip := a.Addr.As4()
	return append(asn[:], ip[:]...)
}

func (a AS4Aggregator) String() string {
	return fmt.Sprintf("as4-aggregator ( %d:%s )", a.ASN, a.Addr)
}

// Communities is attribute 8.
type Communities []Community

func (c Communities) Code() uint8  { return COMMUNITIES }
func (c Communities) Flags() uint8 { return OTCR }

func (c Communities) Payload(neg *Negotiated) (b []byte) {
	for _, x := range c {
		v := x.pack()
		b = append(b, v[:]...)
	}
	return
}

func (c Communities) String() string {
	var parts []string
	for _, x := range c {
		parts = append(parts, x.String())
	}
	return "community [ " + strings.Join(parts, " ") + " ]"
}

// OriginatorID is attribute 9 - route reflection.
type OriginatorID netip.Addr

func (o OriginatorID) Code() uint8  { return ORIGINATOR_ID }
func (o OriginatorID) Flags() uint8 { return ONCR }

func (o OriginatorID) Payload(neg *Negotiated) []byte {
	v := netip.Addr(o).As4()
	return v[:]
}

func (o OriginatorID) String() string { return "originator-id " + netip.Addr(o).String() }

// ClusterList is attribute 10.
type ClusterList []uint32

func (c ClusterList) Code() uint8  { return CLUSTER_LIST }
func (c ClusterList) Flags() uint8 { return ONCR }

func (c ClusterList) Payload(neg *Negotiated) (b []byte) {
	for _, x := range c {
		v := htonl(x)
		b = append(b, v[:]...)
	}
	return
}

func (c ClusterList) String() string {
	var parts []string
	for _, x := range c {
		v := htonl(x)
		parts = append(parts, netip.AddrFrom4(v).String())
	}
	return "cluster-list [ " + strings.Join(parts, " ") + " ]"
}

// ExtendedCommunities is attribute 16.
type ExtendedCommunities []ExtendedCommunity

func (e ExtendedCommunities) Code() uint8  { return EXTENDED_COMMUNITY }
func (e ExtendedCommunities) Flags() uint8 { return OTCR }

func (e ExtendedCommunities) Payload(neg *Negotiated) (b []byte) {
	for _, x := range e {
		b = append(b, x[:]...)
	}
	return
}

func (e ExtendedCommunities) String() string {
	var parts []string
	for _, x := range e {
		parts = append(parts, x.String())
	}
	return "extended-community [ " + strings.Join(parts, " ") + " ]"
}

// IPv6ExtendedCommunities is attribute 25.
type IPv6ExtendedCommunities []IPv6ExtendedCommunity

func (e IPv6ExtendedCommunities) Code() uint8  { return IPV6_EXT_COMMUNITY }
func (e IPv6ExtendedCommunities) Flags() uint8 { return OTCR }

func (e IPv6ExtendedCommunities) Payload(neg *Negotiated) (b []byte) {
	for _, x := range e {
		b = append(b, x[:]...)
	}
	return
}

func (e IPv6ExtendedCommunities) String() string {
	var parts []string
	for _, x := range e {
		parts = append(parts, x.String())
	}
	return "ipv6-extended-community [ " + strings.Join(parts, " ") + " ]"
}

// LargeCommunities is attribute 32.
type LargeCommunities []LargeCommunity

func (l LargeCommunities) Code() uint8  { return LARGE_COMMUNITY }
func (l LargeCommunities) Flags() uint8 { return OTCR }

func (l LargeCommunities) Payload(neg *Negotiated) (b []byte) {
	for _, x := range l {
		v := x.pack()
		b = append(b, v[:]...)
	}
	return
}

func (l LargeCommunities) String() string {
	var parts []string
	for _, x := range l {
		parts = append(parts, x.String())
	}
	return "large-community [ " + strings.Join(parts, " ") + " ]"
}

// AIGP is attribute 26 - the accumulated IGP metric TLV.
type AIGP uint64

func (a AIGP) Code() uint8  { return AIGP_ATTR }
func (a AIGP) Flags() uint8 { return ONCR }

func (a AIGP) Payload(neg *Negotiated) []byte {
	b := []byte{1, 0, 11}
	for s := 56; s >= 0; s -= 8 {
		b = append(b, byte(uint64(a)>>s))
	}
	return b
}

func (a AIGP) String() string { return fmt.Sprintf("aigp %d", uint64(a)) }

// PMSITunnel is attribute 22 - MVPN provider tunnel.
type PMSITunnel struct {
	TunnelFlags uint8
	TunnelType  uint8
	Label       uint32
	ID          []byte
}

func (p *PMSITunnel) Code() uint8  { return PMSI_TUNNEL }
func (p *PMSITunnel) Flags() uint8 { return OTCR }

func (p *PMSITunnel) Payload(neg *Negotiated) []byte {
	b := []byte{p.TunnelFlags, p.TunnelType, byte(p.Label >> 16), byte(p.Label >> 8), byte(p.Label)}
	return append(b, p.ID...)
}

func (p *PMSITunnel) String() string {
	return fmt.Sprintf("pmsi:%d:%d:%x", p.TunnelType, p.Label, p.ID)
}

// LinkStateAttr is attribute 29 - the BGP-LS TLV container, carried
// opaque in received order.
type LinkStateAttr struct {
	TLVs []TLV
}

func (l *LinkStateAttr) Code() uint8  { return BGP_LS }
func (l *LinkStateAttr) Flags() uint8 { return ONCR }

func (l *LinkStateAttr) Payload(neg *Negotiated) []byte { return packTLVs(l.TLVs) }

func (l *LinkStateAttr) String() string {
	return fmt.Sprintf("bgp-ls [ %d tlvs ]", len(l.TLVs))
}

// PrefixSID is attribute 40 - segment routing sub-TLVs, carried opaque.
type PrefixSID struct {
	Data []byte
}

func (p *PrefixSID) Code() uint8  { return BGP_PREFIX_SID }
func (p *PrefixSID) Flags() uint8 { return OTCR }

func (p *PrefixSID) Payload(neg *Negotiated) []byte { return p.Data }

func (p *PrefixSID) String() string { return fmt.Sprintf("prefix-sid %x", p.Data) }

// decodeAttribute unpacks one known attribute payload.
func decodeAttribute(code uint8, p []byte, neg *Negotiated) (Attribute, *attrError) {
	asn4 := neg != nil && neg.ASN4

	switch code {
	case ORIGIN:
		if len(p) != 1 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		if p[0] > INCOMPLETE {
			return nil, treatAsWithdraw(UPDATE_ERROR, INVALID_ORIGIN, p)
		}
		return Origin(p[0]), nil

	case AS_PATH:
		segments, ok := decodeSegments(p, asn4)
		if !ok {
			return nil, treatAsWithdraw(UPDATE_ERROR, MALFORMED_AS_PATH, nil)
		}
		return &ASPath{Segments: segments}, nil

	case AS4_PATH:
		segments, ok := decodeSegments(p, true)
		if !ok {
			return nil, treatAsWithdraw(UPDATE_ERROR, MALFORMED_AS_PATH, nil)
		}
		return &AS4Path{Segments: segments}, nil

	case NEXT_HOP:
		if len(p) != 4 {
			return nil, treatAsWithdraw(UPDATE_ERROR, INVALID_NEXT_HOP, p)
		}
		return NextHop(netip.AddrFrom4([4]byte(p))), nil

	case MULTI_EXIT_DISC:
		if len(p) != 4 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		return MED(ntohl(p[0], p[1], p[2], p[3])), nil

	case LOCAL_PREF:
		if len(p) != 4 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		return LocalPref(ntohl(p[0], p[1], p[2], p[3])), nil

	case ATOMIC_AGGREGATE:
		if len(p) != 0 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		return AtomicAggregate{}, nil

	case AGGREGATOR:
		if asn4 {
			if len(p) != 8 {
				return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
			}
			return Aggregator{ASN: ntohl(p[0], p[1], p[2], p[3]), Addr: netip.AddrFrom4([4]byte(p[4:8]))}, nil
		}
		if len(p) != 6 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		return Aggregator{ASN: uint32(ntohs(p[0], p[1])), Addr: netip.AddrFrom4([4]byte(p[2:6]))}, nil

	case AS4_AGGREGATOR:
		if len(p) != 8 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		return AS4Aggregator{ASN: ntohl(p[0], p[1], p[2], p[3]), Addr: netip.AddrFrom4([4]byte(p[4:8]))}, nil

	case COMMUNITIES:
		if len(p)%4 != 0 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		var c Communities
		for i := 0; i < len(p); i += 4 {
			c = append(c, Community(ntohl(p[i], p[i+1], p[i+2], p[i+3])))
		}
		return c, nil

	case ORIGINATOR_ID:
		if len(p) != 4 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		return OriginatorID(netip.AddrFrom4([4]byte(p))), nil

	case CLUSTER_LIST:
		if len(p)%4 != 0 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		var c ClusterList
		for i := 0; i < len(p); i += 4 {
			c = append(c, ntohl(p[i], p[i+1], p[i+2], p[i+3]))
		}
		return c, nil

	case EXTENDED_COMMUNITY:
		if len(p)%8 != 0 || len(p) == 0 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		var e ExtendedCommunities
		for i := 0; i < len(p); i += 8 {
			var ec ExtendedCommunity
			copy(ec[:], p[i:i+8])
			e = append(e, ec)
		}
		return e, nil

	case IPV6_EXT_COMMUNITY:
		if len(p)%20 != 0 || len(p) == 0 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		var e IPv6ExtendedCommunities
		for i := 0; i < len(p); i += 20 {
			var ec IPv6ExtendedCommunity
			copy(ec[:], p[i:i+20])
			e = append(e, ec)
		}
		return e, nil

	case LARGE_COMMUNITY:
		if len(p)%12 != 0 || len(p) == 0 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		var l LargeCommunities
		for i := 0; i < len(p); i += 12 {
			l = append(l, LargeCommunity{
				ntohl(p[i], p[i+1], p[i+2], p[i+3]),
				ntohl(p[i+4], p[i+5], p[i+6], p[i+7]),
				ntohl(p[i+8], p[i+9], p[i+10], p[i+11]),
			})
		}
		return l, nil

	case AIGP_ATTR:
		if len(p) != 11 || p[0] != 1 || ntohs(p[1], p[2]) != 11 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		var v uint64
		for _, b := range p[3:11] {
			v = v<<8 | uint64(b)
		}
		return AIGP(v), nil

	case PMSI_TUNNEL:
		if len(p) < 5 {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		return &PMSITunnel{
			TunnelFlags: p[0],
			TunnelType:  p[1],
			Label:       uint32(p[2])<<16 | uint32(p[3])<<8 | uint32(p[4]),
			ID:          append([]byte{}, p[5:]...),
		}, nil

	case BGP_LS:
		tlvs, err := unpackTLVs(p)
		if err != nil {
			return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_LENGTH_ERROR, p)
		}
		return &LinkStateAttr{TLVs: tlvs}, nil

	case BGP_PREFIX_SID:
		return &PrefixSID{Data: append([]byte{}, p...)}, nil

	case MP_REACH_NLRI:
		return decodeMPReach(p, neg)

	case MP_UNREACH_NLRI:
		return decodeMPUnreach(p, neg)
	}

	return nil, sessionReset(UPDATE_ERROR, OPTIONAL_ATTRIBUTE_ERROR, p)
}
