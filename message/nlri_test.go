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
	"bytes"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decode(encode(x)) == x and encode(decode(b)) == b for a canonical b
func roundtrip(t *testing.T, f Family, nlri NLRI, addpath bool) {
	t.Helper()

	var neg *Negotiated
	if addpath {
		neg = &Negotiated{AddPath: map[Family]AddPathMode{f: {Send: true, Receive: true}}}
	}

	wire := nlri.Pack(neg)

	decoded, used, err := nlriRegistry[f](f, wire, addpath)
	require.NoError(t, err)
	assert.Equal(t, len(wire), used, "decoder must consume the whole encoding")

	again := decoded.Pack(neg)
	assert.True(t, bytes.Equal(wire, again), "re-encode differs: %x vs %x", wire, again)
	assert.Equal(t, nlri.Index(), decoded.Index())
	assert.Equal(t, f, decoded.Family())
}

func TestPrefixNLRI(t *testing.T) {
	p := &Prefix{Fam: IPv4Unicast, Prefix: netip.MustParsePrefix("10.0.0.0/24")}

	if !bytes.Equal(p.Pack(nil), []byte{24, 10, 0, 0}) {
		t.Fatalf("bad encoding: %x", p.Pack(nil))
	}

	roundtrip(t, IPv4Unicast, p, false)
	roundtrip(t, IPv4Multicast, &Prefix{Fam: IPv4Multicast, Prefix: netip.MustParsePrefix("239.1.0.0/16")}, false)
	roundtrip(t, IPv6Unicast, &Prefix{Fam: IPv6Unicast, Prefix: netip.MustParsePrefix("2001:db8::/32")}, false)

	// host routes and the default route
	roundtrip(t, IPv4Unicast, &Prefix{Fam: IPv4Unicast, Prefix: netip.MustParsePrefix("192.0.2.1/32")}, false)
	roundtrip(t, IPv4Unicast, &Prefix{Fam: IPv4Unicast, Prefix: netip.MustParsePrefix("0.0.0.0/0")}, false)
}

func TestPrefixAddPath(t *testing.T) {
	p1 := &Prefix{Fam: IPv4Unicast, Prefix: netip.MustParsePrefix("10.1.0.0/24"), PathID: 1, HasPath: true}
	p2 := &Prefix{Fam: IPv4Unicast, Prefix: netip.MustParsePrefix("10.1.0.0/24"), PathID: 2, HasPath: true}

	// the path id distinguishes the two routes at the protocol level
	assert.NotEqual(t, p1.Index(), p2.Index())

	neg := &Negotiated{AddPath: map[Family]AddPathMode{IPv4Unicast: {Send: true, Receive: true}}}

	// four byte path id before the length byte
	assert.Equal(t, []byte{0, 0, 0, 1, 24, 10, 1, 0}, p1.Pack(neg))

	roundtrip(t, IPv4Unicast, p1, true)
	roundtrip(t, IPv4Unicast, p2, true)
}

func TestLabelledNLRI(t *testing.T) {
	l := &Labelled{Fam: IPv4Label, Prefix: netip.MustParsePrefix("10.0.0.0/24"), Labels: []uint32{100}}

	// 100<<4|1 (bottom of stack) = 0x641, prefix length 24+24=48
	assert.Equal(t, []byte{48, 0x00, 0x06, 0x41, 10, 0, 0}, l.Pack(nil))

	roundtrip(t, IPv4Label, l, false)
	roundtrip(t, IPv6Label, &Labelled{Fam: IPv6Label, Prefix: netip.MustParsePrefix("2001:db8::/64"), Labels: []uint32{100, 200}}, false)
}

func TestVPNNLRI(t *testing.T) {
	var rd RD
	copy(rd[:], []byte{0, 0, 0xfd, 0xe8, 0, 0, 0, 1}) // 65000:1

	v := &VPN{Fam: IPv4VPN, RD: rd, Prefix: netip.MustParsePrefix("10.0.0.0/24"), Labels: []uint32{100}}
	assert.Equal(t, "65000:1", rd.String())

	roundtrip(t, IPv4VPN, v, false)
	roundtrip(t, IPv6VPN, &VPN{Fam: IPv6VPN, RD: rd, Prefix: netip.MustParsePrefix("2001:db8::/48"), Labels: []uint32{3}}, false)
}

func TestRTCNLRI(t *testing.T) {
	roundtrip(t, IPv4RTC, &RTC{Default: true}, false)
	roundtrip(t, IPv4RTC, &RTC{Origin: 65000, RT: RouteTarget(65000, 100)}, false)
}

func TestFlowNLRI(t *testing.T) {
	flow := &Flow{
		Fam: IPv4Flow,
		Components: []FlowComponent{
			// deliberately out of order - pack must sort by type
			{Type: FLOW_PORT, Ops: []FlowOp{{Flags: FLOW_OP_EQ, Value: 80}}},
			{Type: FLOW_DST_PREFIX, Prefix: netip.MustParsePrefix("10.0.0.0/24")},
			{Type: FLOW_SRC_PREFIX, Prefix: netip.MustParsePrefix("192.168.0.0/16")},
		},
	}

	wire := flow.Pack(nil)

	expected := []byte{
		12,                   // nlri length
		1, 24, 10, 0, 0,      // destination 10.0.0.0/24
		2, 16, 192, 168,      // source 192.168.0.0/16
		4, 0x81, 80,          // port == 80, end-of-list
	}

	assert.Equal(t, expected, wire)

	decoded, used, err := decodeFlow(IPv4Flow, wire, false)
	require.NoError(t, err)
	assert.Equal(t, len(wire), used)
	assert.True(t, bytes.Equal(wire, decoded.Pack(nil)))
}

func TestFlowRedirectAction(t *testing.T) {
	// type 0x80 subtype 0x08, ASN 65000, value 12345
	ec := FlowRedirect(65000, 12345)
	assert.Equal(t, []byte{0x80, 0x08, 0xfd, 0xe8, 0x00, 0x00, 0x30, 0x39}, ec[:])
}

func TestFlowVPN(t *testing.T) {
	var rd RD
	copy(rd[:], []byte{0, 0, 0xfd, 0xe8, 0, 0, 0, 2})

	flow := &Flow{
		Fam: IPv4FlowVPN,
		RD:  rd,
		Components: []FlowComponent{
			{Type: FLOW_DST_PREFIX, Prefix: netip.MustParsePrefix("10.0.0.0/8")},
		},
	}

	roundtrip(t, IPv4FlowVPN, flow, false)
}

func TestEVPNNLRI(t *testing.T) {
	var rd RD
	copy(rd[:], []byte{0, 0, 0xfd, 0xe8, 0, 0, 0, 1})
	var esi ESI
	copy(esi[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	roundtrip(t, L2EVPN, &EVPNEthernetAD{RD: rd, ESI: esi, EthTag: 100, Label: 16}, false)
	roundtrip(t, L2EVPN, &EVPNMACIP{RD: rd, ESI: esi, EthTag: 1, MAC: MAC{0, 1, 2, 3, 4, 5}, IP: netip.MustParseAddr("10.0.0.1"), Label: 16, Labels: 1}, false)
	roundtrip(t, L2EVPN, &EVPNMACIP{RD: rd, ESI: esi, EthTag: 1, MAC: MAC{0, 1, 2, 3, 4, 5}, Label: 16, Labels: 1}, false)
	roundtrip(t, L2EVPN, &EVPNMulticast{RD: rd, EthTag: 1, IP: netip.MustParseAddr("192.0.2.1")}, false)
	roundtrip(t, L2EVPN, &EVPNEthernetSegment{RD: rd, ESI: esi, IP: netip.MustParseAddr("192.0.2.1")}, false)
	roundtrip(t, L2EVPN, &EVPNPrefix{RD: rd, ESI: esi, EthTag: 0, Prefix: netip.MustParsePrefix("10.0.0.0/24"), Gateway: netip.MustParseAddr("192.0.2.254"), Label: 100}, false)
	roundtrip(t, L2EVPN, &EVPNPrefix{RD: rd, ESI: esi, EthTag: 0, Prefix: netip.MustParsePrefix("2001:db8::/64"), Label: 100}, false)
}

func TestEVPNMACIPIndexIgnoresESI(t *testing.T) {
	var rd RD
	mac := MAC{0, 1, 2, 3, 4, 5}

	a := &EVPNMACIP{RD: rd, ESI: ESI{1}, EthTag: 1, MAC: mac, Label: 16, Labels: 1}
	b := &EVPNMACIP{RD: rd, ESI: ESI{2}, EthTag: 1, MAC: mac, Label: 32, Labels: 1}

	// a MAC move between segments replaces the previous advertisement
	assert.Equal(t, a.Index(), b.Index())
}

func TestVPLSNLRI(t *testing.T) {
	var rd RD
	copy(rd[:], []byte{0, 0, 0xfd, 0xe8, 0, 0, 0, 1})
	roundtrip(t, L2VPLS, &VPLS{RD: rd, VE: 1, Offset: 0, Size: 8, LabelBase: 1000}, false)
}

func TestMVPNNLRI(t *testing.T) {
	var rd RD
	copy(rd[:], []byte{0, 0, 0xfd, 0xe8, 0, 0, 0, 1})

	src := netip.MustParseAddr("10.0.0.1")
	grp := netip.MustParseAddr("239.1.1.1")
	orig := netip.MustParseAddr("192.0.2.1")

	roundtrip(t, IPv4MVPN, &MVPN{Fam: IPv4MVPN, Type: MVPN_INTRA_AS, RD: rd, Originator: orig}, false)
	roundtrip(t, IPv4MVPN, &MVPN{Fam: IPv4MVPN, Type: MVPN_INTER_AS, RD: rd, SourceAS: 65000}, false)
	roundtrip(t, IPv4MVPN, &MVPN{Fam: IPv4MVPN, Type: MVPN_SPMSI, RD: rd, Source: src, Group: grp, Originator: orig}, false)
	roundtrip(t, IPv4MVPN, &MVPN{Fam: IPv4MVPN, Type: MVPN_SOURCE_AD, RD: rd, Source: src, Group: grp}, false)
	roundtrip(t, IPv4MVPN, &MVPN{Fam: IPv4MVPN, Type: MVPN_SHARED_JOIN, RD: rd, SourceAS: 65000, Source: src, Group: grp}, false)
	roundtrip(t, IPv4MVPN, &MVPN{Fam: IPv4MVPN, Type: MVPN_SOURCE_JOIN, RD: rd, SourceAS: 65000, Source: src, Group: grp}, false)
}

func TestLSNLRI(t *testing.T) {
	l := &LSNLRI{
		Type:       LS_NODE,
		ProtocolID: 3, // OSPFv2
		Identifier: 0,
		TLVs: []TLV{
			{Type: 256, Value: []byte{0, 0, 0xfd, 0xe8}}, // local node descriptor
		},
	}
	roundtrip(t, LinkState, l, false)
}

func TestMUPNLRI(t *testing.T) {
	var rd RD
	copy(rd[:], []byte{0, 0, 0xfd, 0xe8, 0, 0, 0, 1})

	m := &MUP{Fam: IPv4MUP, RD: rd, EndpointLen: 64, Endpoint: netip.MustParseAddr("10.0.0.1"), TEID: 12345}
	roundtrip(t, IPv4MUP, m, false)

	m6 := &MUP{Fam: IPv6MUP, RD: rd, EndpointLen: 128, Endpoint: netip.MustParseAddr("2001:db8::1")}
	roundtrip(t, IPv6MUP, m6, false)
}

func TestDecodeNLRIsRun(t *testing.T) {
	buf := []byte{
		24, 10, 0, 0, // 10.0.0.0/24
		16, 192, 168, // 192.168.0.0/16
		32, 192, 0, 2, 1, // 192.0.2.1/32
	}

	nlris, err := DecodeNLRIs(IPv4Unicast, buf, false)
	require.NoError(t, err)
	require.Len(t, nlris, 3)
	assert.Equal(t, "10.0.0.0/24", nlris[0].String())
	assert.Equal(t, "192.168.0.0/16", nlris[1].String())
	assert.Equal(t, "192.0.2.1/32", nlris[2].String())
}

func TestDecodeNLRITruncated(t *testing.T) {
	_, err := DecodeNLRIs(IPv4Unicast, []byte{24, 10}, false)
	assert.Error(t, err)

	_, err = DecodeNLRIs(IPv4Unicast, []byte{255}, false)
	assert.Error(t, err)
}
