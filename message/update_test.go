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

func TestUpdateAnnounceWire(t *testing.T) {
	u := &UpdateMsg{
		Attributes: Attributes{
			ORIGIN:   Origin(IGP),
			AS_PATH:  ASSequence(65000),
			NEXT_HOP: NextHop(netip.MustParseAddr("192.0.2.1")),
		},
		NLRIs: []NLRI{&Prefix{Fam: IPv4Unicast, Prefix: netip.MustParsePrefix("10.0.0.0/24")}},
	}

	expected := []byte{
		0x00, 0x00, // withdrawn routes length
		0x00, 0x12, // total path attribute length (18)
		0x40, 0x01, 0x01, 0x00, // ORIGIN igp
		0x40, 0x02, 0x04, 0x02, 0x01, 0xfd, 0xe8, // AS_PATH [seq 65000]
		0x40, 0x03, 0x04, 0xc0, 0x00, 0x02, 0x01, // NEXT_HOP 192.0.2.1
		0x18, 0x0a, 0x00, 0x00, // NLRI 10.0.0.0/24
	}

	assert.Equal(t, expected, u.Body(nil))
}

func TestUpdateWithdrawWire(t *testing.T) {
	u := &UpdateMsg{
		Withdrawn: []NLRI{&Prefix{Fam: IPv4Unicast, Prefix: netip.MustParsePrefix("10.0.0.0/24")}},
	}

	expected := []byte{
		0x00, 0x04, // withdrawn routes length
		0x18, 0x0a, 0x00, 0x00, // withdrawn 10.0.0.0/24
		0x00, 0x00, // total path attribute length
	}

	assert.Equal(t, expected, u.Body(nil))
}

func TestUpdateRoundTrip(t *testing.T) {
	u := &UpdateMsg{
		Attributes: Attributes{
			ORIGIN:          Origin(IGP),
			AS_PATH:         ASSequence(65000, 65001),
			NEXT_HOP:        NextHop(netip.MustParseAddr("192.0.2.1")),
			MULTI_EXIT_DISC: MED(100),
			COMMUNITIES:     Communities{NO_EXPORT, Community(65000<<16 | 1)},
			LARGE_COMMUNITY: LargeCommunities{{65000, 1, 2}},
		},
		NLRIs: []NLRI{&Prefix{Fam: IPv4Unicast, Prefix: netip.MustParsePrefix("10.0.0.0/24")}},
	}

	wire := u.Body(nil)

	decoded, tas, err := DecodeUpdate(wire, nil)
	require.NoError(t, err)
	assert.False(t, tas)

	// canonical form survives the round trip bit-exactly
	assert.True(t, bytes.Equal(wire, decoded.Body(nil)), "%x vs %x", wire, decoded.Body(nil))
}

func TestUpdateMPRoundTrip(t *testing.T) {
	u := &UpdateMsg{
		Attributes: Attributes{
			ORIGIN:  Origin(IGP),
			AS_PATH: ASSequence(65000),
			MP_REACH_NLRI: &MPReach{
				Fam:     IPv6Unicast,
				NextHop: netip.MustParseAddr("2001:db8::1"),
				NLRIs:   []NLRI{&Prefix{Fam: IPv6Unicast, Prefix: netip.MustParsePrefix("2001:db8:1::/48")}},
			},
		},
	}

	wire := u.Body(nil)

	decoded, _, err := DecodeUpdate(wire, nil)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(wire, decoded.Body(nil)))

	mp, ok := decoded.Attributes[MP_REACH_NLRI].(*MPReach)
	require.True(t, ok)
	assert.Equal(t, "2001:db8::1", mp.NextHop.String())
	require.Len(t, mp.NLRIs, 1)
	assert.Equal(t, "2001:db8:1::/48", mp.NLRIs[0].String())
}

func TestUpdateMPLinkLocalPair(t *testing.T) {
	u := &UpdateMsg{
		Attributes: Attributes{
			ORIGIN:  Origin(IGP),
			AS_PATH: &ASPath{},
			MP_REACH_NLRI: &MPReach{
				Fam:       IPv6Unicast,
				NextHop:   netip.MustParseAddr("2001:db8::2"),
				LinkLocal: netip.MustParseAddr("fe80::42:c0ff:fe00:202"),
				NLRIs:     []NLRI{&Prefix{Fam: IPv6Unicast, Prefix: netip.MustParsePrefix("2001:db8::/64")}},
			},
		},
	}

	wire := u.Body(nil)

	decoded, _, err := DecodeUpdate(wire, nil)
	require.NoError(t, err)

	mp := decoded.Attributes[MP_REACH_NLRI].(*MPReach)
	assert.Equal(t, "2001:db8::2", mp.NextHop.String())
	assert.Equal(t, "fe80::42:c0ff:fe00:202", mp.LinkLocal.String())
	assert.True(t, bytes.Equal(wire, decoded.Body(nil)))
}

func TestEOR(t *testing.T) {
	// the special four byte empty IPv4 UPDATE
	assert.Equal(t, []byte{0, 0, 0, 0}, EOR(IPv4Unicast).Body(nil))

	fam, eor := EOR(IPv4Unicast).IsEOR()
	assert.True(t, eor)
	assert.Equal(t, IPv4Unicast, fam)

	// an empty MP_UNREACH for the family otherwise
	u := EOR(IPv6Unicast)
	fam, eor = u.IsEOR()
	assert.True(t, eor)
	assert.Equal(t, IPv6Unicast, fam)

	decoded, _, err := DecodeUpdate(u.Body(nil), nil)
	require.NoError(t, err)
	fam, eor = decoded.IsEOR()
	assert.True(t, eor)
	assert.Equal(t, IPv6Unicast, fam)
}

func TestMissingMandatory(t *testing.T) {
	u := &UpdateMsg{
		Attributes: Attributes{
			ORIGIN:  Origin(IGP),
			AS_PATH: ASSequence(65000),
			// no NEXT_HOP
		},
		NLRIs: []NLRI{&Prefix{Fam: IPv4Unicast, Prefix: netip.MustParsePrefix("10.0.0.0/24")}},
	}

	_, _, err := DecodeUpdate(u.Body(nil), nil)
	require.Error(t, err)

	n, ok := err.(*Notification)
	require.True(t, ok)
	assert.Equal(t, uint8(UPDATE_ERROR), n.Code)
	assert.Equal(t, uint8(MISSING_WELLKNOWN_ATTR), n.Sub)
}

func TestBadOriginTreatAsWithdraw(t *testing.T) {
	body := []byte{
		0x00, 0x00, // no withdrawn
		0x00, 0x12, // attribute length
		0x40, 0x01, 0x01, 0x09, // ORIGIN with bogus value 9
		0x40, 0x02, 0x04, 0x02, 0x01, 0xfd, 0xe8,
		0x40, 0x03, 0x04, 0xc0, 0x00, 0x02, 0x01,
		0x18, 0x0a, 0x00, 0x00,
	}

	u, tas, err := DecodeUpdate(body, nil)
	require.NoError(t, err, "attribute error with parseable NLRI must not reset the session")
	assert.True(t, tas)
	require.Len(t, u.NLRIs, 1, "the affected NLRI is synthesised as a withdrawal")
}

func TestUnknownTransitivePassThrough(t *testing.T) {
	body := []byte{
		0x00, 0x00,
		0x00, 0x17,
		0x40, 0x01, 0x01, 0x00,
		0x40, 0x02, 0x04, 0x02, 0x01, 0xfd, 0xe8,
		0x40, 0x03, 0x04, 0xc0, 0x00, 0x02, 0x01,
		0xc0, 0x63, 0x02, 0xbe, 0xef, // unknown optional transitive attribute 99
		0x18, 0x0a, 0x00, 0x00,
	}

	u, tas, err := DecodeUpdate(body, nil)
	require.NoError(t, err)
	assert.False(t, tas)

	g, ok := u.Attributes[99].(*Generic)
	require.True(t, ok, "unknown optional transitive attributes are retained")
	assert.Equal(t, []byte{0xbe, 0xef}, g.Data)
	assert.NotZero(t, g.AttrFlags&FLAG_PARTIAL, "partial bit set on forwarding")
}

func TestASPathWidths(t *testing.T) {
	path := ASSequence(65000)

	// two byte encoding on a legacy session
	assert.Equal(t, []byte{2, 1, 0xfd, 0xe8}, path.Payload(nil))

	// four byte when negotiated
	assert.Equal(t, []byte{2, 1, 0x00, 0x00, 0xfd, 0xe8}, path.Payload(&Negotiated{ASN4: true}))

	// AS_TRANS substitution for a wide ASN on a legacy session
	wide := ASSequence(200000)
	assert.Equal(t, []byte{2, 1, 0x5b, 0xa0}, wide.Payload(nil)) // 23456
}

func TestAS4PathCompanion(t *testing.T) {
	attrs := Attributes{
		ORIGIN:   Origin(IGP),
		AS_PATH:  ASSequence(200000),
		NEXT_HOP: NextHop(netip.MustParseAddr("192.0.2.1")),
	}

	// legacy session: an AS4_PATH is synthesised alongside the AS_TRANS
	wire := attrs.Pack(nil)
	assert.Contains(t, string(wire), string([]byte{0xc0, 0x11})) // OTCR AS4_PATH

	// asn4 session: no companion needed
	wire = attrs.Pack(&Negotiated{ASN4: true})
	assert.NotContains(t, string(wire), string([]byte{0xc0, 0x11}))
}

func TestAttributesCanonicalOrder(t *testing.T) {
	a := Attributes{
		NEXT_HOP: NextHop(netip.MustParseAddr("192.0.2.1")),
		ORIGIN:   Origin(IGP),
		AS_PATH:  ASSequence(65000),
	}

	b := Attributes{
		ORIGIN:   Origin(IGP),
		AS_PATH:  ASSequence(65000),
		NEXT_HOP: NextHop(netip.MustParseAddr("192.0.2.1")),
	}

	// semantically equal collections are byte identical
	assert.Equal(t, a.Pack(nil), b.Pack(nil))
	assert.True(t, a.Equal(b, nil))
}

func TestAttributesDuplicate(t *testing.T) {
	a := Attributes{}
	require.NoError(t, a.Add(Origin(IGP)))
	assert.Error(t, a.Add(Origin(EGP)), "adding a present single-cardinality attribute is an error")
}
