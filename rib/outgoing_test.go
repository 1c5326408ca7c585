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

package rib

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidcoles/speaker/message"
)

func testRoute(prefix string, nexthop string) *Route {
	p := netip.MustParsePrefix(prefix)

	fam := message.IPv4Unicast
	if p.Addr().Is6() {
		fam = message.IPv6Unicast
	}

	attrs := message.Attributes{
		message.ORIGIN:  message.Origin(message.IGP),
		message.AS_PATH: message.ASSequence(65000),
	}

	return New(&message.Prefix{Fam: fam, Prefix: p}, attrs, netip.MustParseAddr(nexthop))
}

func drain(t *testing.T, o *Out, neg *message.Negotiated) (msgs []message.Message) {
	t.Helper()
	for {
		m := o.NextMessage(neg)
		if m == nil {
			return
		}
		msgs = append(msgs, m)
		if len(msgs) > 1000 {
			t.Fatal("runaway message generator")
		}
	}
}

func updates(msgs []message.Message) (out []*message.UpdateMsg) {
	for _, m := range msgs {
		if u, ok := m.(*message.UpdateMsg); ok {
			out = append(out, u)
		}
	}
	return
}

func TestAnnounceWithdrawWire(t *testing.T) {
	neg := &message.Negotiated{}
	o := NewOut(true)

	o.Add(testRoute("10.0.0.0/24", "192.0.2.1"), false, neg)

	msgs := drain(t, o, neg)
	require.Len(t, msgs, 1)

	wire := message.Headerise(msgs[0].Type(), msgs[0].Body(neg))

	expected := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x00, 0x2d, // length 45
		0x02,       // UPDATE
		0x00, 0x00, // withdrawn routes length
		0x00, 0x12, // total path attribute length
		0x40, 0x01, 0x01, 0x00, // ORIGIN igp
		0x40, 0x02, 0x04, 0x02, 0x01, 0xfd, 0xe8, // AS_PATH [65000]
		0x40, 0x03, 0x04, 0xc0, 0x00, 0x02, 0x01, // NEXT_HOP 192.0.2.1
		0x18, 0x0a, 0x00, 0x00, // 10.0.0.0/24
	}

	assert.Equal(t, expected, wire)

	// follow-up withdrawal carries the prefix and no attributes
	o.Del(&message.Prefix{Fam: message.IPv4Unicast, Prefix: netip.MustParsePrefix("10.0.0.0/24")})

	msgs = drain(t, o, neg)
	require.Len(t, msgs, 1)

	assert.Equal(t, []byte{
		0x00, 0x04,
		0x18, 0x0a, 0x00, 0x00,
		0x00, 0x00,
	}, msgs[0].Body(neg))
}

func TestDedup(t *testing.T) {
	neg := &message.Negotiated{}
	o := NewOut(true)

	r := testRoute("10.0.0.0/24", "192.0.2.1")

	// two successive identical adds without a drain produce one UPDATE
	o.Add(r, false, neg)
	o.Add(r, false, neg)
	assert.Len(t, updates(drain(t, o, neg)), 1)

	// an identical re-add after the drain is suppressed entirely
	o.Add(testRoute("10.0.0.0/24", "192.0.2.1"), false, neg)
	assert.False(t, o.Pending())
	assert.Empty(t, drain(t, o, neg))

	// forcing bypasses the cache
	o.Add(testRoute("10.0.0.0/24", "192.0.2.1"), true, neg)
	assert.Len(t, updates(drain(t, o, neg)), 1)
}

func TestReplacementUpdate(t *testing.T) {
	neg := &message.Negotiated{}
	o := NewOut(true)

	o.Add(testRoute("10.0.0.0/24", "192.0.2.1"), false, neg)
	drain(t, o, neg)

	// same destination, different nexthop - a replacement is emitted
	replacement := testRoute("10.0.0.0/24", "192.0.2.99")
	o.Add(replacement, false, neg)

	msgs := updates(drain(t, o, neg))
	require.Len(t, msgs, 1)

	// and the cache now holds the replacement
	cached := o.Cached(nil)
	require.Len(t, cached, 1)
	assert.Equal(t, "192.0.2.99", cached[0].NextHop.String())
}

func TestWithdrawUnsentNoop(t *testing.T) {
	neg := &message.Negotiated{}
	o := NewOut(true)

	// can't withdraw what was never sent
	o.Del(&message.Prefix{Fam: message.IPv4Unicast, Prefix: netip.MustParsePrefix("10.9.9.0/24")})
	assert.False(t, o.Pending())
	assert.Empty(t, drain(t, o, neg))
}

func TestAnnounceCancelsWithdraw(t *testing.T) {
	neg := &message.Negotiated{}
	o := NewOut(true)

	o.Add(testRoute("10.0.0.0/24", "192.0.2.1"), false, neg)
	drain(t, o, neg)

	o.Del(&message.Prefix{Fam: message.IPv4Unicast, Prefix: netip.MustParsePrefix("10.0.0.0/24")})
	// the re-announce cancels the queued withdrawal; the route is
	// identical to the cache so nothing at all goes out
	o.Add(testRoute("10.0.0.0/24", "192.0.2.1"), false, neg)

	for _, u := range updates(drain(t, o, neg)) {
		assert.Empty(t, u.Withdrawn, "withdrawal must have been cancelled")
	}
}

func TestPendingFlag(t *testing.T) {
	neg := &message.Negotiated{}
	o := NewOut(true)

	assert.False(t, o.Pending())

	o.Add(testRoute("10.0.0.0/24", "192.0.2.1"), false, neg)
	assert.True(t, o.Pending())

	drain(t, o, neg)
	assert.False(t, o.Pending())
}

func TestGroupingByAttributes(t *testing.T) {
	neg := &message.Negotiated{}
	o := NewOut(true)

	// same attributes - one UPDATE carries both prefixes
	o.Add(testRoute("10.0.0.0/24", "192.0.2.1"), false, neg)
	o.Add(testRoute("10.0.1.0/24", "192.0.2.1"), false, neg)

	msgs := updates(drain(t, o, neg))
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].NLRIs, 2)

	// different nexthops - two UPDATEs
	o.Add(testRoute("10.1.0.0/24", "192.0.2.1"), false, neg)
	o.Add(testRoute("10.1.1.0/24", "192.0.2.2"), false, neg)

	msgs = updates(drain(t, o, neg))
	assert.Len(t, msgs, 2)
}

func TestAddPathDistinctEntries(t *testing.T) {
	fam := message.IPv4Unicast
	neg := &message.Negotiated{AddPath: map[message.Family]message.AddPathMode{fam: {Send: true, Receive: true}}}

	o := NewOut(true)

	attrs := message.Attributes{
		message.ORIGIN:  message.Origin(message.IGP),
		message.AS_PATH: message.ASSequence(65000),
	}

	prefix := netip.MustParsePrefix("10.1.0.0/24")
	nh := netip.MustParseAddr("192.0.2.1")

	o.Add(New(&message.Prefix{Fam: fam, Prefix: prefix, PathID: 1, HasPath: true}, attrs, nh), false, neg)
	o.Add(New(&message.Prefix{Fam: fam, Prefix: prefix, PathID: 2, HasPath: true}, attrs, nh), false, neg)

	msgs := updates(drain(t, o, neg))

	var nlris int
	for _, u := range msgs {
		nlris += len(u.NLRIs)
		for _, n := range u.NLRIs {
			// four byte path id before the length byte
			wire := n.Pack(neg)
			assert.Len(t, wire, 8)
		}
	}
	assert.Equal(t, 2, nlris)

	// both paths reside in the cache concurrently
	assert.Len(t, o.Cached(nil), 2)
}

func TestMPFamilyUpdates(t *testing.T) {
	neg := &message.Negotiated{}
	o := NewOut(true)

	o.Add(testRoute("2001:db8::/48", "2001:db8::1"), false, neg)

	msgs := updates(drain(t, o, neg))
	require.Len(t, msgs, 1)

	mp, ok := msgs[0].Attributes[message.MP_REACH_NLRI].(*message.MPReach)
	require.True(t, ok, "non-IPv4-unicast announces travel in MP_REACH")
	assert.Len(t, mp.NLRIs, 1)
	assert.Empty(t, msgs[0].NLRIs)

	fam := message.IPv6Unicast
	o.Del(&message.Prefix{Fam: fam, Prefix: netip.MustParsePrefix("2001:db8::/48")})

	msgs = updates(drain(t, o, neg))
	require.Len(t, msgs, 1)

	un, ok := msgs[0].Attributes[message.MP_UNREACH_NLRI].(*message.MPUnreach)
	require.True(t, ok, "withdrawals travel in MP_UNREACH")
	assert.Len(t, un.NLRIs, 1)
}

// enhanced refresh: BoRR, the cached routes, EoRR - cache unchanged
func TestEnhancedRefreshReplay(t *testing.T) {
	neg := &message.Negotiated{Refresh: message.REFRESH_ENHANCED}
	o := NewOut(true)

	for _, p := range []string{"10.0.0.0/24", "10.0.1.0/24", "10.0.2.0/24"} {
		o.Add(testRoute(p, "192.0.2.1"), false, neg)
	}
	drain(t, o, neg)
	require.Len(t, o.Cached(nil), 3)

	fam := message.IPv4Unicast
	o.Resend(true, &fam)

	msgs := drain(t, o, neg)
	require.GreaterOrEqual(t, len(msgs), 3)

	first, ok := msgs[0].(*message.RouteRefresh)
	require.True(t, ok, "the batch opens with BoRR")
	assert.Equal(t, uint8(message.REFRESH_BORR), first.Reserved)

	last, ok := msgs[len(msgs)-1].(*message.RouteRefresh)
	require.True(t, ok, "the batch closes with EoRR")
	assert.Equal(t, uint8(message.REFRESH_EORR), last.Reserved)

	var replayed int
	for _, u := range updates(msgs) {
		replayed += len(u.NLRIs)
	}
	assert.Equal(t, 3, replayed, "exactly the cached set is replayed")

	assert.Len(t, o.Cached(nil), 3, "cache unchanged by the refresh")
}

func TestEOREmission(t *testing.T) {
	neg := &message.Negotiated{}
	o := NewOut(true)

	o.Add(testRoute("10.0.0.0/24", "192.0.2.1"), false, neg)
	o.ScheduleEOR([]message.Family{message.IPv4Unicast})

	msgs := drain(t, o, neg)
	require.Len(t, msgs, 2)

	u := msgs[len(msgs)-1].(*message.UpdateMsg)
	fam, eor := u.IsEOR()
	assert.True(t, eor, "EOR appended once the family drains")
	assert.Equal(t, message.IPv4Unicast, fam)

	// only once per session
	assert.Empty(t, drain(t, o, neg))
}

func TestClear(t *testing.T) {
	neg := &message.Negotiated{}
	o := NewOut(true)

	o.Add(testRoute("10.0.0.0/24", "192.0.2.1"), false, neg)
	drain(t, o, neg)

	o.Clear()
	assert.False(t, o.Pending())
	assert.Empty(t, o.Cached(nil))
}
