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

package peer

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidcoles/speaker/config"
	"github.com/davidcoles/speaker/message"
)

func testConf() config.Neighbor {
	return config.Neighbor{
		PeerAddress:  "192.0.2.2",
		LocalAS:      65000,
		PeerAS:       65001,
		RouterID:     "10.0.0.1",
		HoldTime:     90,
		Passive:      true,
		Families:     []string{"ipv4 unicast"},
		RouteRefresh: true,
	}
}

// remote is the far end of the pipe, acting as the peer router.
type remote struct {
	t    *testing.T
	conn net.Conn
}

func (r *remote) read(expect uint8) []byte {
	r.t.Helper()
	r.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mtype, body, err := message.Read(r.conn, nil)
	require.NoError(r.t, err)
	require.Equal(r.t, expect, mtype)
	return body
}

func (r *remote) send(m message.Message) {
	r.t.Helper()
	r.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	// the far end's OPEN carries the ASN4 capability (NewOpen always
	// adds it), so its UPDATEs use four byte AS numbers
	_, err := r.conn.Write(message.Headerise(m.Type(), m.Body(&message.Negotiated{ASN4: true})))
	require.NoError(r.t, err)
}

func (r *remote) open() {
	r.t.Helper()

	r.read(message.M_OPEN)

	o := message.NewOpen(65001, 90, [4]byte{10, 0, 0, 2}, message.Capabilities{
		Families:     []message.Family{message.IPv4Unicast},
		RouteRefresh: true,
	})
	r.send(o)

	r.read(message.M_KEEPALIVE)
	r.send(message.Keepalive())
}

func waitState(t *testing.T, events chan Event, state string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == "state" && e.State == state {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", state)
		}
	}
}

func waitEvent(t *testing.T, events chan Event, kind string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestSessionEstablishAndAnnounce(t *testing.T) {
	events := make(chan Event, 256)

	p := New("test", testConf(), events, nil)
	p.Start()

	local, far := net.Pipe()
	p.Accept(local)

	r := &remote{t: t, conn: far}
	r.open()

	waitState(t, events, ESTABLISHED)

	route, err := StaticRoute(config.StaticRoute{Prefix: "10.0.0.0/24", NextHop: "192.0.2.1"})
	require.NoError(t, err)
	p.Add(route, false)

	body := r.read(message.M_UPDATE)
	u, tas, err := message.DecodeUpdate(body, nil)
	require.NoError(t, err)
	assert.False(t, tas)
	require.Len(t, u.NLRIs, 1)
	assert.Equal(t, "10.0.0.0/24", u.NLRIs[0].String())

	// the cache now holds the route
	_, out := p.RIBs()
	require.Len(t, out, 1)

	// withdrawing yields an UPDATE with no attributes
	p.Del(route.NLRI)
	body = r.read(message.M_UPDATE)
	u, _, err = message.DecodeUpdate(body, nil)
	require.NoError(t, err)
	require.Len(t, u.Withdrawn, 1)
	assert.Empty(t, u.Attributes)
}

func TestSessionReceivesUpdate(t *testing.T) {
	events := make(chan Event, 256)

	p := New("test", testConf(), events, nil)
	p.Start()

	local, far := net.Pipe()
	p.Accept(local)

	r := &remote{t: t, conn: far}
	r.open()

	waitState(t, events, ESTABLISHED)

	u := &message.UpdateMsg{
		Attributes: message.Attributes{
			message.ORIGIN:   message.Origin(message.IGP),
			message.AS_PATH:  message.ASSequence(65001),
			message.NEXT_HOP: message.NextHop(netip.MustParseAddr("192.0.2.2")),
		},
		NLRIs: []message.NLRI{&message.Prefix{Fam: message.IPv4Unicast, Prefix: netip.MustParsePrefix("172.16.0.0/16")}},
	}
	r.send(u)

	e := waitEvent(t, events, "update")
	require.NotNil(t, e.Update)

	// stored in the adj-rib-in
	in, _ := p.RIBs()
	require.Len(t, in, 1)
	assert.Equal(t, "172.16.0.0/16", in[0].NLRI.String())
	assert.Equal(t, "192.0.2.2", in[0].NextHop.String())

	// a withdrawal scrubs it
	r.send(&message.UpdateMsg{Withdrawn: u.NLRIs})
	waitEvent(t, events, "update")

	in, _ = p.RIBs()
	assert.Empty(t, in)
}

func TestSessionRouteRefreshReplay(t *testing.T) {
	events := make(chan Event, 256)

	p := New("test", testConf(), events, nil)
	p.Start()

	local, far := net.Pipe()
	p.Accept(local)

	r := &remote{t: t, conn: far}
	r.open()

	waitState(t, events, ESTABLISHED)

	route, err := StaticRoute(config.StaticRoute{Prefix: "10.0.0.0/24", NextHop: "192.0.2.1"})
	require.NoError(t, err)
	p.Add(route, false)
	r.read(message.M_UPDATE)

	// ask for the table again
	r.send(&message.RouteRefresh{Fam: message.IPv4Unicast, Reserved: message.REFRESH_REQUEST})

	body := r.read(message.M_UPDATE)
	u, _, err := message.DecodeUpdate(body, nil)
	require.NoError(t, err)
	require.Len(t, u.NLRIs, 1)
	assert.Equal(t, "10.0.0.0/24", u.NLRIs[0].String())
}

func TestSessionNotificationTeardown(t *testing.T) {
	events := make(chan Event, 256)

	p := New("test", testConf(), events, nil)
	p.Start()

	local, far := net.Pipe()
	p.Accept(local)

	r := &remote{t: t, conn: far}
	r.open()

	waitState(t, events, ESTABLISHED)

	r.send(&message.Notification{Code: message.CEASE, Sub: message.ADMINISTRATIVE_SHUTDOWN, Data: []byte("bye")})

	e := waitEvent(t, events, "notification")
	require.NotNil(t, e.Notification)
	assert.Equal(t, "bye", e.Notification.Communication())

	waitState(t, events, IDLE)
}

func TestSessionFSMErrorOnEarlyUpdate(t *testing.T) {
	events := make(chan Event, 256)

	p := New("test", testConf(), events, nil)
	p.Start()

	local, far := net.Pipe()
	p.Accept(local)

	r := &remote{t: t, conn: far}

	// skip the OPEN exchange entirely and fire an UPDATE
	r.read(message.M_OPEN)
	r.send(&message.UpdateMsg{})

	far.SetReadDeadline(time.Now().Add(5 * time.Second))
	mtype, body, err := message.Read(far, nil)
	require.NoError(t, err)
	require.Equal(t, uint8(message.M_NOTIFICATION), mtype)

	n, err := message.DecodeNotification(body)
	require.NoError(t, err)
	assert.Equal(t, uint8(message.FSM_ERROR), n.Code)
}

func TestStaticRoute(t *testing.T) {
	r, err := StaticRoute(config.StaticRoute{
		Prefix:      "10.0.0.0/24",
		NextHop:     "192.0.2.1",
		MED:         100,
		LocalPref:   200,
		Communities: []string{"65000:1", "no-export"},
		ASPath:      []uint32{65000},
	})
	require.NoError(t, err)

	assert.Equal(t, message.IPv4Unicast, r.Family())
	assert.True(t, r.Attributes.Has(message.MULTI_EXIT_DISC))
	assert.True(t, r.Attributes.Has(message.LOCAL_PREF))
	assert.True(t, r.Attributes.Has(message.COMMUNITIES))

	// a bare address becomes a host route
	r, err = StaticRoute(config.StaticRoute{Prefix: "192.0.2.53", NextHop: "192.0.2.1"})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.53/32", r.NLRI.String())

	_, err = StaticRoute(config.StaticRoute{Prefix: "not-a-prefix"})
	assert.Error(t, err)
}

func TestCapabilitiesFromConfig(t *testing.T) {
	conf := testConf()
	conf.EnhancedRefresh = true
	conf.AddPath = map[string]string{"ipv4 unicast": "send/receive"}
	gr := uint16(120)
	conf.GracefulRestart = &gr

	p := New("test", conf, make(chan Event, 16), nil)
	caps := p.capabilities()

	assert.True(t, caps.RouteRefresh, "enhanced refresh implies plain refresh")
	assert.True(t, caps.EnhancedRefresh)
	assert.Equal(t, uint8(message.ADDPATH_BOTH), caps.AddPath[message.IPv4Unicast])
	require.NotNil(t, caps.GracefulRestart)
	assert.Equal(t, uint16(120), caps.GracefulRestart.Time)
}
