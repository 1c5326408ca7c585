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
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidcoles/speaker/message"
)

func TestIncomingLastSeen(t *testing.T) {
	in := NewIn(0)

	in.Update(testRoute("10.0.0.0/24", "192.0.2.1"))
	in.Update(testRoute("10.0.0.0/24", "192.0.2.2")) // replaces

	routes := in.Routes(nil)
	require.Len(t, routes, 1)
	assert.Equal(t, "192.0.2.2", routes[0].NextHop.String())

	in.Withdraw(&message.Prefix{Fam: message.IPv4Unicast, Prefix: netip.MustParsePrefix("10.0.0.0/24")})
	assert.Empty(t, in.Routes(nil))
}

func TestIncomingBounded(t *testing.T) {
	in := NewIn(2)

	in.Update(testRoute("10.0.0.0/24", "192.0.2.1"))
	in.Update(testRoute("10.0.1.0/24", "192.0.2.1"))
	in.Update(testRoute("10.0.2.0/24", "192.0.2.1")) // over the limit, dropped

	assert.Equal(t, uint32(2), in.Count(message.IPv4Unicast))

	// replacement of an existing key is always allowed
	in.Update(testRoute("10.0.1.0/24", "192.0.2.9"))
	assert.Equal(t, uint32(2), in.Count(message.IPv4Unicast))
}

func TestIncomingGracefulRestartScrub(t *testing.T) {
	in := NewIn(0)

	for i := 0; i < 3; i++ {
		in.Update(testRoute(fmt.Sprintf("10.0.%d.0/24", i), "192.0.2.1"))
	}

	in.MarkStale(message.IPv4Unicast)

	// the peer restarts and re-sends only one of the three
	in.Update(testRoute("10.0.1.0/24", "192.0.2.1"))

	scrubbed := in.EOR(message.IPv4Unicast)
	assert.Equal(t, 2, scrubbed)

	routes := in.Routes(nil)
	require.Len(t, routes, 1)
	assert.Equal(t, "10.0.1.0/24", routes[0].NLRI.String())
}

func TestIncomingClear(t *testing.T) {
	in := NewIn(0)
	in.Update(testRoute("10.0.0.0/24", "192.0.2.1"))
	in.Clear()
	assert.Empty(t, in.Routes(nil))
}

func TestStoreRefcounts(t *testing.T) {
	s := NewStore()

	a := testRoute("10.0.0.0/24", "192.0.2.1")
	b := testRoute("10.0.0.0/24", "192.0.2.1")

	// two peers announcing the same route share one allocation
	ra := s.Intern(a, nil)
	rb := s.Intern(b, nil)
	assert.Same(t, ra, rb)
	assert.Equal(t, 1, s.Len())

	s.Release(ra, nil)
	assert.Equal(t, 1, s.Len(), "still referenced by the second peer")

	s.Release(rb, nil)
	assert.Equal(t, 0, s.Len())
}

func TestStoreDistinguishesAttributes(t *testing.T) {
	s := NewStore()

	a := testRoute("10.0.0.0/24", "192.0.2.1")
	b := testRoute("10.0.0.0/24", "192.0.2.2") // different nexthop

	s.Intern(a, nil)
	s.Intern(b, nil)
	assert.Equal(t, 2, s.Len())
}
