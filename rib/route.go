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

	"github.com/davidcoles/speaker/message"
)

// Route is the immutable (NLRI, attributes, nexthop) triple - the unit
// stored in RIBs and passed across the API boundary. It carries no
// announce/withdraw flag: the operation is implicit in which RIB method
// receives it. The attribute collection holds the user attributes only;
// NEXT_HOP or MP_REACH_NLRI are derived from NextHop at pack time.
type Route struct {
	NLRI       message.NLRI
	Attributes message.Attributes
	NextHop    netip.Addr
}

func New(nlri message.NLRI, attrs message.Attributes, nexthop netip.Addr) *Route {
	if attrs == nil {
		attrs = message.Attributes{}
	}
	return &Route{NLRI: nlri, Attributes: attrs, NextHop: nexthop}
}

func (r *Route) Family() message.Family { return r.NLRI.Family() }

// Index is the cache/RIB key - the family header plus the NLRI index.
func (r *Route) Index() string {
	f := r.Family()
	return fmt.Sprintf("%02x%02x", uint16(f.AFI), uint8(f.SAFI)) + r.NLRI.Index()
}

// Equal is protocol level equality: same destination, bit-equal
// attributes and the same nexthop.
func (r *Route) Equal(other *Route, neg *message.Negotiated) bool {
	if other == nil {
		return false
	}
	return r.NLRI.Index() == other.NLRI.Index() &&
		r.NextHop == other.NextHop &&
		r.Attributes.Equal(other.Attributes, neg)
}

func (r *Route) String() string {
	s := r.NLRI.String()
	if r.NextHop.IsValid() {
		s += " next-hop " + r.NextHop.String()
	}
	if len(r.Attributes) > 0 {
		s += " " + r.Attributes.String()
	}
	return s
}

// WithNextHop returns a copy pointing at a different nexthop - Route is
// immutable so the original is untouched.
func (r *Route) WithNextHop(nexthop netip.Addr) *Route {
	return &Route{NLRI: r.NLRI, Attributes: r.Attributes, NextHop: nexthop}
}
