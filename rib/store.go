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
	"sync"

	"github.com/davidcoles/speaker/message"
)

// Store interns routes across peers: a route announced to N peers has
// one allocation and refcount N. Sharing is transparent - Intern
// returns the canonical instance for protocol-equal routes. Optional;
// peers work equally well owning their routes outright.
type Store struct {
	mutex  sync.Mutex
	routes map[string]*counted
}

type counted struct {
	route *Route
	refs  int
}

func NewStore() *Store {
	return &Store{routes: map[string]*counted{}}
}

// storeKey includes the attribute bytes and nexthop - routes for the
// same destination with different attributes are different entries.
func storeKey(r *Route, neg *message.Negotiated) string {
	return r.Index() + "|" + r.Attributes.Hash(neg) + "|" + r.NextHop.String()
}

// Intern returns the shared instance, incrementing its refcount.
func (s *Store) Intern(r *Route, neg *message.Negotiated) *Route {
	key := storeKey(r, neg)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if c, ok := s.routes[key]; ok {
		c.refs++
		return c.route
	}

	s.routes[key] = &counted{route: r, refs: 1}
	return r
}

// Release decrements the refcount, freeing the entry at zero.
func (s *Store) Release(r *Route, neg *message.Negotiated) {
	key := storeKey(r, neg)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	c, ok := s.routes[key]
	if !ok {
		return
	}

	c.refs--
	if c.refs <= 0 {
		delete(s.routes, key)
	}
}

// Len is the number of distinct interned routes.
func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.routes)
}
