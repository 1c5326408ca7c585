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
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/davidcoles/speaker/message"
)

// Out is the per-peer Adj-RIB-Out: the pending announce and withdraw
// queues, and - when caching is enabled - the record of what was last
// sent, used for deduplication and route-refresh replay.
//
// Invariant: an index is never pending as both announce and withdraw.
// The cache is the only source for refresh replay; pending queues are
// never replayed.
type Out struct {
	caching bool

	announce map[message.Family]map[string]*Route
	withdraw map[message.Family]map[string]message.NLRI
	cache    map[message.Family]map[string]*Route

	// route-refresh bracketing and end-of-rib bookkeeping
	markers []*message.RouteRefresh
	eorrDue []message.Family
	eorDue  map[message.Family]bool
}

func NewOut(caching bool) *Out {
	return &Out{
		caching:  caching,
		announce: map[message.Family]map[string]*Route{},
		withdraw: map[message.Family]map[string]message.NLRI{},
		cache:    map[message.Family]map[string]*Route{},
		eorDue:   map[message.Family]bool{},
	}
}

func (o *Out) Caching() bool { return o.caching }

// Add queues a route for announcement. A pending withdrawal of the
// same index is cancelled. Unless forced, an announcement identical to
// the cached last-sent route is suppressed.
func (o *Out) Add(r *Route, force bool, neg *message.Negotiated) {
	fam := r.Family()
	idx := r.Index()

	if w := o.withdraw[fam]; w != nil {
		delete(w, idx)
	}

	if !force && o.caching {
		if cached := o.cache[fam][idx]; cached != nil && cached.Equal(r, neg) {
			return // dedup - peer already has this exact route
		}
	}

	if o.announce[fam] == nil {
		o.announce[fam] = map[string]*Route{}
	}
	o.announce[fam][idx] = r
}

// Del queues a withdrawal. A pending announcement of the same index is
// cancelled; withdrawing a route the peer never saw is suppressed.
func (o *Out) Del(nlri message.NLRI) {
	fam := nlri.Family()
	idx := (&Route{NLRI: nlri}).Index()

	if a := o.announce[fam]; a != nil {
		delete(a, idx)
	}

	if o.caching {
		if _, sent := o.cache[fam][idx]; !sent {
			return // dedup - can't withdraw what wasn't sent
		}
	}

	if o.withdraw[fam] == nil {
		o.withdraw[fam] = map[string]message.NLRI{}
	}
	o.withdraw[fam][idx] = nlri
}

// Clear drops the pending queues and cache. The session does not call it
// on session loss: the cache outlives the session and is replayed when
// the next one is established.
func (o *Out) Clear() {
	o.announce = map[message.Family]map[string]*Route{}
	o.withdraw = map[message.Family]map[string]message.NLRI{}
	o.cache = map[message.Family]map[string]*Route{}
	o.markers = nil
	o.eorrDue = nil
	o.eorDue = map[message.Family]bool{}
}

// Cached returns the last-sent routes for a family, every family when
// the argument is nil.
func (o *Out) Cached(fam *message.Family) (out []*Route) {
	for f, m := range o.cache {
		if fam != nil && f != *fam {
			continue
		}
		for _, r := range m {
			out = append(out, r)
		}
	}
	return
}

// CachedCount is the adj-rib-out prefix count for the operational
// counter queries.
func (o *Out) CachedCount(fam message.Family) (n uint32) {
	return uint32(len(o.cache[fam]))
}

// ScheduleEOR arranges an End-of-RIB marker for each family once its
// queues first drain.
func (o *Out) ScheduleEOR(fams []message.Family) {
	for _, f := range fams {
		o.eorDue[f] = true
	}
}

// Resend queues the entire cache for a family (or all families) for
// re-announcement - the route-refresh path. With enhanced refresh the
// batch is bracketed by BoRR/EoRR markers.
func (o *Out) Resend(enhanced bool, fam *message.Family) {
	var fams []message.Family
	if fam != nil {
		fams = []message.Family{*fam}
	} else {
		for f := range o.cache {
			fams = append(fams, f)
		}
	}

	for _, f := range fams {
		if enhanced {
			o.markers = append(o.markers, &message.RouteRefresh{Fam: f, Reserved: message.REFRESH_BORR})
			o.eorrDue = append(o.eorrDue, f)
		}

		for idx, r := range o.cache[f] {
			if o.announce[f] == nil {
				o.announce[f] = map[string]*Route{}
			}
			o.announce[f][idx] = r
			delete(o.withdraw[f], idx)
		}

		log.WithFields(log.Fields{"Topic": "RIB", "Family": f.String(), "Routes": len(o.cache[f])}).Debug("route refresh resend")
	}
}

// Pending reports whether anything remains to be sent.
func (o *Out) Pending() bool {
	if len(o.markers) > 0 || len(o.eorrDue) > 0 {
		return true
	}
	for _, m := range o.announce {
		if len(m) > 0 {
			return true
		}
	}
	for _, m := range o.withdraw {
		if len(m) > 0 {
			return true
		}
	}
	for _, due := range o.eorDue {
		if due {
			return true
		}
	}
	return false
}

func (o *Out) families() []message.Family {
	seen := map[message.Family]bool{}
	for f, m := range o.withdraw {
		if len(m) > 0 {
			seen[f] = true
		}
	}
	for f, m := range o.announce {
		if len(m) > 0 {
			seen[f] = true
		}
	}

	var fams []message.Family
	for f := range seen {
		fams = append(fams, f)
	}
	sort.Slice(fams, func(i, j int) bool {
		if fams[i].AFI != fams[j].AFI {
			return fams[i].AFI < fams[j].AFI
		}
		return fams[i].SAFI < fams[j].SAFI
	})
	return fams
}

// NextMessage produces the next wire message, or nil when nothing is
// pending. The generator of the outgoing pump, recast as an explicit
// state machine: emitted announcements move into the cache and emitted
// withdrawals leave it, so the iteration is resumable - anything not
// drained remains pending for the next call.
func (o *Out) NextMessage(neg *message.Negotiated) message.Message {

	// refresh begin markers go first - routes queued by the resend must
	// not overtake their bracket
	if len(o.markers) > 0 {
		m := o.markers[0]
		o.markers = o.markers[1:]
		return m
	}

	for _, fam := range o.families() {
		if len(o.withdraw[fam]) > 0 {
			return o.withdrawMessage(fam, neg)
		}
		if len(o.announce[fam]) > 0 {
			return o.announceMessage(fam, neg)
		}
	}

	// the resend batch has drained - close the bracket
	if len(o.eorrDue) > 0 {
		f := o.eorrDue[0]
		o.eorrDue = o.eorrDue[1:]
		return &message.RouteRefresh{Fam: f, Reserved: message.REFRESH_EORR}
	}

	for f, due := range o.eorDue {
		if due {
			o.eorDue[f] = false
			return message.EOR(f)
		}
	}

	return nil
}

// room for NLRI in one UPDATE after header and fixed fields
func room(neg *message.Negotiated, attrs int) int {
	return neg.MessageSize() - message.HEADER_LEN - 2 - 2 - attrs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *Out) withdrawMessage(fam message.Family, neg *message.Negotiated) message.Message {
	pending := o.withdraw[fam]
	u := &message.UpdateMsg{Attributes: message.Attributes{}}

	var unreach *message.MPUnreach
	if fam != message.IPv4Unicast {
		unreach = &message.MPUnreach{Fam: fam}
		u.Attributes[message.MP_UNREACH_NLRI] = unreach
	}

	space := room(neg, 16) // leave headroom for the MP_UNREACH framing

	added := 0
	for _, idx := range sortedKeys(pending) {
		nlri := pending[idx]
		size := len(nlri.Pack(neg))
		if size > space && added > 0 {
			break
		}
		space -= size
		added++

		if unreach != nil {
			unreach.NLRIs = append(unreach.NLRIs, nlri)
		} else {
			u.Withdrawn = append(u.Withdrawn, nlri)
		}

		delete(pending, idx)
		delete(o.cache[fam], idx)
	}

	return u
}

func (o *Out) announceMessage(fam message.Family, neg *message.Negotiated) message.Message {
	pending := o.announce[fam]

	// grouping key: routes sharing one UPDATE must have bit-equal
	// attribute blocks and the same nexthop
	keys := sortedKeys(pending)
	first := pending[keys[0]]
	hash := first.Attributes.Hash(neg)

	u := &message.UpdateMsg{Attributes: message.Attributes{}}
	for c, a := range first.Attributes {
		u.Attributes[c] = a
	}

	var reach *message.MPReach
	if fam == message.IPv4Unicast {
		u.Attributes[message.NEXT_HOP] = message.NextHop(first.NextHop)
	} else {
		reach = &message.MPReach{Fam: fam, NextHop: first.NextHop}
		u.Attributes[message.MP_REACH_NLRI] = reach
	}

	space := room(neg, len(u.Attributes.Pack(neg))+32)

	added := 0
	for _, idx := range keys {
		r := pending[idx]
		if r.NextHop != first.NextHop || r.Attributes.Hash(neg) != hash {
			continue
		}

		size := len(r.NLRI.Pack(neg))
		if size > space && added > 0 {
			break
		}
		space -= size
		added++

		if reach != nil {
			reach.NLRIs = append(reach.NLRIs, r.NLRI)
		} else {
			u.NLRIs = append(u.NLRIs, r.NLRI)
		}

		delete(pending, idx)

		if o.caching {
			if o.cache[fam] == nil {
				o.cache[fam] = map[string]*Route{}
			}
			o.cache[fam][idx] = r
		}
	}

	return u
}
