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
	log "github.com/sirupsen/logrus"

	"github.com/davidcoles/speaker/message"
)

// DefaultInLimit bounds the per-family Adj-RIB-In - one entry per
// (family, index), most recent wins.
const DefaultInLimit = 8192

// In is the per-peer Adj-RIB-In: a bounded last-seen cache. Nothing
// internal consumes it - it exists to answer the API and CLI, and to
// scrub stale routes after a graceful restart.
type In struct {
	limit  int
	routes map[message.Family]map[string]*Route
	stale  map[message.Family]map[string]bool
}

func NewIn(limit int) *In {
	if limit <= 0 {
		limit = DefaultInLimit
	}
	return &In{
		limit:  limit,
		routes: map[message.Family]map[string]*Route{},
		stale:  map[message.Family]map[string]bool{},
	}
}

// Update stores the most recently received route for its index.
func (in *In) Update(r *Route) {
	fam := r.Family()
	idx := r.Index()

	m := in.routes[fam]
	if m == nil {
		m = map[string]*Route{}
		in.routes[fam] = m
	}

	if _, exists := m[idx]; !exists && len(m) >= in.limit {
		log.WithFields(log.Fields{"Topic": "RIB", "Family": fam.String(), "Limit": in.limit}).Warn("adj-rib-in full, dropping route")
		return
	}

	m[idx] = r
	delete(in.stale[fam], idx)
}

// Withdraw removes the entry for an NLRI, if present.
func (in *In) Withdraw(nlri message.NLRI) {
	fam := nlri.Family()
	idx := (&Route{NLRI: nlri}).Index()
	delete(in.routes[fam], idx)
	delete(in.stale[fam], idx)
}

// MarkStale flags every current entry of a family - the graceful
// restart "keep but doubt" state before the peer re-sends its table.
func (in *In) MarkStale(fam message.Family) {
	m := map[string]bool{}
	for idx := range in.routes[fam] {
		m[idx] = true
	}
	in.stale[fam] = m
}

// EOR ends the restart for a family: entries not refreshed since
// MarkStale are scrubbed.
func (in *In) EOR(fam message.Family) (scrubbed int) {
	for idx := range in.stale[fam] {
		delete(in.routes[fam], idx)
		scrubbed++
	}
	delete(in.stale, fam)

	if scrubbed > 0 {
		log.WithFields(log.Fields{"Topic": "RIB", "Family": fam.String(), "Scrubbed": scrubbed}).Info("end-of-rib scrubbed stale routes")
	}
	return
}

// Routes lists the cached routes for a family, every family when nil.
func (in *In) Routes(fam *message.Family) (out []*Route) {
	for f, m := range in.routes {
		if fam != nil && f != *fam {
			continue
		}
		for _, r := range m {
			out = append(out, r)
		}
	}
	return
}

// Count is the reachable prefix count for the operational queries.
func (in *In) Count(fam message.Family) uint32 {
	return uint32(len(in.routes[fam]))
}

// Clear drops everything - session teardown, or the CLI clear command.
func (in *In) Clear() {
	in.routes = map[message.Family]map[string]*Route{}
	in.stale = map[message.Family]map[string]bool{}
}
