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

// https://datatracker.ietf.org/doc/html/rfc2918 - Route Refresh Capability for BGP-4
// https://datatracker.ietf.org/doc/html/rfc7313 - Enhanced Route Refresh Capability for BGP-4

package message

import (
	"fmt"
)

// The reserved byte of a ROUTE-REFRESH doubles as the enhanced refresh
// demarcation (RFC 7313).
const (
	REFRESH_REQUEST = 0
	REFRESH_BORR    = 1 // begin of route refresh
	REFRESH_EORR    = 2 // end of route refresh
)

// RouteRefresh is the ROUTE-REFRESH message.
type RouteRefresh struct {
	Fam      Family
	Reserved uint8
}

func (r *RouteRefresh) Type() uint8 { return M_REFRESH }

func (r *RouteRefresh) Body(neg *Negotiated) []byte {
	return []byte{byte(r.Fam.AFI >> 8), byte(r.Fam.AFI), r.Reserved, byte(r.Fam.SAFI)}
}

func (r *RouteRefresh) String() string {
	switch r.Reserved {
	case REFRESH_BORR:
		return fmt.Sprintf("route-refresh %s begin", r.Fam)
	case REFRESH_EORR:
		return fmt.Sprintf("route-refresh %s end", r.Fam)
	}
	return fmt.Sprintf("route-refresh %s request", r.Fam)
}

// DecodeRefresh parses a ROUTE-REFRESH body.
func DecodeRefresh(body []byte) (*RouteRefresh, error) {
	if len(body) != 4 {
		return nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH}
	}

	r := &RouteRefresh{
		Fam:      Family{AFI(ntohs(body[0], body[1])), SAFI(body[3])},
		Reserved: body[2],
	}

	if r.Reserved > REFRESH_EORR {
		return nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH}
	}

	return r, nil
}
