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
)

// RefreshVariant is the negotiated route-refresh mechanism.
type RefreshVariant uint8

const (
	REFRESH_ABSENT RefreshVariant = iota
	REFRESH_NORMAL
	REFRESH_ENHANCED
)

// AddPathMode is the negotiated add-path direction for one family.
type AddPathMode struct {
	Send    bool
	Receive bool
}

// Negotiated is the immutable result of the OPEN exchange - every
// session parameter both sides agreed on. A nil *Negotiated behaves as
// a bare pre-negotiation session (no add-path, 4096 byte messages).
type Negotiated struct {
	HoldTime     uint16
	Keepalive    uint16
	ASN4         bool
	LocalAS      uint32
	PeerAS       uint32
	LocalID      [4]byte
	PeerID       [4]byte
	Families     []Family
	Refresh      RefreshVariant
	AddPath      map[Family]AddPathMode
	MultiSession bool
	Operational  bool
	Extended     bool
}

func (n *Negotiated) MessageSize() int {
	if n != nil && n.Extended {
		return EXTENDED_MESSAGE
	}
	return MAX_MESSAGE
}

func (n *Negotiated) AddPathSend(f Family) bool {
	if n == nil {
		return false
	}
	return n.AddPath[f].Send
}

func (n *Negotiated) AddPathReceive(f Family) bool {
	if n == nil {
		return false
	}
	return n.AddPath[f].Receive
}

func (n *Negotiated) Internal() bool { return n != nil && n.LocalAS == n.PeerAS }

func (n *Negotiated) FamilyNegotiated(f Family) bool {
	if n == nil {
		return false
	}
	for _, x := range n.Families {
		if x == f {
			return true
		}
	}
	return false
}

// Negotiate computes the session parameters from the two OPENs. The
// error, when not nil, is the *Notification to send before closing.
// expect is the configured peer AS - zero accepts any.
func Negotiate(sent, recv *OpenMsg, expect uint32) (*Negotiated, error) {
	n := &Negotiated{LocalID: sent.RouterID, PeerID: recv.RouterID}

	// RFC 6286 - all zeros is not a router id
	if recv.RouterID == [4]byte{} {
		return nil, &Notification{Code: OPEN_ERROR, Sub: BAD_BGP_ID, Data: []byte("0.0.0.0 is an invalid router-id")}
	}

	if recv.HoldTime > 0 && recv.HoldTime < 3 {
		return nil, &Notification{Code: OPEN_ERROR, Sub: UNNACEPTABLE_HOLD_TIME}
	}

	n.HoldTime = sent.HoldTime
	if recv.HoldTime < n.HoldTime {
		n.HoldTime = recv.HoldTime
	}
	n.Keepalive = n.HoldTime / 3

	n.ASN4 = sent.Capabilities.HasASN4 && recv.Capabilities.HasASN4
	n.Operational = sent.Capabilities.Operational && recv.Capabilities.Operational

	n.LocalAS = sent.ASN()
	n.PeerAS = uint32(recv.AS)
	if recv.AS == AS_TRANS && n.ASN4 {
		n.PeerAS = recv.Capabilities.ASN4
	}

	if expect != 0 && n.PeerAS != expect {
		return nil, &Notification{Code: OPEN_ERROR, Sub: BAD_PEER_AS}
	}

	// router-id must be unique within an ASN
	if n.PeerAS == n.LocalAS && recv.RouterID == sent.RouterID {
		id := netip.AddrFrom4(recv.RouterID)
		return nil, &Notification{Code: OPEN_ERROR, Sub: BAD_BGP_ID, Data: []byte("router-id collision " + id.String())}
	}

	for _, f := range recv.Capabilities.Families {
		if sent.Capabilities.MultiProtocol(f) {
			n.Families = append(n.Families, f)
		}
	}

	switch {
	case sent.Capabilities.EnhancedRefresh && recv.Capabilities.EnhancedRefresh:
		n.Refresh = REFRESH_ENHANCED
	case (sent.Capabilities.RouteRefresh || sent.Capabilities.RouteRefreshCisco) &&
		(recv.Capabilities.RouteRefresh || recv.Capabilities.RouteRefreshCisco):
		n.Refresh = REFRESH_NORMAL
	}

	// we send iff we offered send and the peer offered receive, and the
	// reverse for receiving
	n.AddPath = map[Family]AddPathMode{}
	for f, mine := range sent.Capabilities.AddPath {
		theirs := recv.Capabilities.addpath(f)
		mode := AddPathMode{
			Send:    mine&ADDPATH_SEND != 0 && theirs&ADDPATH_RECEIVE != 0,
			Receive: mine&ADDPATH_RECEIVE != 0 && theirs&ADDPATH_SEND != 0,
		}
		if mode.Send || mode.Receive {
			n.AddPath[f] = mode
		}
	}

	n.MultiSession = sent.Capabilities.HasMultiSession && recv.Capabilities.HasMultiSession

	if n.MultiSession {
		// the session id capability sets must agree
		if !bytes.Equal(sent.Capabilities.MultiSession, recv.Capabilities.MultiSession) {
			return nil, &Notification{Code: OPEN_ERROR, Sub: BAD_SESSION_ID, Data: []byte("session id mismatch")}
		}
	}

	n.Extended = sent.Capabilities.ExtendedMessage && recv.Capabilities.ExtendedMessage

	return n, nil
}
