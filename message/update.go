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
	"net/netip"
	"strings"
)

// UpdateMsg is a decoded or to-be-encoded UPDATE. The Withdrawn and
// NLRIs fields are the IPv4 unicast fields of the message body; other
// families travel inside MP_REACH/MP_UNREACH attributes in Attributes.
type UpdateMsg struct {
	Withdrawn  []NLRI
	Attributes Attributes
	NLRIs      []NLRI
}

func (u *UpdateMsg) Type() uint8 { return M_UPDATE }

func (u *UpdateMsg) String() string {
	var parts []string
	for _, n := range u.Withdrawn {
		parts = append(parts, "withdraw "+n.String())
	}
	if len(u.NLRIs) > 0 || len(u.Attributes) > 0 {
		parts = append(parts, u.Attributes.String())
	}
	for _, n := range u.NLRIs {
		parts = append(parts, "announce "+n.String())
	}
	return strings.Join(parts, " ")
}

//   +-----------------------------------------------------+
//   |   Withdrawn Routes Length (2 octets)                |
//   +-----------------------------------------------------+
//   |   Withdrawn Routes (variable)                       |
//   +-----------------------------------------------------+
//   |   Total Path Attribute Length (2 octets)            |
//   +-----------------------------------------------------+
//   |   Path Attributes (variable)                        |
//   +-----------------------------------------------------+
//   |   Network Layer Reachability Information (variable) |
//   +-----------------------------------------------------+

func (u *UpdateMsg) Body(neg *Negotiated) []byte {
	var withdrawn []byte
	for _, n := range u.Withdrawn {
		withdrawn = append(withdrawn, n.Pack(neg)...)
	}

	var attrs []byte
	if len(u.Attributes) > 0 {
		attrs = u.Attributes.Pack(neg)
	}

	wl := htons(uint16(len(withdrawn)))
	al := htons(uint16(len(attrs)))

	var body []byte
	body = append(body, wl[:]...)
	body = append(body, withdrawn...)
	body = append(body, al[:]...)
	body = append(body, attrs...)

	for _, n := range u.NLRIs {
		body = append(body, n.Pack(neg)...)
	}

	return body
}

// EOR returns the End-of-RIB marker for a family - the special four
// byte empty UPDATE for IPv4 unicast, an UPDATE carrying only an empty
// MP_UNREACH for every other family.
func EOR(f Family) *UpdateMsg {
	if f == IPv4Unicast {
		return &UpdateMsg{}
	}
	return &UpdateMsg{Attributes: Attributes{MP_UNREACH_NLRI: &MPUnreach{Fam: f}}}
}

// IsEOR reports whether the update is an End-of-RIB marker, and for
// which family.
func (u *UpdateMsg) IsEOR() (Family, bool) {
	if len(u.Withdrawn) > 0 || len(u.NLRIs) > 0 {
		return Family{}, false
	}

	if len(u.Attributes) == 0 {
		return IPv4Unicast, true
	}

	if len(u.Attributes) == 1 {
		if mp, ok := u.Attributes[MP_UNREACH_NLRI].(*MPUnreach); ok && len(mp.NLRIs) == 0 {
			return mp.Fam, true
		}
	}

	return Family{}, false
}

// DecodeUpdate parses an UPDATE body. A nil error with withdrawnOnly
// set means an attribute problem was downgraded per RFC 7606 - the
// caller must treat every announced NLRI in the message as withdrawn.
func DecodeUpdate(body []byte, neg *Negotiated) (u *UpdateMsg, withdrawnOnly bool, err error) {
	if len(body) < 4 {
		return nil, false, &Notification{Code: UPDATE_ERROR, Sub: MALFORMED_ATTRIBUTE_LIST}
	}

	wl := int(ntohs(body[0], body[1]))
	if len(body) < 2+wl+2 {
		return nil, false, &Notification{Code: UPDATE_ERROR, Sub: MALFORMED_ATTRIBUTE_LIST}
	}

	withdrawn, werr := DecodeNLRIs(IPv4Unicast, body[2:2+wl], neg.AddPathReceive(IPv4Unicast))
	if werr != nil {
		return nil, false, &Notification{Code: UPDATE_ERROR, Sub: INVALID_NETWORK_FIELD}
	}

	rest := body[2+wl:]
	al := int(ntohs(rest[0], rest[1]))
	if len(rest) < 2+al {
		return nil, false, &Notification{Code: UPDATE_ERROR, Sub: MALFORMED_ATTRIBUTE_LIST}
	}

	nlris, nerr := DecodeNLRIs(IPv4Unicast, rest[2+al:], neg.AddPathReceive(IPv4Unicast))
	if nerr != nil {
		return nil, false, &Notification{Code: UPDATE_ERROR, Sub: INVALID_NETWORK_FIELD}
	}

	attrs, aerr := decodeAttributes(rest[2:2+al], neg)
	if aerr != nil {
		if aerr.treatAsWithdraw {
			// RFC 7606: the NLRIs were parseable, so withdraw them
			// instead of resetting the session
			return &UpdateMsg{Withdrawn: withdrawn, NLRIs: nlris}, true, nil
		}
		return nil, false, aerr.notification
	}

	u = &UpdateMsg{Withdrawn: withdrawn, Attributes: attrs, NLRIs: nlris}

	if len(nlris) > 0 {
		if err := checkMandatory(attrs); err != nil {
			return nil, false, err
		}
	}

	return u, false, nil
}

// the mandatory well-knowns for an announcing UPDATE (RFC 4271 section 5)
func checkMandatory(attrs Attributes) error {
	for _, code := range []uint8{ORIGIN, AS_PATH, NEXT_HOP} {
		if !attrs.Has(code) {
			return &Notification{Code: UPDATE_ERROR, Sub: MISSING_WELLKNOWN_ATTR, Data: []byte{code}}
		}
	}
	return nil
}

// Announced pairs each reachable NLRI in the update with its nexthop.
type Announced struct {
	NLRI    NLRI
	NextHop string
}

// Reachable flattens the IPv4 unicast NLRI field and any MP_REACH into
// one list with resolved nexthops.
func (u *UpdateMsg) Reachable() (out []Announced) {
	var nh string
	if a, ok := u.Attributes[NEXT_HOP].(NextHop); ok {
		nh = netip.Addr(a).String()
	}

	for _, n := range u.NLRIs {
		out = append(out, Announced{NLRI: n, NextHop: nh})
	}

	if mp, ok := u.Attributes[MP_REACH_NLRI].(*MPReach); ok {
		hop := ""
		if mp.NextHop.IsValid() {
			hop = mp.NextHop.String()
		}
		for _, n := range mp.NLRIs {
			out = append(out, Announced{NLRI: n, NextHop: hop})
		}
	}

	return
}

// Unreachable flattens the withdrawn field and any MP_UNREACH.
func (u *UpdateMsg) Unreachable() (out []NLRI) {
	out = append(out, u.Withdrawn...)
	if mp, ok := u.Attributes[MP_UNREACH_NLRI].(*MPUnreach); ok {
		out = append(out, mp.NLRIs...)
	}
	return
}

// Family guesses the family the update concerns - used for logging and
// End-of-RIB bookkeeping, not for dispatch.
func (u *UpdateMsg) Family() Family {
	if mp, ok := u.Attributes[MP_REACH_NLRI].(*MPReach); ok {
		return mp.Fam
	}
	if mp, ok := u.Attributes[MP_UNREACH_NLRI].(*MPUnreach); ok {
		return mp.Fam
	}
	return IPv4Unicast
}
