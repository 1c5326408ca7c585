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
	"fmt"
	"sort"
	"strings"
)

// Attribute is one path attribute. Flags returns the canonical flag
// byte for the attribute sans the extended-length bit, which is derived
// from the payload size at pack time.
type Attribute interface {
	Code() uint8
	Flags() uint8
	Payload(neg *Negotiated) []byte
	String() string
}

// attrPack renders the full TLV for one attribute.
func attrPack(a Attribute, neg *Negotiated) []byte {
	p := a.Payload(neg)
	flags := a.Flags() &^ FLAG_EXTENDED

	if len(p) > 255 {
		flags |= FLAG_EXTENDED
		l := htons(uint16(len(p)))
		return append([]byte{flags, a.Code(), l[0], l[1]}, p...)
	}

	return append([]byte{flags, a.Code(), byte(len(p))}, p...)
}

// Generic carries an attribute this speaker does not interpret. The
// received flags are preserved; when re-emitted the partial bit is set
// as RFC 4271 9.1.4 requires of forwarded unrecognised attributes.
type Generic struct {
	AttrFlags uint8
	AttrCode  uint8
	Data      []byte
}

func (g *Generic) Code() uint8  { return g.AttrCode }
func (g *Generic) Flags() uint8 { return g.AttrFlags }

func (g *Generic) Payload(neg *Negotiated) []byte { return g.Data }

func (g *Generic) String() string {
	return fmt.Sprintf("attribute [ 0x%02x 0x%02x %x ]", g.AttrCode, g.AttrFlags, g.Data)
}

// Attributes is the collection of path attributes carried by a route,
// keyed by code. All known attributes are single cardinality - adding a
// second instance of a code is a programming error.
type Attributes map[uint8]Attribute

func (a Attributes) Add(attr Attribute) error {
	if _, ok := a[attr.Code()]; ok {
		return fmt.Errorf("duplicate attribute %d", attr.Code())
	}
	a[attr.Code()] = attr
	return nil
}

// MustAdd panics on a duplicate - for statically constructed sets.
func (a Attributes) MustAdd(attr Attribute) Attributes {
	if err := a.Add(attr); err != nil {
		panic(err)
	}
	return a
}

func (a Attributes) Get(code uint8) (Attribute, bool) {
	attr, ok := a[code]
	return attr, ok
}

func (a Attributes) Has(code uint8) bool {
	_, ok := a[code]
	return ok
}

func (a Attributes) codes() []int {
	var codes []int
	for c := range a {
		codes = append(codes, int(c))
	}
	sort.Ints(codes)
	return codes
}

// Pack renders the attribute block in canonical form - ascending code
// order, so two semantically equal collections are byte identical.
// When the session is not asn4 and the AS_PATH holds four byte numbers,
// an AS4_PATH companion is synthesised (RFC 6793 4.2.2).
func (a Attributes) Pack(neg *Negotiated) []byte {
	eff := a

	if as4 := a.as4companion(neg); as4 != nil {
		eff = Attributes{}
		for c, attr := range a {
			eff[c] = attr
		}
		eff[AS4_PATH] = as4
	}

	var b []byte
	for _, c := range eff.codes() {
		b = append(b, attrPack(eff[uint8(c)], neg)...)
	}

	return b
}

func (a Attributes) as4companion(neg *Negotiated) Attribute {
	if neg != nil && neg.ASN4 {
		return nil
	}

	attr, ok := a[AS_PATH]
	if !ok {
		return nil
	}

	path, ok := attr.(*ASPath)
	if !ok || !path.wide() {
		return nil
	}

	return &AS4Path{Segments: path.Segments}
}

// Hash is the grouping key for update batching - routes whose
// attribute collections hash equal may share one UPDATE message.
func (a Attributes) Hash(neg *Negotiated) string {
	return string(a.Pack(neg))
}

// Equal is bit-equality of the canonical encodings.
func (a Attributes) Equal(other Attributes, neg *Negotiated) bool {
	return a.Hash(neg) == other.Hash(neg)
}

func (a Attributes) String() string {
	var parts []string
	for _, c := range a.codes() {
		parts = append(parts, a[uint8(c)].String())
	}
	return strings.Join(parts, " ")
}

// expected flag bits (optional/transitive) by attribute code, for the
// RFC 4271 6.3 attribute flags check
var attrFlags = map[uint8]uint8{
	ORIGIN:             FLAG_TRANSITIVE,
	AS_PATH:            FLAG_TRANSITIVE,
	NEXT_HOP:           FLAG_TRANSITIVE,
	MULTI_EXIT_DISC:    FLAG_OPTIONAL,
	LOCAL_PREF:         FLAG_TRANSITIVE,
	ATOMIC_AGGREGATE:   FLAG_TRANSITIVE,
	AGGREGATOR:         FLAG_OPTIONAL | FLAG_TRANSITIVE,
	COMMUNITIES:        FLAG_OPTIONAL | FLAG_TRANSITIVE,
	ORIGINATOR_ID:      FLAG_OPTIONAL,
	CLUSTER_LIST:       FLAG_OPTIONAL,
	MP_REACH_NLRI:      FLAG_OPTIONAL,
	MP_UNREACH_NLRI:    FLAG_OPTIONAL,
	EXTENDED_COMMUNITY: FLAG_OPTIONAL | FLAG_TRANSITIVE,
	AS4_PATH:           FLAG_OPTIONAL | FLAG_TRANSITIVE,
	AS4_AGGREGATOR:     FLAG_OPTIONAL | FLAG_TRANSITIVE,
	PMSI_TUNNEL:        FLAG_OPTIONAL | FLAG_TRANSITIVE,
	IPV6_EXT_COMMUNITY: FLAG_OPTIONAL | FLAG_TRANSITIVE,
	AIGP_ATTR:          FLAG_OPTIONAL,
	BGP_LS:             FLAG_OPTIONAL,
	LARGE_COMMUNITY:    FLAG_OPTIONAL | FLAG_TRANSITIVE,
	BGP_PREFIX_SID:     FLAG_OPTIONAL | FLAG_TRANSITIVE,
}

// attrError wraps a notification with the RFC 7606 disposition - when
// treatAsWithdraw is set the session survives and the affected NLRIs
// are synthesised as withdrawals.
type attrError struct {
	notification    *Notification
	treatAsWithdraw bool
}

func (e *attrError) Error() string { return e.notification.Error() }

func sessionReset(code, sub uint8, data []byte) *attrError {
	return &attrError{notification: &Notification{Code: code, Sub: sub, Data: data}}
}

func treatAsWithdraw(code, sub uint8, data []byte) *attrError {
	return &attrError{notification: &Notification{Code: code, Sub: sub, Data: data}, treatAsWithdraw: true}
}

// decodeAttributes unpacks the path attribute block of an UPDATE.
func decodeAttributes(data []byte, neg *Negotiated) (Attributes, *attrError) {
	attrs := Attributes{}

	for len(data) > 0 {
		if len(data) < 3 {
			return nil, sessionReset(UPDATE_ERROR, MALFORMED_ATTRIBUTE_LIST, nil)
		}

		flags := data[0]
		code := data[1]

		var length int
		var header int

		if flags&FLAG_EXTENDED != 0 {
			if len(data) < 4 {
				return nil, sessionReset(UPDATE_ERROR, MALFORMED_ATTRIBUTE_LIST, nil)
			}
			length = int(ntohs(data[2], data[3]))
			header = 4
		} else {
			length = int(data[2])
			header = 3
		}

		if len(data) < header+length {
			return nil, sessionReset(UPDATE_ERROR, MALFORMED_ATTRIBUTE_LIST, nil)
		}

		payload := data[header : header+length]
		whole := data[:header+length]
		data = data[header+length:]

		if expect, known := attrFlags[code]; known {
			if flags&(FLAG_OPTIONAL|FLAG_TRANSITIVE) != expect {
				return nil, treatAsWithdraw(UPDATE_ERROR, ATTRIBUTE_FLAGS_ERROR, whole)
			}
		} else {
			if flags&FLAG_OPTIONAL == 0 {
				// unrecognised well-known
				return nil, sessionReset(UPDATE_ERROR, UNRECOGNISED_WELLKNOWN_ATTR, whole)
			}
			if flags&FLAG_TRANSITIVE != 0 {
				// retain for onward propagation, partial bit set
				attrs[code] = &Generic{AttrFlags: flags | FLAG_PARTIAL, AttrCode: code, Data: append([]byte{}, payload...)}
			}
			// optional non-transitive unknowns are quietly ignored
			continue
		}

		if attrs.Has(code) {
			// a repeated attribute: no occurrence is kept, the whole
			// UPDATE is treated as withdraw
			return nil, treatAsWithdraw(UPDATE_ERROR, MALFORMED_ATTRIBUTE_LIST, whole)
		}

		attr, err := decodeAttribute(code, payload, neg)
		if err != nil {
			return nil, err
		}

		attrs[code] = attr
	}

	return attrs, nil
}
