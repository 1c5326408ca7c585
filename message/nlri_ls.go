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

// https://datatracker.ietf.org/doc/html/rfc7752 - North-Bound Distribution of Link-State and TE Information

package message

import (
	"fmt"
)

const (
	LS_NODE        = 1
	LS_LINK        = 2
	LS_PREFIX_IPV4 = 3
	LS_PREFIX_IPV6 = 4
)

// TLV is a type/length/value element - BGP-LS descriptor TLVs are
// carried opaque, in received order.
type TLV struct {
	Type  uint16
	Value []byte
}

func (t TLV) pack() []byte {
	ty := htons(t.Type)
	ln := htons(uint16(len(t.Value)))
	b := append([]byte{}, ty[:]...)
	b = append(b, ln[:]...)
	return append(b, t.Value...)
}

func packTLVs(tlvs []TLV) (b []byte) {
	for _, t := range tlvs {
		b = append(b, t.pack()...)
	}
	return
}

func unpackTLVs(data []byte) (tlvs []TLV, err error) {
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("truncated tlv")
		}
		length := int(ntohs(data[2], data[3]))
		if len(data) < 4+length {
			return nil, fmt.Errorf("truncated tlv value")
		}
		tlvs = append(tlvs, TLV{Type: ntohs(data[0], data[1]), Value: append([]byte{}, data[4:4+length]...)})
		data = data[4+length:]
	}
	return
}

// LSNLRI is the link-state NLRI - node, link or prefix, carrying a
// protocol id, a topology identifier and the descriptor TLVs.
type LSNLRI struct {
	Type       uint16 // LS_NODE, LS_LINK, LS_PREFIX_IPV4, LS_PREFIX_IPV6
	ProtocolID uint8
	Identifier uint64
	TLVs       []TLV
}

func (l *LSNLRI) Family() Family { return LinkState }

func (l *LSNLRI) String() string {
	switch l.Type {
	case LS_NODE:
		return fmt.Sprintf("bgp-ls:node:%d:%d", l.ProtocolID, l.Identifier)
	case LS_LINK:
		return fmt.Sprintf("bgp-ls:link:%d:%d", l.ProtocolID, l.Identifier)
	case LS_PREFIX_IPV4:
		return fmt.Sprintf("bgp-ls:prefix-v4:%d:%d", l.ProtocolID, l.Identifier)
	case LS_PREFIX_IPV6:
		return fmt.Sprintf("bgp-ls:prefix-v6:%d:%d", l.ProtocolID, l.Identifier)
	}
	return fmt.Sprintf("bgp-ls:%d", l.Type)
}

func (l *LSNLRI) body() []byte {
	b := []byte{l.ProtocolID}
	for s := 56; s >= 0; s -= 8 {
		b = append(b, byte(l.Identifier>>s))
	}
	return append(b, packTLVs(l.TLVs)...)
}

func (l *LSNLRI) Index() string {
	ty := htons(l.Type)
	return string(append(ty[:], l.body()...))
}

func (l *LSNLRI) Pack(neg *Negotiated) []byte {
	body := l.body()
	ty := htons(l.Type)
	ln := htons(uint16(len(body)))
	b := append([]byte{}, ty[:]...)
	b = append(b, ln[:]...)
	return append(b, body...)
}

func decodeLS(f Family, data []byte, addpath bool) (NLRI, int, error) {
	if len(data) < 4 {
		return nil, 0, invalid(f, "truncated bgp-ls")
	}

	rtype := ntohs(data[0], data[1])
	length := int(ntohs(data[2], data[3]))

	switch rtype {
	case LS_NODE, LS_LINK, LS_PREFIX_IPV4, LS_PREFIX_IPV6:
	default:
		return nil, 0, invalid(f, fmt.Sprintf("unknown nlri type %d", rtype))
	}

	if len(data) < 4+length || length < 9 {
		return nil, 0, invalid(f, "bad bgp-ls length")
	}

	body := data[4 : 4+length]
	l := &LSNLRI{Type: rtype, ProtocolID: body[0]}

	for _, b := range body[1:9] {
		l.Identifier = l.Identifier<<8 | uint64(b)
	}

	tlvs, err := unpackTLVs(body[9:])
	if err != nil {
		return nil, 0, invalid(f, err.Error())
	}

	l.TLVs = tlvs
	return l, 4 + length, nil
}
