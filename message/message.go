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
	"io"
)

// Message is any BGP message which knows how to render its own body.
// The header (marker, length, type) is added by Headerise.
type Message interface {
	Type() uint8
	Body(neg *Negotiated) []byte
}

type keepalive struct{}

func (k *keepalive) Type() uint8                 { return M_KEEPALIVE }
func (k *keepalive) Body(neg *Negotiated) []byte { return nil }

// Keepalive returns the (stateless) KEEPALIVE message.
func Keepalive() Message { return &keepalive{} }

// Headerise prepends the 19 byte BGP header - 16 bytes of 0xff marker,
// two bytes of length and the message type.
func Headerise(t uint8, body []byte) []byte {
	l := HEADER_LEN + len(body)
	p := make([]byte, l)
	for n := 0; n < 16; n++ {
		p[n] = 0xff
	}
	hl := htons(uint16(l))
	p[16] = hl[0]
	p[17] = hl[1]
	p[18] = t
	copy(p[19:], body)
	return p
}

// minimum body lengths by type, header included, per RFC 4271 section 6.1
func minlen(t uint8) int {
	switch t {
	case M_OPEN:
		return 29
	case M_UPDATE:
		return 23
	case M_NOTIFICATION:
		return 21
	case M_KEEPALIVE:
		return 19
	case M_REFRESH:
		return 23
	case M_OPERATIONAL:
		return 23
	}
	return HEADER_LEN
}

// Read consumes exactly one message from the reader, validating the
// header. The returned error, when not an I/O error, is a *Notification
// carrying the reason the message was rejected.
func Read(r io.Reader, neg *Negotiated) (mtype uint8, body []byte, err error) {

	max := MAX_MESSAGE
	if neg != nil {
		max = neg.MessageSize()
	}

	var header [HEADER_LEN]byte

	if _, err = io.ReadFull(r, header[:]); err != nil {
		return
	}

	for _, b := range header[0:16] {
		if b != 0xff {
			return 0, nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: CONNECTION_NOT_SYNCHRONISED}
		}
	}

	length := int(ntohs(header[16], header[17]))
	mtype = header[18]

	if length < HEADER_LEN || length > max {
		return 0, nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH, Data: []byte{header[16], header[17]}}
	}

	switch mtype {
	case M_OPEN, M_UPDATE, M_NOTIFICATION, M_KEEPALIVE, M_REFRESH, M_OPERATIONAL:
	default:
		return 0, nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_TYPE, Data: []byte{mtype}}
	}

	if length < minlen(mtype) {
		return 0, nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH, Data: []byte{header[16], header[17]}}
	}

	if mtype == M_KEEPALIVE && length != HEADER_LEN {
		return 0, nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH, Data: []byte{header[16], header[17]}}
	}

	body = make([]byte, length-HEADER_LEN)

	if _, err = io.ReadFull(r, body); err != nil {
		return
	}

	return mtype, body, nil
}
