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

// https://datatracker.ietf.org/doc/html/rfc4486 - Subcodes for BGP Cease Notification Message
// https://datatracker.ietf.org/doc/html/rfc8203 - BGP Administrative Shutdown Communication

package message

import (
	"fmt"
	"unicode/utf8"
)

// Notification is the terminal error message - also used as the error
// type throughout the codec, so a decode failure IS the notification
// the session should send.
type Notification struct {
	Code uint8
	Sub  uint8
	Data []byte
}

func (n *Notification) Type() uint8 { return M_NOTIFICATION }

func (n *Notification) Body(neg *Negotiated) []byte {
	return append([]byte{n.Code, n.Sub}, n.Data...)
}

func (n *Notification) Error() string { return n.String() }

func (n *Notification) String() string {
	s := fmt.Sprintf("notification [%d:%d] %s", n.Code, n.Sub, Note(n.Code, n.Sub))
	if c := n.Communication(); c != "" {
		s += " (" + c + ")"
	}
	return s
}

// Communication extracts the RFC 8203 shutdown text when present and
// printable - only Cease with administrative shutdown/reset carries one.
func (n *Notification) Communication() string {
	if n.Code != CEASE || (n.Sub != ADMINISTRATIVE_SHUTDOWN && n.Sub != ADMINISTRATIVE_RESET) {
		return ""
	}
	if len(n.Data) == 0 || len(n.Data) > 128 || !utf8.Valid(n.Data) {
		return ""
	}
	return string(n.Data)
}

// Shutdown builds an administrative shutdown with a communication
// message, truncated to the 128 byte limit.
func Shutdown(communication string) *Notification {
	d := []byte(communication)
	if len(d) > 128 {
		d = d[:128]
	}
	return &Notification{Code: CEASE, Sub: ADMINISTRATIVE_SHUTDOWN, Data: d}
}

// DecodeNotification parses a NOTIFICATION body.
func DecodeNotification(body []byte) (*Notification, error) {
	if len(body) < 2 {
		return nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH}
	}
	return &Notification{Code: body[0], Sub: body[1], Data: append([]byte{}, body[2:]...)}, nil
}

// Note renders a notification code pair as text.
func Note(code, sub uint8) string {
	var s string = "<unrecognised>"
	switch code {
	case MESSAGE_HEADER_ERROR:
		s = "Message header error"
		switch sub {
		case CONNECTION_NOT_SYNCHRONISED:
			s += "; Connection not synchronised"
		case BAD_MESSAGE_LENGTH:
			s += "; Bad message length"
		case BAD_MESSAGE_TYPE:
			s += "; Bad message type"
		}

	case OPEN_ERROR:
		s = "OPEN message error"
		switch sub {
		case UNSUPPORTED_VERSION_NUMBER:
			s += "; Unsupported version number"
		case BAD_PEER_AS:
			s += "; Bad peer AS"
		case BAD_BGP_ID:
			s += "; Bad BGP identifier"
		case UNSUPPORTED_OPTIONAL_PARAMETER:
			s += "; Unsupported optional parameter"
		case UNNACEPTABLE_HOLD_TIME:
			s += "; Unnaceptable hold time"
		case UNSUPPORTED_CAPABILITY:
			s += "; Unsupported capability"
		case BAD_SESSION_ID:
			s += "; Bad session id"
		}

	case UPDATE_ERROR:
		s = "UPDATE message error"
		switch sub {
		case MALFORMED_ATTRIBUTE_LIST:
			s += "; Malformed attribute list"
		case UNRECOGNISED_WELLKNOWN_ATTR:
			s += "; Unrecognised well-known attribute"
		case MISSING_WELLKNOWN_ATTR:
			s += "; Missing well-known attribute"
		case ATTRIBUTE_FLAGS_ERROR:
			s += "; Attribute flags error"
		case ATTRIBUTE_LENGTH_ERROR:
			s += "; Attribute length error"
		case INVALID_ORIGIN:
			s += "; Invalid ORIGIN attribute"
		case AS_ROUTING_LOOP:
			s += "; AS routing loop"
		case INVALID_NEXT_HOP:
			s += "; Invalid NEXT_HOP attribute"
		case OPTIONAL_ATTRIBUTE_ERROR:
			s += "; Optional attribute error"
		case INVALID_NETWORK_FIELD:
			s += "; Invalid network field"
		case MALFORMED_AS_PATH:
			s += "; Malformed AS_PATH"
		}

	case HOLD_TIMER_EXPIRED:
		s = "Hold timer expired"

	case FSM_ERROR:
		s = "Finite state machine error"

	case CEASE:
		s = "Cease"
		switch sub {
		case MAXIMUM_PREFIXES_REACHED:
			s += "; Maximum prefixes reached"
		case ADMINISTRATIVE_SHUTDOWN:
			s += "; Administrative shutdown"
		case PEER_DECONFIGURED:
			s += "; Peer deconfigured"
		case ADMINISTRATIVE_RESET:
			s += "; Administrative reset"
		case CONNECTION_REJECTED:
			s += "; Connection rejected"
		case OTHER_CONFIGURATION_CHANGE:
			s += "; Other configuration change"
		case CONNECTION_COLLISION_RESOLUTION:
			s += "; Connection collision resolution"
		case OUT_OF_RESOURCES:
			s += "; Out of resources"
		}
	}
	return s
}
