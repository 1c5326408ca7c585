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
	"net/netip"
)

// OpenMsg is the OPEN message. AS holds the two byte field from the
// wire - AS_TRANS when the real number needs the ASN4 capability.
type OpenMsg struct {
	Version      uint8
	AS           uint16
	HoldTime     uint16
	RouterID     [4]byte
	Capabilities Capabilities
}

// NewOpen builds our OPEN for a session - a four byte local AS is
// always carried in the ASN4 capability and AS_TRANS goes on the wire.
func NewOpen(asn uint32, holdtime uint16, routerid [4]byte, caps Capabilities) *OpenMsg {
	wire := uint16(asn)
	if asn > 0xffff {
		wire = AS_TRANS
	}
	caps.ASN4 = asn
	caps.HasASN4 = true
	return &OpenMsg{Version: VERSION, AS: wire, HoldTime: holdtime, RouterID: routerid, Capabilities: caps}
}

// ASN is the effective AS number, preferring the ASN4 capability.
func (o *OpenMsg) ASN() uint32 {
	if o.Capabilities.HasASN4 && o.AS == AS_TRANS {
		return o.Capabilities.ASN4
	}
	return uint32(o.AS)
}

func (o *OpenMsg) Type() uint8 { return M_OPEN }

func (o *OpenMsg) String() string {
	id := netip.AddrFrom4(o.RouterID)
	return fmt.Sprintf("open version %d asn %d hold-time %d router-id %s", o.Version, o.ASN(), o.HoldTime, id)
}

func (o *OpenMsg) Body(neg *Negotiated) []byte {
	as := htons(o.AS)
	ht := htons(o.HoldTime)

	b := []byte{o.Version, as[0], as[1], ht[0], ht[1], o.RouterID[0], o.RouterID[1], o.RouterID[2], o.RouterID[3]}

	params := o.Capabilities.Pack()
	b = append(b, byte(len(params)))
	return append(b, params...)
}

// DecodeOpen parses an OPEN body. The error, when not nil, is the
// *Notification to send.
func DecodeOpen(body []byte) (*OpenMsg, error) {
	if len(body) < 10 {
		return nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH}
	}

	o := &OpenMsg{
		Version:  body[0],
		AS:       ntohs(body[1], body[2]),
		HoldTime: ntohs(body[3], body[4]),
	}
	copy(o.RouterID[:], body[5:9])

	if o.Version != VERSION {
		return nil, &Notification{Code: OPEN_ERROR, Sub: UNSUPPORTED_VERSION_NUMBER, Data: []byte{0, VERSION}}
	}

	plen := int(body[9])
	if len(body) < 10+plen {
		return nil, &Notification{Code: OPEN_ERROR, Sub: UNSUPPORTED_OPTIONAL_PARAMETER}
	}

	caps, err := parseCapabilities(body[10 : 10+plen])
	if err != nil {
		return nil, err
	}

	o.Capabilities = *caps
	return o, nil
}
