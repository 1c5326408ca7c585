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

// https://datatracker.ietf.org/doc/html/draft-ietf-idr-operational-message - BGP OPERATIONAL message

package message

import (
	"fmt"
)

const (
	// advisory
	OPERATIONAL_ADM = 0x01 // advisory demand message
	OPERATIONAL_ASM = 0x02 // advisory static message
	// state query/response
	OPERATIONAL_RPCQ = 0x03 // reachable prefix count request
	OPERATIONAL_RPCP = 0x04 // reachable prefix count reply
	OPERATIONAL_APCQ = 0x05 // adj-rib-out prefix count request
	OPERATIONAL_APCP = 0x06 // adj-rib-out prefix count reply
	OPERATIONAL_LPCQ = 0x07 // loc-rib prefix count request
	OPERATIONAL_LPCP = 0x08 // loc-rib prefix count reply
	// control
	OPERATIONAL_NS = 0xffff // not satisfied

	MAX_ADVISORY = 2000
)

// Operational is the (vendor) OPERATIONAL message: a 16 bit kind, a 16
// bit length and a kind specific payload. Advisories carry UTF-8 text;
// the counter queries/replies carry a family, a sequence number and -
// for replies - a 32 bit count.
type Operational struct {
	What     uint16
	Fam      Family // zero for plain advisories
	Sequence uint16
	Count    uint32
	Text     string
}

func (o *Operational) Type() uint8 { return M_OPERATIONAL }

func (o *Operational) advisory() bool {
	return o.What == OPERATIONAL_ADM || o.What == OPERATIONAL_ASM
}

func (o *Operational) query() bool {
	return o.What == OPERATIONAL_RPCQ || o.What == OPERATIONAL_APCQ || o.What == OPERATIONAL_LPCQ
}

func (o *Operational) reply() bool {
	return o.What == OPERATIONAL_RPCP || o.What == OPERATIONAL_APCP || o.What == OPERATIONAL_LPCP
}

func (o *Operational) Name() string {
	switch o.What {
	case OPERATIONAL_ADM:
		return "adm"
	case OPERATIONAL_ASM:
		return "asm"
	case OPERATIONAL_RPCQ:
		return "rpcq"
	case OPERATIONAL_RPCP:
		return "rpcp"
	case OPERATIONAL_APCQ:
		return "apcq"
	case OPERATIONAL_APCP:
		return "apcp"
	case OPERATIONAL_LPCQ:
		return "lpcq"
	case OPERATIONAL_LPCP:
		return "lpcp"
	case OPERATIONAL_NS:
		return "ns"
	}
	return fmt.Sprintf("operational-%d", o.What)
}

func (o *Operational) String() string {
	if o.advisory() {
		return fmt.Sprintf("operational %s %q", o.Name(), o.Text)
	}
	if o.reply() {
		return fmt.Sprintf("operational %s %s %d", o.Name(), o.Fam, o.Count)
	}
	return fmt.Sprintf("operational %s %s", o.Name(), o.Fam)
}

func (o *Operational) payload() []byte {
	switch {
	case o.advisory():
		text := o.Text
		if len(text) > MAX_ADVISORY {
			text = text[:MAX_ADVISORY]
		}
		return []byte(text)
	case o.query():
		seq := htons(o.Sequence)
		return append(o.Fam.pack(), seq[:]...)
	case o.reply():
		seq := htons(o.Sequence)
		count := htonl(o.Count)
		b := append(o.Fam.pack(), seq[:]...)
		return append(b, count[:]...)
	}
	return nil
}

func (o *Operational) Body(neg *Negotiated) []byte {
	p := o.payload()
	what := htons(o.What)
	length := htons(uint16(len(p)))
	b := append(what[:], length[:]...)
	return append(b, p...)
}

// Reply builds the counter response matching a query.
func (o *Operational) Reply(count uint32) *Operational {
	return &Operational{What: o.What + 1, Fam: o.Fam, Sequence: o.Sequence, Count: count}
}

// DecodeOperational parses an OPERATIONAL body.
func DecodeOperational(body []byte) (*Operational, error) {
	if len(body) < 4 {
		return nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH}
	}

	o := &Operational{What: ntohs(body[0], body[1])}
	length := int(ntohs(body[2], body[3]))

	if len(body) < 4+length {
		return nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH}
	}

	p := body[4 : 4+length]

	switch {
	case o.advisory():
		if len(p) > MAX_ADVISORY {
			p = p[:MAX_ADVISORY]
		}
		o.Text = string(p)

	case o.query():
		if len(p) < 5 {
			return nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH}
		}
		o.Fam = Family{AFI(ntohs(p[0], p[1])), SAFI(p[2])}
		o.Sequence = ntohs(p[3], p[4])

	case o.reply():
		if len(p) < 9 {
			return nil, &Notification{Code: MESSAGE_HEADER_ERROR, Sub: BAD_MESSAGE_LENGTH}
		}
		o.Fam = Family{AFI(ntohs(p[0], p[1])), SAFI(p[2])}
		o.Sequence = ntohs(p[3], p[4])
		o.Count = ntohl(p[5], p[6], p[7], p[8])
	}

	return o, nil
}
