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

// https://datatracker.ietf.org/doc/html/rfc8955 - Dissemination of Flow Specification Rules
// https://datatracker.ietf.org/doc/html/rfc8956 - Flow Specification for IPv6

package message

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

const (
	FLOW_DST_PREFIX = 1
	FLOW_SRC_PREFIX = 2
	FLOW_PROTO      = 3
	FLOW_PORT       = 4
	FLOW_DST_PORT   = 5
	FLOW_SRC_PORT   = 6
	FLOW_ICMP_TYPE  = 7
	FLOW_ICMP_CODE  = 8
	FLOW_TCP_FLAGS  = 9
	FLOW_PKT_LEN    = 10
	FLOW_DSCP       = 11
	FLOW_FRAGMENT   = 12
	FLOW_LABEL      = 13

	// numeric operator bits
	FLOW_OP_LT = 0x04
	FLOW_OP_GT = 0x02
	FLOW_OP_EQ = 0x01

	// bitmask operator bits (tcp-flags, fragment)
	FLOW_OP_NOT   = 0x02
	FLOW_OP_MATCH = 0x01
)

// FlowOp is one {operator, value} element of a numeric or bitmask
// component. Flags holds the low three operator bits (lt/gt/eq for
// numeric components, not/match for bitmask ones); AND chains this
// element to its predecessor.
type FlowOp struct {
	AND   bool
	Flags uint8
	Value uint64
}

func (o FlowOp) String() string {
	op := ""
	switch o.Flags {
	case FLOW_OP_EQ:
		op = "="
	case FLOW_OP_LT:
		op = "<"
	case FLOW_OP_GT:
		op = ">"
	case FLOW_OP_LT | FLOW_OP_EQ:
		op = "<="
	case FLOW_OP_GT | FLOW_OP_EQ:
		op = ">="
	}
	if o.AND {
		return fmt.Sprintf("&%s%d", op, o.Value)
	}
	return fmt.Sprintf("%s%d", op, o.Value)
}

// FlowComponent is one typed component of a flow-spec rule. Prefix
// components carry a CIDR (and, for IPv6, a pattern offset); all others
// carry an operator chain.
type FlowComponent struct {
	Type   uint8
	Prefix netip.Prefix
	Offset uint8
	Ops    []FlowOp
}

func flowComponentName(t uint8) string {
	switch t {
	case FLOW_DST_PREFIX:
		return "destination"
	case FLOW_SRC_PREFIX:
		return "source"
	case FLOW_PROTO:
		return "protocol"
	case FLOW_PORT:
		return "port"
	case FLOW_DST_PORT:
		return "destination-port"
	case FLOW_SRC_PORT:
		return "source-port"
	case FLOW_ICMP_TYPE:
		return "icmp-type"
	case FLOW_ICMP_CODE:
		return "icmp-code"
	case FLOW_TCP_FLAGS:
		return "tcp-flags"
	case FLOW_PKT_LEN:
		return "packet-length"
	case FLOW_DSCP:
		return "dscp"
	case FLOW_FRAGMENT:
		return "fragment"
	case FLOW_LABEL:
		return "flow-label"
	}
	return fmt.Sprintf("component-%d", t)
}

func (c FlowComponent) String() string {
	if c.Type == FLOW_DST_PREFIX || c.Type == FLOW_SRC_PREFIX {
		return fmt.Sprintf("%s %s", flowComponentName(c.Type), c.Prefix)
	}
	var ops []string
	for _, o := range c.Ops {
		ops = append(ops, o.String())
	}
	return fmt.Sprintf("%s %s", flowComponentName(c.Type), strings.Join(ops, ""))
}

func valueLen(v uint64) int {
	switch {
	case v < 1<<8:
		return 1
	case v < 1<<16:
		return 2
	case v < 1<<32:
		return 4
	}
	return 8
}

func (c FlowComponent) pack(v6 bool) []byte {
	b := []byte{c.Type}

	if c.Type == FLOW_DST_PREFIX || c.Type == FLOW_SRC_PREFIX {
		if v6 {
			bits := c.Prefix.Bits()
			addr := c.Prefix.Addr().As16()
			b = append(b, byte(bits), c.Offset)
			return append(b, addr[:(bits+7)/8]...)
		}
		return append(b, packCIDR(c.Prefix)...)
	}

	for i, o := range c.Ops {
		size := valueLen(o.Value)
		op := o.Flags & 0x07
		switch size {
		case 2:
			op |= 1 << 4
		case 4:
			op |= 2 << 4
		case 8:
			op |= 3 << 4
		}
		if o.AND {
			op |= 0x40
		}
		if i == len(c.Ops)-1 {
			op |= 0x80 // end of list
		}
		b = append(b, op)
		for s := size - 1; s >= 0; s-- {
			b = append(b, byte(o.Value>>(8*s)))
		}
	}

	return b
}

func unpackFlowComponent(f Family, data []byte) (FlowComponent, int, error) {
	var c FlowComponent

	if len(data) < 2 {
		return c, 0, invalid(f, "truncated flow component")
	}

	c.Type = data[0]
	used := 1
	data = data[1:]

	if c.Type == FLOW_DST_PREFIX || c.Type == FLOW_SRC_PREFIX {
		if f.AFI == AFI_IPV6 {
			if len(data) < 2 {
				return c, 0, invalid(f, "truncated flow prefix")
			}
			bits := int(data[0])
			c.Offset = data[1]
			size := (bits + 7) / 8
			if bits > 128 || len(data) < 2+size {
				return c, 0, invalid(f, "bad flow prefix")
			}
			var buf [16]byte
			copy(buf[:], data[2:2+size])
			c.Prefix = netip.PrefixFrom(netip.AddrFrom16(buf), bits)
			return c, used + 2 + size, nil
		}
		p, n, err := unpackCIDR(f, data)
		if err != nil {
			return c, 0, err
		}
		c.Prefix = p
		return c, used + n, nil
	}

	for {
		if len(data) < 1 {
			return c, 0, invalid(f, "truncated flow operator")
		}
		op := data[0]
		size := 1 << ((op >> 4) & 0x03)
		if len(data) < 1+size {
			return c, 0, invalid(f, "truncated flow value")
		}
		var v uint64
		for _, x := range data[1 : 1+size] {
			v = v<<8 | uint64(x)
		}
		c.Ops = append(c.Ops, FlowOp{AND: op&0x40 != 0, Flags: op & 0x07, Value: v})
		used += 1 + size
		data = data[1+size:]
		if op&0x80 != 0 {
			return c, used, nil
		}
	}
}

// Flow is the flow-spec NLRI - an ordered list of match components,
// optionally behind a route distinguisher for the VPN SAFI.
type Flow struct {
	Fam        Family
	RD         RD
	Components []FlowComponent
}

func (f *Flow) Family() Family { return f.Fam }

func (f *Flow) String() string {
	var cs []string
	for _, c := range f.Components {
		cs = append(cs, c.String())
	}
	s := "flow " + strings.Join(cs, " ")
	if f.Fam.SAFI == SAFI_FLOW_VPN {
		s += " rd " + f.RD.String()
	}
	return s
}

// body renders the rule with components in strictly increasing type
// order - the canonical form required by RFC 8955 section 4.1.
func (f *Flow) body() []byte {
	var b []byte

	if f.Fam.SAFI == SAFI_FLOW_VPN {
		b = append(b, f.RD[:]...)
	}

	components := make([]FlowComponent, len(f.Components))
	copy(components, f.Components)
	sort.SliceStable(components, func(i, j int) bool { return components[i].Type < components[j].Type })

	for _, c := range components {
		b = append(b, c.pack(f.Fam.AFI == AFI_IPV6)...)
	}

	return b
}

func (f *Flow) Index() string { return string(f.body()) }

func (f *Flow) Pack(neg *Negotiated) []byte {
	body := f.body()

	if len(body) < 0xf0 {
		return append([]byte{byte(len(body))}, body...)
	}

	l := htons(uint16(len(body)) | 0xf000)
	return append([]byte{l[0], l[1]}, body...)
}

func decodeFlow(f Family, data []byte, addpath bool) (NLRI, int, error) {
	if len(data) < 1 {
		return nil, 0, invalid(f, "truncated flow")
	}

	var length, used int

	if data[0] < 0xf0 {
		length = int(data[0])
		used = 1
	} else {
		if len(data) < 2 {
			return nil, 0, invalid(f, "truncated flow length")
		}
		length = int(ntohs(data[0], data[1]) & 0x0fff)
		used = 2
	}

	if len(data) < used+length {
		return nil, 0, invalid(f, "truncated flow body")
	}

	body := data[used : used+length]
	flow := &Flow{Fam: f}

	if f.SAFI == SAFI_FLOW_VPN {
		if len(body) < 8 {
			return nil, 0, invalid(f, "truncated flow rd")
		}
		copy(flow.RD[:], body[:8])
		body = body[8:]
	}

	for len(body) > 0 {
		c, n, err := unpackFlowComponent(f, body)
		if err != nil {
			return nil, 0, err
		}
		flow.Components = append(flow.Components, c)
		body = body[n:]
	}

	return flow, used + length, nil
}
