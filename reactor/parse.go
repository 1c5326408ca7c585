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

// Text grammar for routes and flows on the helper/CLI channels:
//
//   announce route 10.0.0.0/24 next-hop 192.0.2.1 med 100 \
//       local-preference 200 community [ 65000:1 no-export ] \
//       as-path [ 65000 65001 ] path-id 1 label [ 100 ] rd 65000:1
//
//   announce flow destination 10.0.0.0/24 source 192.168.0.0/16 \
//       port =80 protocol =6 rate-limit 1000000
//
//   announce attributes next-hop 192.0.2.1 med 50 nlri 10.0.0.0/24 10.0.1.0/24

package reactor

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/davidcoles/speaker/message"
	"github.com/davidcoles/speaker/rib"
)

type tokenReader struct {
	tokens []string
	pos    int
}

func (t *tokenReader) more() bool { return t.pos < len(t.tokens) }

func (t *tokenReader) next() (string, error) {
	if !t.more() {
		return "", fmt.Errorf("unexpected end of command")
	}
	t.pos++
	return t.tokens[t.pos-1], nil
}

func (t *tokenReader) peek() string {
	if !t.more() {
		return ""
	}
	return t.tokens[t.pos]
}

// list reads a bracketed [ a b c ] run, or a single token.
func (t *tokenReader) list() ([]string, error) {
	first, err := t.next()
	if err != nil {
		return nil, err
	}

	if first != "[" {
		return []string{first}, nil
	}

	var out []string
	for {
		tok, err := t.next()
		if err != nil {
			return nil, fmt.Errorf("unterminated list")
		}
		if tok == "]" {
			return out, nil
		}
		out = append(out, tok)
	}
}

func parsePrefix(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("bad prefix %q", s)
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

func parseRD(s string) (message.RD, error) {
	var rd message.RD

	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return rd, fmt.Errorf("bad route distinguisher %q", s)
	}

	value, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return rd, fmt.Errorf("bad route distinguisher %q", s)
	}

	if ip, err := netip.ParseAddr(parts[0]); err == nil && ip.Is4() {
		a := ip.As4()
		rd[1] = 1
		copy(rd[2:6], a[:])
		rd[6] = byte(value >> 8)
		rd[7] = byte(value)
		return rd, nil
	}

	asn, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return rd, fmt.Errorf("bad route distinguisher %q", s)
	}

	if asn > 0xffff {
		rd[1] = 2
		rd[2] = byte(asn >> 24)
		rd[3] = byte(asn >> 16)
		rd[4] = byte(asn >> 8)
		rd[5] = byte(asn)
		rd[6] = byte(value >> 8)
		rd[7] = byte(value)
	} else {
		rd[2] = byte(asn >> 8)
		rd[3] = byte(asn)
		rd[4] = byte(value >> 24)
		rd[5] = byte(value >> 16)
		rd[6] = byte(value >> 8)
		rd[7] = byte(value)
	}

	return rd, nil
}

// routeSpec accumulates the attribute tokens of a route command.
type routeSpec struct {
	attrs   message.Attributes
	nexthop netip.Addr
	pathID  uint32
	labels  []uint32
	rd      *message.RD
}

func (rs *routeSpec) keyword(key string, t *tokenReader) (bool, error) {
	switch key {
	case "next-hop":
		v, err := t.next()
		if err != nil {
			return true, err
		}
		if v == "self" {
			// the nexthop stays unset and no local address is filled in
			// later: an IPv4 unicast route then carries NEXT_HOP 0.0.0.0
			return true, nil
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return true, err
		}
		rs.nexthop = a

	case "origin":
		v, err := t.next()
		if err != nil {
			return true, err
		}
		switch strings.ToLower(v) {
		case "igp":
			rs.attrs[message.ORIGIN] = message.Origin(message.IGP)
		case "egp":
			rs.attrs[message.ORIGIN] = message.Origin(message.EGP)
		case "incomplete":
			rs.attrs[message.ORIGIN] = message.Origin(message.INCOMPLETE)
		default:
			return true, fmt.Errorf("bad origin %q", v)
		}

	case "med":
		v, err := t.next()
		if err != nil {
			return true, err
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return true, err
		}
		rs.attrs[message.MULTI_EXIT_DISC] = message.MED(n)

	case "local-preference":
		v, err := t.next()
		if err != nil {
			return true, err
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return true, err
		}
		rs.attrs[message.LOCAL_PREF] = message.LocalPref(n)

	case "as-path":
		items, err := t.list()
		if err != nil {
			return true, err
		}
		var asns []uint32
		for _, s := range items {
			n, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				return true, err
			}
			asns = append(asns, uint32(n))
		}
		rs.attrs[message.AS_PATH] = message.ASSequence(asns...)

	case "community":
		items, err := t.list()
		if err != nil {
			return true, err
		}
		var comms message.Communities
		for _, s := range items {
			c, err := message.ParseCommunity(s)
			if err != nil {
				return true, err
			}
			comms = append(comms, c)
		}
		rs.attrs[message.COMMUNITIES] = comms

	case "large-community":
		items, err := t.list()
		if err != nil {
			return true, err
		}
		var comms message.LargeCommunities
		for _, s := range items {
			c, err := message.ParseLargeCommunity(s)
			if err != nil {
				return true, err
			}
			comms = append(comms, c)
		}
		rs.attrs[message.LARGE_COMMUNITY] = comms

	case "extended-community":
		items, err := t.list()
		if err != nil {
			return true, err
		}
		var comms message.ExtendedCommunities
		for _, s := range items {
			ec, err := parseExtendedCommunity(s)
			if err != nil {
				return true, err
			}
			comms = append(comms, ec)
		}
		rs.attrs[message.EXTENDED_COMMUNITY] = comms

	case "path-id", "path-information":
		v, err := t.next()
		if err != nil {
			return true, err
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return true, err
		}
		rs.pathID = uint32(n)

	case "label":
		items, err := t.list()
		if err != nil {
			return true, err
		}
		for _, s := range items {
			n, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				return true, err
			}
			rs.labels = append(rs.labels, uint32(n))
		}

	case "rd", "route-distinguisher":
		v, err := t.next()
		if err != nil {
			return true, err
		}
		rd, err := parseRD(v)
		if err != nil {
			return true, err
		}
		rs.rd = &rd

	default:
		return false, nil
	}

	return true, nil
}

func parseExtendedCommunity(s string) (message.ExtendedCommunity, error) {
	var asn, value uint64
	switch {
	case strings.HasPrefix(s, "target:"):
		if _, err := fmt.Sscanf(s, "target:%d:%d", &asn, &value); err != nil {
			return message.ExtendedCommunity{}, fmt.Errorf("bad extended community %q", s)
		}
		return message.RouteTarget(uint16(asn), uint32(value)), nil
	case strings.HasPrefix(s, "origin:"):
		if _, err := fmt.Sscanf(s, "origin:%d:%d", &asn, &value); err != nil {
			return message.ExtendedCommunity{}, fmt.Errorf("bad extended community %q", s)
		}
		return message.RouteOrigin(uint16(asn), uint32(value)), nil
	case strings.HasPrefix(s, "redirect:"):
		if _, err := fmt.Sscanf(s, "redirect:%d:%d", &asn, &value); err != nil {
			return message.ExtendedCommunity{}, fmt.Errorf("bad extended community %q", s)
		}
		return message.FlowRedirect(uint16(asn), uint32(value)), nil
	}
	return message.ExtendedCommunity{}, fmt.Errorf("bad extended community %q", s)
}

// parseRoute handles "route <prefix> [keyword value ...]".
func parseRoute(tokens []string) (*rib.Route, error) {
	t := &tokenReader{tokens: tokens}

	ps, err := t.next()
	if err != nil {
		return nil, err
	}

	prefix, err := parsePrefix(ps)
	if err != nil {
		return nil, err
	}

	rs := &routeSpec{attrs: message.Attributes{}}

	for t.more() {
		key, _ := t.next()
		known, err := rs.keyword(key, t)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, fmt.Errorf("unknown keyword %q", key)
		}
	}

	if !rs.attrs.Has(message.ORIGIN) {
		rs.attrs[message.ORIGIN] = message.Origin(message.IGP)
	}
	if !rs.attrs.Has(message.AS_PATH) {
		rs.attrs[message.AS_PATH] = &message.ASPath{}
	}

	fam := message.IPv4Unicast
	if prefix.Addr().Is6() {
		fam = message.IPv6Unicast
	}

	var nlri message.NLRI

	switch {
	case rs.rd != nil:
		vfam := message.IPv4VPN
		if prefix.Addr().Is6() {
			vfam = message.IPv6VPN
		}
		nlri = &message.VPN{Fam: vfam, RD: *rs.rd, Prefix: prefix, Labels: rs.labels, PathID: rs.pathID, HasPath: rs.pathID != 0}

	case len(rs.labels) > 0:
		lfam := message.IPv4Label
		if prefix.Addr().Is6() {
			lfam = message.IPv6Label
		}
		nlri = &message.Labelled{Fam: lfam, Prefix: prefix, Labels: rs.labels, PathID: rs.pathID, HasPath: rs.pathID != 0}

	default:
		nlri = &message.Prefix{Fam: fam, Prefix: prefix, PathID: rs.pathID, HasPath: rs.pathID != 0}
	}

	return rib.New(nlri, rs.attrs, rs.nexthop), nil
}

// flow operator values: "=80", "<1500", ">=1024", or a bare number
func parseFlowOps(s string) ([]message.FlowOp, error) {
	var ops []message.FlowOp

	for _, item := range strings.Split(s, ",") {
		op := message.FlowOp{}

		switch {
		case strings.HasPrefix(item, ">="):
			op.Flags = message.FLOW_OP_GT | message.FLOW_OP_EQ
			item = item[2:]
		case strings.HasPrefix(item, "<="):
			op.Flags = message.FLOW_OP_LT | message.FLOW_OP_EQ
			item = item[2:]
		case strings.HasPrefix(item, ">"):
			op.Flags = message.FLOW_OP_GT
			item = item[1:]
		case strings.HasPrefix(item, "<"):
			op.Flags = message.FLOW_OP_LT
			item = item[1:]
		case strings.HasPrefix(item, "="):
			op.Flags = message.FLOW_OP_EQ
			item = item[1:]
		default:
			op.Flags = message.FLOW_OP_EQ
		}

		v, err := strconv.ParseUint(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad flow value %q", item)
		}
		op.Value = v

		if len(ops) > 0 {
			op.AND = false // comma separated alternatives are OR
		}
		ops = append(ops, op)
	}

	return ops, nil
}

var flowComponents = map[string]uint8{
	"destination":      message.FLOW_DST_PREFIX,
	"source":           message.FLOW_SRC_PREFIX,
	"protocol":         message.FLOW_PROTO,
	"port":             message.FLOW_PORT,
	"destination-port": message.FLOW_DST_PORT,
	"source-port":      message.FLOW_SRC_PORT,
	"icmp-type":        message.FLOW_ICMP_TYPE,
	"icmp-code":        message.FLOW_ICMP_CODE,
	"tcp-flags":        message.FLOW_TCP_FLAGS,
	"packet-length":    message.FLOW_PKT_LEN,
	"dscp":             message.FLOW_DSCP,
	"fragment":         message.FLOW_FRAGMENT,
	"flow-label":       message.FLOW_LABEL,
}

// parseFlow handles "flow [keyword value ...]" with match components
// and the rate-limit/redirect/discard actions.
func parseFlow(tokens []string) (*rib.Route, error) {
	t := &tokenReader{tokens: tokens}

	flow := &message.Flow{Fam: message.IPv4Flow}
	attrs := message.Attributes{}
	attrs[message.ORIGIN] = message.Origin(message.IGP)
	attrs[message.AS_PATH] = &message.ASPath{}

	var actions message.ExtendedCommunities
	var rd *message.RD

	for t.more() {
		key, _ := t.next()

		if code, ok := flowComponents[key]; ok {
			v, err := t.next()
			if err != nil {
				return nil, err
			}

			if code == message.FLOW_DST_PREFIX || code == message.FLOW_SRC_PREFIX {
				prefix, err := parsePrefix(v)
				if err != nil {
					return nil, err
				}
				if prefix.Addr().Is6() {
					flow.Fam = message.IPv6Flow
				}
				flow.Components = append(flow.Components, message.FlowComponent{Type: code, Prefix: prefix})
				continue
			}

			ops, err := parseFlowOps(v)
			if err != nil {
				return nil, err
			}
			flow.Components = append(flow.Components, message.FlowComponent{Type: code, Ops: ops})
			continue
		}

		switch key {
		case "rate-limit":
			v, err := t.next()
			if err != nil {
				return nil, err
			}
			rate, err := strconv.ParseFloat(v, 32)
			if err != nil {
				return nil, err
			}
			actions = append(actions, message.TrafficRate(0, float32(rate)))

		case "discard":
			actions = append(actions, message.TrafficRate(0, 0))

		case "redirect":
			v, err := t.next()
			if err != nil {
				return nil, err
			}
			var asn, value uint64
			if _, err := fmt.Sscanf(v, "%d:%d", &asn, &value); err != nil {
				return nil, fmt.Errorf("bad redirect %q", v)
			}
			actions = append(actions, message.FlowRedirect(uint16(asn), uint32(value)))

		case "rd", "route-distinguisher":
			v, err := t.next()
			if err != nil {
				return nil, err
			}
			x, err := parseRD(v)
			if err != nil {
				return nil, err
			}
			rd = &x

		default:
			return nil, fmt.Errorf("unknown flow keyword %q", key)
		}
	}

	if len(flow.Components) == 0 {
		return nil, fmt.Errorf("flow has no components")
	}

	if rd != nil {
		flow.RD = *rd
		if flow.Fam == message.IPv4Flow {
			flow.Fam = message.IPv4FlowVPN
		}
	}

	if len(actions) > 0 {
		attrs[message.EXTENDED_COMMUNITY] = actions
	}

	return rib.New(flow, attrs, netip.Addr{}), nil
}

// parseAttributesNLRI handles "attributes <keywords> nlri <prefix>+" -
// one shared attribute set over many destinations.
func parseAttributesNLRI(tokens []string) ([]*rib.Route, error) {
	split := -1
	for i, tok := range tokens {
		if tok == "nlri" {
			split = i
			break
		}
	}

	if split < 0 || split == len(tokens)-1 {
		return nil, fmt.Errorf("announce attributes ... nlri <prefix>+")
	}

	t := &tokenReader{tokens: tokens[:split]}
	rs := &routeSpec{attrs: message.Attributes{}}

	for t.more() {
		key, _ := t.next()
		known, err := rs.keyword(key, t)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, fmt.Errorf("unknown keyword %q", key)
		}
	}

	if !rs.attrs.Has(message.ORIGIN) {
		rs.attrs[message.ORIGIN] = message.Origin(message.IGP)
	}
	if !rs.attrs.Has(message.AS_PATH) {
		rs.attrs[message.AS_PATH] = &message.ASPath{}
	}

	var routes []*rib.Route

	for _, ps := range tokens[split+1:] {
		prefix, err := parsePrefix(ps)
		if err != nil {
			return nil, err
		}

		fam := message.IPv4Unicast
		if prefix.Addr().Is6() {
			fam = message.IPv6Unicast
		}

		nlri := &message.Prefix{Fam: fam, Prefix: prefix, PathID: rs.pathID, HasPath: rs.pathID != 0}
		routes = append(routes, rib.New(nlri, rs.attrs, rs.nexthop))
	}

	return routes, nil
}
