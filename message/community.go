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

// https://datatracker.ietf.org/doc/html/rfc1997 - BGP Communities Attribute
// https://datatracker.ietf.org/doc/html/rfc4360 - BGP Extended Communities Attribute
// https://datatracker.ietf.org/doc/html/rfc8092 - BGP Large Communities Attribute

package message

import (
	"fmt"
	"math"
)

type Community uint32

const (
	PLANNED_SHUT       Community = 0xffff0000
	ACCEPT_OWN         Community = 0xffff0001
	ROUTE_FILTER_v4    Community = 0xffff0002
	ROUTE_FILTER_v6    Community = 0xffff0003
	LLGR_STALE         Community = 0xffff0006
	NO_LLGR            Community = 0xffff0007
	BLACKHOLE          Community = 0xffff029a
	NO_EXPORT          Community = 0xffffff01
	NO_ADVERTISE       Community = 0xffffff02
	NO_EXPORT_SUBCONFED Community = 0xffffff03
	NO_PEER            Community = 0xffffff04
)

var wellKnown = map[Community]string{
	PLANNED_SHUT:        "planned-shut",
	ACCEPT_OWN:          "accept-own",
	ROUTE_FILTER_v4:     "route-filter-v4",
	ROUTE_FILTER_v6:     "route-filter-v6",
	LLGR_STALE:          "llgr-stale",
	NO_LLGR:             "no-llgr",
	BLACKHOLE:           "blackhole",
	NO_EXPORT:           "no-export",
	NO_ADVERTISE:        "no-advertise",
	NO_EXPORT_SUBCONFED: "no-export-subconfed",
	NO_PEER:             "no-peer",
}

func (c Community) String() string {
	if s, ok := wellKnown[c]; ok {
		return s
	}
	return fmt.Sprintf("%d:%d", uint32(c)>>16, uint32(c)&0xffff)
}

func (c Community) pack() [4]byte { return htonl(uint32(c)) }

// ParseCommunity accepts the asn:value form or a well-known name.
func ParseCommunity(s string) (Community, error) {
	for c, name := range wellKnown {
		if s == name {
			return c, nil
		}
	}
	var hi, lo uint32
	if _, err := fmt.Sscanf(s, "%d:%d", &hi, &lo); err != nil {
		return 0, fmt.Errorf("bad community %q", s)
	}
	if hi > 0xffff || lo > 0xffff {
		return 0, fmt.Errorf("bad community %q", s)
	}
	return Community(hi<<16 | lo), nil
}

// ExtendedCommunity is an eight byte typed community (RFC 4360).
type ExtendedCommunity [8]byte

const (
	EC_TRANSITIVE_2AS  = 0x00
	EC_TRANSITIVE_IP   = 0x01
	EC_TRANSITIVE_4AS  = 0x02
	EC_TRANSITIVE_OPAQUE = 0x03
	EC_FLOW            = 0x80

	EC_ROUTE_TARGET   = 0x02
	EC_ROUTE_ORIGIN   = 0x03
	EC_L2_INFO        = 0x0a
	EC_ENCAPSULATION  = 0x0c

	EC_FLOW_RATE     = 0x06
	EC_FLOW_ACTION   = 0x07
	EC_FLOW_REDIRECT = 0x08
	EC_FLOW_MARK     = 0x09
)

// RouteTarget builds the transitive two-octet-AS route target asn:value.
func RouteTarget(asn uint16, value uint32) (ec ExtendedCommunity) {
	ec[0] = EC_TRANSITIVE_2AS
	ec[1] = EC_ROUTE_TARGET
	as := htons(asn)
	val := htonl(value)
	copy(ec[2:4], as[:])
	copy(ec[4:8], val[:])
	return
}

// RouteOrigin builds the transitive two-octet-AS route origin asn:value.
func RouteOrigin(asn uint16, value uint32) (ec ExtendedCommunity) {
	ec = RouteTarget(asn, value)
	ec[1] = EC_ROUTE_ORIGIN
	return
}

// TrafficRate builds the flow-spec traffic-rate action (RFC 8955 7.1) -
// rate as a single precision float in bytes per second.
func TrafficRate(asn uint16, rate float32) (ec ExtendedCommunity) {
	ec[0] = EC_FLOW
	ec[1] = EC_FLOW_RATE
	as := htons(asn)
	copy(ec[2:4], as[:])
	bits := htonl(math.Float32bits(rate))
	copy(ec[4:8], bits[:])
	return
}

// FlowRedirect builds the flow-spec redirect-to-RT action (RFC 8955 7.4).
func FlowRedirect(asn uint16, value uint32) (ec ExtendedCommunity) {
	ec[0] = EC_FLOW
	ec[1] = EC_FLOW_REDIRECT
	as := htons(asn)
	val := htonl(value)
	copy(ec[2:4], as[:])
	copy(ec[4:8], val[:])
	return
}

func (ec ExtendedCommunity) String() string {
	switch {
	case ec[0] == EC_TRANSITIVE_2AS && ec[1] == EC_ROUTE_TARGET:
		return fmt.Sprintf("target:%d:%d", ntohs(ec[2], ec[3]), ntohl(ec[4], ec[5], ec[6], ec[7]))
	case ec[0] == EC_TRANSITIVE_2AS && ec[1] == EC_ROUTE_ORIGIN:
		return fmt.Sprintf("origin:%d:%d", ntohs(ec[2], ec[3]), ntohl(ec[4], ec[5], ec[6], ec[7]))
	case ec[0] == EC_FLOW && ec[1] == EC_FLOW_REDIRECT:
		return fmt.Sprintf("redirect:%d:%d", ntohs(ec[2], ec[3]), ntohl(ec[4], ec[5], ec[6], ec[7]))
	case ec[0] == EC_FLOW && ec[1] == EC_FLOW_RATE:
		return fmt.Sprintf("rate-limit:%d", ntohl(ec[4], ec[5], ec[6], ec[7]))
	}
	return fmt.Sprintf("%x", ec[:])
}

// IPv6ExtendedCommunity is the twenty byte variant (RFC 5701).
type IPv6ExtendedCommunity [20]byte

func (ec IPv6ExtendedCommunity) String() string { return fmt.Sprintf("%x", ec[:]) }

// LargeCommunity is three 32 bit values (RFC 8092).
type LargeCommunity [3]uint32

func (lc LargeCommunity) String() string {
	return fmt.Sprintf("%d:%d:%d", lc[0], lc[1], lc[2])
}

func (lc LargeCommunity) pack() (b [12]byte) {
	for i, v := range lc {
		u := htonl(v)
		copy(b[i*4:], u[:])
	}
	return
}

// ParseLargeCommunity accepts the a:b:c form.
func ParseLargeCommunity(s string) (LargeCommunity, error) {
	var lc LargeCommunity
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &lc[0], &lc[1], &lc[2]); err != nil {
		return lc, fmt.Errorf("bad large community %q", s)
	}
	return lc, nil
}
