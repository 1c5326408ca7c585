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

// https://datatracker.ietf.org/doc/html/draft-mpmz-bess-mup-safi - BGP Mobile User Plane SAFI

package message

import (
	"fmt"
	"net/netip"
)

const (
	MUP_ARCH_3GPP_5G = 1
	MUP_T2ST         = 4 // type 2 session transformed route
)

// MUP is the mobile user plane type-2 session-transformed NLRI: an RD,
// an endpoint address and an optional TEID whose width is the endpoint
// length beyond the address size.
type MUP struct {
	Fam         Family
	RD          RD
	EndpointLen uint8
	Endpoint    netip.Addr
	TEID        uint32
}

func (m *MUP) Family() Family { return m.Fam }

func (m *MUP) String() string {
	return fmt.Sprintf("mup:t2st:%s:%s:%d", m.RD, m.Endpoint, m.TEID)
}

func (m *MUP) payload() []byte {
	b := append([]byte{}, m.RD[:]...)
	b = append(b, m.EndpointLen)
	b = append(b, m.Endpoint.AsSlice()...)

	bits := 32
	if m.Endpoint.Is6() {
		bits = 128
	}

	teid := int(m.EndpointLen) - bits
	if teid > 0 {
		t := htonl(m.TEID)
		b = append(b, t[4-(teid+7)/8:]...)
	}

	return b
}

func (m *MUP) Index() string {
	p := m.payload()
	return string(append([]byte{MUP_ARCH_3GPP_5G, 0, MUP_T2ST, byte(len(p))}, p...))
}

func (m *MUP) Pack(neg *Negotiated) []byte {
	p := m.payload()
	return append([]byte{MUP_ARCH_3GPP_5G, 0, MUP_T2ST, byte(len(p))}, p...)
}

func decodeMUP(f Family, data []byte, addpath bool) (NLRI, int, error) {
	if len(data) < 4 {
		return nil, 0, invalid(f, "truncated mup")
	}

	arch := data[0]
	rtype := ntohs(data[1], data[2])
	length := int(data[3])

	if arch != MUP_ARCH_3GPP_5G || rtype != MUP_T2ST {
		return nil, 0, invalid(f, fmt.Sprintf("unsupported mup route %d/%d", arch, rtype))
	}

	if len(data) < 4+length || length < 9 {
		return nil, 0, invalid(f, "bad mup length")
	}

	p := data[4 : 4+length]
	m := &MUP{Fam: f, EndpointLen: p[8]}
	copy(m.RD[:], p[0:8])

	size := 4
	bits := 32
	if f.AFI == AFI_IPV6 {
		size = 16
		bits = 128
	}

	if len(p) < 9+size {
		return nil, 0, invalid(f, "truncated mup endpoint")
	}

	if size == 4 {
		m.Endpoint = netip.AddrFrom4([4]byte(p[9 : 9+size]))
	} else {
		m.Endpoint = netip.AddrFrom16([16]byte(p[9 : 9+size]))
	}

	teid := int(m.EndpointLen) - bits
	if teid < 0 || teid > 32 {
		return nil, 0, invalid(f, "bad mup endpoint length")
	}

	for _, b := range p[9+size:] {
		m.TEID = m.TEID<<8 | uint32(b)
	}

	return m, 4 + length, nil
}
