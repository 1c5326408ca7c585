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

// https://datatracker.ietf.org/doc/html/rfc4761 - Virtual Private LAN Service (VPLS)

package message

import (
	"fmt"
)

// VPLS is the L2VPN VPLS NLRI - a 17 byte fixed record behind a two
// byte length.
type VPLS struct {
	RD        RD
	VE        uint16
	Offset    uint16
	Size      uint16
	LabelBase uint32
}

func (v *VPLS) Family() Family { return L2VPLS }

func (v *VPLS) String() string {
	return fmt.Sprintf("vpls:%s:%d:%d:%d:%d", v.RD, v.VE, v.Offset, v.Size, v.LabelBase)
}

func (v *VPLS) body() []byte {
	ve := htons(v.VE)
	off := htons(v.Offset)
	size := htons(v.Size)
	b := append([]byte{}, v.RD[:]...)
	b = append(b, ve[:]...)
	b = append(b, off[:]...)
	b = append(b, size[:]...)
	return append(b, byte(v.LabelBase>>16), byte(v.LabelBase>>8), byte(v.LabelBase))
}

func (v *VPLS) Index() string { return string(v.body()) }

func (v *VPLS) Pack(neg *Negotiated) []byte {
	return append([]byte{0, 17}, v.body()...)
}

func decodeVPLS(f Family, data []byte, addpath bool) (NLRI, int, error) {
	if len(data) < 2 {
		return nil, 0, invalid(f, "truncated vpls")
	}

	length := int(ntohs(data[0], data[1]))

	if length != 17 || len(data) < 19 {
		return nil, 0, invalid(f, "bad vpls length")
	}

	p := data[2:19]
	v := &VPLS{
		VE:        ntohs(p[8], p[9]),
		Offset:    ntohs(p[10], p[11]),
		Size:      ntohs(p[12], p[13]),
		LabelBase: uint32(p[14])<<16 | uint32(p[15])<<8 | uint32(p[16]),
	}
	copy(v.RD[:], p[0:8])

	return v, 19, nil
}
