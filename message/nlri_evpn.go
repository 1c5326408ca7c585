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

// https://datatracker.ietf.org/doc/html/rfc7432 - BGP MPLS-Based Ethernet VPN
// https://datatracker.ietf.org/doc/html/rfc9136 - IP Prefix Advertisement in Ethernet VPN

package message

import (
	"fmt"
	"net/netip"
)

const (
	EVPN_ETHERNET_AD      = 1
	EVPN_MAC_IP           = 2
	EVPN_MULTICAST        = 3
	EVPN_ETHERNET_SEGMENT = 4
	EVPN_PREFIX           = 5
)

// ESI is a ten byte Ethernet segment identifier.
type ESI [10]byte

func (e ESI) String() string { return fmt.Sprintf("%x", e[:]) }

// MAC is a six byte hardware address.
type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// evpn is the shared route-type framing: one byte type, one byte
// length, type specific payload.
type evpn interface {
	evpnType() uint8
	payload() []byte
}

func evpnPack(e evpn) []byte {
	p := e.payload()
	return append([]byte{e.evpnType(), byte(len(p))}, p...)
}

func evpnIndex(e evpn) string { return string(evpnPack(e)) }

// addrField packs the length-in-bits prefixed IP used throughout EVPN
// payloads - the length byte is 0, 32 or 128.
func addrField(a netip.Addr) []byte {
	if !a.IsValid() {
		return []byte{0}
	}
	s := a.AsSlice()
	return append([]byte{byte(8 * len(s))}, s...)
}

func unpackAddrField(data []byte) (netip.Addr, int, bool) {
	if len(data) < 1 {
		return netip.Addr{}, 0, false
	}
	switch data[0] {
	case 0:
		return netip.Addr{}, 1, true
	case 32:
		if len(data) < 5 {
			return netip.Addr{}, 0, false
		}
		return netip.AddrFrom4([4]byte(data[1:5])), 5, true
	case 128:
		if len(data) < 17 {
			return netip.Addr{}, 0, false
		}
		return netip.AddrFrom16([16]byte(data[1:17])), 17, true
	}
	return netip.Addr{}, 0, false
}

// EVPNEthernetAD is route type 1 - per-ES auto-discovery.
type EVPNEthernetAD struct {
	RD     RD
	ESI    ESI
	EthTag uint32
	Label  uint32
}

func (e *EVPNEthernetAD) Family() Family             { return L2EVPN }
func (e *EVPNEthernetAD) evpnType() uint8            { return EVPN_ETHERNET_AD }
func (e *EVPNEthernetAD) Index() string              { return evpnIndex(e) }
func (e *EVPNEthernetAD) Pack(neg *Negotiated) []byte { return evpnPack(e) }

func (e *EVPNEthernetAD) String() string {
	return fmt.Sprintf("evpn:ethernet-ad:%s:%s:%d", e.RD, e.ESI, e.EthTag)
}

func (e *EVPNEthernetAD) payload() []byte {
	tag := htonl(e.EthTag)
	b := append([]byte{}, e.RD[:]...)
	b = append(b, e.ESI[:]...)
	b = append(b, tag[:]...)
	return append(b, byte(e.Label>>16), byte(e.Label>>8), byte(e.Label))
}

// EVPNMACIP is route type 2 - MAC/IP advertisement.
type EVPNMACIP struct {
	RD     RD
	ESI    ESI
	EthTag uint32
	MAC    MAC
	IP     netip.Addr // invalid when absent
	Label  uint32
	Label2 uint32
	Labels uint8 // 1 or 2
}

func (e *EVPNMACIP) Family() Family              { return L2EVPN }
func (e *EVPNMACIP) evpnType() uint8             { return EVPN_MAC_IP }
func (e *EVPNMACIP) Pack(neg *Negotiated) []byte { return evpnPack(e) }

func (e *EVPNMACIP) String() string {
	return fmt.Sprintf("evpn:mac-ip:%s:%s:%d:%s:%s", e.RD, e.ESI, e.EthTag, e.MAC, e.IP)
}

// The index deliberately omits the ESI and labels - a MAC move between
// segments must replace the previous advertisement, not sit alongside it.
func (e *EVPNMACIP) Index() string {
	tag := htonl(e.EthTag)
	b := []byte{EVPN_MAC_IP}
	b = append(b, e.RD[:]...)
	b = append(b, tag[:]...)
	b = append(b, e.MAC[:]...)
	return string(append(b, addrField(e.IP)...))
}

func (e *EVPNMACIP) payload() []byte {
	tag := htonl(e.EthTag)
	b := append([]byte{}, e.RD[:]...)
	b = append(b, e.ESI[:]...)
	b = append(b, tag[:]...)
	b = append(b, 48)
	b = append(b, e.MAC[:]...)
	b = append(b, addrField(e.IP)...)
	b = append(b, byte(e.Label>>16), byte(e.Label>>8), byte(e.Label))
	if e.Labels == 2 {
		b = append(b, byte(e.Label2>>16), byte(e.Label2>>8), byte(e.Label2))
	}
	return b
}

// EVPNMulticast is route type 3 - inclusive multicast Ethernet tag.
type EVPNMulticast struct {
	RD     RD
	EthTag uint32
	IP     netip.Addr
}

func (e *EVPNMulticast) Family() Family              { return L2EVPN }
func (e *EVPNMulticast) evpnType() uint8             { return EVPN_MULTICAST }
func (e *EVPNMulticast) Index() string               { return evpnIndex(e) }
func (e *EVPNMulticast) Pack(neg *Negotiated) []byte { return evpnPack(e) }

func (e *EVPNMulticast) String() string {
	return fmt.Sprintf("evpn:multicast:%s:%d:%s", e.RD, e.EthTag, e.IP)
}

func (e *EVPNMulticast) payload() []byte {
	tag := htonl(e.EthTag)
	b := append([]byte{}, e.RD[:]...)
	b = append(b, tag[:]...)
	return append(b, addrField(e.IP)...)
}

// EVPNEthernetSegment is route type 4.
type EVPNEthernetSegment struct {
	RD  RD
	ESI ESI
	IP  netip.Addr
}

func (e *EVPNEthernetSegment) Family() Family              { return L2EVPN }
func (e *EVPNEthernetSegment) evpnType() uint8             { return EVPN_ETHERNET_SEGMENT }
func (e *EVPNEthernetSegment) Index() string               { return evpnIndex(e) }
func (e *EVPNEthernetSegment) Pack(neg *Negotiated) []byte { return evpnPack(e) }

func (e *EVPNEthernetSegment) String() string {
	return fmt.Sprintf("evpn:ethernet-segment:%s:%s:%s", e.RD, e.ESI, e.IP)
}

func (e *EVPNEthernetSegment) payload() []byte {
	b := append([]byte{}, e.RD[:]...)
	b = append(b, e.ESI[:]...)
	return append(b, addrField(e.IP)...)
}

// EVPNPrefix is route type 5 - IP prefix advertisement.
type EVPNPrefix struct {
	RD      RD
	ESI     ESI
	EthTag  uint32
	Prefix  netip.Prefix
	Gateway netip.Addr
	Label   uint32
}

func (e *EVPNPrefix) Family() Family              { return L2EVPN }
func (e *EVPNPrefix) evpnType() uint8             { return EVPN_PREFIX }
func (e *EVPNPrefix) Index() string               { return evpnIndex(e) }
func (e *EVPNPrefix) Pack(neg *Negotiated) []byte { return evpnPack(e) }

func (e *EVPNPrefix) String() string {
	return fmt.Sprintf("evpn:prefix:%s:%s:%d:%s", e.RD, e.ESI, e.EthTag, e.Prefix)
}

func (e *EVPNPrefix) payload() []byte {
	tag := htonl(e.EthTag)
	b := append([]byte{}, e.RD[:]...)
	b = append(b, e.ESI[:]...)
	b = append(b, tag[:]...)
	b = append(b, byte(e.Prefix.Bits()))

	addr := e.Prefix.Addr()
	gw := e.Gateway
	if addr.Is4() {
		a4 := addr.As4()
		b = append(b, a4[:]...)
		var g4 [4]byte
		if gw.IsValid() {
			g4 = gw.As4()
		}
		b = append(b, g4[:]...)
	} else {
		a16 := addr.As16()
		b = append(b, a16[:]...)
		var g16 [16]byte
		if gw.IsValid() {
			g16 = gw.As16()
		}
		b = append(b, g16[:]...)
	}

	return append(b, byte(e.Label>>16), byte(e.Label>>8), byte(e.Label))
}

func decodeEVPN(f Family, data []byte, addpath bool) (NLRI, int, error) {
	if len(data) < 2 {
		return nil, 0, invalid(f, "truncated evpn")
	}

	rtype := data[0]
	length := int(data[1])

	if len(data) < 2+length {
		return nil, 0, invalid(f, "truncated evpn payload")
	}

	p := data[2 : 2+length]
	used := 2 + length

	switch rtype {
	case EVPN_ETHERNET_AD:
		if length != 25 {
			return nil, 0, invalid(f, "bad ethernet-ad length")
		}
		e := &EVPNEthernetAD{EthTag: ntohl(p[18], p[19], p[20], p[21])}
		copy(e.RD[:], p[0:8])
		copy(e.ESI[:], p[8:18])
		e.Label = uint32(p[22])<<16 | uint32(p[23])<<8 | uint32(p[24])
		return e, used, nil

	case EVPN_MAC_IP:
		if length < 33 {
			return nil, 0, invalid(f, "bad mac-ip length")
		}
		e := &EVPNMACIP{EthTag: ntohl(p[18], p[19], p[20], p[21])}
		copy(e.RD[:], p[0:8])
		copy(e.ESI[:], p[8:18])
		if p[22] != 48 {
			return nil, 0, invalid(f, "bad mac length")
		}
		copy(e.MAC[:], p[23:29])
		ip, n, ok := unpackAddrField(p[29:])
		if !ok {
			return nil, 0, invalid(f, "bad mac-ip address")
		}
		e.IP = ip
		rest := p[29+n:]
		switch len(rest) {
		case 3:
			e.Labels = 1
		case 6:
			e.Labels = 2
			e.Label2 = uint32(rest[3])<<16 | uint32(rest[4])<<8 | uint32(rest[5])
		default:
			return nil, 0, invalid(f, "bad mac-ip labels")
		}
		e.Label = uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2])
		return e, used, nil

	case EVPN_MULTICAST:
		if length < 13 {
			return nil, 0, invalid(f, "bad multicast length")
		}
		e := &EVPNMulticast{EthTag: ntohl(p[8], p[9], p[10], p[11])}
		copy(e.RD[:], p[0:8])
		ip, _, ok := unpackAddrField(p[12:])
		if !ok {
			return nil, 0, invalid(f, "bad multicast address")
		}
		e.IP = ip
		return e, used, nil

	case EVPN_ETHERNET_SEGMENT:
		if length < 19 {
			return nil, 0, invalid(f, "bad ethernet-segment length")
		}
		e := &EVPNEthernetSegment{}
		copy(e.RD[:], p[0:8])
		copy(e.ESI[:], p[8:18])
		ip, _, ok := unpackAddrField(p[18:])
		if !ok {
			return nil, 0, invalid(f, "bad ethernet-segment address")
		}
		e.IP = ip
		return e, used, nil

	case EVPN_PREFIX:
		e := &EVPNPrefix{}
		if length != 34 && length != 58 {
			return nil, 0, invalid(f, "bad prefix length")
		}
		copy(e.RD[:], p[0:8])
		copy(e.ESI[:], p[8:18])
		e.EthTag = ntohl(p[18], p[19], p[20], p[21])
		bits := int(p[22])
		if length == 34 {
			addr := netip.AddrFrom4([4]byte(p[23:27]))
			gw := netip.AddrFrom4([4]byte(p[27:31]))
			e.Prefix = netip.PrefixFrom(addr, bits)
			if gw != netip.AddrFrom4([4]byte{}) {
				e.Gateway = gw
			}
			e.Label = uint32(p[31])<<16 | uint32(p[32])<<8 | uint32(p[33])
		} else {
			addr := netip.AddrFrom16([16]byte(p[23:39]))
			gw := netip.AddrFrom16([16]byte(p[39:55]))
			e.Prefix = netip.PrefixFrom(addr, bits)
			if gw != netip.AddrFrom16([16]byte{}) {
				e.Gateway = gw
			}
			e.Label = uint32(p[55])<<16 | uint32(p[56])<<8 | uint32(p[57])
		}
		return e, used, nil
	}

	return nil, 0, invalid(f, fmt.Sprintf("unknown route type %d", rtype))
}
