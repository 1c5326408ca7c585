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

// https://datatracker.ietf.org/doc/html/rfc5492 - Capabilities Advertisement with BGP-4
// https://www.iana.org/assignments/capability-codes/capability-codes.xhtml

package message

import (
	"sort"
)

const (
	CAP_MULTIPROTOCOL      = 1
	CAP_ROUTE_REFRESH      = 2
	CAP_EXTENDED_MESSAGE   = 6
	CAP_GRACEFUL_RESTART   = 64
	CAP_ASN4               = 65
	CAP_MULTISESSION       = 67
	CAP_ADD_PATH           = 69
	CAP_ENHANCED_REFRESH   = 70
	CAP_LLGR               = 71
	CAP_OPERATIONAL        = 72
	CAP_FQDN               = 73
	CAP_SOFTWARE_VERSION   = 75
	CAP_ROUTE_REFRESH_OLD  = 128
	CAP_MULTISESSION_CISCO = 131
)

// add-path send/receive bits per RFC 7911
const (
	ADDPATH_RECEIVE = 1
	ADDPATH_SEND    = 2
	ADDPATH_BOTH    = 3
)

// GracefulRestart is capability 64 - the restart flags/time and the
// per family forwarding-state flags.
type GracefulRestart struct {
	Restarting bool
	Time       uint16
	Families   map[Family]uint8
}

// FQDN is capability 73.
type FQDN struct {
	Host   string
	Domain string
}

// RawCapability preserves a capability this speaker does not interpret.
type RawCapability struct {
	CapCode uint8
	Data    []byte
}

// Capabilities is everything announced in the optional parameters of
// one OPEN.
type Capabilities struct {
	Families          []Family
	RouteRefresh      bool
	RouteRefreshCisco bool
	EnhancedRefresh   bool
	ASN4              uint32
	HasASN4           bool
	AddPath           map[Family]uint8
	GracefulRestart   *GracefulRestart
	LLGR              []byte // carried, not interpreted
	ExtendedMessage   bool
	MultiSession      []uint8 // capability codes forming the session id
	HasMultiSession   bool
	CiscoMultiSession bool
	Operational       bool
	FQDN              *FQDN
	SoftwareVersion   string
	Unknown           []RawCapability
}

func (c *Capabilities) MultiProtocol(f Family) bool {
	for _, x := range c.Families {
		if x == f {
			return true
		}
	}
	return false
}

func (c *Capabilities) addpath(f Family) uint8 {
	if c.AddPath == nil {
		return 0
	}
	return c.AddPath[f]
}

func familiesSorted(fs []Family) []Family {
	out := make([]Family, len(fs))
	copy(out, fs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].AFI != out[j].AFI {
			return out[i].AFI < out[j].AFI
		}
		return out[i].SAFI < out[j].SAFI
	})
	return out
}

func cap1(code uint8, data []byte) []byte {
	return append([]byte{code, byte(len(data))}, data...)
}

// Pack renders the capabilities as a run of optional parameters, one
// capability per parameter - the style most implementations emit.
func (c *Capabilities) Pack() (b []byte) {
	param := func(cap []byte) {
		b = append(b, CAPABILITIES_OPTIONAL_PARAMETER, byte(len(cap)))
		b = append(b, cap...)
	}

	for _, f := range familiesSorted(c.Families) {
		param(cap1(CAP_MULTIPROTOCOL, []byte{byte(f.AFI >> 8), byte(f.AFI), 0, byte(f.SAFI)}))
	}

	if c.RouteRefresh {
		param(cap1(CAP_ROUTE_REFRESH, nil))
	}

	if c.RouteRefreshCisco {
		param(cap1(CAP_ROUTE_REFRESH_OLD, nil))
	}

	if c.ExtendedMessage {
		param(cap1(CAP_EXTENDED_MESSAGE, nil))
	}

	if c.GracefulRestart != nil {
		gr := c.GracefulRestart
		t := gr.Time & 0x0fff
		if gr.Restarting {
			t |= 0x8000
		}
		v := htons(t)
		data := v[:]
		var fams []Family
		for f := range gr.Families {
			fams = append(fams, f)
		}
		for _, f := range familiesSorted(fams) {
			data = append(data, byte(f.AFI>>8), byte(f.AFI), byte(f.SAFI), gr.Families[f])
		}
		param(cap1(CAP_GRACEFUL_RESTART, data))
	}

	if c.HasASN4 {
		v := htonl(c.ASN4)
		param(cap1(CAP_ASN4, v[:]))
	}

	if len(c.AddPath) > 0 {
		var fams []Family
		for f := range c.AddPath {
			fams = append(fams, f)
		}
		var data []byte
		for _, f := range familiesSorted(fams) {
			data = append(data, byte(f.AFI>>8), byte(f.AFI), byte(f.SAFI), c.AddPath[f])
		}
		param(cap1(CAP_ADD_PATH, data))
	}

	if c.EnhancedRefresh {
		param(cap1(CAP_ENHANCED_REFRESH, nil))
	}

	if len(c.LLGR) > 0 {
		param(cap1(CAP_LLGR, c.LLGR))
	}

	if c.HasMultiSession {
		code := uint8(CAP_MULTISESSION)
		if c.CiscoMultiSession {
			code = CAP_MULTISESSION_CISCO
		}
		param(cap1(code, c.MultiSession))
	}

	if c.Operational {
		param(cap1(CAP_OPERATIONAL, nil))
	}

	if c.FQDN != nil {
		data := []byte{byte(len(c.FQDN.Host))}
		data = append(data, c.FQDN.Host...)
		data = append(data, byte(len(c.FQDN.Domain)))
		data = append(data, c.FQDN.Domain...)
		param(cap1(CAP_FQDN, data))
	}

	if c.SoftwareVersion != "" {
		data := append([]byte{byte(len(c.SoftwareVersion))}, c.SoftwareVersion...)
		param(cap1(CAP_SOFTWARE_VERSION, data))
	}

	for _, u := range c.Unknown {
		param(cap1(u.CapCode, u.Data))
	}

	return
}

// parseCapabilities consumes the OPEN optional parameters block.
func parseCapabilities(data []byte) (*Capabilities, *Notification) {
	c := &Capabilities{}

	for len(data) > 0 {
		if len(data) < 2 || len(data) < 2+int(data[1]) {
			return nil, &Notification{Code: OPEN_ERROR, Sub: UNSUPPORTED_OPTIONAL_PARAMETER}
		}

		ptype := data[0]
		value := data[2 : 2+int(data[1])]
		data = data[2+int(data[1]):]

		if ptype != CAPABILITIES_OPTIONAL_PARAMETER {
			return nil, &Notification{Code: OPEN_ERROR, Sub: UNSUPPORTED_OPTIONAL_PARAMETER, Data: []byte{ptype}}
		}

		for len(value) > 0 {
			if len(value) < 2 || len(value) < 2+int(value[1]) {
				return nil, &Notification{Code: OPEN_ERROR, Sub: UNSUPPORTED_CAPABILITY}
			}

			code := value[0]
			body := value[2 : 2+int(value[1])]
			value = value[2+int(value[1]):]

			if err := c.one(code, body); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

func (c *Capabilities) one(code uint8, body []byte) *Notification {
	bad := &Notification{Code: OPEN_ERROR, Sub: UNSUPPORTED_CAPABILITY, Data: []byte{code}}

	switch code {
	case CAP_MULTIPROTOCOL:
		if len(body) != 4 {
			return bad
		}
		c.Families = append(c.Families, Family{AFI(ntohs(body[0], body[1])), SAFI(body[3])})

	case CAP_ROUTE_REFRESH:
		c.RouteRefresh = true

	case CAP_ROUTE_REFRESH_OLD:
		c.RouteRefreshCisco = true

	case CAP_ENHANCED_REFRESH:
		c.EnhancedRefresh = true

	case CAP_EXTENDED_MESSAGE:
		c.ExtendedMessage = true

	case CAP_ASN4:
		if len(body) != 4 {
			return bad
		}
		c.ASN4 = ntohl(body[0], body[1], body[2], body[3])
		c.HasASN4 = true

	case CAP_ADD_PATH:
		if len(body)%4 != 0 {
			return bad
		}
		if c.AddPath == nil {
			c.AddPath = map[Family]uint8{}
		}
		for i := 0; i < len(body); i += 4 {
			f := Family{AFI(ntohs(body[i], body[i+1])), SAFI(body[i+2])}
			c.AddPath[f] = body[i+3] & ADDPATH_BOTH
		}

	case CAP_GRACEFUL_RESTART:
		if len(body) < 2 || (len(body)-2)%4 != 0 {
			return bad
		}
		gr := &GracefulRestart{
			Restarting: body[0]&0x80 != 0,
			Time:       ntohs(body[0], body[1]) & 0x0fff,
			Families:   map[Family]uint8{},
		}
		for i := 2; i < len(body); i += 4 {
			f := Family{AFI(ntohs(body[i], body[i+1])), SAFI(body[i+2])}
			gr.Families[f] = body[i+3]
		}
		c.GracefulRestart = gr

	case CAP_LLGR:
		c.LLGR = append([]byte{}, body...)

	case CAP_MULTISESSION, CAP_MULTISESSION_CISCO:
		c.HasMultiSession = true
		c.CiscoMultiSession = code == CAP_MULTISESSION_CISCO
		c.MultiSession = append([]byte{}, body...)

	case CAP_OPERATIONAL:
		c.Operational = true

	case CAP_FQDN:
		if len(body) < 1 {
			return bad
		}
		hl := int(body[0])
		if len(body) < 1+hl+1 {
			return bad
		}
		dl := int(body[1+hl])
		if len(body) < 2+hl+dl {
			return bad
		}
		c.FQDN = &FQDN{Host: string(body[1 : 1+hl]), Domain: string(body[2+hl : 2+hl+dl])}

	case CAP_SOFTWARE_VERSION:
		if len(body) < 1 || len(body) < 1+int(body[0]) {
			return bad
		}
		c.SoftwareVersion = string(body[1 : 1+int(body[0])])

	default:
		c.Unknown = append(c.Unknown, RawCapability{CapCode: code, Data: append([]byte{}, body...)})
	}

	return nil
}
