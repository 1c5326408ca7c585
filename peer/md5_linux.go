//go:build linux

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

// https://datatracker.ietf.org/doc/html/rfc2385 - Protection of BGP Sessions via the TCP MD5 Signature Option

package peer

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// md5Control installs the TCP MD5 signature key on the socket before
// connect - the kernel signs every segment with it.
func md5Control(password string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return err
		}

		sig := unix.TCPMD5Sig{}
		copy(sig.Key[:], password)
		sig.Keylen = uint16(len(password))

		ip := net.ParseIP(host)
		if ip4 := ip.To4(); ip4 != nil {
			sig.Addr.Family = unix.AF_INET
			copy(sig.Addr.Data[2:], ip4)
		} else {
			sig.Addr.Family = unix.AF_INET6
			copy(sig.Addr.Data[6:], ip.To16())
		}

		var serr error
		err = c.Control(func(fd uintptr) {
			serr = unix.SetsockoptTCPMD5Sig(int(fd), unix.IPPROTO_TCP, unix.TCP_MD5SIG, &sig)
		})
		if err != nil {
			return err
		}
		return serr
	}
}
