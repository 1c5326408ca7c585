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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderise(t *testing.T) {
	m := Headerise(M_KEEPALIVE, nil)

	require.Len(t, m, 19)
	for _, b := range m[0:16] {
		assert.Equal(t, byte(0xff), b)
	}
	assert.Equal(t, byte(0), m[16])
	assert.Equal(t, byte(19), m[17])
	assert.Equal(t, byte(M_KEEPALIVE), m[18])
}

func TestReadKeepalive(t *testing.T) {
	mtype, body, err := Read(bytes.NewReader(Headerise(M_KEEPALIVE, nil)), nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(M_KEEPALIVE), mtype)
	assert.Empty(t, body)
}

func TestReadBadMarker(t *testing.T) {
	m := Headerise(M_KEEPALIVE, nil)
	m[3] = 0xfe

	_, _, err := Read(bytes.NewReader(m), nil)
	require.Error(t, err)

	n := err.(*Notification)
	assert.Equal(t, uint8(MESSAGE_HEADER_ERROR), n.Code)
	assert.Equal(t, uint8(CONNECTION_NOT_SYNCHRONISED), n.Sub)
}

func TestReadBadLength(t *testing.T) {
	m := Headerise(M_KEEPALIVE, nil)
	m[16] = 0xff // length way over 4096
	m[17] = 0xff

	_, _, err := Read(bytes.NewReader(m), nil)
	require.Error(t, err)

	n := err.(*Notification)
	assert.Equal(t, uint8(BAD_MESSAGE_LENGTH), n.Sub)
	assert.Equal(t, []byte{0xff, 0xff}, n.Data, "the length bytes are echoed in the data")
}

func TestReadBadType(t *testing.T) {
	m := Headerise(99, nil)

	_, _, err := Read(bytes.NewReader(m), nil)
	require.Error(t, err)

	n := err.(*Notification)
	assert.Equal(t, uint8(BAD_MESSAGE_TYPE), n.Sub)
	assert.Equal(t, []byte{99}, n.Data, "the type byte is echoed in the data")
}

func TestReadShortOpen(t *testing.T) {
	// an OPEN shorter than its 29 byte minimum
	m := Headerise(M_OPEN, []byte{4, 0, 0})

	_, _, err := Read(bytes.NewReader(m), nil)
	require.Error(t, err)
	assert.Equal(t, uint8(BAD_MESSAGE_LENGTH), err.(*Notification).Sub)
}

func TestReadExtendedMessage(t *testing.T) {
	big := make([]byte, 8000)
	m := Headerise(M_UPDATE, big)

	// over the limit without the capability
	_, _, err := Read(bytes.NewReader(m), nil)
	require.Error(t, err)

	// fine when extended messages are negotiated
	mtype, body, err := Read(bytes.NewReader(m), &Negotiated{Extended: true})
	require.NoError(t, err)
	assert.Equal(t, uint8(M_UPDATE), mtype)
	assert.Len(t, body, 8000)
}

func TestNotificationRoundTrip(t *testing.T) {
	n := &Notification{Code: CEASE, Sub: ADMINISTRATIVE_SHUTDOWN, Data: []byte("maintenance")}

	decoded, err := DecodeNotification(n.Body(nil))
	require.NoError(t, err)
	assert.Equal(t, n.Code, decoded.Code)
	assert.Equal(t, n.Sub, decoded.Sub)
	assert.Equal(t, "maintenance", decoded.Communication())
}

func TestShutdownCommunicationLimit(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}

	n := Shutdown(string(long))
	assert.Len(t, n.Data, 128, "shutdown communication truncates at 128 bytes")
}

func TestNote(t *testing.T) {
	assert.Contains(t, Note(HOLD_TIMER_EXPIRED, 0), "Hold timer expired")
	assert.Contains(t, Note(CEASE, ADMINISTRATIVE_SHUTDOWN), "Administrative shutdown")
	assert.Contains(t, Note(UPDATE_ERROR, MALFORMED_AS_PATH), "Malformed AS_PATH")
}

func TestRouteRefreshRoundTrip(t *testing.T) {
	for _, reserved := range []uint8{REFRESH_REQUEST, REFRESH_BORR, REFRESH_EORR} {
		r := &RouteRefresh{Fam: IPv6Unicast, Reserved: reserved}

		decoded, err := DecodeRefresh(r.Body(nil))
		require.NoError(t, err)
		assert.Equal(t, r.Fam, decoded.Fam)
		assert.Equal(t, r.Reserved, decoded.Reserved)
	}
}

func TestOperationalAdvisory(t *testing.T) {
	o := &Operational{What: OPERATIONAL_ASM, Text: "cpu high"}

	decoded, err := DecodeOperational(o.Body(nil))
	require.NoError(t, err)
	assert.Equal(t, uint16(OPERATIONAL_ASM), decoded.What)
	assert.Equal(t, "cpu high", decoded.Text)
}

func TestOperationalCounters(t *testing.T) {
	q := &Operational{What: OPERATIONAL_RPCQ, Fam: IPv4Unicast, Sequence: 7}

	decoded, err := DecodeOperational(q.Body(nil))
	require.NoError(t, err)
	assert.Equal(t, IPv4Unicast, decoded.Fam)
	assert.Equal(t, uint16(7), decoded.Sequence)

	reply := decoded.Reply(42)
	assert.Equal(t, uint16(OPERATIONAL_RPCP), reply.What)

	back, err := DecodeOperational(reply.Body(nil))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), back.Count)
	assert.Equal(t, uint16(7), back.Sequence)
}
