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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidcoles/speaker/message"
)

const sample = `
router-id: 10.0.0.1
neighbors:
  "192.0.2.2":
    local-as: 65000
    peer-as: 65001
    hold-time: 90
    families:
      - ipv4 unicast
      - ipv6 unicast
    route-refresh: true
    routes:
      - prefix: 10.0.0.0/24
        next-hop: 192.0.2.1
`

func write(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speaker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestLoad(t *testing.T) {
	conf, err := Load(write(t, sample))
	require.NoError(t, err)

	n, ok := conf.Neighbors["192.0.2.2"]
	require.True(t, ok)

	assert.Equal(t, "192.0.2.2", n.PeerAddress, "peer address defaults to the map key")
	assert.Equal(t, "10.0.0.1", n.RouterID, "router id inherited from the top level")
	assert.Equal(t, uint16(90), n.HoldTime)
	assert.Equal(t, uint16(179), n.Port)
	assert.Equal(t, []message.Family{message.IPv4Unicast, message.IPv6Unicast}, n.MessageFamilies())
	require.Len(t, n.Routes, 1)
}

func TestLoadDefaults(t *testing.T) {
	conf, err := Load(write(t, "router-id: 10.0.0.1\nneighbors:\n  \"192.0.2.9\":\n    local-as: 1\n    peer-as: 2\n"))
	require.NoError(t, err)

	n := conf.Neighbors["192.0.2.9"]
	assert.Equal(t, uint16(180), n.HoldTime)
	assert.Equal(t, []string{"ipv4 unicast"}, n.Families)
}

func TestLoadBadFamily(t *testing.T) {
	_, err := Load(write(t, "router-id: 10.0.0.1\nneighbors:\n  \"192.0.2.9\":\n    local-as: 1\n    peer-as: 2\n    families: [ \"ipv9 unicast\" ]\n"))
	assert.Error(t, err)
}

func TestLoadUnknownKey(t *testing.T) {
	_, err := Load(write(t, "router-id: 10.0.0.1\nbogus: true\nneighbors: {}\n"))
	assert.Error(t, err, "unknown keys are rejected")
}

func TestDiff(t *testing.T) {
	old := &Config{Neighbors: map[string]Neighbor{
		"a": {PeerAddress: "a", LocalAS: 1, PeerAS: 2},
		"b": {PeerAddress: "b", LocalAS: 1, PeerAS: 3},
	}}

	new := &Config{Neighbors: map[string]Neighbor{
		"b": {PeerAddress: "b", LocalAS: 1, PeerAS: 4}, // changed
		"c": {PeerAddress: "c", LocalAS: 1, PeerAS: 5}, // added
	}}

	added, removed, changed := Diff(old, new)
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, removed)
	assert.Equal(t, []string{"b"}, changed)
}

func TestAddPathMode(t *testing.T) {
	n := Neighbor{AddPath: map[string]string{"ipv4 unicast": "send/receive"}}
	assert.Equal(t, uint8(message.ADDPATH_BOTH), n.AddPathMode(message.IPv4Unicast))
	assert.Equal(t, uint8(0), n.AddPathMode(message.IPv6Unicast))

	n = Neighbor{AddPath: map[string]string{"ipv4 unicast": "receive"}}
	assert.Equal(t, uint8(message.ADDPATH_RECEIVE), n.AddPathMode(message.IPv4Unicast))
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily("IPv4 Unicast")
	require.NoError(t, err)
	assert.Equal(t, message.IPv4Unicast, f)

	_, err = ParseFamily("martian unicast")
	assert.Error(t, err)
}
