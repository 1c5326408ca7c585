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

// The helper-process channel: one JSON (or text) line per session
// event out, one command per line in. The envelope shape is a stable,
// versioned API - helpers parse it, so changes are additions only.

package reactor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/davidcoles/speaker/message"
	"github.com/davidcoles/speaker/peer"
)

// APIVersion is the envelope version helpers key off.
const APIVersion = "5.0.0"

// API is one helper process channel - lines out on Output, commands in
// on Commands.
type API struct {
	Output   io.Writer
	Commands io.Reader
	Encoder  string // json or text
	Ack      bool

	mutex   sync.Mutex
	counter uint64
	host    string
}

func NewAPI(out io.Writer, in io.Reader, encoder string, ack bool) *API {
	host, _ := os.Hostname()
	return &API{Output: out, Commands: in, Encoder: encoder, Ack: ack, host: host}
}

type envelope struct {
	Version  string         `json:"exabgp"`
	Time     float64        `json:"time"`
	Host     string         `json:"host"`
	PID      int            `json:"pid"`
	PPID     int            `json:"ppid"`
	Counter  uint64         `json:"counter"`
	Type     string         `json:"type"`
	Neighbor map[string]any `json:"neighbor"`
}

func describeUpdate(u *message.UpdateMsg, withdrawnOnly bool) map[string]any {
	announce := []map[string]string{}
	withdraw := []string{}

	if !withdrawnOnly {
		for _, a := range u.Reachable() {
			announce = append(announce, map[string]string{"nlri": a.NLRI.String(), "next-hop": a.NextHop})
		}
	} else {
		for _, n := range u.NLRIs {
			withdraw = append(withdraw, n.String())
		}
	}

	for _, n := range u.Unreachable() {
		withdraw = append(withdraw, n.String())
	}

	m := map[string]any{"announce": announce, "withdraw": withdraw}

	if len(u.Attributes) > 0 {
		attrs := map[string]string{}
		for code, a := range u.Attributes {
			attrs[fmt.Sprintf("%d", code)] = a.String()
		}
		m["attribute"] = attrs
	}

	if fam, eor := u.IsEOR(); eor {
		m["eor"] = fam.String()
	}

	return m
}

// write emits one event line. Writes never block the peers - the
// reactor's pump owns this path.
func (a *API) write(e peer.Event) error {
	a.mutex.Lock()
	a.counter++
	counter := a.counter
	a.mutex.Unlock()

	if a.Output == nil {
		return nil
	}

	if a.Encoder == "text" {
		return a.writeText(e, counter)
	}

	neighbor := map[string]any{"address": map[string]string{"peer": e.Neighbor}}

	switch e.Type {
	case "state":
		neighbor["state"] = strings.ToLower(e.State)
	case "update":
		neighbor["message"] = map[string]any{"update": describeUpdate(e.Update, e.WithdrawnOnly)}
	case "open":
		neighbor["message"] = map[string]any{"open": e.Open.String()}
	case "notification":
		direction := "receive"
		if e.Sent {
			direction = "send"
		}
		neighbor["message"] = map[string]any{"notification": map[string]any{
			"code":          e.Notification.Code,
			"subcode":       e.Notification.Sub,
			"data":          fmt.Sprintf("%x", e.Notification.Data),
			"message":       message.Note(e.Notification.Code, e.Notification.Sub),
			"communication": e.Notification.Communication(),
			"direction":     direction,
		}}
	case "refresh":
		neighbor["message"] = map[string]any{"refresh": e.Refresh.String()}
	case "operational":
		neighbor["message"] = map[string]any{"operational": e.Operational.String()}
	case "keepalive":
		neighbor["message"] = map[string]any{"keepalive": map[string]any{}}
	}

	env := envelope{
		Version:  APIVersion,
		Time:     float64(time.Now().UnixNano()) / 1e9,
		Host:     a.host,
		PID:      os.Getpid(),
		PPID:     os.Getppid(),
		Counter:  counter,
		Type:     e.Type,
		Neighbor: neighbor,
	}

	line, err := json.Marshal(env)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(a.Output, "%s\n", line)
	return err
}

func (a *API) writeText(e peer.Event, counter uint64) error {
	var body string

	switch e.Type {
	case "state":
		body = "state " + strings.ToLower(e.State)
	case "update":
		body = e.Update.String()
	case "open":
		body = e.Open.String()
	case "notification":
		body = e.Notification.String()
	case "refresh":
		body = e.Refresh.String()
	case "operational":
		body = e.Operational.String()
	case "keepalive":
		body = "keepalive"
	}

	_, err := fmt.Fprintf(a.Output, "neighbor %s %s\n", e.Neighbor, body)
	return err
}

func (a *API) ack(ok bool) {
	if !a.Ack || a.Output == nil {
		return
	}
	if ok {
		fmt.Fprintln(a.Output, "done")
	} else {
		fmt.Fprintln(a.Output, "error")
	}
}

// readCommands consumes helper commands until EOF - the supervisor
// respawns a helper whose pipe closes.
func (a *API) readCommands(r *Reactor) error {
	scanner := bufio.NewScanner(a.Commands)
	scanner.Buffer(make([]byte, 0, 65536), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := Execute(r, line); err != nil {
			log.WithFields(log.Fields{"Topic": "API", "Command": line}).WithError(err).Warn("bad command")
			a.ack(false)
		} else {
			a.ack(true)
		}
	}

	return nil
}

// Execute runs one text command against the reactor - shared between
// the helper channel and the CLI.
func Execute(r *Reactor, line string) error {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return fmt.Errorf("empty command")
	}

	// optional neighbor scope
	scope := ""
	if tokens[0] == "neighbor" && len(tokens) > 2 {
		scope = tokens[1]
		tokens = tokens[2:]
	}

	switch tokens[0] {
	case "announce":
		return announce(r, scope, tokens[1:])

	case "withdraw":
		return withdraw(r, scope, tokens[1:])

	case "operational":
		return operational(r, scope, tokens[1:])

	case "teardown":
		if len(tokens) < 3 {
			return fmt.Errorf("teardown <peer> <subcode>")
		}
		sub, err := strconv.ParseUint(tokens[2], 10, 8)
		if err != nil {
			return err
		}
		p := r.findPeer(tokens[1])
		if p == nil {
			return fmt.Errorf("no such neighbor %s", tokens[1])
		}
		p.Teardown(&message.Notification{Code: message.CEASE, Sub: uint8(sub)})
		return nil

	case "restart":
		if len(tokens) >= 2 && tokens[1] == "all" {
			return r.Restart("")
		}
		if len(tokens) >= 3 && tokens[1] == "neighbor" {
			return r.Restart(tokens[2])
		}
		return r.Restart(scope)

	case "reset":
		return r.Restart(scope)

	case "shutdown":
		r.Shutdown("api shutdown")
		return nil

	case "reload":
		return r.Reload()
	}

	return fmt.Errorf("unknown command %q", tokens[0])
}

func family(afi, safi string) (message.Family, error) {
	a, err := strconv.ParseUint(afi, 10, 16)
	if err == nil {
		s, serr := strconv.ParseUint(safi, 10, 8)
		if serr != nil {
			return message.Family{}, serr
		}
		return message.Family{AFI: message.AFI(a), SAFI: message.SAFI(s)}, nil
	}

	// symbolic: "ipv4 unicast"
	for _, f := range message.Families() {
		if f.AFI.String() == afi && f.SAFI.String() == safi {
			return f, nil
		}
	}

	return message.Family{}, fmt.Errorf("unknown family %s %s", afi, safi)
}

func announce(r *Reactor, scope string, tokens []string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("announce what?")
	}

	peers := r.selectPeers(scope)
	if len(peers) == 0 {
		return fmt.Errorf("no matching neighbor")
	}

	switch tokens[0] {
	case "route":
		route, err := parseRoute(tokens[1:])
		if err != nil {
			return err
		}
		for _, p := range peers {
			p.Add(route, false)
		}
		return nil

	case "flow":
		route, err := parseFlow(tokens[1:])
		if err != nil {
			return err
		}
		for _, p := range peers {
			p.Add(route, false)
		}
		return nil

	case "attributes", "attribute":
		routes, err := parseAttributesNLRI(tokens[1:])
		if err != nil {
			return err
		}
		for _, p := range peers {
			for _, route := range routes {
				p.Add(route, false)
			}
		}
		return nil

	case "route-refresh":
		if len(tokens) < 3 {
			return fmt.Errorf("announce route-refresh <afi> <safi>")
		}
		f, err := family(tokens[1], tokens[2])
		if err != nil {
			return err
		}
		for _, p := range peers {
			p.AskRefresh(f)
		}
		return nil

	case "eor":
		if len(tokens) < 3 {
			return fmt.Errorf("announce eor <afi> <safi>")
		}
		f, err := family(tokens[1], tokens[2])
		if err != nil {
			return err
		}
		for _, p := range peers {
			p.EOR(f)
		}
		return nil
	}

	return fmt.Errorf("unknown announce %q", tokens[0])
}

func withdraw(r *Reactor, scope string, tokens []string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("withdraw what?")
	}

	peers := r.selectPeers(scope)
	if len(peers) == 0 {
		return fmt.Errorf("no matching neighbor")
	}

	switch tokens[0] {
	case "route":
		route, err := parseRoute(tokens[1:])
		if err != nil {
			return err
		}
		for _, p := range peers {
			p.Del(route.NLRI)
		}
		return nil

	case "flow":
		route, err := parseFlow(tokens[1:])
		if err != nil {
			return err
		}
		for _, p := range peers {
			p.Del(route.NLRI)
		}
		return nil
	}

	return fmt.Errorf("unknown withdraw %q", tokens[0])
}

func operational(r *Reactor, scope string, tokens []string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("operational what?")
	}

	peers := r.selectPeers(scope)
	if len(peers) == 0 {
		return fmt.Errorf("no matching neighbor")
	}

	var o *message.Operational

	switch strings.ToLower(tokens[0]) {
	case "asm", "adm":
		what := uint16(message.OPERATIONAL_ASM)
		if tokens[0] == "adm" {
			what = message.OPERATIONAL_ADM
		}
		o = &message.Operational{What: what, Text: strings.Trim(strings.Join(tokens[1:], " "), `"`)}

	case "rpcq", "apcq", "lpcq":
		if len(tokens) < 3 {
			return fmt.Errorf("operational %s <afi> <safi> [sequence]", tokens[0])
		}
		f, err := family(tokens[1], tokens[2])
		if err != nil {
			return err
		}
		var what uint16
		switch tokens[0] {
		case "rpcq":
			what = message.OPERATIONAL_RPCQ
		case "apcq":
			what = message.OPERATIONAL_APCQ
		case "lpcq":
			what = message.OPERATIONAL_LPCQ
		}
		o = &message.Operational{What: what, Fam: f}
		if len(tokens) > 3 {
			if seq, err := strconv.ParseUint(tokens[3], 10, 16); err == nil {
				o.Sequence = uint16(seq)
			}
		}

	case "rpcp", "apcp", "lpcp":
		if len(tokens) < 4 {
			return fmt.Errorf("operational %s <afi> <safi> <count>", tokens[0])
		}
		f, err := family(tokens[1], tokens[2])
		if err != nil {
			return err
		}
		count, err := strconv.ParseUint(tokens[3], 10, 32)
		if err != nil {
			return err
		}
		var what uint16
		switch tokens[0] {
		case "rpcp":
			what = message.OPERATIONAL_RPCP
		case "apcp":
			what = message.OPERATIONAL_APCP
		case "lpcp":
			what = message.OPERATIONAL_LPCP
		}
		o = &message.Operational{What: what, Fam: f, Count: uint32(count)}

	default:
		return fmt.Errorf("unknown operational %q", tokens[0])
	}

	for _, p := range peers {
		p.Operational(o)
	}
	return nil
}
