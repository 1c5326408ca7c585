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

// The CLI control socket: request/response lines over a unix socket,
// each response terminated by a "done" or "error" sentinel.

package reactor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

func (r *Reactor) cli(path string) error {
	os.Remove(path)

	l, err := net.Listen("unix", path)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"Topic": "CLI", "Socket": path}).Info("control socket ready")

	r.tomb.Go(func() error {
		<-r.tomb.Dying()
		l.Close()
		os.Remove(path)
		return nil
	})

	r.tomb.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-r.tomb.Dying():
					return nil
				default:
					return err
				}
			}

			r.tomb.Go(func() error {
				done := make(chan bool)
				go func() {
					select {
					case <-r.tomb.Dying():
						conn.Close()
					case <-done:
					}
				}()
				r.cliSession(conn)
				close(done)
				return nil
			})
		}
	})

	return nil
}

func (r *Reactor) cliSession(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	out := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.cliCommand(out, line); err != nil {
			fmt.Fprintf(out, "%s\nerror\n", err)
		} else {
			fmt.Fprintln(out, "done")
		}
		out.Flush()
	}
}

func (r *Reactor) cliCommand(out *bufio.Writer, line string) error {
	tokens := strings.Fields(line)

	switch tokens[0] {
	case "show":
		return r.show(out, tokens[1:])

	case "flush":
		// flush adj-rib out [neighbor]
		if len(tokens) >= 3 && tokens[1] == "adj-rib" && tokens[2] == "out" {
			name := ""
			if len(tokens) > 3 {
				name = tokens[3]
			}
			for _, p := range r.selectPeers(name) {
				p.FlushOut()
			}
			return nil
		}
		return fmt.Errorf("flush adj-rib out [neighbor]")

	case "clear":
		// clear adj-rib in [neighbor]
		if len(tokens) >= 3 && tokens[1] == "adj-rib" && tokens[2] == "in" {
			name := ""
			if len(tokens) > 3 {
				name = tokens[3]
			}
			for _, p := range r.selectPeers(name) {
				p.ClearIn()
			}
			return nil
		}
		return fmt.Errorf("clear adj-rib in [neighbor]")
	}

	// everything else shares the helper-channel grammar
	return Execute(r, line)
}

func (r *Reactor) show(out *bufio.Writer, tokens []string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("show what?")
	}

	switch tokens[0] {
	case "neighbor":
		mode := "summary"
		if len(tokens) > 1 {
			mode = tokens[1]
		}

		for _, p := range r.allPeers() {
			s := p.Status()
			conf := p.Config()

			switch mode {
			case "summary":
				fmt.Fprintf(out, "%-40s %-12s asn %d holdtime %d routes %d\n",
					conf.PeerAddress, s.State, s.RemoteASN, s.HoldTime, s.Prefixes)

			case "extensive":
				js, err := json.MarshalIndent(s, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "neighbor %s\n%s\n", conf.PeerAddress, js)

			case "configuration":
				js, err := json.MarshalIndent(conf, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "neighbor %s\n%s\n", conf.PeerAddress, js)

			default:
				return fmt.Errorf("show neighbor [summary|extensive|configuration]")
			}
		}
		return nil

	case "adj-rib":
		if len(tokens) < 2 {
			return fmt.Errorf("show adj-rib {in|out} [extensive]")
		}

		which := tokens[1]
		if which != "in" && which != "out" {
			return fmt.Errorf("show adj-rib {in|out} [extensive]")
		}

		extensive := len(tokens) > 2 && tokens[2] == "extensive"

		for _, p := range r.allPeers() {
			in, outRIB := p.RIBs()

			routes := outRIB
			if which == "in" {
				routes = in
			}

			for _, route := range routes {
				if extensive {
					fmt.Fprintf(out, "neighbor %s %s\n", p.Config().PeerAddress, route)
				} else {
					fmt.Fprintf(out, "neighbor %s %s\n", p.Config().PeerAddress, route.NLRI)
				}
			}
		}
		return nil
	}

	return fmt.Errorf("unknown show %q", tokens[0])
}
