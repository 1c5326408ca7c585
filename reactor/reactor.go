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

// Package reactor owns the peers: it starts and stops them from the
// configuration record, routes inbound connections to them, pumps
// session events to the helper-process channel and runs the CLI.
package reactor

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"github.com/davidcoles/speaker/config"
	"github.com/davidcoles/speaker/message"
	"github.com/davidcoles/speaker/peer"
	"github.com/davidcoles/speaker/rib"
)

// Reactor is the long-running core of the speaker.
type Reactor struct {
	mutex    sync.Mutex
	conf     *config.Config
	env      config.Env
	path     string // configuration file, for reloads
	peers    map[string]*peer.Peer
	events   chan peer.Event
	store    *rib.Store
	tomb     *tomb.Tomb
	reloads  chan bool
	shutdown chan string
}

func New(path string, conf *config.Config, env config.Env) *Reactor {
	return &Reactor{
		conf:     conf,
		env:      env,
		path:     path,
		peers:    map[string]*peer.Peer{},
		events:   make(chan peer.Event, 1024),
		store:    rib.NewStore(),
		tomb:     &tomb.Tomb{},
		reloads:  make(chan bool, 1),
		shutdown: make(chan string, 1),
	}
}

// Run starts every task and blocks until shutdown. api is the helper
// process channel (its stdin/stdout); cliSocket, when not empty, is the
// path of the CLI unix socket.
func (r *Reactor) Run(api *API, cliSocket string) error {
	for name, n := range r.conf.Neighbors {
		r.startPeer(name, n)
	}

	r.tomb.Go(func() error { return r.pump(api) })

	if api != nil && api.Commands != nil {
		r.tomb.Go(func() error { return api.readCommands(r) })
	}

	if r.env.TCPBind != "" {
		if err := r.listen(); err != nil {
			return err
		}
	}

	if cliSocket != "" {
		if err := r.cli(cliSocket); err != nil {
			return err
		}
	}

	r.tomb.Go(r.signals)

	<-r.tomb.Dying()
	r.stopAll("shutting down")
	return r.tomb.Wait()
}

func (r *Reactor) signals() error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case sig := <-sigs:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				log.WithFields(log.Fields{"Topic": "Reactor", "Signal": sig.String()}).Info("shutting down")
				r.tomb.Kill(nil)
				return nil
			case syscall.SIGUSR1:
				log.WithFields(log.Fields{"Topic": "Reactor"}).Info("reload requested")
				if err := r.Reload(); err != nil {
					log.WithFields(log.Fields{"Topic": "Reactor"}).WithError(err).Error("reload failed")
				}
			}

		case reason := <-r.shutdown:
			log.WithFields(log.Fields{"Topic": "Reactor", "Reason": reason}).Info("shutting down")
			r.tomb.Kill(nil)
			return nil

		case <-r.tomb.Dying():
			return nil
		}
	}
}

func (r *Reactor) startPeer(name string, n config.Neighbor) {
	p := peer.New(name, n, r.events, r.store)
	r.mutex.Lock()
	r.peers[name] = p
	r.mutex.Unlock()
	p.Start()
	log.WithFields(log.Fields{"Topic": "Reactor", "Key": name, "Peer": n.PeerAddress}).Info("peer started")
}

func (r *Reactor) stopPeer(name string, n *message.Notification) {
	r.mutex.Lock()
	p, ok := r.peers[name]
	if ok {
		delete(r.peers, name)
	}
	r.mutex.Unlock()

	if ok {
		p.Stop(n)
		log.WithFields(log.Fields{"Topic": "Reactor", "Key": name}).Info("peer stopped")
	}
}

func (r *Reactor) stopAll(reason string) {
	r.mutex.Lock()
	peers := make(map[string]*peer.Peer, len(r.peers))
	for k, v := range r.peers {
		peers[k] = v
	}
	r.peers = map[string]*peer.Peer{}
	r.mutex.Unlock()

	for _, p := range peers {
		p.Stop(message.Shutdown(reason))
	}
}

// Shutdown requests a clean stop - the CLI shutdown command.
func (r *Reactor) Shutdown(reason string) {
	select {
	case r.shutdown <- reason:
	default:
	}
}

// Reload re-reads the configuration and applies the diff: new
// neighbors start, removed ones are torn down as deconfigured, changed
// ones bounce. A parse failure keeps the old configuration live.
func (r *Reactor) Reload() error {
	conf, err := config.Load(r.path)
	if err != nil {
		return err
	}

	r.mutex.Lock()
	old := r.conf
	r.conf = conf
	r.mutex.Unlock()

	added, removed, changed := config.Diff(old, conf)

	for _, name := range removed {
		r.stopPeer(name, &message.Notification{Code: message.CEASE, Sub: message.PEER_DECONFIGURED})
	}

	for _, name := range changed {
		r.stopPeer(name, &message.Notification{Code: message.CEASE, Sub: message.OTHER_CONFIGURATION_CHANGE})
		r.startPeer(name, conf.Neighbors[name])
	}

	for _, name := range added {
		r.startPeer(name, conf.Neighbors[name])
	}

	log.WithFields(log.Fields{"Topic": "Reactor", "Added": len(added), "Removed": len(removed), "Changed": len(changed)}).Info("configuration reloaded")
	return nil
}

// Restart bounces one peer (or every peer when name is empty) with an
// administrative reset.
func (r *Reactor) Restart(name string) error {
	reset := &message.Notification{Code: message.CEASE, Sub: message.ADMINISTRATIVE_RESET}

	if name == "" {
		for _, p := range r.allPeers() {
			p.Teardown(reset)
		}
		return nil
	}

	p := r.findPeer(name)
	if p == nil {
		return fmt.Errorf("no such neighbor %s", name)
	}
	p.Teardown(reset)
	return nil
}

func (r *Reactor) allPeers() (out []*peer.Peer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, p := range r.peers {
		out = append(out, p)
	}
	return
}

// findPeer matches by configuration key or by peer address.
func (r *Reactor) findPeer(name string) *peer.Peer {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if p, ok := r.peers[name]; ok {
		return p
	}

	for _, p := range r.peers {
		if p.Config().PeerAddress == name {
			return p
		}
	}

	return nil
}

// selectPeers resolves an optional "neighbor <ip>" scope to the peers a
// command applies to.
func (r *Reactor) selectPeers(name string) (out []*peer.Peer) {
	if name == "" {
		return r.allPeers()
	}
	if p := r.findPeer(name); p != nil {
		out = append(out, p)
	}
	return
}

// listen accepts inbound sessions and hands each connection to the
// peer configured for the source address.
func (r *Reactor) listen() error {
	addr := net.JoinHostPort(r.env.TCPBind, fmt.Sprintf("%d", r.env.TCPPort))

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"Topic": "Reactor", "Listen": addr}).Info("listening")

	r.tomb.Go(func() error {
		<-r.tomb.Dying()
		return l.Close()
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

			remote := ""
			if a, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
				if addr, ok := netip.AddrFromSlice(a.IP); ok {
					remote = addr.Unmap().String()
				}
			}

			p := r.findPeer(remote)
			if p == nil {
				log.WithFields(log.Fields{"Topic": "Reactor", "Peer": remote}).Warn("connection from unconfigured peer")
				conn.Close()
				continue
			}

			p.Accept(conn)
		}
	})

	return nil
}

// pump serialises session events onto the helper-process channel.
func (r *Reactor) pump(api *API) error {
	for {
		select {
		case e := <-r.events:
			if api != nil {
				if err := api.write(e); err != nil {
					// a broken helper never tears down a peer - log and
					// carry on, the supervisor may respawn it
					log.WithFields(log.Fields{"Topic": "API"}).WithError(err).Warn("helper channel write failed")
				}
			}
		case <-r.tomb.Dying():
			return nil
		}
	}
}
