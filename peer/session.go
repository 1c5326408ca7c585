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

package peer

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/davidcoles/speaker/config"
	"github.com/davidcoles/speaker/message"
	"github.com/davidcoles/speaker/rib"
)

const (
	IDLE         = "IDLE"
	CONNECT      = "CONNECT"
	OPEN_SENT    = "OPEN_SENT"
	OPEN_CONFIRM = "OPEN_CONFIRM"
	ESTABLISHED  = "ESTABLISHED"
)

// reconnect backoff after a session drops
const (
	backoffInitial = 2 * time.Second
	backoffCap     = 60 * time.Second
)

// Status is a point-in-time snapshot of the peering, JSON friendly for
// the CLI and API.
type Status struct {
	State       string        `json:"state"`
	When        time.Time     `json:"when"`
	Duration    time.Duration `json:"duration_s"`
	Advertised  uint64        `json:"advertised_routes"`
	Withdrawn   uint64        `json:"withdrawn_routes"`
	Prefixes    int           `json:"current_routes"`
	Attempts    uint64        `json:"connection_attempts"`
	Connections uint64        `json:"successful_connections"`
	Established uint64        `json:"established_sessions"`
	LastError   string        `json:"last_error"`
	HoldTime    uint16        `json:"hold_time"`
	LocalASN    uint32        `json:"local_asn"`
	RemoteASN   uint32        `json:"remote_asn"`
	LocalIP     string        `json:"local_ip"`
}

// Event is one item for the helper-process channel - everything a
// policy process needs to observe the session.
type Event struct {
	Neighbor      string
	Type          string // state, open, update, notification, keepalive, refresh, operational
	State         string
	Open          *message.OpenMsg
	Update        *message.UpdateMsg
	WithdrawnOnly bool
	Notification  *message.Notification
	Sent          bool // direction of the notification
	Refresh       *message.RouteRefresh
	Operational   *message.Operational
}

type opcode int

const (
	opAdd opcode = iota
	opDel
	opResend      // replay our cache to the peer
	opAskRefresh  // ask the peer to resend (ROUTE-REFRESH request)
	opEOR         // emit an explicit End-of-RIB
	opOperational // send an operational message
	opTeardown    // send a notification and go idle (reconnect later)
	opStop        // teardown and do not reconnect
	opFlushOut    // re-send every cached route (CLI flush)
	opClearIn     // drop the adj-rib-in
	opQuery       // snapshot the RIBs
)

type command struct {
	op          opcode
	route       *rib.Route
	force       bool
	nlri        message.NLRI
	family      *message.Family
	operational *message.Operational
	notify      *message.Notification
	reply       chan query
}

type query struct {
	in  []*rib.Route
	out []*rib.Route
}

// Peer runs one configured neighbor: the connection lifecycle, the
// session state machine and the RIBs, all serialised on one goroutine.
type Peer struct {
	name  string
	conf  config.Neighbor
	out   *rib.Out
	in    *rib.In
	store *rib.Store

	cmds     chan command
	incoming chan net.Conn
	events   chan<- Event

	mutex  sync.Mutex
	status Status
	neg    *message.Negotiated
}

func New(name string, conf config.Neighbor, events chan<- Event, store *rib.Store) *Peer {
	p := &Peer{
		name:     name,
		conf:     conf,
		out:      rib.NewOut(true),
		in:       rib.NewIn(0),
		store:    store,
		cmds:     make(chan command, 64),
		incoming: make(chan net.Conn, 1),
		events:   events,
		status:   Status{State: IDLE},
	}

	for _, sr := range conf.Routes {
		if r, err := StaticRoute(sr); err == nil {
			p.out.Add(r, false, nil)
		} else {
			log.WithFields(log.Fields{"Topic": "Peer", "Key": name, "Route": sr.Prefix}).WithError(err).Warn("bad static route")
		}
	}

	return p
}

// StaticRoute builds a Route from the configuration record shape.
func StaticRoute(sr config.StaticRoute) (*rib.Route, error) {
	prefix, err := netip.ParsePrefix(sr.Prefix)
	if err != nil {
		// a bare address is a host route
		addr, aerr := netip.ParseAddr(sr.Prefix)
		if aerr != nil {
			return nil, err
		}
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}

	fam := message.IPv4Unicast
	if prefix.Addr().Is6() {
		fam = message.IPv6Unicast
	}

	nlri := &message.Prefix{Fam: fam, Prefix: prefix, PathID: sr.PathID, HasPath: sr.PathID != 0}

	attrs := message.Attributes{}
	attrs.MustAdd(message.Origin(message.IGP))
	attrs.MustAdd(message.ASSequence(sr.ASPath...))

	if sr.MED != 0 {
		attrs.MustAdd(message.MED(sr.MED))
	}
	if sr.LocalPref != 0 {
		attrs.MustAdd(message.LocalPref(sr.LocalPref))
	}

	if len(sr.Communities) > 0 {
		var comms message.Communities
		for _, s := range sr.Communities {
			c, err := message.ParseCommunity(s)
			if err != nil {
				return nil, err
			}
			comms = append(comms, c)
		}
		attrs.MustAdd(comms)
	}

	var nexthop netip.Addr
	if sr.NextHop != "" {
		if nexthop, err = netip.ParseAddr(sr.NextHop); err != nil {
			return nil, err
		}
	}

	return rib.New(nlri, attrs, nexthop), nil
}

// Start launches the peer's goroutine.
func (p *Peer) Start() { go p.run() }

// Accept hands an inbound TCP connection from the listener to this
// peer - collision resolution happens inside the session.
func (p *Peer) Accept(conn net.Conn) {
	select {
	case p.incoming <- conn:
	default:
		conn.Close() // one pending inbound connection is plenty
	}
}

func (p *Peer) Name() string           { return p.name }
func (p *Peer) Config() config.Neighbor { return p.conf }

// Add queues an announcement.
func (p *Peer) Add(r *rib.Route, force bool) { p.cmds <- command{op: opAdd, route: r, force: force} }

// Del queues a withdrawal.
func (p *Peer) Del(n message.NLRI) { p.cmds <- command{op: opDel, nlri: n} }

// Resend replays our cached routes to the peer (CLI announce eor /
// flush handling is separate).
func (p *Peer) Resend(f *message.Family) { p.cmds <- command{op: opResend, family: f} }

// AskRefresh sends a ROUTE-REFRESH request to the peer.
func (p *Peer) AskRefresh(f message.Family) { p.cmds <- command{op: opAskRefresh, family: &f} }

// EOR emits an explicit End-of-RIB for a family.
func (p *Peer) EOR(f message.Family) { p.cmds <- command{op: opEOR, family: &f} }

// Operational sends an operational message.
func (p *Peer) Operational(o *message.Operational) {
	p.cmds <- command{op: opOperational, operational: o}
}

// Teardown closes the current session with the given notification; the
// peer reconnects after backoff.
func (p *Peer) Teardown(n *message.Notification) { p.cmds <- command{op: opTeardown, notify: n} }

// Stop closes the session and terminates the peer permanently.
func (p *Peer) Stop(n *message.Notification) { p.cmds <- command{op: opStop, notify: n} }

// FlushOut forces re-announcement of the full adj-rib-out.
func (p *Peer) FlushOut() { p.cmds <- command{op: opFlushOut} }

// ClearIn drops the adj-rib-in.
func (p *Peer) ClearIn() { p.cmds <- command{op: opClearIn} }

// RIBs snapshots both RIBs for the CLI.
func (p *Peer) RIBs() (in, out []*rib.Route) {
	reply := make(chan query, 1)
	p.cmds <- command{op: opQuery, reply: reply}
	q := <-reply
	return q.in, q.out
}

// Status returns the current session snapshot.
func (p *Peer) Status() Status {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	s := p.status
	s.Duration = time.Since(s.When) / time.Second
	return s
}

func (p *Peer) Negotiated() *message.Negotiated {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.neg
}

func (p *Peer) event(e Event) {
	e.Neighbor = p.conf.PeerAddress
	select {
	case p.events <- e:
	default:
		log.WithFields(log.Fields{"Topic": "Peer", "Key": p.name}).Warn("event channel full, dropping")
	}
}

func (p *Peer) state(state string) {
	p.mutex.Lock()
	p.status.State = state
	p.status.When = time.Now().Round(time.Second)
	p.mutex.Unlock()
	p.event(Event{Type: "state", State: state})
}

func (p *Peer) setError(e string) {
	p.mutex.Lock()
	p.status.LastError = e
	p.mutex.Unlock()
}

// run is the outer reconnect loop - one try() per connection lifetime,
// exponential backoff between failures, reset on a successful session.
func (p *Peer) run() {
	backoff := backoffInitial

	// passive peers never dial - the timer stays unarmed
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	if !p.conf.Passive {
		timer.Reset(time.Millisecond)
	}

	for {
		select {
		case <-timer.C:
			if p.tick(nil) {
				return
			}
			backoff = p.reset(timer, backoff)

		case conn := <-p.incoming:
			timer.Stop()
			if p.tick(conn) {
				return
			}
			backoff = p.reset(timer, backoff)

		case cmd, ok := <-p.cmds:
			if !ok {
				return
			}
			if stop := p.apply(cmd, nil); stop {
				return
			}
		}
	}
}

func (p *Peer) reset(timer *time.Timer, backoff time.Duration) time.Duration {
	if p.conf.Passive {
		return backoffInitial
	}

	p.mutex.Lock()
	established := p.status.Established > 0 && p.status.State == IDLE && p.status.LastError == ""
	p.mutex.Unlock()

	next := backoff * 2
	if next > backoffCap {
		next = backoffCap
	}
	if established {
		next = backoffInitial
	}

	timer.Reset(backoff)
	return next
}

// tick runs one session attempt; returns true when the peer should
// terminate for good.
func (p *Peer) tick(accepted net.Conn) bool {
	wasEstablished, stop, n, received := p.try(accepted)

	var e string
	if received {
		e = fmt.Sprintf("received %s", n)
	} else if n != nil {
		e = fmt.Sprintf("sent %s", n)
	}

	if wasEstablished {
		p.mutex.Lock()
		p.status.LastError = ""
		p.mutex.Unlock()
	}
	if e != "" {
		p.setError(e)
		log.WithFields(log.Fields{"Topic": "Peer", "Key": p.name, "Reason": e}).Info("session closed")
	}

	p.clearNeg()
	p.state(IDLE)

	return stop
}

func (p *Peer) setNeg(neg *message.Negotiated) {
	p.mutex.Lock()
	p.neg = neg
	p.status.HoldTime = neg.HoldTime
	p.status.LocalASN = neg.LocalAS
	p.status.RemoteASN = neg.PeerAS
	p.mutex.Unlock()
}

func (p *Peer) clearNeg() {
	p.mutex.Lock()
	p.neg = nil
	p.mutex.Unlock()
}

func (p *Peer) capabilities() message.Capabilities {
	caps := message.Capabilities{
		Families:        p.conf.MessageFamilies(),
		RouteRefresh:    p.conf.RouteRefresh,
		EnhancedRefresh: p.conf.EnhancedRefresh,
		ExtendedMessage: p.conf.ExtendedMessage,
		Operational:     p.conf.Operational,
	}

	if p.conf.EnhancedRefresh {
		caps.RouteRefresh = true
	}

	for _, f := range caps.Families {
		if mode := p.conf.AddPathMode(f); mode != 0 {
			if caps.AddPath == nil {
				caps.AddPath = map[message.Family]uint8{}
			}
			caps.AddPath[f] = mode
		}
	}

	if p.conf.GracefulRestart != nil {
		gr := &message.GracefulRestart{Time: *p.conf.GracefulRestart, Families: map[message.Family]uint8{}}
		for _, f := range caps.Families {
			gr.Families[f] = 0
		}
		caps.GracefulRestart = gr
	}

	if p.conf.MultiSession {
		caps.HasMultiSession = true
		caps.MultiSession = []byte{message.CAP_MULTIPROTOCOL}
	}

	if p.conf.HostName != "" {
		caps.FQDN = &message.FQDN{Host: p.conf.HostName, Domain: p.conf.DomainName}
	}

	return caps
}

func (p *Peer) routerID() [4]byte {
	if a, err := netip.ParseAddr(p.conf.RouterID); err == nil && a.Is4() {
		return a.As4()
	}
	return [4]byte{}
}

func localAddr(s string) netip.Addr {
	a, _ := netip.ParseAddr(s)
	return a
}

// try is one connection lifetime: dial or adopt, exchange OPENs, then
// the established select loop. Returns whether the session reached
// Established, whether the peer should stop for good, the terminating
// notification and its direction.
func (p *Peer) try(accepted net.Conn) (wasEstablished, stop bool, note *message.Notification, received bool) {

	p.mutex.Lock()
	p.status.Attempts++
	p.mutex.Unlock()

	var conn *connection

	if accepted != nil {
		conn = newConnection(accepted)
	} else {
		p.state(CONNECT)
		endpoint := net.JoinHostPort(p.conf.PeerAddress, fmt.Sprintf("%d", p.conf.Port))
		c, err := dial(localAddr(p.conf.LocalAddress), endpoint, p.conf.MD5)
		if err != nil {
			p.setError(err.Error())
			return false, false, nil, false
		}
		conn = c
	}

	defer conn.close()

	// the adj-rib-in ends with the session, unless graceful restart
	// has marked it stale for the peer's End-of-RIB to scrub
	stale := false
	defer func() {
		if !stale {
			p.in.Clear()
		}
	}()

	p.mutex.Lock()
	p.status.Connections++
	if l, ok := conn.local(); ok {
		p.status.LocalIP = l.String()
	}
	p.mutex.Unlock()

	holdtime := p.conf.HoldTime

	sent := message.NewOpen(p.conf.LocalAS, holdtime, p.routerID(), p.capabilities())
	conn.queue(sent)
	p.state(OPEN_SENT)

	notify := func(n *message.Notification) (bool, bool, *message.Notification, bool) {
		conn.queue(n)
		p.event(Event{Type: "notification", Notification: n, Sent: true})
		return wasEstablished, false, n, false
	}

	hold := time.NewTimer(time.Duration(holdtime) * time.Second)
	defer hold.Stop()

	keepalive := time.NewTicker(time.Hour) // re-armed at negotiation
	defer keepalive.Stop()

	var neg *message.Negotiated
	var recv *message.OpenMsg
	var pending net.Conn // inbound connection buffered during collision

	defer func() {
		if pending != nil {
			pending.Close()
		}
	}()

	state := func() string {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		return p.status.State
	}

	fsmSub := func() uint8 {
		// RFC 6608 subcodes by state
		switch state() {
		case OPEN_SENT:
			return 1
		case OPEN_CONFIRM:
			return 2
		}
		return 3
	}

	pump := func() {
		if state() != ESTABLISHED {
			return
		}
		var advertised, withdrawn uint64
		for {
			m := p.out.NextMessage(neg)
			if m == nil {
				break
			}
			if u, ok := m.(*message.UpdateMsg); ok {
				advertised += uint64(len(u.NLRIs))
				withdrawn += uint64(len(u.Withdrawn))
				if mp, ok := u.Attributes[message.MP_REACH_NLRI].(*message.MPReach); ok {
					advertised += uint64(len(mp.NLRIs))
				}
				if mp, ok := u.Attributes[message.MP_UNREACH_NLRI].(*message.MPUnreach); ok {
					withdrawn += uint64(len(mp.NLRIs))
				}
			}
			conn.queue(m)
		}
		p.mutex.Lock()
		p.status.Advertised += advertised
		p.status.Withdrawn += withdrawn
		p.status.Prefixes = len(p.out.Cached(nil))
		p.mutex.Unlock()
	}

	established := func() {
		p.mutex.Lock()
		p.status.Established++
		p.status.LastError = ""
		p.mutex.Unlock()

		wasEstablished = true
		p.state(ESTABLISHED)

		// initial table: replay everything we hold for this peer
		p.out.Resend(false, nil)
		if p.conf.GracefulRestart != nil {
			p.out.ScheduleEOR(neg.Families)
		}
		pump()
	}

	for {
		select {
		case m, ok := <-conn.C:

			if !ok {
				p.setError(conn.Error)
				if neg != nil && p.conf.GracefulRestart != nil {
					for _, f := range neg.Families {
						p.in.MarkStale(f)
					}
					stale = true
				}
				return wasEstablished, false, nil, false
			}

			if m.notify != nil {
				return notify(m.notify)
			}

			hold.Reset(holdDuration(neg, holdtime))

			switch m.mtype {
			case message.M_OPEN:
				if state() != OPEN_SENT {
					return notify(&message.Notification{Code: message.FSM_ERROR, Sub: fsmSub()})
				}

				o, err := message.DecodeOpen(m.body)
				if err != nil {
					return notify(err.(*message.Notification))
				}

				recv = o
				p.event(Event{Type: "open", Open: o})

				n, err := message.Negotiate(sent, recv, p.conf.PeerAS)
				if err != nil {
					return notify(err.(*message.Notification))
				}

				neg = n
				conn.negotiated(neg)
				p.setNeg(neg)

				// resolve a buffered collision now the peer id is known:
				// the side with the higher BGP identifier keeps its
				// initiated connection
				if pending != nil {
					if compareID(neg.LocalID, neg.PeerID) < 0 && accepted == nil {
						cease := &message.Notification{Code: message.CEASE, Sub: message.CONNECTION_COLLISION_RESOLUTION}
						conn.queue(cease)
						p.Accept(pending)
						pending = nil
						return wasEstablished, false, cease, false
					}
					pending.Close()
					pending = nil
				}

				holdtime = neg.HoldTime
				hold.Reset(holdDuration(neg, holdtime))
				if neg.Keepalive > 0 {
					keepalive.Reset(time.Duration(neg.Keepalive) * time.Second)
				}

				conn.queue(message.Keepalive())
				p.state(OPEN_CONFIRM)

			case message.M_KEEPALIVE:
				switch state() {
				case OPEN_CONFIRM:
					established()
				case ESTABLISHED:
					p.event(Event{Type: "keepalive"})
				default:
					return notify(&message.Notification{Code: message.FSM_ERROR, Sub: fsmSub()})
				}

			case message.M_UPDATE:
				if state() != ESTABLISHED {
					return notify(&message.Notification{Code: message.FSM_ERROR, Sub: fsmSub()})
				}

				u, withdrawnOnly, err := message.DecodeUpdate(m.body, neg)
				if err != nil {
					return notify(err.(*message.Notification))
				}

				p.update(u, withdrawnOnly, neg)

			case message.M_NOTIFICATION:
				n, err := message.DecodeNotification(m.body)
				if err != nil {
					return notify(err.(*message.Notification))
				}
				p.event(Event{Type: "notification", Notification: n})
				return wasEstablished, false, n, true

			case message.M_REFRESH:
				if state() != ESTABLISHED {
					return notify(&message.Notification{Code: message.FSM_ERROR, Sub: fsmSub()})
				}

				r, err := message.DecodeRefresh(m.body)
				if err != nil {
					return notify(err.(*message.Notification))
				}

				p.event(Event{Type: "refresh", Refresh: r})

				if r.Reserved == message.REFRESH_REQUEST {
					p.out.Resend(neg.Refresh == message.REFRESH_ENHANCED, &r.Fam)
					pump()
				}

			case message.M_OPERATIONAL:
				if state() != ESTABLISHED {
					return notify(&message.Notification{Code: message.FSM_ERROR, Sub: fsmSub()})
				}

				o, err := message.DecodeOperational(m.body)
				if err != nil {
					return notify(err.(*message.Notification))
				}

				p.event(Event{Type: "operational", Operational: o})
				p.answer(o, conn)
			}

		case cmd, ok := <-p.cmds:
			if !ok {
				conn.queue(message.Shutdown("shutting down"))
				return wasEstablished, true, nil, false
			}

			if cmd.op == opTeardown || cmd.op == opStop {
				n := cmd.notify
				if n == nil {
					n = &message.Notification{Code: message.CEASE, Sub: message.ADMINISTRATIVE_SHUTDOWN}
				}
				conn.queue(n)
				p.event(Event{Type: "notification", Notification: n, Sent: true})
				return wasEstablished, cmd.op == opStop, n, false
			}

			p.apply(cmd, conn)
			pump()

		case conn2 := <-p.incoming:
			// connection collision (RFC 4271 6.8): the side with the
			// higher BGP identifier keeps its initiated connection
			switch state() {
			case ESTABLISHED:
				reject := newConnection(conn2)
				reject.queue(&message.Notification{Code: message.CEASE, Sub: message.CONNECTION_COLLISION_RESOLUTION})
				reject.close()

			case OPEN_SENT:
				// peer id unknown - buffer briefly, resolved on OPEN
				if pending != nil {
					pending.Close()
				}
				pending = conn2

			default:
				if neg != nil && compareID(neg.LocalID, neg.PeerID) < 0 && accepted == nil {
					// our initiated connection loses - drop it and start
					// over on the inbound one
					n := &message.Notification{Code: message.CEASE, Sub: message.CONNECTION_COLLISION_RESOLUTION}
					conn.queue(n)
					p.Accept(conn2)
					return wasEstablished, false, n, false
				}
				reject := newConnection(conn2)
				reject.queue(&message.Notification{Code: message.CEASE, Sub: message.CONNECTION_COLLISION_RESOLUTION})
				reject.close()
			}

		case <-keepalive.C:
			if state() == ESTABLISHED || state() == OPEN_CONFIRM {
				// coalesce - skip when something else went out recently
				if neg != nil && conn.idle() < time.Duration(neg.Keepalive)*time.Second/2 {
					continue
				}
				conn.queue(message.Keepalive())
			}

		case <-hold.C:
			return notify(&message.Notification{Code: message.HOLD_TIMER_EXPIRED, Sub: 0})
		}
	}
}

func holdDuration(neg *message.Negotiated, fallback uint16) time.Duration {
	ht := fallback
	if neg != nil {
		ht = neg.HoldTime
	}
	if ht == 0 {
		return time.Duration(1<<62 - 1) // timer disabled
	}
	return time.Duration(ht) * time.Second
}

func compareID(a, b [4]byte) int {
	x := ntohl4(a)
	y := ntohl4(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func ntohl4(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// apply runs a command against the RIBs. conn may be nil (idle state).
func (p *Peer) apply(cmd command, conn *connection) (stop bool) {
	neg := p.Negotiated()

	switch cmd.op {
	case opAdd:
		r := cmd.route
		if p.store != nil {
			r = p.store.Intern(r, nil)
		}
		p.out.Add(r, cmd.force, neg)

	case opDel:
		p.out.Del(cmd.nlri)

	case opResend, opFlushOut:
		enhanced := neg != nil && neg.Refresh == message.REFRESH_ENHANCED
		p.out.Resend(enhanced && cmd.op == opResend, cmd.family)

	case opAskRefresh:
		if conn != nil && cmd.family != nil {
			conn.queue(&message.RouteRefresh{Fam: *cmd.family, Reserved: message.REFRESH_REQUEST})
		}

	case opEOR:
		if conn != nil && cmd.family != nil {
			conn.queue(message.EOR(*cmd.family))
		}

	case opOperational:
		if conn != nil && cmd.operational != nil {
			conn.queue(cmd.operational)
		}

	case opClearIn:
		p.in.Clear()

	case opQuery:
		cmd.reply <- query{in: p.in.Routes(nil), out: p.out.Cached(nil)}

	case opStop:
		return true
	}

	return false
}

// update digests a received UPDATE: the adj-rib-in cache is refreshed
// and the parsed message handed to the API channel.
func (p *Peer) update(u *message.UpdateMsg, withdrawnOnly bool, neg *message.Negotiated) {
	if fam, eor := u.IsEOR(); eor {
		p.in.EOR(fam)
		p.event(Event{Type: "update", Update: u})
		return
	}

	if path, ok := u.Attributes[message.AS_PATH].(*message.ASPath); ok && neg != nil {
		if !neg.Internal() && path.Contains(neg.LocalAS) {
			log.WithFields(log.Fields{"Topic": "Peer", "Key": p.name}).Warn("as path loop detected")
		}
	}

	for _, n := range u.Unreachable() {
		p.in.Withdraw(n)
	}

	if !withdrawnOnly {
		for _, a := range u.Reachable() {
			nexthop, _ := netip.ParseAddr(a.NextHop)
			attrs := message.Attributes{}
			for c, attr := range u.Attributes {
				if c != message.MP_REACH_NLRI && c != message.MP_UNREACH_NLRI && c != message.NEXT_HOP {
					attrs[c] = attr
				}
			}
			p.in.Update(rib.New(a.NLRI, attrs, nexthop))
		}
	} else {
		// RFC 7606 treat-as-withdraw: scrub what the peer tried to announce
		for _, n := range u.NLRIs {
			p.in.Withdraw(n)
		}
	}

	p.event(Event{Type: "update", Update: u, WithdrawnOnly: withdrawnOnly})
}

// answer responds to operational counter queries.
func (p *Peer) answer(o *message.Operational, conn *connection) {
	switch o.What {
	case message.OPERATIONAL_RPCQ:
		conn.queue(o.Reply(p.in.Count(o.Fam)))
	case message.OPERATIONAL_APCQ:
		conn.queue(o.Reply(p.out.CachedCount(o.Fam)))
	case message.OPERATIONAL_LPCQ:
		// no loc-rib in this speaker - the count is always zero
		conn.queue(o.Reply(0))
	}
}
