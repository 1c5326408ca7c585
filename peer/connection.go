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
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davidcoles/speaker/message"
)

type pdu []byte

// raw is one framed message off the wire. A header level problem
// arrives as a non-nil notify - the session sends it and tears down.
type raw struct {
	mtype  uint8
	body   []byte
	notify *message.Notification
}

// connection owns one TCP stream: a reader goroutine framing inbound
// messages onto C, and a writer goroutine draining the queue. Closing
// is idempotent and safe from either side.
type connection struct {
	C     chan raw
	Error string

	closed      chan bool
	writer_exit chan bool
	reader_exit chan bool
	pending     chan bool
	conn        net.Conn
	neg         atomic.Pointer[message.Negotiated]
	mutex       sync.Mutex
	closer      sync.Once
	out         []pdu
	sent        atomic.Int64 // unix nano of last write, for keepalive coalescing
}

func newConnection(conn net.Conn) *connection {
	c := &connection{
		C:           make(chan raw),
		closed:      make(chan bool),
		writer_exit: make(chan bool),
		reader_exit: make(chan bool),
		pending:     make(chan bool, 1),
		conn:        conn,
	}

	go c.writer()
	go c.reader()

	return c
}

// dial opens the outgoing connection, optionally bound to a local
// address and protected with a TCP MD5 signature.
func dial(local netip.Addr, peer string, md5 string) (*connection, error) {
	dialer := net.Dialer{Timeout: 10 * time.Second}

	if local.IsValid() {
		dialer.LocalAddr = &net.TCPAddr{IP: local.AsSlice()}
	}

	if md5 != "" {
		dialer.Control = md5Control(md5)
	}

	conn, err := dialer.Dial("tcp", peer)
	if err != nil {
		return nil, err
	}

	return newConnection(conn), nil
}

// negotiated raises the message size limit once the capability exchange
// allows it.
func (c *connection) negotiated(neg *message.Negotiated) {
	c.neg.Store(neg)
}

func (c *connection) local() (netip.Addr, bool) {
	if a, ok := c.conn.LocalAddr().(*net.TCPAddr); ok {
		addr, ok := netip.AddrFromSlice(a.IP)
		return addr.Unmap(), ok
	}
	return netip.Addr{}, false
}

func (c *connection) remote() (netip.Addr, bool) {
	if a, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		addr, ok := netip.AddrFromSlice(a.IP)
		return addr.Unmap(), ok
	}
	return netip.Addr{}, false
}

func (c *connection) close() {
	c.closer.Do(func() { close(c.closed) })
}

// idle reports the time since the last write - the keepalive timer
// coalesces with any recent send.
func (c *connection) idle() time.Duration {
	last := c.sent.Load()
	if last == 0 {
		return time.Hour
	}
	return time.Since(time.Unix(0, last))
}

func (c *connection) shift() (pdu, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var m pdu

	if len(c.out) < 1 {
		return m, false
	}

	m = c.out[0]
	c.out = c.out[1:]

	select {
	case c.pending <- true: // more messages
	default:
	}

	return m, true
}

// queue frames and enqueues messages for the writer.
func (c *connection) queue(ms ...message.Message) {
	neg := c.neg.Load()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, m := range ms {
		c.out = append(c.out, message.Headerise(m.Type(), m.Body(neg)))
	}

	select {
	case c.pending <- true:
	default:
	}
}

func (c *connection) drain() bool {
	for {
		m, ok := c.shift()

		if !ok {
			return true
		}

		c.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))

		if _, err := c.conn.Write(m); err != nil {
			c.Error = err.Error()
			return false
		}

		c.sent.Store(time.Now().UnixNano())
	}
}

func (c *connection) writer() {
	defer close(c.writer_exit)
	defer c.conn.Close()

	for {
		// if the peer closes the connection the reader hits an error and
		// exits; if the user closes it then c.closed fires - drain what
		// we can either way

		select {
		case <-c.closed:
			c.drain()
			return
		case <-c.reader_exit:
			c.drain()
			return
		case <-c.pending:
			if !c.drain() {
				return
			}
		}
	}
}

func (c *connection) reader() {
	defer close(c.reader_exit)
	defer close(c.C)

	for {
		mtype, body, err := message.Read(c.conn, c.neg.Load())

		if err != nil {
			var m raw

			if n, ok := err.(*message.Notification); ok {
				m.notify = n
			} else {
				c.Error = err.Error()
				return
			}

			select {
			case c.C <- m:
			case <-c.closed:
			case <-c.writer_exit:
			}
			return
		}

		select {
		case c.C <- raw{mtype: mtype, body: body}:
		case <-c.closed: // user wants to close the connection
			c.Error = "Closed"
			return
		case <-c.writer_exit:
			return
		}
	}
}
