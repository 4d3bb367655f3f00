// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transport implements the listener/requester and live
// connection of spec.md §4.1/§4.8: a TCP accept loop and outbound
// dialer, each live socket paired with a fixed-capacity recv/send ring
// buffer. Grounded on internal/server/server.go's accept loop
// (consecutive-error backoff, goroutine-per-connection) and
// internal/agent/ringbuffer.go's reader-goroutine idiom — generalized
// here to the "reactor over channels" shape documented in SPEC_FULL.md
// §5: a Conn's net.Conn is read only by its own goroutine, which posts
// the bytes it read onto one shared Event channel; the Conn's ring
// buffers themselves are touched only by whatever single goroutine
// drains that channel (internal/app's loop), so they carry no lock of
// their own, like internal/ring.Buffer documents.
package transport

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/packetfw/internal/ring"
)

var nextFD atomic.Int64

// Conn is one live TCP connection plus the recv/send ring buffers the
// packet processor reads and writes. Go gives no portable way to read
// a socket's raw file descriptor without dropping to syscall.RawConn,
// and the spec only ever uses fd as an opaque liveness/identity token
// (equality and non-zero-ness, never arithmetic) — so FD here is a
// per-process monotonic synthetic id assigned at Accept/Dial time, not
// the kernel fd.
type Conn struct {
	netConn net.Conn
	name    string
	fd      int

	recv *ring.Buffer
	send *ring.Buffer

	validated  bool
	peerName   string
	lastOpTime time.Time

	closed atomic.Bool
}

func newConn(name string, nc net.Conn, bufSize int) *Conn {
	return &Conn{
		netConn: nc,
		name:    name,
		fd:      int(nextFD.Add(1)),
		recv:    ring.NewBuffer(bufSize),
		send:    ring.NewBuffer(bufSize),
		// lastOpTime starts at connect time rather than the zero value,
		// so a connection with no traffic yet does not look quiet for
		// decades to the heartbeat task's LongestWaitForReply check.
		lastOpTime: time.Now(),
	}
}

func (c *Conn) Name() string          { return c.name }
func (c *Conn) RecvBuf() *ring.Buffer { return c.recv }
func (c *Conn) SendBuf() *ring.Buffer { return c.send }
func (c *Conn) FD() int               { return c.fd }

func (c *Conn) IsValidated() bool   { return c.validated }
func (c *Conn) SetValidated(v bool) { c.validated = v }

func (c *Conn) PeerName() string     { return c.peerName }
func (c *Conn) SetPeerName(n string) { c.peerName = n }

func (c *Conn) LastOpTime() time.Time { return c.lastOpTime }
func (c *Conn) Touch(t time.Time)     { c.lastOpTime = t }

// RemoteAddr exposes the underlying socket's peer address for logging.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// Flush writes everything currently buffered in SendBuf to the socket
// and advances the read cursor by what was written. internal/app calls
// it after each processed packet that wrote output to this connection,
// per spec.md §4.8's "flush" step.
func (c *Conn) Flush() error {
	data := c.send.GetReadSlice()
	if len(data) == 0 {
		return nil
	}
	n, err := c.netConn.Write(data)
	c.send.AdvanceRead(n)
	return err
}

// Send writes payload directly to the socket, bypassing SendBuf. Used
// for out-of-band sends the loop goroutine originates itself (e.g. a
// heartbeat scheduler task), as opposed to a processor-produced
// response, which always goes through SendBuf/Flush.
func (c *Conn) Send(payload []byte) (int, error) {
	return c.netConn.Write(payload)
}

// Close marks the connection closed and releases the socket. Safe to
// call more than once.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.netConn.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}
