// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"net"
	"time"
)

// Event is what a Conn's reader goroutine posts to the shared channel
// the loop goroutine drains (SPEC_FULL.md §5). Data is a fresh copy,
// safe for the loop goroutine to retain or copy into Conn.RecvBuf()
// without racing the reader goroutine's next read.
type Event struct {
	Conn *Conn
	Data []byte
	Err  error // non-nil means the connection's reader goroutine has exited
}

// readDeadline bounds each individual Read call so the reader
// goroutine can periodically notice a closed Conn even when the peer
// sends nothing; it is not a request timeout.
const readDeadline = 200 * time.Millisecond

// readLoop is the per-connection reader goroutine. It runs until the
// socket errors (including a deadline-driven check of c.Closed()) and
// is the only goroutine that ever calls c.netConn.Read.
func readLoop(c *Conn, events chan<- Event) {
	buf := make([]byte, 64*1024)
	for {
		if c.Closed() {
			return
		}
		c.netConn.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := c.netConn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			events <- Event{Conn: c, Data: data}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			events <- Event{Conn: c, Err: err}
			return
		}
	}
}
