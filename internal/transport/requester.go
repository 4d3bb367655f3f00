// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Dial is the client-requester half of spec.md §4.1: it connects out
// to an upstream address and returns a Conn wired the same way an
// accepted connection is, so the processor cannot tell the two apart.
// name should be the upstream's configured node name (spec.md §3's
// net_conn_index entries are looked up by name, not address).
func Dial(ctx context.Context, name, address string, bufSize int, events chan<- Event) (*Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s (%s): %w", name, address, err)
	}
	conn := newConn(name, nc, bufSize)
	go readLoop(conn, events)
	return conn, nil
}
