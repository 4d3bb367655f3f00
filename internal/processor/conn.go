// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package processor

import (
	"time"

	"github.com/nishisan-dev/packetfw/internal/registry"
	"github.com/nishisan-dev/packetfw/internal/ring"
)

// Conn is the surface the processor needs from a live connection. It
// embeds registry.Conn so a Handler's BusinessFunc, which only knows
// about the narrower interface, can still name a Conn as its outConn
// and have the processor resolve it back to this richer type (see
// Resolver). internal/transport.Conn is the concrete implementation;
// this interface lives here, not there, so internal/transport does not
// need to import internal/processor.
type Conn interface {
	registry.Conn // Name() string

	RecvBuf() *ring.Buffer
	SendBuf() *ring.Buffer

	FD() int

	IsValidated() bool
	SetValidated(bool)

	PeerName() string
	SetPeerName(string)

	LastOpTime() time.Time
	Touch(time.Time)
}

// Resolver looks up a live Conn by name, used to turn the registry.Conn
// a BusinessFunc returns (possibly naming a different connection, e.g.
// an upstream being forwarded to) back into a processor.Conn whose
// SendBuf the pipeline can write a response into.
type Resolver interface {
	FindConn(name string) (Conn, bool)
}
