// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package app

import (
	"github.com/nishisan-dev/packetfw/internal/wire"
)

// buildPacket assembles a single-fragment wire packet (header + body)
// for an outbound diagnosis request the loop goroutine originates
// itself — identity and heartbeat requests, which have no inbound
// request to build a response against, unlike processor.diagnose's
// buildDiagnosisResponse.
func (a *App) buildPacket(cmd uint32, routeID uint64, fields map[string]string) []byte {
	out := a.codec.New()
	for k, v := range fields {
		out.Set(k, v)
	}

	buf := make([]byte, wire.HeaderSize+256)
	n, err := a.codec.Serialize(out, buf[wire.HeaderSize:])
	if err != nil {
		n = 0
	}

	hdr := wire.Header{
		Length:       uint32(wire.HeaderSize + n),
		RouteID:      routeID,
		Command:      cmd,
		PacketNumber: 1,
	}
	hdr.SetEnd(true)
	_ = wire.AssembleHeader(hdr, buf)
	return buf[:wire.HeaderSize+n]
}

// identityRequest builds this node's identity-exchange packet, sent
// once right after a new outbound connection is established (spec.md
// §4.5.1).
func (a *App) identityRequest() []byte {
	return a.buildPacket(wire.CmdIdentityRequest, 0, map[string]string{
		"server_name": a.cfg.Self.Name,
		"server_type": a.cfg.Self.Type,
	})
}

// heartbeatRequest builds a heartbeat packet, sent periodically to
// every live connection by the "heartbeat" scheduled task.
func (a *App) heartbeatRequest() []byte {
	return a.buildPacket(wire.CmdHeartbeatRequest, 0, nil)
}
