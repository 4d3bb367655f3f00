// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package processor

import (
	"time"

	"github.com/nishisan-dev/packetfw/internal/body"
	"github.com/nishisan-dev/packetfw/internal/connindex"
	"github.com/nishisan-dev/packetfw/internal/wire"
)

// ErrcodeIdentityConflict is returned in an identity-response's
// error_code when the claimed server_name is already bound to a live
// connection (spec.md §4.5.1's "diagnose_connection").
const ErrcodeIdentityConflict uint32 = 1

// diagnose implements the built-in connection-diagnosis commands of
// spec.md §4.5.1: heartbeat and identity exchange bypass the handler
// registry entirely, so they work on a connection that has not yet
// validated and cannot be shadowed by an application-registered
// handler. used is false for any other command, in which case the
// caller falls through to the ordinary registry lookup.
func (p *Processor) diagnose(conn Conn, hdr wire.Header, bodyBytes []byte, now time.Time) (resp []byte, status Status, used bool) {
	switch hdr.Command {
	case wire.CmdHeartbeatRequest:
		conn.Touch(now)
		return p.buildHeartbeatResponse(bodyBytes, hdr.RouteID), OK, true

	case wire.CmdHeartbeatResponse:
		conn.Touch(now)
		p.recordPeerLoad(conn, bodyBytes)
		return nil, OK, true

	case wire.CmdIdentityRequest:
		return p.handleIdentityRequest(conn, hdr, bodyBytes, now), OK, true

	case wire.CmdIdentityResponse:
		conn.SetValidated(true)
		conn.Touch(now)
		return nil, OK, true

	default:
		return nil, OK, false
	}
}

func (p *Processor) handleIdentityRequest(conn Conn, hdr wire.Header, bodyBytes []byte, now time.Time) []byte {
	parsed, err := p.Codec.Parse(bodyBytes)
	if err != nil {
		return p.buildDiagnosisResponse(bodyBytes, hdr.RouteID, wire.CmdIdentityResponse, wire.RetcodeParse)
	}

	serverName := parsed.ServerName()
	serverType := parsed.ServerType()
	conn.SetPeerName(serverName)
	conn.Touch(now)

	if p.Identity != nil && serverName != "" {
		if existing, found := p.Identity.Find(serverName); found && existing.HasConn && existing.ConnName != conn.Name() {
			return p.buildDiagnosisResponse(bodyBytes, hdr.RouteID, wire.CmdIdentityResponse, ErrcodeIdentityConflict)
		}
		if _, found := p.Identity.Find(serverName); !found {
			_ = p.Identity.Add(&connindex.Entry{
				Name:       serverName,
				ServerType: serverType,
				FD:         conn.FD(),
				HasConn:    true,
				ConnName:   conn.Name(),
				Attributes: connindex.Attributes{IsPrimary: true},
			})
		} else {
			p.Identity.SetConn(serverName, conn.FD(), conn.Name())
		}
	}

	conn.SetValidated(true)
	return p.buildDiagnosisResponse(bodyBytes, hdr.RouteID, wire.CmdIdentityResponse, wire.RetcodeSuccess)
}

// buildDiagnosisResponse echoes the requester's session_id (if any)
// back in an otherwise-empty body, per spec.md §4.5.1.
func (p *Processor) buildDiagnosisResponse(requestBody []byte, routeID uint64, cmd, retcode uint32) []byte {
	parsed, err := p.Codec.Parse(requestBody)
	out := p.Codec.New()
	if err == nil {
		if sid := parsed.SessionID(); sid != "" {
			out.Set("session_id", sid)
		}
	}
	return p.assembleDiagnosisResponse(out, routeID, cmd, retcode)
}

// buildHeartbeatResponse is buildDiagnosisResponse plus a "load" field
// carrying the local host's current load sample (spec.md §9's
// least_load Open Question), so the requester's recordPeerLoad has
// something to read on the other end. Attached only when a
// LoadSampler is configured.
func (p *Processor) buildHeartbeatResponse(requestBody []byte, routeID uint64) []byte {
	parsed, err := p.Codec.Parse(requestBody)
	out := p.Codec.New()
	if err == nil {
		if sid := parsed.SessionID(); sid != "" {
			out.Set("session_id", sid)
		}
	}
	if p.LoadSampler != nil {
		out.Set("load", p.LoadSampler.Current())
	}
	return p.assembleDiagnosisResponse(out, routeID, wire.CmdHeartbeatResponse, wire.RetcodeSuccess)
}

// recordPeerLoad extracts the "load" field a heartbeat-response body
// carries, if any, and records it against the responding peer's
// connindex entry so the LeastLoad dispatch policy can see it. The
// peer is looked up by PeerName() (set once identity exchange
// validates an inbound connection) or, for a connection this node
// dialed itself, by Name() (the configured upstream name, which is
// also the connindex key seedNodeIndex used to seed the entry).
func (p *Processor) recordPeerLoad(conn Conn, bodyBytes []byte) {
	if p.Identity == nil {
		return
	}
	parsed, err := p.Codec.Parse(bodyBytes)
	if err != nil {
		return
	}
	v, ok := parsed.Get("load")
	if !ok {
		return
	}
	load, ok := v.(float64)
	if !ok {
		return
	}
	name := conn.PeerName()
	if name == "" {
		name = conn.Name()
	}
	p.Identity.SetLoad(name, load)
}

func (p *Processor) assembleDiagnosisResponse(out body.Handle, routeID uint64, cmd, retcode uint32) []byte {
	buf := make([]byte, wire.HeaderSize+256)
	n, err := p.Codec.Serialize(out, buf[wire.HeaderSize:])
	if err != nil {
		n = 0
	}

	hdr := wire.Header{
		Length:       uint32(wire.HeaderSize + n),
		RouteID:      routeID,
		Command:      cmd,
		PacketNumber: 1,
		ErrorCode:    retcode,
	}
	hdr.SetEnd(true)
	_ = wire.AssembleHeader(hdr, buf)
	return buf[:wire.HeaderSize+n]
}
