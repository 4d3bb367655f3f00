// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package processor implements the packet-processing pipeline of
// spec.md §4.5, the core of the framework: one call to Process
// advances a connection's recv buffer by at most one packet, runs it
// through header validation, command dispatch, optional reassembly,
// the handler's business logic, and optional response assembly.
// Grounded on original_source/.../packet_processor.h/.cpp
// (single_operator_general_flow, dispacher_general_flow,
// diagnose_connection).
package processor

import (
	"log/slog"
	"time"

	"github.com/nishisan-dev/packetfw/internal/body"
	"github.com/nishisan-dev/packetfw/internal/connindex"
	"github.com/nishisan-dev/packetfw/internal/reassembly"
	"github.com/nishisan-dev/packetfw/internal/registry"
	"github.com/nishisan-dev/packetfw/internal/wire"
)

// DefaultIncompletePacketTimeout is how long a header-only or
// partial-body packet may sit in a recv buffer before the connection
// is judged stalled (spec.md §6's incomplete-packet-timeout, default).
const DefaultIncompletePacketTimeout = 5 * time.Second

// Processor runs the pipeline of spec.md §4.5 against one connection
// at a time. It holds no per-connection state of its own (that lives
// on the Conn and in Reassembly/Sessions); a single Processor is
// shared by every connection the loop goroutine services, mirroring
// the single-threaded, single-owner model of spec.md §5.
type Processor struct {
	Registry   *registry.Registry
	Codec      body.Codec
	Reassembly *reassembly.Cache
	Sessions   SessionStore
	Identity   *connindex.Cache // primary cache; identity exchange inserts here
	Resolver   Resolver

	// LoadSampler, if set, supplies the local host's load signal
	// attached to every outbound heartbeat-response (spec.md §9's
	// least_load Open Question; internal/loadsignal.Sampler
	// implements this). Nil means no load field is attached.
	LoadSampler LoadProvider

	// Logger receives the pipeline's own diagnostics (currently just a
	// failed business call). Nil means slog.Default().
	Logger *slog.Logger

	IncompletePacketTimeout time.Duration

	incompleteSince map[string]time.Time
}

// LoadProvider is the minimal capability internal/loadsignal.Sampler
// exposes to the processor.
type LoadProvider interface {
	Current() float64
}

// New constructs a Processor. sessions may be nil, in which case a
// default in-memory SessionStore is used.
func New(reg *registry.Registry, codec body.Codec, reassemblyCache *reassembly.Cache, identity *connindex.Cache, sessions SessionStore) *Processor {
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}
	return &Processor{
		Registry:                reg,
		Codec:                   codec,
		Reassembly:              reassemblyCache,
		Sessions:                sessions,
		Identity:                identity,
		IncompletePacketTimeout: DefaultIncompletePacketTimeout,
		incompleteSince:         make(map[string]time.Time),
	}
}

// Process advances conn's recv buffer by at most one packet. handled
// is the number of bytes consumed from conn.RecvBuf(); outConn is the
// connection a response was written to (nil if none); output is the
// number of bytes written to outConn.SendBuf(). now drives timeouts
// and LastOpTime bookkeeping and should be the caller's single
// per-iteration clock read, not a fresh time.Now() per packet.
func (p *Processor) Process(conn Conn, now time.Time) (handled int, outConn Conn, output int, status Status) {
	recv := conn.RecvBuf()
	defer func() {
		if handled > 0 {
			recv.AdvanceRead(handled)
		}
	}()

	data := recv.GetReadSlice()

	if len(data) < wire.HeaderSize {
		return 0, nil, 0, NeedMore
	}

	hdr, err := wire.ParseHeader(data)
	if err != nil {
		// Unreachable given the length check above, but keep the
		// pipeline total: treat as needing more data rather than
		// panicking on a library contract violation.
		return 0, nil, 0, NeedMore
	}

	if int(hdr.Length) > recv.Capacity() {
		discarded := recv.DataSize()
		recv.Reset()
		delete(p.incompleteSince, conn.Name())
		return discarded, nil, 0, LengthTooBig
	}

	if recv.DataSize() < int(hdr.Length) {
		since, waiting := p.incompleteSince[conn.Name()]
		if !waiting {
			p.incompleteSince[conn.Name()] = now
			return 0, nil, 0, NeedMore
		}
		if now.Sub(since) > p.timeout() {
			discarded := recv.DataSize()
			recv.Reset()
			delete(p.incompleteSince, conn.Name())
			return discarded, nil, 0, Timeout
		}
		return 0, nil, 0, NeedMore
	}
	delete(p.incompleteSince, conn.Name())

	packet := data[:hdr.Length]
	bodyBytes := packet[wire.HeaderSize:]

	if resp, status, used := p.diagnose(conn, hdr, bodyBytes, now); used {
		return p.finishBuiltin(conn, int(hdr.Length), resp, status)
	}

	handler, known := p.Registry.Lookup(hdr.Command)
	if !known {
		return int(hdr.Length), nil, 0, UnknownCommand
	}

	if !conn.IsValidated() {
		return int(hdr.Length), nil, 0, NotValidated
	}

	parsed, err := p.Codec.Parse(bodyBytes)
	if err != nil {
		return int(hdr.Length), nil, 0, BodyParseError
	}

	if err := hdr.ValidateFragment(); err != nil {
		// packet_number 0 is reserved (spec.md §8): a multi-fragment
		// handler treats it as an out-of-order fragment, a
		// single-fragment handler as a malformed body.
		if handler.MultiFragment {
			return int(hdr.Length), nil, 0, OutOfOrderFragment
		}
		return int(hdr.Length), nil, 0, BodyParseError
	}

	sessionID := parsed.SessionID()

	if handler.FiltersRepeatedSession && sessionID != "" {
		if cached, hit := p.Sessions.Get(sessionID); hit {
			if hdr.IsRequest() {
				n := copy(conn.SendBuf().GetWriteSlice(), cached)
				conn.SendBuf().AdvanceWrite(n)
				return int(hdr.Length), conn, n, OK
			}
			// A response for a session id already in the dedupe cache
			// is itself a duplicate; discard it without further
			// processing (spec.md §4.5 step 6).
			return int(hdr.Length), nil, 0, OK
		}
	}

	whole := parsed
	haveWhole := true
	if handler.MultiFragment {
		whole, haveWhole, status = p.group(handler, hdr, parsed, now)
		if status != OK {
			return int(hdr.Length), nil, 0, status
		}
	}
	if !haveWhole {
		// Non-terminal fragment: stored for later, nothing to run yet.
		return int(hdr.Length), nil, 0, OK
	}

	if handler.Validate != nil {
		if err := handler.Validate(whole); err != nil {
			return int(hdr.Length), nil, 0, BodyParseError
		}
	}

	outBody := p.Codec.New()
	if handler.Allocate != nil {
		outBody = handler.Allocate(p.Codec)
	}

	businessOutConn, retcode, bizErr := handler.Business(conn, whole, outBody)
	if bizErr != nil {
		p.logger().Error("business handler failed", "command", hdr.Command, "conn", conn.Name(), "error", bizErr)
	}
	resolved := p.resolve(conn, businessOutConn)

	if retcode == wire.RetcodeSuccess {
		if handler.Commit != nil {
			handler.Commit(whole, outBody)
		}
	} else if handler.Rollback != nil {
		handler.Rollback(whole, outBody)
	}

	out := 0
	if handler.AssembleOutput != nil {
		if err := handler.AssembleOutput(outBody); err == nil {
			out = p.writeResponse(resolved, hdr, handler.OutCmd, retcode, outBody)
		}
	}

	if handler.FiltersRepeatedSession && out > 0 && sessionID != "" {
		p.Sessions.Put(sessionID, resolved.SendBuf().GetReadSlice()[resolved.SendBuf().DataSize()-out:])
	}

	if handler.MultiFragment && hdr.IsEnd() && sessionID != "" {
		p.Reassembly.Evict(sessionID)
	}

	if out > 0 {
		return int(hdr.Length), resolved, out, OK
	}
	return int(hdr.Length), nil, 0, OK
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Processor) timeout() time.Duration {
	if p.IncompletePacketTimeout > 0 {
		return p.IncompletePacketTimeout
	}
	return DefaultIncompletePacketTimeout
}

// group implements spec.md §4.5 step 7. It returns the assembled whole
// body and true once the end-flag fragment has been folded in; until
// then it returns (nil, false, OK) so the caller stops without running
// the business call yet.
func (p *Processor) group(h *registry.Handler, hdr wire.Header, partial body.Handle, now time.Time) (body.Handle, bool, Status) {
	sessionID := partial.SessionID()

	if hdr.PacketNumber == 1 && hdr.IsEnd() {
		// Single-fragment message riding a MultiFragment handler: never
		// touches the reassembly cache.
		return partial, true, OK
	}

	entry, exists := p.Reassembly.Get(sessionID)
	if !exists {
		if hdr.PacketNumber != 1 {
			return nil, false, OutOfOrderFragment
		}
		entry = &reassembly.Entry{
			SessionID:   sessionID,
			SourceCmd:   hdr.Command,
			Whole:       p.Codec.New(),
			SlowCommand: h.SlowCommand,
		}
		if err := p.Reassembly.Start(entry, now); err != nil {
			// Handler's own de-duplication responsibility per spec.md
			// §4.5's fragment tie-break rule: fold in rather than fail.
			entry, _ = p.Reassembly.Get(sessionID)
		}
	}

	h.GroupFragments(entry.Whole, partial)
	p.Reassembly.Touch(sessionID, now)

	if !hdr.IsEnd() {
		return nil, false, OK
	}
	return entry.Whole, true, OK
}

func (p *Processor) resolve(in Conn, out registry.Conn) Conn {
	if out == nil || out.Name() == in.Name() {
		return in
	}
	if p.Resolver != nil {
		if c, ok := p.Resolver.FindConn(out.Name()); ok {
			return c
		}
	}
	return in
}

func (p *Processor) writeResponse(dst Conn, reqHdr wire.Header, outCmd, retcode uint32, outBody body.Handle) int {
	send := dst.SendBuf()
	slice := send.GetWriteSlice()
	if len(slice) < wire.HeaderSize {
		return 0
	}

	n, err := p.Codec.Serialize(outBody, slice[wire.HeaderSize:])
	if err != nil {
		return 0
	}

	respHdr := wire.Header{
		Length:       uint32(wire.HeaderSize + n),
		RouteID:      reqHdr.RouteID,
		Command:      outCmd,
		PacketNumber: 1,
		ErrorCode:    retcode,
	}
	respHdr.SetEnd(true)
	if err := wire.AssembleHeader(respHdr, slice); err != nil {
		return 0
	}

	total := wire.HeaderSize + n
	send.AdvanceWrite(total)
	return total
}

func (p *Processor) finishBuiltin(conn Conn, handled int, resp []byte, status Status) (int, Conn, int, Status) {
	if len(resp) == 0 {
		return handled, nil, 0, status
	}
	n := copy(conn.SendBuf().GetWriteSlice(), resp)
	conn.SendBuf().AdvanceWrite(n)
	return handled, conn, n, status
}
