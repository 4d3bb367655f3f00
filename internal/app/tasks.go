// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package app

import (
	"context"
	"time"

	"github.com/nishisan-dev/packetfw/internal/logging"
	"github.com/nishisan-dev/packetfw/internal/scheduler"
	"github.com/nishisan-dev/packetfw/internal/transport"
)

// registerTasks wires the scheduler PERIODIC tasks every App instance
// runs: reassembly/session garbage collection (spec.md §6's
// message-clean/session-clean intervals), heartbeat (§4.5.1), CPU load
// sampling (§4.9) and log housekeeping (§4.10).
func (a *App) registerTasks(ctx context.Context) {
	now := time.Now()

	a.scheduler.Register(scheduler.NewPeriodicTask("message-clean", a.cfg.Tasks.MessageCacheGCInterval, now, func() {
		if evicted := a.reassembly.GC(time.Now()); len(evicted) > 0 {
			a.logger.Debug("reassembly GC", "evicted", len(evicted))
		}
	}))

	a.scheduler.Register(scheduler.NewPeriodicTask("session-clean", a.cfg.Tasks.SessionCacheGCInterval, now, func() {
		if n := a.sessions.GC(time.Now(), a.cfg.Timeouts.SessionKeeping); n > 0 {
			a.logger.Debug("session cache GC", "evicted", n)
		}
	}))

	a.scheduler.Register(scheduler.NewPeriodicTask("heartbeat", a.cfg.Intervals.Heartbeat, now, func() {
		a.sendHeartbeats()
	}))

	a.scheduler.Register(scheduler.NewPeriodicTask("load-sample", 5*time.Second, now, func() {
		go func() {
			sampleCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := a.sampler.Sample(sampleCtx, 200*time.Millisecond); err != nil {
				a.logger.Warn("load sample failed", "error", err)
			}
		}()
	}))

	a.scheduler.Register(scheduler.NewPeriodicTask("log-flush", a.cfg.Intervals.LogFlushing, now, func() {
		// log/slog has no Sync of its own; the file sink's writes are
		// unbuffered os.File writes, so there is nothing to flush here
		// beyond giving the rotate task its cadence.
	}))

	if a.logFilePath() != "" {
		a.scheduler.Register(scheduler.NewPeriodicTask("log-rotate", a.cfg.Tasks.LogRotateInterval, now, func() {
			if _, err := logging.Rotate(a.logFilePath()); err != nil {
				a.logger.Error("log rotate failed", "error", err)
			}
		}))
	}

	a.scheduler.Register(scheduler.NewPeriodicTask("reconnect-upstreams", a.cfg.Timeouts.ConnectTrying, now, func() {
		a.dialUpstreams(ctx)
	}))
}

// sendHeartbeats implements spec.md §7's send/skip/disconnect state
// machine, grounded on original_source's update_connection_status: a
// connection whose LastOpTime (refreshed by heartbeat and identity
// packets only) is less than DefaultWaitForReply old needs no
// heartbeat this tick; one quiet for
// longer gets a heartbeat-request retried every tick; once a
// connection has gone quiet for longer than LongestWaitForReply, it is
// treated as dead and dropped. Writes bypass SendBuf/Flush — this is
// an out-of-band send the loop goroutine originates itself, not a
// processor-produced response (transport.Conn.Send's contract).
func (a *App) sendHeartbeats() {
	a.mu.Lock()
	conns := make([]*transport.Conn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	now := time.Now()
	req := a.heartbeatRequest()
	for _, c := range conns {
		quiet := now.Sub(c.LastOpTime())

		if quiet <= a.cfg.Timeouts.DefaultWaitForReply {
			continue
		}

		if quiet > a.cfg.Timeouts.LongestWaitForReply {
			a.logger.Warn("no heartbeat reply for too long, disconnecting", "conn", c.Name(), "quiet", quiet)
			a.dropConn(c)
			continue
		}

		if _, err := c.Send(req); err != nil {
			a.logger.Warn("heartbeat send failed", "conn", c.Name(), "error", err)
		}
	}
}

// dialUpstreams connects to every configured upstream not currently
// present in the connection set. Called once at startup and
// thereafter by the "reconnect-upstreams" task, since an upstream that
// is down at startup should not keep this node from running.
func (a *App) dialUpstreams(ctx context.Context) {
	for _, u := range a.cfg.Upstreams {
		a.mu.Lock()
		_, live := a.conns[u.Name]
		a.mu.Unlock()
		if live {
			continue
		}

		dialCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeouts.ConnectTrying)
		conn, err := transport.Dial(dialCtx, u.Name, u.Address(), a.cfg.Buffers.TCPSendRaw, a.events)
		cancel()
		if err != nil {
			a.logger.Warn("dial upstream failed", "upstream", u.Name, "address", u.Address(), "error", err)
			continue
		}

		a.mu.Lock()
		a.conns[u.Name] = conn
		a.mu.Unlock()

		if _, err := conn.Send(a.identityRequest()); err != nil {
			a.logger.Warn("identity request send failed", "upstream", u.Name, "error", err)
		}
		policy := u.IsPrimary
		cache := a.secondary
		if policy {
			cache = a.primary
		}
		cache.SetConn(u.Name, conn.FD(), conn.Name())
		a.logger.Info("connected to upstream", "upstream", u.Name, "address", u.Address())
	}
}
