// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package app implements the main control loop of spec.md §4.8/§2's
// "orchestrator": it ties the transport, packet processor, timed-task
// scheduler and connection caches together into the single loop
// goroutine that owns all of their mutable state. Grounded on
// internal/server/server.go's Run(ctx, cfg, logger) shape (one
// goroutine per periodic concern, cooperative shutdown on ctx.Done).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nishisan-dev/packetfw/internal/body"
	"github.com/nishisan-dev/packetfw/internal/config"
	"github.com/nishisan-dev/packetfw/internal/connindex"
	"github.com/nishisan-dev/packetfw/internal/loadsignal"
	"github.com/nishisan-dev/packetfw/internal/processor"
	"github.com/nishisan-dev/packetfw/internal/reassembly"
	"github.com/nishisan-dev/packetfw/internal/registry"
	"github.com/nishisan-dev/packetfw/internal/scheduler"
	"github.com/nishisan-dev/packetfw/internal/transport"
)

// tickInterval bounds how long the loop goroutine can go without
// calling scheduler.Tick when no bytes are arriving, per spec.md §5's
// "timed-task ticks occur at most once per main-loop iteration".
const tickInterval = 50 * time.Millisecond

// App is the assembled core: one Processor, one Scheduler, two
// connection caches ("primary"/"secondary", spec.md §2), and the
// transport plumbing feeding them. Exactly one goroutine — the one
// running Run — ever touches the Scheduler, both Caches, the
// Reassembly cache or any Conn's ring buffers, per spec.md §5.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry   *registry.Registry
	codec      body.Codec
	reassembly *reassembly.Cache
	sessions   *processor.MemorySessionStore
	primary    *connindex.Cache
	secondary  *connindex.Cache
	processor  *processor.Processor
	scheduler  *scheduler.Scheduler
	sampler    *loadsignal.Sampler

	listener *transport.Listener

	events   chan transport.Event
	accepted chan *transport.Conn

	mu    sync.Mutex
	conns map[string]*transport.Conn

	ready chan struct{}
}

// New assembles an App from cfg and an application-supplied, not yet
// built Registry (business handlers are the caller's concern; this
// package wires the generic framework around them). logger must be
// non-nil.
func New(cfg *config.Config, reg *registry.Registry, logger *slog.Logger) *App {
	reg.Build()

	codec := body.New(body.Binary)
	reassemblyCache := reassembly.NewCache(cfg.Timeouts.DefaultMessageProcess, cfg.Timeouts.MaxMessageProcess)
	sessions := processor.NewMemorySessionStore()
	primary := connindex.NewCache()
	secondary := connindex.NewCache()

	proc := processor.New(reg, codec, reassemblyCache, primary, sessions)

	a := &App{
		cfg:        cfg,
		logger:     logger,
		registry:   reg,
		codec:      codec,
		reassembly: reassemblyCache,
		sessions:   sessions,
		primary:    primary,
		secondary:  secondary,
		processor:  proc,
		scheduler:  scheduler.New(),
		sampler:    loadsignal.NewSampler(),
		events:     make(chan transport.Event, 256),
		accepted:   make(chan *transport.Conn, 16),
		conns:      make(map[string]*transport.Conn),
		ready:      make(chan struct{}),
	}
	proc.Resolver = a
	proc.LoadSampler = a.sampler
	proc.Logger = logger
	seedNodeIndex(primary, secondary, cfg.Upstreams)
	return a
}

// seedNodeIndex registers every configured upstream into primary or
// secondary by its is_primary attribute, so a dispatch policy lookup
// succeeds even before the node has ever connected (spec.md §4.6:
// entries may have a nil fd/connection).
func seedNodeIndex(primary, secondary *connindex.Cache, upstreams []config.NodeConfig) {
	for _, u := range upstreams {
		entry := &connindex.Entry{
			Name:       u.Name,
			ServerType: u.Type,
			PeerIP:     u.IP,
			PeerPort:   u.Port,
			Attributes: connindex.Attributes{IsPrimary: u.IsPrimary},
		}
		if u.IsPrimary {
			_ = primary.Add(entry)
		} else {
			_ = secondary.Add(entry)
		}
	}
}

// FindConn implements processor.Resolver.
func (a *App) FindConn(name string) (processor.Conn, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.conns[name]
	return c, ok
}

// Run starts the listener (if self.port is configured), dials every
// configured upstream, registers the housekeeping scheduled tasks, and
// blocks in the main loop until ctx is cancelled. It always returns
// nil on a clean, cooperative shutdown.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Self.Port != 0 {
		ln, err := transport.Listen(transport.ListenConfig{
			Address:    a.cfg.Self.Address(),
			BufSize:    a.cfg.Buffers.TCPRecvRaw,
			NamePrefix: a.cfg.Self.Name,
			Logger:     a.logger,
		}, a.events, a.accepted)
		if err != nil {
			return fmt.Errorf("app: starting listener: %w", err)
		}
		a.listener = ln
		go func() {
			if err := ln.Serve(ctx); err != nil {
				a.logger.Error("listener stopped", "error", err)
			}
		}()
		a.logger.Info("listening", "address", ln.Addr().String())
	}
	close(a.ready)

	a.registerTasks(ctx)
	a.dialUpstreams(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil

		case conn := <-a.accepted:
			a.mu.Lock()
			a.conns[conn.Name()] = conn
			a.mu.Unlock()
			a.logger.Info("connection accepted", "name", conn.Name(), "remote", conn.RemoteAddr())

		case ev := <-a.events:
			a.handleEvent(ev)
			a.scheduler.Tick(time.Now())

		case <-ticker.C:
			a.scheduler.Tick(time.Now())
		}
	}
}

// handleEvent folds one transport.Event into its connection's recv
// buffer and drains every fully-buffered packet through the processor,
// per spec.md §5's "bytes from one peer are processed in arrival
// order". A connection-level error (including EOF) hands the
// connection to dropConn.
func (a *App) handleEvent(ev transport.Event) {
	if ev.Err != nil {
		a.dropConn(ev.Conn)
		return
	}

	recv := ev.Conn.RecvBuf()
	if len(ev.Data) > recv.FreeSpace() {
		recv.Compact()
	}
	n := copy(recv.GetWriteSlice(), ev.Data)
	recv.AdvanceWrite(n)
	if n < len(ev.Data) {
		a.logger.Warn("recv buffer full, dropping bytes", "conn", ev.Conn.Name(), "dropped", len(ev.Data)-n)
	}

	now := time.Now()
	for handledThisRound := 0; handledThisRound < a.cfg.Counters.MessagesPerRound; handledThisRound++ {
		_, outConn, output, status := a.processor.Process(ev.Conn, now)
		if status == processor.NeedMore {
			return
		}
		if outConn != nil && output > 0 {
			if c, ok := outConn.(*transport.Conn); ok {
				if err := c.Flush(); err != nil {
					a.logger.Error("flush failed", "conn", c.Name(), "error", err)
					a.dropConn(c)
				}
			}
		}
	}
}

// dropConn tears down a dead connection's transport state but leaves
// its connindex entry in place (spec.md §3: "the entry itself lives
// until program exit or explicit removal"), clearing only its
// fd/back-pointer via SetConn(name, 0, ""). The entry's index name is
// PeerName() for an inbound connection validated by identity exchange
// (set in processor.handleIdentityRequest), or c.Name() for an
// outbound connection dialed from a configured upstream, whose
// connindex entry was seeded under that same name (seedNodeIndex,
// dialUpstreams). SetConn is a no-op against whichever cache doesn't
// hold the name, so clearing both is safe without knowing which one
// the entry lives in.
func (a *App) dropConn(c *transport.Conn) {
	a.mu.Lock()
	delete(a.conns, c.Name())
	a.mu.Unlock()

	indexName := c.PeerName()
	if indexName == "" {
		indexName = c.Name()
	}
	a.primary.SetConn(indexName, 0, "")
	a.secondary.SetConn(indexName, 0, "")
	_ = c.Close()
	a.logger.Info("connection closed", "name", c.Name())
}

func (a *App) shutdown() {
	a.logger.Info("shutting down")
	if a.listener != nil {
		_ = a.listener.Close()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.conns {
		_ = c.Close()
	}
}

// logFilePath reports the configured log file, if any, for the
// log-rotate task. An empty path means logging to stdout only, in
// which case the task is a no-op.
func (a *App) logFilePath() string {
	return a.cfg.Logging.File
}

// Ready is closed once Run has finished startup (listener bound, if
// any) and entered its main loop. Tests use it to learn the bound
// listener address before dialing in.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the bound listener address, or nil if this App has no
// listener (port-less client node).
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Primary exposes the primary connection cache for tests and for a
// caller that wants to register its own business handlers' forwarding
// targets before Run.
func (a *App) Primary() *connindex.Cache { return a.primary }

// Secondary exposes the secondary connection cache, mirroring Primary.
func (a *App) Secondary() *connindex.Cache { return a.secondary }
