// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Listener runs the TCP accept loop of spec.md §4.1/§4.8. Grounded on
// internal/server/server.go's Accept loop; the hand-rolled
// consecutive-error incremental sleep is replaced with
// golang.org/x/time/rate, which was already a teacher-transitive
// dependency (pulled in by robfig/cron) and is promoted here to a
// direct one, per SPEC_FULL.md §2.
type Listener struct {
	ln      net.Listener
	bufSize int
	limiter *rate.Limiter

	events   chan<- Event
	accepted chan<- *Conn

	nextName   atomic.Int64
	namePrefix string
	logger     *slog.Logger
}

// ListenConfig configures a Listener.
type ListenConfig struct {
	Address string
	BufSize int
	// Accepted connections are named "server:<counter>" unless
	// NamePrefix overrides the prefix.
	NamePrefix string
	Logger     *slog.Logger
}

// Listen binds address and returns a Listener ready to Serve. events
// receives every byte read from every accepted connection; accepted
// receives each newly accepted *Conn once, before its reader goroutine
// starts, so the caller can register it (e.g. into a connindex.Cache)
// without a race.
func Listen(cfg ListenConfig, events chan<- Event, accepted chan<- *Conn) (*Listener, error) {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", cfg.Address, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	namePrefix := cfg.NamePrefix
	if namePrefix == "" {
		namePrefix = "server"
	}
	return &Listener{
		ln:         ln,
		bufSize:    cfg.BufSize,
		limiter:    rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		events:     events,
		accepted:   accepted,
		namePrefix: namePrefix,
		logger:     logger,
	}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed. It blocks; callers run it in its own goroutine.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		nc, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			l.logger.Error("accept", "error", err)
			if waitErr := l.limiter.Wait(ctx); waitErr != nil {
				return nil
			}
			continue
		}

		name := fmt.Sprintf("%s:%d", l.namePrefix, l.nextName.Add(1))
		conn := newConn(name, nc, l.bufSize)
		l.accepted <- conn
		go readLoop(conn, l.events)
	}
}
