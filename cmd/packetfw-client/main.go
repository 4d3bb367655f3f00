// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command packetfw-client runs a node that dials one or more upstream
// nodes rather than listening itself (self.port left unset), useful as
// a thin requester against a packetfw-server. It shares
// internal/app's orchestrator with packetfw-server — the only
// difference is which role the config describes. Grounded on the
// teacher's cmd/nbackup-agent/main.go (flag-based config path, no
// signal re-forking).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/packetfw/internal/app"
	"github.com/nishisan-dev/packetfw/internal/config"
	"github.com/nishisan-dev/packetfw/internal/logging"
	"github.com/nishisan-dev/packetfw/internal/registry"
)

const version = "dev"

func main() {
	configPath := flag.String("config", "", "path to node config file (required)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.BoolVar(showVersion, "v", false, "shorthand for -version")
	daemon := flag.Bool("daemon", false, "run as a background daemon (forking is delegated to the process supervisor)")
	flag.BoolVar(daemon, "d", false, "shorthand for -daemon")
	quiet := flag.Bool("quiet-mode", false, "suppress non-error log output")
	flag.BoolVar(quiet, "q", false, "shorthand for -quiet-mode")
	flag.Parse()

	if *showVersion {
		fmt.Println("packetfw-client " + version)
		return
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "packetfw-client: -config is required")
		flag.Usage()
		os.Exit(-1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "packetfw-client: loading config: %v\n", err)
		os.Exit(-1)
	}
	cfg.Daemon = *daemon || cfg.Daemon
	cfg.Quiet = *quiet || cfg.Quiet

	if len(cfg.Upstreams) == 0 {
		fmt.Fprintln(os.Stderr, "packetfw-client: at least one upstream is required")
		os.Exit(-1)
	}

	logLevel := cfg.Logging.Level
	if cfg.Quiet {
		logLevel = "error"
	}
	logger, logCloser := logging.New(logLevel, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	a := app.New(cfg, registry.NewRegistry(), logger)
	if err := a.Run(ctx); err != nil {
		logger.Error("client error", "error", err)
		os.Exit(1)
	}
}
