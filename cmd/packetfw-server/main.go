// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command packetfw-server runs a listening node of the core framework
// against a YAML config, registering no application-specific business
// handlers beyond the built-in heartbeat/identity diagnosis — a
// drop-in starting point for a concrete forwarding service. Grounded
// on the teacher's cmd/nbackup-server/main.go (flag-based config path,
// signal-driven context cancellation).
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

// version is stamped at release time; left as a placeholder for a
// development build.
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
		fmt.Println("packetfw-server " + version)
		return
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "packetfw-server: -config is required")
		flag.Usage()
		os.Exit(-1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "packetfw-server: loading config: %v\n", err)
		os.Exit(-1)
	}
	cfg.Daemon = *daemon || cfg.Daemon
	cfg.Quiet = *quiet || cfg.Quiet

	if cfg.Self.Port == 0 {
		fmt.Fprintln(os.Stderr, "packetfw-server: self.port must be set for a listening node")
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
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
