// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration consumed
// by cmd/packetfw-server and cmd/packetfw-client, matching spec.md
// §6's abstract key list. Grounded on the teacher's
// internal/config/{server,agent}.go: nested yaml.v3-tagged structs,
// a validate() pass that fills in defaults, and human-readable
// byte-size strings resolved through ParseByteSize.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/packetfw/internal/connindex"
)

// NodeConfig describes one node (self or upstream) per spec.md §6's
// "self node {type, name, ip, port, attributes}" key.
type NodeConfig struct {
	Type      string `yaml:"type"`
	Name      string `yaml:"name"`
	IP        string `yaml:"ip"`
	Port      int    `yaml:"port"`
	IsPrimary bool   `yaml:"is_primary"`
}

// Address returns the "ip:port" dial/listen address for this node.
func (n NodeConfig) Address() string {
	return fmt.Sprintf("%s:%d", n.IP, n.Port)
}

// TimeoutsConfig holds the per-task timeouts of spec.md §6: default and
// max message-process, session-keeping, default and longest
// wait-for-peer-reply, connect-trying, poll-waiting.
type TimeoutsConfig struct {
	DefaultMessageProcess time.Duration `yaml:"default_message_process"`
	MaxMessageProcess     time.Duration `yaml:"max_message_process"`
	SessionKeeping        time.Duration `yaml:"session_keeping"`
	DefaultWaitForReply   time.Duration `yaml:"default_wait_for_reply"`
	LongestWaitForReply   time.Duration `yaml:"longest_wait_for_reply"`
	ConnectTrying         time.Duration `yaml:"connect_trying"`
	PollWaiting           time.Duration `yaml:"poll_waiting"`
}

// IntervalsConfig holds the per-task intervals of spec.md §6:
// message-clean, session-clean, heartbeat, log-flushing.
type IntervalsConfig struct {
	MessageClean time.Duration `yaml:"message_clean"`
	SessionClean time.Duration `yaml:"session_clean"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
	LogFlushing  time.Duration `yaml:"log_flushing"`
}

// BuffersConfig holds the tcp-send/tcp-receive buffer sizes of
// spec.md §6. Size strings accept the same human-readable suffixes as
// the teacher's config (kb/mb/gb); parsed values land in the Raw
// fields by validate().
type BuffersConfig struct {
	TCPSend      string `yaml:"tcp_send"`
	TCPSendRaw   int    `yaml:"-"`
	TCPRecv      string `yaml:"tcp_receive"`
	TCPRecvRaw   int    `yaml:"-"`
}

// CountersConfig holds the counters of spec.md §6:
// message-processing-per-round, forward-retries, worker-thread, and
// the dispatch policy.
type CountersConfig struct {
	MessagesPerRound int    `yaml:"messages_per_round"`
	ForwardRetries   int    `yaml:"forward_retries"`
	WorkerThreads    int    `yaml:"worker_threads"`
	DispatchPolicy   string `yaml:"dispatch_policy"` // randomly|by-id|least-load
}

// Policy translates the configured dispatch_policy string into a
// connindex.Policy.
func (c CountersConfig) Policy() connindex.Policy {
	switch strings.ToLower(strings.TrimSpace(c.DispatchPolicy)) {
	case "by-id", "by_id":
		return connindex.ByID
	case "least-load", "least_load":
		return connindex.LeastLoad
	default:
		return connindex.Random
	}
}

// LoggingConfig holds the log level and file path of spec.md §6.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// TasksConfig lets an operator override the scheduler's housekeeping
// task cadence without recompiling. Zero MessageCacheGCInterval and
// SessionCacheGCInterval fall back to the matching IntervalsConfig
// entry; a zero LogRotateInterval falls back to 24h.
type TasksConfig struct {
	LogRotateInterval     time.Duration `yaml:"log_rotate_interval"`
	MessageCacheGCInterval time.Duration `yaml:"message_cache_gc_interval"`
	SessionCacheGCInterval time.Duration `yaml:"session_cache_gc_interval"`
}

// Config is the complete configuration of a packetfw node, consumed
// by both cmd/packetfw-server and cmd/packetfw-client — a listening
// node lists upstreams it dials out to, a pure client leaves Self's
// type set to "client" and Upstreams with one or more listening peers.
type Config struct {
	Self      NodeConfig       `yaml:"self"`
	Upstreams []NodeConfig     `yaml:"upstreams"`
	TimeZone  string           `yaml:"time_zone"`
	TimeUnit  string           `yaml:"time_unit"` // millisecond|second
	Timeouts  TimeoutsConfig   `yaml:"timeouts"`
	Intervals IntervalsConfig  `yaml:"intervals"`
	Buffers   BuffersConfig    `yaml:"buffers"`
	Counters  CountersConfig   `yaml:"counters"`
	Logging   LoggingConfig    `yaml:"logging"`
	Tasks     TasksConfig      `yaml:"tasks"`

	// Daemon and Quiet mirror the -d/-q flags of spec.md §6 when a
	// caller wants them persisted in config instead of (or alongside)
	// the command line.
	Daemon bool `yaml:"daemon"`
	Quiet  bool `yaml:"quiet"`
}

// Load reads, parses and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Self.Name == "" {
		return fmt.Errorf("self.name is required")
	}
	if c.Self.Type == "" {
		return fmt.Errorf("self.type is required")
	}

	switch strings.ToLower(c.TimeUnit) {
	case "":
		c.TimeUnit = "millisecond"
	case "millisecond", "second":
		c.TimeUnit = strings.ToLower(c.TimeUnit)
	default:
		return fmt.Errorf("time_unit must be millisecond or second, got %q", c.TimeUnit)
	}
	if c.TimeZone == "" {
		c.TimeZone = "UTC"
	}

	if c.Timeouts.DefaultMessageProcess <= 0 {
		c.Timeouts.DefaultMessageProcess = 5 * time.Second
	}
	if c.Timeouts.MaxMessageProcess <= 0 {
		c.Timeouts.MaxMessageProcess = 30 * time.Second
	}
	if c.Timeouts.SessionKeeping <= 0 {
		c.Timeouts.SessionKeeping = 5 * time.Minute
	}
	if c.Timeouts.DefaultWaitForReply <= 0 {
		c.Timeouts.DefaultWaitForReply = 3 * time.Second
	}
	if c.Timeouts.LongestWaitForReply <= 0 {
		c.Timeouts.LongestWaitForReply = 30 * time.Second
	}
	if c.Timeouts.ConnectTrying <= 0 {
		c.Timeouts.ConnectTrying = 10 * time.Second
	}
	if c.Timeouts.PollWaiting <= 0 {
		c.Timeouts.PollWaiting = 200 * time.Millisecond
	}

	if c.Intervals.MessageClean <= 0 {
		c.Intervals.MessageClean = 10 * time.Second
	}
	if c.Intervals.SessionClean <= 0 {
		c.Intervals.SessionClean = 30 * time.Second
	}
	if c.Intervals.Heartbeat <= 0 {
		c.Intervals.Heartbeat = 15 * time.Second
	}
	if c.Intervals.LogFlushing <= 0 {
		c.Intervals.LogFlushing = 1 * time.Second
	}

	if c.Buffers.TCPSend == "" {
		c.Buffers.TCPSend = "64kb"
	}
	sendRaw, err := ParseByteSize(c.Buffers.TCPSend)
	if err != nil {
		return fmt.Errorf("buffers.tcp_send: %w", err)
	}
	c.Buffers.TCPSendRaw = int(sendRaw)

	if c.Buffers.TCPRecv == "" {
		c.Buffers.TCPRecv = "64kb"
	}
	recvRaw, err := ParseByteSize(c.Buffers.TCPRecv)
	if err != nil {
		return fmt.Errorf("buffers.tcp_receive: %w", err)
	}
	c.Buffers.TCPRecvRaw = int(recvRaw)

	if c.Counters.MessagesPerRound <= 0 {
		c.Counters.MessagesPerRound = 32
	}
	if c.Counters.ForwardRetries < 0 {
		return fmt.Errorf("counters.forward_retries must be >= 0, got %d", c.Counters.ForwardRetries)
	}
	if c.Counters.WorkerThreads <= 0 {
		c.Counters.WorkerThreads = 1
	}
	switch strings.ToLower(strings.TrimSpace(c.Counters.DispatchPolicy)) {
	case "":
		c.Counters.DispatchPolicy = "randomly"
	case "randomly", "by-id", "by_id", "least-load", "least_load":
	default:
		return fmt.Errorf("counters.dispatch_policy must be randomly, by-id or least-load, got %q", c.Counters.DispatchPolicy)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Tasks.LogRotateInterval <= 0 {
		c.Tasks.LogRotateInterval = 24 * time.Hour
	}
	if c.Tasks.MessageCacheGCInterval <= 0 {
		c.Tasks.MessageCacheGCInterval = c.Intervals.MessageClean
	}
	if c.Tasks.SessionCacheGCInterval <= 0 {
		c.Tasks.SessionCacheGCInterval = c.Intervals.SessionClean
	}

	for i, u := range c.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("upstreams[%d].name is required", i)
		}
		if u.Type == "" {
			return fmt.Errorf("upstreams[%d].type is required", i)
		}
	}

	return nil
}

// ParseByteSize converts human-readable strings like "256mb", "1gb"
// into a byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
