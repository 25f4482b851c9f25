// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session owns the control-channel connection to a Seestar telescope.
//
// # Overview
//
// The telescope speaks a line-delimited JSON protocol (see pkg/codec) over a
// two-phase handshake: a UDP datagram to port 4720 announces the controller,
// then a persistent TCP connection to port 4700 carries all commands and
// events. The Session multiplexes concurrent requests over that single TCP
// stream, dispatches unsolicited events to subscribers, and transparently
// reconnects over flaky WiFi.
//
// # Architecture
//
//	┌────────┐  Send()   ┌─────────┐  frames   ┌───────────┐
//	│ Caller │ ────────→ │ Session │ ←──TCP──→ │ Telescope │
//	└────────┘           └─────────┘           └───────────┘
//	     ↑                  │    │
//	     │   response       │    └── read loop: match responses by id,
//	     └──────────────────┘        fan events out to subscribers
//
// # Request Correlation
//
// Each Send allocates a monotonically increasing id and registers a pending
// request under the session lock. Responses are matched strictly by id: the
// telescope may answer out of send order and requests from concurrent callers
// interleave freely on the wire. A pending request is removed exactly once,
// by its matching response, its deadline, or connection teardown.
//
// # Connection States
//
//	Disconnected → Initializing → Connected ⇄ Degraded → Reconnecting → Connected
//
// Two consecutive failed heartbeats mark the session Degraded; total inbound
// silence beyond the configured threshold (or a socket error) tears the
// connection down and enters Reconnecting with exponential backoff, capped
// and unbounded in attempts until Disconnect is called. Every request
// outstanding at teardown fails with ErrConnectionLost rather than being
// silently dropped. Requests are never retried here, because re-issuing a
// goto after a lost ack could double-move the mount.
package session
