// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package controller maps high-level observing operations onto the
// telescope's JSON command set.
//
// The controller is deliberately thin. It owns no protocol state; it
// composes the resolver (names to coordinates), the location manager
// (visibility gating) and the session (request/response plumbing).
// A goto is the one long-running operation: iscope_start_view triggers
// the mount's AutoGoto sequence and completion arrives later as an
// unsolicited AutoGoto event, so GotoTarget subscribes before it sends
// and then waits out the slew.
//
// Two safety gates sit in front of every goto:
//
//   - solar safety: a target flagged by the resolver as the Sun is
//     refused unless the caller explicitly acknowledges that a solar
//     filter is fitted.
//   - visibility: targets below the minimum altitude are refused with
//     BelowHorizonError before the mount is asked to try.
package controller
