// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeTimeout indicates the telescope never acknowledged the
	// UDP handshake within the configured timeout.
	ErrHandshakeTimeout = errors.New("udp handshake timeout")

	// ErrConnectionRefused indicates the TCP control connection could not
	// be established.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrConnectionLost indicates the connection dropped while requests
	// were outstanding. The affected command may or may not have reached
	// the telescope; retrying is the caller's decision.
	ErrConnectionLost = errors.New("connection lost")

	// ErrRequestTimeout indicates no matching response arrived before the
	// request deadline.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrNotConnected indicates a send was attempted while the session is
	// neither Connected nor Degraded.
	ErrNotConnected = errors.New("session not connected")

	// ErrClosed indicates the session was disconnected by the caller.
	ErrClosed = errors.New("session closed")
)

// RemoteError is a command the telescope received and rejected
// (response code != 0). It is never retried automatically.
type RemoteError struct {
	Method  string
	Code    int
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s rejected by telescope (code %d): %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s rejected by telescope (code %d)", e.Method, e.Code)
}
