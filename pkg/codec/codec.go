// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnknownFrame is returned for a JSON object that is neither a
	// response nor an event.
	ErrUnknownFrame = errors.New("unclassifiable frame")

	// ErrMalformedFrame is returned when a line is not valid JSON.
	ErrMalformedFrame = errors.New("malformed frame")
)

// terminator ends every frame on the wire.
var terminator = []byte("\r\n")

// MaxFrameSize bounds a single inbound line. Stacked-image notifications
// from the telescope can run tens of kilobytes.
const MaxFrameSize = 1 << 20

// Request is an outbound command frame.
type Request struct {
	ID     int64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Response is a correlated reply to a Request. Code zero means success;
// a non-zero Code carries the telescope's error text in Error or Result.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Code    int             `json:"code"`
	Error   string          `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
}

// Event is an unsolicited notification, e.g. AutoGoto progress.
type Event struct {
	Name   string          `json:"Event"`
	State  string          `json:"state,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Inbound is one decoded inbound frame. Exactly one of Response or Event
// is non-nil.
type Inbound struct {
	Response *Response
	Event    *Event
}

// Encode renders a request as a single CRLF-terminated JSON line.
func Encode(req Request) ([]byte, error) {
	if req.Method == "" {
		return nil, fmt.Errorf("%w: empty method", ErrMalformedFrame)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Method, err)
	}
	return append(data, terminator...), nil
}

// DecodeRequest parses an encoded request line back into a Request.
// Together with Encode it round-trips any valid request.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(bytes.TrimSuffix(line, terminator), &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("%w: missing method", ErrMalformedFrame)
	}
	return req, nil
}

// probe is the minimal shape needed to classify an inbound line.
type probe struct {
	ID    *int64  `json:"id"`
	Event *string `json:"Event"`
}

// DecodeInbound classifies and parses one inbound line (without its
// terminator). The presence of the "Event" key wins over "id" so that a
// hypothetical event carrying an id is not mistaken for a response.
func DecodeInbound(line []byte) (*Inbound, error) {
	line = bytes.TrimSuffix(line, terminator)
	var p probe
	if err := json.Unmarshal(line, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case p.Event != nil:
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &Inbound{Event: &ev}, nil

	case p.ID != nil:
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &Inbound{Response: &resp}, nil

	default:
		return nil, ErrUnknownFrame
	}
}

// NewScanner returns a scanner that splits the inbound stream on the CRLF
// terminator. A bare LF is not a frame boundary.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	sc.Split(splitCRLF)
	return sc
}

// splitCRLF is a bufio.SplitFunc yielding one frame per CRLF.
func splitCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, terminator); i >= 0 {
		return i + len(terminator), data[:i], nil
	}
	if atEOF && len(data) > 0 {
		// Trailing partial frame with no terminator: surface it so the
		// caller can log the decode failure.
		return len(data), data, nil
	}
	return 0, nil, nil
}
