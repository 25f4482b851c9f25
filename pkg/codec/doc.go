// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec implements the Seestar line-delimited JSON wire format.
//
// # Wire Format
//
// Every message on the control channel is a single JSON object terminated
// by CR LF. There is no length prefix and a message never spans a
// terminator:
//
//	{"id": 1001, "method": "scope_get_equ_coord"}\r\n
//
// Three inbound shapes share the stream:
//
//	Response:  {"jsonrpc":"2.0","id":1001,"result":{...},"code":0}
//	Error:     {"id":1002,"code":203,"error":"..."}
//	Event:     {"Event":"AutoGoto","state":"complete","result":{...}}
//
// # Disambiguation
//
// A frame carrying the "Event" key is an event. Otherwise a frame carrying
// an "id" is a response (correlated by id, never by arrival order). Anything
// else is unclassifiable: DecodeInbound returns ErrUnknownFrame and the
// caller logs and drops the line. A malformed frame is never fatal to the
// stream; the next CRLF resynchronizes it.
package codec
