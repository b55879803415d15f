// Package rpc implements the component J signal bus / RPC facade
// (spec.md §4.J, §6): a WebSocket-framed JSON envelope protocol served by
// net/http + github.com/coder/websocket, multiplexing unary method calls
// and the subscribe_to_signals server-stream over one connection per UI
// client.
//
// Grounded on the teacher's lack of a server for this dependency — the
// teacher's go.mod carries github.com/coder/websocket unwired (a client
// config flag references it, no server exists) — and on
// internal/signal.Bus for the event fan-out this facade exposes.
package rpc

import "encoding/json"

// Envelope is one frame of the wire protocol, used for both directions.
// A request carries Method+Params; a response carries Result xor Error; a
// streamed signal reuses the subscription's ID with Method set to
// "signal".
type Envelope struct {
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is the wire shape of a failed unary call.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes, generalized from spec.md §7's Local+Cloud sentinel set to
// the subset an RPC caller can hit.
const (
	ErrCodeBadParams    = "BAD_PARAMS"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeUnknownMethod = "UNKNOWN_METHOD"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL"
)

func errorEnvelope(id, code, message string) Envelope {
	return Envelope{ID: id, Error: &RPCError{Code: code, Message: message}}
}

func resultEnvelope(id string, result any) Envelope {
	raw, err := json.Marshal(result)
	if err != nil {
		return errorEnvelope(id, ErrCodeInternal, "marshaling result: "+err.Error())
	}

	return Envelope{ID: id, Result: raw}
}
