// Package wireproto defines the newline-delimited JSON framing shared
// by the Remote Channel (client side, internal/transport) and the
// Dispatcher (server side, internal/dispatcher), per the peer wire
// protocol description: each direction is newline-delimited UTF-8 JSON;
// a request is {"action": str, "arguments": object}; a response is a
// JSON value on a single line, or a blank line for void operations.
package wireproto

import "encoding/json"

// CloseAction is the sentinel action that instructs the worker to exit
// without producing a response line.
const CloseAction = "close"

// CheckStatusAction is sent as the first command after connect; a
// reply of exactly ["0"] means "ready, unlocked".
const CheckStatusAction = "checkStatus"

// Request is one line sent from coordinator to worker.
type Request struct {
	Action    string          `json:"action"`
	Arguments json.RawMessage `json:"arguments"`
}

// EncodeRequest marshals a request with its arguments pre-encoded.
func EncodeRequest(action string, arguments interface{}) ([]byte, error) {
	argData, err := json.Marshal(arguments)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Request{Action: action, Arguments: argData})
}

// ReadyStatus is the literal reply to checkStatus meaning unlocked.
var ReadyStatus = []string{"0"}

// LockedStatus is checkStatus's reply when the node lock is held by
// another operation; any reply other than ["0"] means not ready.
var LockedStatus = []string{"1"}

// IsReady reports whether a decoded checkStatus reply equals ["0"].
func IsReady(reply []string) bool {
	return len(reply) == 1 && reply[0] == "0"
}

// Response is one line sent from worker to coordinator. Exactly one of
// Result/Error is meaningful, selected by OK. This envelope is the
// concrete mechanism behind "every error from the Dispatcher is
// JSON-encoded ... decoded ... re-raised locally as the same kind"
// (SPEC_FULL.md §7) — it replaces the original implementation's
// process-exit-code-plus-stderr signalling with an explicit, typed
// error on the same response line.
type Response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// EncodeSuccess marshals a successful Response carrying result.
func EncodeSuccess(result interface{}) ([]byte, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Response{OK: true, Result: data})
}

// EncodeFailure marshals a failed Response carrying a pre-encoded
// mcerrors wire envelope.
func EncodeFailure(errEnvelope []byte) ([]byte, error) {
	return json.Marshal(Response{OK: false, Error: errEnvelope})
}
