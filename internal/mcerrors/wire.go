package mcerrors

import "encoding/json"

// wireError is the JSON shape an *Error takes when it crosses the
// dispatcher's newline-delimited JSON protocol, per the wire protocol
// description: "every error from the Dispatcher is JSON-encoded on the
// remote side, decoded by the Remote Channel, and re-raised locally as
// the same kind".
type wireError struct {
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code,omitempty"`
	Command  string `json:"command,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Peer     string `json:"peer,omitempty"`
	Step     string `json:"step,omitempty"`
}

// MarshalForWire encodes err as the JSON error envelope sent back over
// a remote channel. Non-*Error causes are flattened to a message-only
// envelope of an unspecified kind so that unexpected panics/errors from
// handlers still produce a well-formed response line.
func MarshalForWire(err error) ([]byte, error) {
	we := wireError{Kind: "Unknown", Message: err.Error()}
	var typed *Error
	if e, ok := err.(*Error); ok {
		typed = e
	}
	if typed != nil {
		we = wireError{
			Kind:     typed.Kind,
			Message:  typed.Message,
			ExitCode: typed.ExitCode,
			Command:  typed.Command,
			Stderr:   typed.Stderr,
			Peer:     typed.Peer,
			Step:     typed.Step,
		}
	}
	return json.Marshal(we)
}

// UnmarshalFromWire reconstructs the typed *Error carried in an error
// envelope produced by MarshalForWire.
func UnmarshalFromWire(data []byte) (*Error, error) {
	var we wireError
	if err := json.Unmarshal(data, &we); err != nil {
		return nil, err
	}
	return &Error{
		Kind:     we.Kind,
		Message:  we.Message,
		ExitCode: we.ExitCode,
		Command:  we.Command,
		Stderr:   we.Stderr,
		Peer:     we.Peer,
		Step:     we.Step,
	}, nil
}
