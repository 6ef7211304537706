package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EventSessionCreated = "session.created"
	EventSessionUpdate  = "session.update"
	EventError          = "error"
)

// Event is a realtime API event reduced to its type discriminator. Raw holds
// the exact bytes it was parsed from and is what gets forwarded.
type Event struct {
	Type string
	Raw  []byte
}

// ParseError reports a frame that is not a JSON object.
type ParseError struct {
	Size int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed event (%d bytes): %v", e.Size, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errNotObject = errors.New("not a JSON object")

type envelope struct {
	Type json.RawMessage `json:"type"`
}

// ParseEvent validates data as a JSON object and extracts its "type" field.
// A missing or non-string type yields an empty Type, not an error.
func ParseEvent(data []byte) (Event, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, &ParseError{Size: len(data), Err: errNotObject}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, &ParseError{Size: len(data), Err: err}
	}

	ev := Event{Raw: data}
	if len(env.Type) > 0 {
		var typ string
		if json.Unmarshal(env.Type, &typ) == nil {
			ev.Type = typ
		}
	}
	return ev, nil
}
