package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is one wire-protocol JSON object.
type Message map[string]any

// NewReply builds a door-originated message for the given command tag
// with the envelope fields every reply and broadcast carries.
func NewReply(cmd string) Message {
	return Message{
		KeyCommand:     cmd,
		FieldSuccess:   SuccessTrue,
		FieldDirection: DoorToPhone,
	}
}

// NewFailure builds a failed reply for the given command tag with a
// human-readable reason.
func NewFailure(cmd, reason string) Message {
	return Message{
		KeyCommand:     cmd,
		FieldSuccess:   SuccessFalse,
		FieldReason:    reason,
		FieldDirection: DoorToPhone,
	}
}

// Marshal serializes the message with no trailing newline, matching
// the device's concatenated-objects framing.
func (m Message) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %v message: %w", m[KeyCommand], err)
	}
	return data, nil
}

// Bool01 renders a boolean setting in the protocol's "1"/"0" form.
func Bool01(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Is01True reports whether a wire value represents an enabled boolean
// setting. The protocol uses "1"/"0" strings, but some clients send
// real booleans or numbers; all three are accepted.
func Is01True(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "1" || t == "true"
	case bool:
		return t
	case float64:
		return t != 0
	}
	return false
}
