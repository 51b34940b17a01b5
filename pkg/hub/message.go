// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import (
	"encoding/json"
	"time"
)

// Message is one event pushed to every client.
type Message struct {
	// Type names the event, e.g. "status" or "transcript".
	Type string `json:"type"`

	// Time is when the event was produced.
	Time time.Time `json:"time"`

	// Data is the event payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes v as the payload of a message of the given type.
func NewMessage(typ string, v any) (Message, error) {
	msg := Message{Type: typ, Time: time.Now().UTC()}
	if v == nil {
		return msg, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	msg.Data = data
	return msg, nil
}
