package worker

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ib-77/procworker/pkg/event"
)

// RequestIDField is the reserved payload key carrying the request identifier
// in both directions.
const RequestIDField = "requestId"

// Message is a payload crossing the channel boundary. Values must be plain
// data that the channel can serialize.
type Message map[string]any

// With returns a shallow copy of m with key set to v. m is not modified.
func (m Message) With(key string, v any) Message {
	out := make(Message, len(m)+1)
	for k, val := range m {
		out[k] = val
	}
	out[key] = v
	return out
}

// RequestID returns the identifier carried by m, if any.
// Numbers decoded from JSON are formatted without an exponent; other
// non-string identifiers are compared in their fmt.Sprint form.
func (m Message) RequestID() (string, bool) {
	v, ok := m[RequestIDField]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case json.Number:
		return id.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// Subscription releases one listener registration.
type Subscription = event.Subscription

// Channel is the bidirectional endpoint of a child process.
//
// Send is fire-and-forget; Run does not wait on a blocked Send beyond its
// context. OnMessage and OnError register listeners that
// may be invoked from any goroutine; a listener may release its own
// Subscription from inside the callback. Kill terminates the remote side.
type Channel interface {
	Send(msg Message) error
	OnMessage(fn func(Message)) Subscription
	OnError(fn func(error)) Subscription
	Kill() error
}
