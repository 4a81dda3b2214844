package presence

import (
	"encoding/json"
)

// EventType names a frame on the wire.
type EventType string

// EventHeartbeat travels both ways: the server sends one every heartbeat
// interval and clients answer in kind.
const EventHeartbeat EventType = "heartbeat"

// Client to server.
const (
	EventHydrate      EventType = "hydrate"
	EventShellReady   EventType = "shell:ready"
	EventProfileReady EventType = "profile:ready"
)

// Server to client.
const (
	EventReady         EventType = "ready"
	EventShellOnline   EventType = "shell:online"
	EventProfileUpdate EventType = "profile:update"
)

// relays maps a client announcement to the event every other peer receives.
// The payload is passed through untouched.
var relays = map[EventType]EventType{
	EventShellReady:   EventShellOnline,
	EventProfileReady: EventProfileUpdate,
}

// Frame is one message in either direction.
type Frame struct {
	Event   EventType       `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ReadyPayload acknowledges hydrate with the gateway's clock.
type ReadyPayload struct {
	TS int64 `json:"ts"` // epoch milliseconds
}

func readyFrame(ts int64) Frame {
	// Marshalling a struct of one int64 cannot fail.
	payload, _ := json.Marshal(ReadyPayload{TS: ts})
	return Frame{Event: EventReady, Payload: payload}
}
