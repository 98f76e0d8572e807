package model

// Event operations published on the event bus.
const (
	OpCreated      = "created"
	OpPatch        = "patch"
	OpDeleted      = "deleted"
	OpAccessChange = "access-change"
)

// Event is the message pushed to WebSocket subscribers after a
// successful mutation.
type Event struct {
	Type      string      `json:"type"`
	Operation string      `json:"operation"`
	Kind      string      `json:"kind"`
	Id        string      `json:"id"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEvent builds an event with the fixed "event" type tag.
func NewEvent(operation, kind, id string, data interface{}) Event {
	return Event{Type: "event", Operation: operation, Kind: kind, Id: id, Data: data}
}

// EventFilter selects the subscribers a published event is delivered
// to. Url is matched against each channel's subscription URL; when
// Users is non-empty delivery is limited to those users (the default
// user always qualifies).
type EventFilter struct {
	Url   string
	Users []string
}
