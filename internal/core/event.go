package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRoomMessage notifies room members about a new message.
	EventRoomMessage EventKind = iota
	// EventHistory delivers the room's full history to a client upon joining.
	EventHistory
	// EventUserJoined notifies room members about a user joining.
	EventUserJoined
	// EventUserLeft notifies room members about a user leaving.
	EventUserLeft
	// EventError notifies a client about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Room     string
	User     string
	Message  Message
	Messages []Message // for EventHistory

	// Nonce is echoed from the publish command so the sender can match the
	// broadcast against its in-flight entry. Other members ignore it.
	Nonce string

	Error *CoreError
}
