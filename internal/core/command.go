package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom binds the session to a room and requests its history.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom releases the session's room binding.
	CommandLeaveRoom
	// CommandPublish publishes a message into the session's bound room.
	CommandPublish
)

// Command represents an action requested by a client.
type Command struct {
	Kind CommandKind
	Room string

	// Name is the display label supplied with a join.
	Name string

	// Publish payload.
	Body       string
	Attachment *Attachment

	// Nonce is a client-chosen token echoed in the resulting broadcast so
	// the sender can reconcile its in-flight entry.
	Nonce string
}

// PublishResult is the synchronous answer to a direct Publish call.
type PublishResult struct {
	Message Message
	Err     error
}
