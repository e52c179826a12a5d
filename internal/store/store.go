// Package store defines the optional durability boundary for room history.
// The broadcasting core works with this collaborator absent; when present it
// receives every published message write-behind and seeds in-memory history
// on process restart.
package store

import (
	"context"
	"time"
)

// Attachment is a reference to an externally hosted file. The store never
// sees the file bytes, only the descriptive metadata.
type Attachment struct {
	Name      string
	URL       string
	MediaType string
	Size      int64
}

// Message is a persisted room message.
type Message struct {
	Room       string
	Seq        int64
	ID         string
	Author     string
	Body       string
	Attachment *Attachment
	CreatedAt  time.Time
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a published message.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListRoomMessages returns a room's full history ordered by sequence.
	ListRoomMessages(ctx context.Context, roomID string) ([]*Message, error)

	// ListRooms returns every room id that has persisted messages.
	ListRooms(ctx context.Context) ([]string, error)

	// Close closes the underlying database connection.
	Close() error
}
