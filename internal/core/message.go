package core

import "time"

// Attachment references an externally hosted file. The core never inspects
// the bytes behind the URL.
type Attachment struct {
	Name      string
	URL       string
	MediaType string
	Size      int64
}

// Message is the domain model for a room message. It is created once by the
// broadcaster and immutable after that.
type Message struct {
	ID         string
	Room       string
	Author     string
	Body       string
	Attachment *Attachment
	CreatedAt  time.Time
}

// Less reports whether a precedes b in the canonical room order:
// (CreatedAt, ID) as assigned by the broadcaster.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
