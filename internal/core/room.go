package core

import (
	"fmt"
	"time"
)

// Room holds the ordered history of one room. It is created implicitly the
// first time a session joins an unknown id, and mutated only by the hub loop.
type Room struct {
	ID      string
	history []Message
	lastSeq int64
	lastAt  time.Time
}

// NewRoom constructs a room with empty history.
func NewRoom(id string) *Room {
	return &Room{ID: id}
}

// Append assigns identity and ordering metadata to a validated message and
// appends it to the history. Timestamps are strictly increasing within the
// room so the (CreatedAt, ID) order matches append order.
func (r *Room) Append(author, body string, att *Attachment, now time.Time) (Message, int64) {
	r.lastSeq++
	if !now.After(r.lastAt) {
		now = r.lastAt.Add(time.Nanosecond)
	}
	r.lastAt = now

	msg := Message{
		ID:         fmt.Sprintf("m%d", r.lastSeq),
		Room:       r.ID,
		Author:     author,
		Body:       body,
		Attachment: att,
		CreatedAt:  now,
	}
	r.history = append(r.history, msg)
	return msg, r.lastSeq
}

// History returns a copy of the room's ordered history, safe to hand to a
// joining session while publishes continue.
func (r *Room) History() []Message {
	if len(r.history) == 0 {
		return nil
	}
	out := make([]Message, len(r.history))
	copy(out, r.history)
	return out
}

// Len returns the number of messages in the history.
func (r *Room) Len() int {
	return len(r.history)
}

// Seed restores history loaded from a durable store. lastSeq must be the
// highest sequence number among the seeded messages so new ids never collide.
func (r *Room) Seed(history []Message, lastSeq int64) {
	r.history = history
	r.lastSeq = lastSeq
	if n := len(history); n > 0 {
		r.lastAt = history[n-1].CreatedAt
	}
}
