// Package client implements the client half of the room sync core: the
// connection manager owning one transport per session and the ordered,
// de-duplicated message store it feeds.
package client

import (
	"sort"
	"sync"
	"time"

	"github.com/quickchat/quickchat/internal/core"
)

// PendingMessage is an optimistic, locally displayed entry awaiting its
// authoritative broadcast. It carries no message id; identity is assigned by
// the server only. The nonce is the sole correlation key.
type PendingMessage struct {
	Nonce      string
	Author     string
	Body       string
	Attachment *core.Attachment
	SentAt     time.Time
}

// MessageStore is an ordered, de-duplicated, append-only view of one room's
// messages. Ordering follows (CreatedAt, ID) as assigned by the broadcaster,
// not arrival order; duplicates by id are suppressed.
type MessageStore struct {
	mu       sync.RWMutex
	messages []core.Message
	seen     map[string]struct{}
	pending  []PendingMessage
	onChange func()
}

// NewMessageStore constructs an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{seen: make(map[string]struct{})}
}

// SetOnChange registers an observer invoked after every mutation. Used by
// the snapshot persister; the merge logic itself knows nothing about it.
func (s *MessageStore) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// ReplaceAll installs a full history delivered on join, superseding any
// previous state. The input is normalized: sorted canonically, duplicate ids
// dropped.
func (s *MessageStore) ReplaceAll(messages []core.Message) {
	s.mu.Lock()
	s.messages = s.messages[:0]
	s.seen = make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		s.insertLocked(msg)
	}
	s.mu.Unlock()
	s.notify()
}

// Append merges one message into the ordered view. It is a no-op for a
// duplicate id, which makes redelivery after reconnect and the optimistic
// echo race harmless. Returns true if the message was added.
func (s *MessageStore) Append(msg core.Message) bool {
	s.mu.Lock()
	added := s.insertLocked(msg)
	s.mu.Unlock()
	if added {
		s.notify()
	}
	return added
}

// insertLocked places msg at its canonical position.
func (s *MessageStore) insertLocked(msg core.Message) bool {
	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	s.seen[msg.ID] = struct{}{}

	i := sort.Search(len(s.messages), func(i int) bool {
		return core.Less(msg, s.messages[i])
	})
	s.messages = append(s.messages, core.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
	return true
}

// Messages returns a copy of the ordered view.
func (s *MessageStore) Messages() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return nil
	}
	out := make([]core.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of confirmed messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Has reports whether a message with the given id is present.
func (s *MessageStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// AddPending records an in-flight optimistic entry.
func (s *MessageStore) AddPending(p PendingMessage) {
	s.mu.Lock()
	s.pending = append(s.pending, p)
	s.mu.Unlock()
	s.notify()
}

// ResolvePending removes the in-flight entry with the given nonce, typically
// because its authoritative broadcast arrived. Unknown nonces (someone
// else's sends) are ignored.
func (s *MessageStore) ResolvePending(nonce string) bool {
	if nonce == "" {
		return false
	}
	s.mu.Lock()
	resolved := false
	for i, p := range s.pending {
		if p.Nonce == nonce {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			resolved = true
			break
		}
	}
	s.mu.Unlock()
	if resolved {
		s.notify()
	}
	return resolved
}

// Pending returns a copy of the in-flight entries, oldest first.
func (s *MessageStore) Pending() []PendingMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]PendingMessage, len(s.pending))
	copy(out, s.pending)
	return out
}

func (s *MessageStore) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
