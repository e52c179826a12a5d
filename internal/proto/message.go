// Package proto defines the JSON envelopes exchanged over the websocket
// transport and the REST surface.
package proto

import (
	"encoding/json"
	"time"

	"github.com/quickchat/quickchat/internal/core"
)

const (
	ProtocolVersion = 1

	InboundTypeJoin  = "join"
	InboundTypeLeave = "leave"
	InboundTypeMsg   = "msg"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNameHistory    = "history"
	EventNameMessage    = "message"
	EventNameUserJoined = "user_joined"
	EventNameUserLeft   = "user_left"
)

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JoinData requests to join a room under a display name.
type JoinData struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

// LeaveData releases the current room binding.
type LeaveData struct {
	Room string `json:"room"`
}

// MsgData is a publish request from the client. Nonce is optional and is
// echoed back in the resulting broadcast.
type MsgData struct {
	Room       string      `json:"room,omitempty"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Nonce      string      `json:"nonce,omitempty"`
}

// Attachment describes an externally hosted file.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Message is the wire form of a room message.
type Message struct {
	ID         string      `json:"id"`
	Room       string      `json:"room"`
	Author     string      `json:"author"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`

	// Nonce appears only on live broadcasts, so the sender can reconcile
	// its in-flight entry.
	Nonce string `json:"nonce,omitempty"`
}

// EventHistory delivers a room's full history once per successful join.
type EventHistory struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

// EventPresence notifies that a user joined or left a room.
type EventPresence struct {
	Room string `json:"room"`
	User string `json:"user"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// FromMessage converts a domain message to its wire form.
func FromMessage(m core.Message, nonce string) Message {
	return Message{
		ID:         m.ID,
		Room:       m.Room,
		Author:     m.Author,
		Text:       m.Body,
		Attachment: FromAttachment(m.Attachment),
		CreatedAt:  m.CreatedAt,
		Nonce:      nonce,
	}
}

// ToMessage converts a wire message back to the domain form.
func (m Message) ToMessage() core.Message {
	return core.Message{
		ID:         m.ID,
		Room:       m.Room,
		Author:     m.Author,
		Body:       m.Text,
		Attachment: m.Attachment.ToAttachment(),
		CreatedAt:  m.CreatedAt,
	}
}

// FromAttachment converts a domain attachment reference. Nil stays nil.
func FromAttachment(a *core.Attachment) *Attachment {
	if a == nil {
		return nil
	}
	return &Attachment{Name: a.Name, URL: a.URL, Type: a.MediaType, Size: a.Size}
}

// ToAttachment converts a wire attachment reference. Nil stays nil.
func (a *Attachment) ToAttachment() *core.Attachment {
	if a == nil {
		return nil
	}
	return &core.Attachment{Name: a.Name, URL: a.URL, MediaType: a.Type, Size: a.Size}
}
