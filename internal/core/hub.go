package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quickchat/quickchat/internal/store"
)

// Hub owns all room state: membership (via the registry), per-room history,
// and fan-out. A single loop processes every command, so publishes for one
// room never interleave and every member observes the identical order.
type Hub struct {
	registry *Registry
	rooms    map[string]*Room
	clients  map[string]*Client

	register   chan *Client
	unregister chan *Client
	commands   chan envelope
	publishes  chan publishRequest
	queries    chan historyQuery

	st  store.MessageStore // optional, nil when durability is disabled
	log *zerolog.Logger
}

type envelope struct {
	client *Client
	cmd    *Command
}

type publishRequest struct {
	room       string
	author     string
	body       string
	attachment *Attachment
	reply      chan PublishResult
}

type historyQuery struct {
	room  string
	reply chan []Message
}

// NewHub creates a hub. st may be nil; history then lives only in process
// memory and is lost on restart.
func NewHub(st store.MessageStore, logger *zerolog.Logger) *Hub {
	return &Hub{
		registry:   NewRegistry(),
		rooms:      make(map[string]*Room),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan envelope, 64),
		publishes:  make(chan publishRequest),
		queries:    make(chan historyQuery),
		st:         st,
		log:        logger,
	}
}

// SeedFromStore loads persisted history into memory. Called once before Run.
func (h *Hub) SeedFromStore(ctx context.Context) error {
	if h.st == nil {
		return nil
	}

	roomIDs, err := h.st.ListRooms(ctx)
	if err != nil {
		return err
	}
	for _, id := range roomIDs {
		records, err := h.st.ListRoomMessages(ctx, id)
		if err != nil {
			return err
		}
		history := make([]Message, 0, len(records))
		var lastSeq int64
		for _, rec := range records {
			history = append(history, messageFromStore(rec))
			if rec.Seq > lastSeq {
				lastSeq = rec.Seq
			}
		}
		room := NewRoom(id)
		room.Seed(history, lastSeq)
		h.rooms[id] = room

		h.log.Info().Str("room", id).Int("messages", len(history)).Msg("seeded room history")
	}
	return nil
}

// Run processes hub traffic until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c.ID] = c
		case c := <-h.unregister:
			h.handleDisconnect(c)
		case env := <-h.commands:
			h.handleCommand(env.client, env.cmd)
		case req := <-h.publishes:
			msg, err := h.publish(ctx, req.room, req.author, req.body, req.attachment, "")
			req.reply <- PublishResult{Message: msg, Err: err}
		case q := <-h.queries:
			if room, ok := h.rooms[q.room]; ok {
				q.reply <- room.History()
			} else {
				q.reply <- nil
			}
		case <-ctx.Done():
			return
		}
	}
}

// RegisterClient adds a connection to the hub and starts pumping its
// commands into the loop.
func (h *Hub) RegisterClient(c *Client) {
	h.register <- c
	go h.pump(c)
}

// UnregisterClient removes a disconnected client, releasing its room binding.
// The history it already received stays with it; only membership is dropped.
func (h *Hub) UnregisterClient(c *Client) {
	c.Close()
	h.unregister <- c
}

// Publish validates and publishes a message on behalf of a caller without a
// live session (the HTTP path). It returns the authoritative message once it
// has been appended and fanned out.
func (h *Hub) Publish(ctx context.Context, room, author, body string, att *Attachment) (Message, error) {
	reply := make(chan PublishResult, 1)
	select {
	case h.publishes <- publishRequest{room: room, author: author, body: body, attachment: att, reply: reply}:
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.Message, res.Err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// RoomHistory returns a consistent snapshot of a room's history. Unknown
// rooms yield an empty history, never an error.
func (h *Hub) RoomHistory(ctx context.Context, room string) ([]Message, error) {
	reply := make(chan []Message, 1)
	select {
	case h.queries <- historyQuery{room: room, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case history := <-reply:
		return history, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) pump(c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			select {
			case h.commands <- envelope{client: c, cmd: cmd}:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandJoinRoom:
		h.handleJoin(c, cmd.Room, cmd.Name)
	case CommandLeaveRoom:
		h.handleLeave(c)
	case CommandPublish:
		h.handleClientPublish(c, cmd)
	default:
		h.sendEvent(c, &Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "unknown command")})
	}
}

// handleJoin binds the session to the room, implicitly creating it, and
// replies with the room's current history exactly once. Re-joining the same
// room re-sends the history, which the rejoin path relies on after a drop.
func (h *Hub) handleJoin(c *Client, roomID, name string) {
	if roomID == "" {
		h.sendEvent(c, &Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "room is required")})
		return
	}
	if name != "" {
		c.Name = name
	}

	prev, moved := h.registry.Bind(c.ID, roomID)
	if moved && prev != roomID {
		h.broadcast(prev, &Event{Kind: EventUserLeft, Room: prev, User: c.Name})
		h.maybeDropRoom(prev)
	}

	room := h.roomFor(roomID)
	h.sendEvent(c, &Event{Kind: EventHistory, Room: roomID, Messages: room.History()})
	h.broadcast(roomID, &Event{Kind: EventUserJoined, Room: roomID, User: c.Name})

	h.log.Debug().Str("session", c.ID).Str("room", roomID).Str("name", c.Name).Msg("session joined room")
}

func (h *Hub) handleLeave(c *Client) {
	roomID, ok := h.registry.Unbind(c.ID)
	if !ok {
		return
	}
	h.broadcast(roomID, &Event{Kind: EventUserLeft, Room: roomID, User: c.Name})
	h.maybeDropRoom(roomID)
}

func (h *Hub) handleClientPublish(c *Client, cmd *Command) {
	roomID, ok := h.registry.RoomOf(c.ID)
	if !ok || (cmd.Room != "" && cmd.Room != roomID) {
		h.sendEvent(c, &Event{Kind: EventError, Error: coreError(ErrCodeNotJoined, "join a room before sending")})
		return
	}

	if _, err := h.publish(context.Background(), roomID, c.Name, cmd.Body, cmd.Attachment, cmd.Nonce); err != nil {
		var ce *CoreError
		if !errors.As(err, &ce) {
			ce = coreError(ErrCodeBadRequest, err.Error())
		}
		h.sendEvent(c, &Event{Kind: EventError, Room: roomID, Error: ce})
	}
}

func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	if roomID, ok := h.registry.Unbind(c.ID); ok {
		h.broadcast(roomID, &Event{Kind: EventUserLeft, Room: roomID, User: c.Name})
		h.maybeDropRoom(roomID)
	}
}

// publish is the single serialization point for a room: validate, assign
// identity and ordering, append to history, persist, fan out. A validation
// failure leaves history and the sequence counter untouched.
func (h *Hub) publish(ctx context.Context, roomID, author, body string, att *Attachment, nonce string) (Message, error) {
	if err := validatePublish(roomID, author, body, att); err != nil {
		return Message{}, err
	}

	room := h.roomFor(roomID)
	msg, seq := room.Append(author, strings.TrimSpace(body), att, time.Now())

	if h.st != nil {
		if err := h.st.SaveMessage(ctx, messageToStore(msg, seq)); err != nil {
			// Write-behind: in-memory state is authoritative for a live
			// process, so a persistence failure is logged, not surfaced.
			h.log.Error().Err(err).Str("room", roomID).Str("id", msg.ID).Msg("failed to persist message")
		}
	}

	h.broadcast(roomID, &Event{Kind: EventRoomMessage, Room: roomID, Message: msg, Nonce: nonce})
	return msg, nil
}

func validatePublish(roomID, author, body string, att *Attachment) error {
	if roomID == "" {
		return ValidationError("room is required")
	}
	if strings.TrimSpace(author) == "" {
		return ValidationError("author is required")
	}
	if strings.TrimSpace(body) == "" && att == nil {
		return ValidationError("message body or attachment is required")
	}
	if att != nil && att.URL == "" {
		return ValidationError("attachment url is required")
	}
	return nil
}

func (h *Hub) roomFor(id string) *Room {
	room, ok := h.rooms[id]
	if !ok {
		room = NewRoom(id)
		h.rooms[id] = room
		h.log.Debug().Str("room", id).Msg("room created")
	}
	return room
}

// maybeDropRoom frees an empty room that no durable store retains.
func (h *Hub) maybeDropRoom(id string) {
	if h.st != nil {
		return
	}
	room, ok := h.rooms[id]
	if !ok {
		return
	}
	if h.registry.MemberCount(id) == 0 && room.Len() == 0 {
		delete(h.rooms, id)
	}
}

func (h *Hub) broadcast(roomID string, ev *Event) {
	for _, sessionID := range h.registry.MembersOf(roomID) {
		client, ok := h.clients[sessionID]
		if !ok {
			continue
		}
		h.sendEvent(client, ev)
	}
}

func (h *Hub) sendEvent(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
	default:
		// Drop if slow consumer.
		h.log.Warn().Str("session", c.ID).Msg("event dropped for slow consumer")
	}
}

func messageToStore(msg Message, seq int64) *store.Message {
	rec := &store.Message{
		Room:      msg.Room,
		Seq:       seq,
		ID:        msg.ID,
		Author:    msg.Author,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
	if msg.Attachment != nil {
		rec.Attachment = &store.Attachment{
			Name:      msg.Attachment.Name,
			URL:       msg.Attachment.URL,
			MediaType: msg.Attachment.MediaType,
			Size:      msg.Attachment.Size,
		}
	}
	return rec
}

func messageFromStore(rec *store.Message) Message {
	msg := Message{
		ID:        rec.ID,
		Room:      rec.Room,
		Author:    rec.Author,
		Body:      rec.Body,
		CreatedAt: rec.CreatedAt,
	}
	if rec.Attachment != nil {
		msg.Attachment = &Attachment{
			Name:      rec.Attachment.Name,
			URL:       rec.Attachment.URL,
			MediaType: rec.Attachment.MediaType,
			Size:      rec.Attachment.Size,
		}
	}
	return msg
}
