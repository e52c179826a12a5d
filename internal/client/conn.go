package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/quickchat/quickchat/internal/core"
	"github.com/quickchat/quickchat/internal/proto"
	"github.com/quickchat/quickchat/internal/utils"
)

var (
	// ErrJoinTimeout is returned when the connect-and-join sequence exceeds
	// its wait bound. The caller may retry.
	ErrJoinTimeout = errors.New("timed out waiting to join room")
	// ErrJoinSuperseded is returned to a join whose response was abandoned
	// because a newer join replaced it.
	ErrJoinSuperseded = errors.New("join superseded by a newer join")
	// ErrNotConnected is returned when an operation needs a live transport.
	ErrNotConnected = errors.New("not connected")
	// ErrNoRoom is returned when sending without a bound room.
	ErrNoRoom = errors.New("no room joined")
)

// Options configures a Conn.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// DialTimeout bounds transport establishment. Default 5s.
	DialTimeout time.Duration
	// JoinTimeout bounds the join round trip, including any wait for the
	// transport to come up. Default 5s.
	JoinTimeout time.Duration

	Logger *zerolog.Logger

	// OnDisconnect fires when the transport drops unexpectedly.
	OnDisconnect func(err error)
	// OnPresence fires for user_joined / user_left events in the bound room.
	OnPresence func(event, room, user string)
	// OnServerError fires for error frames pushed by the server.
	OnServerError func(code, msg string)
}

// joinIntent is a queued join waiting for the transport or its history reply.
type joinIntent struct {
	room string
	name string
	done chan error
}

// Conn owns one transport connection per client session. It is the single
// egress and ingress point for room events: history replies go to the store
// as a full replace, live broadcasts as appends.
type Conn struct {
	opts  Options
	store *MessageStore
	log   *zerolog.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	writeMu   sync.Mutex
	connected bool
	readStop  context.CancelFunc

	// gen is bumped by Disconnect so a dial still in flight at that moment
	// cannot install its transport afterwards.
	gen int

	room string // currently bound room, empty when none
	name string

	// lastRoom/lastName survive an unexpected drop so a reconnect can
	// re-issue the join. A deliberate Disconnect clears them.
	lastRoom string
	lastName string

	join *joinIntent // most recent join, nil once answered
}

// New creates a connection manager feeding the given store.
func New(opts Options, store *MessageStore) *Conn {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.JoinTimeout == 0 {
		opts.JoinTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Conn{opts: opts, store: store, log: logger}
}

// Store returns the message store this connection feeds.
func (c *Conn) Store() *MessageStore {
	return c.store
}

// Connected reports the current transport state.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Room returns the currently bound room, empty when none.
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Session returns the room and display name of the most recent join, even
// while disconnected. Empty until the first join succeeds.
func (c *Conn) Session() (room, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRoom, c.lastName
}

// Connect idempotently establishes the transport. Calling it while already
// connected is a no-op; a second transport is never opened. Any join queued
// before the transport came up is flushed on success. A Disconnect issued
// while the dial is still in flight wins: the late transport is dropped.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	url := c.opts.URL
	gen := c.gen
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	ws.SetReadLimit(1 << 20)

	readCtx, stop := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.connected || c.gen != gen {
		// Lost the race against a concurrent Connect, or a Disconnect landed
		// mid-dial. Either way this transport must not be installed.
		c.mu.Unlock()
		stop()
		ws.Close(websocket.StatusNormalClosure, "superseded connect")
		return nil
	}
	c.ws = ws
	c.connected = true
	c.readStop = stop
	pending := c.join
	c.mu.Unlock()

	go c.readLoop(readCtx, ws)

	if pending != nil {
		if err := c.writeJoin(ctx, pending.room, pending.name); err != nil {
			c.log.Warn().Err(err).Str("room", pending.room).Msg("failed to flush queued join")
		}
	}
	return nil
}

// Disconnect tears the transport down and releases all room bindings. The
// message history already merged is left intact.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	ws := c.ws
	stop := c.readStop
	c.ws = nil
	c.connected = false
	c.readStop = nil
	c.room = ""
	c.lastRoom = ""
	c.lastName = ""
	c.join = nil
	c.gen++
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// JoinRoom sends a join intent for the room under the given display name and
// waits for the server's history reply. It is safe to call before the
// transport has finished connecting: the intent is queued and flushed once
// Connect succeeds. The wait is bounded; on timeout the caller is told the
// attempt failed instead of hanging. When joins race, only the most recent
// one is applied; earlier callers get ErrJoinSuperseded.
func (c *Conn) JoinRoom(ctx context.Context, roomID, displayName string) error {
	if roomID == "" {
		return errors.New("room is required")
	}

	c.mu.Lock()
	intent := &joinIntent{room: roomID, name: displayName, done: make(chan error, 1)}
	if prev := c.join; prev != nil {
		signalJoin(prev, ErrJoinSuperseded)
	}
	c.join = intent
	connected := c.connected
	c.mu.Unlock()

	if connected {
		if err := c.writeJoin(ctx, roomID, displayName); err != nil {
			signalJoin(intent, err)
		}
	}

	select {
	case err := <-intent.done:
		return err
	case <-time.After(c.opts.JoinTimeout):
		// The waiter gives up; a late reply, if it ever arrives and is
		// still current, is applied anyway.
		return ErrJoinTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconnect re-establishes the transport after a drop and re-issues the join
// for the previously bound room, re-acquiring membership and any history
// missed while disconnected.
func (c *Conn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	room, name := c.lastRoom, c.lastName
	c.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	if room == "" {
		return nil
	}
	return c.JoinRoom(ctx, room, name)
}

// Send publishes a message into the bound room. The returned nonce keys the
// optimistic in-flight entry; it is resolved when the authoritative
// broadcast echoes it back.
func (c *Conn) Send(ctx context.Context, text string, att *core.Attachment) (string, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	room := c.room
	name := c.name
	c.mu.Unlock()

	if room == "" {
		return "", ErrNoRoom
	}

	nonce := utils.NewNonce()
	c.store.AddPending(PendingMessage{
		Nonce:      nonce,
		Author:     name,
		Body:       text,
		Attachment: att,
		SentAt:     time.Now(),
	})

	data, err := json.Marshal(proto.MsgData{
		Room:       room,
		Text:       text,
		Attachment: proto.FromAttachment(att),
		Nonce:      nonce,
	})
	if err != nil {
		c.store.ResolvePending(nonce)
		return "", err
	}
	if err := c.write(ctx, proto.Inbound{Type: proto.InboundTypeMsg, Data: data}); err != nil {
		c.store.ResolvePending(nonce)
		return "", err
	}
	return nonce, nil
}

func (c *Conn) writeJoin(ctx context.Context, room, name string) error {
	data, err := json.Marshal(proto.JoinData{Room: room, Name: name})
	if err != nil {
		return err
	}
	return c.write(ctx, proto.Inbound{Type: proto.InboundTypeJoin, Data: data})
}

func (c *Conn) write(ctx context.Context, frame proto.Inbound) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, ws, frame)
}

// outboundFrame mirrors proto.Outbound with the payload left raw so each
// event can be decoded by kind.
type outboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *proto.Error    `json:"error,omitempty"`
}

// readLoop delivers all transport events on a single goroutine; handlers are
// idempotent against redelivery, so no further synchronization is needed on
// the event path.
func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		var frame outboundFrame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			c.handleDrop(ws, err)
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Conn) handleFrame(frame outboundFrame) {
	switch frame.Type {
	case proto.OutboundTypeError:
		if frame.Error != nil {
			c.log.Warn().Str("code", frame.Error.Code).Str("msg", frame.Error.Msg).Msg("server error")
			if c.opts.OnServerError != nil {
				c.opts.OnServerError(frame.Error.Code, frame.Error.Msg)
			}
		}
	case proto.OutboundTypeEvent:
		c.handleEvent(frame)
	default:
		c.log.Debug().Str("type", frame.Type).Msg("ignoring unknown frame type")
	}
}

func (c *Conn) handleEvent(frame outboundFrame) {
	switch frame.Event {
	case proto.EventNameHistory:
		var hist proto.EventHistory
		if err := json.Unmarshal(frame.Data, &hist); err != nil {
			c.log.Warn().Err(err).Msg("malformed history event, skipping")
			return
		}
		c.applyHistory(hist)
	case proto.EventNameMessage:
		var msg proto.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("malformed message event, skipping")
			return
		}
		c.applyBroadcast(msg)
	case proto.EventNameUserJoined, proto.EventNameUserLeft:
		var pres proto.EventPresence
		if err := json.Unmarshal(frame.Data, &pres); err != nil {
			return
		}
		if c.opts.OnPresence != nil {
			c.opts.OnPresence(frame.Event, pres.Room, pres.User)
		}
	default:
		c.log.Debug().Str("event", frame.Event).Msg("ignoring unknown event")
	}
}

// applyHistory installs a join reply. Only the most recent join's response
// is applied; a slow reply for an abandoned room is discarded, not merged.
func (c *Conn) applyHistory(hist proto.EventHistory) {
	c.mu.Lock()
	intent := c.join
	if intent == nil || intent.room != hist.Room {
		c.mu.Unlock()
		c.log.Debug().Str("room", hist.Room).Msg("discarding stale history reply")
		return
	}
	c.join = nil
	c.room = intent.room
	c.name = intent.name
	c.lastRoom = intent.room
	c.lastName = intent.name
	c.mu.Unlock()

	messages := make([]core.Message, 0, len(hist.Messages))
	for _, m := range hist.Messages {
		if m.ID == "" {
			c.log.Warn().Str("room", hist.Room).Msg("history entry without id, skipping")
			continue
		}
		messages = append(messages, m.ToMessage())
	}
	// Full replace: the join reply supersedes any stale local state from a
	// previous room.
	c.store.ReplaceAll(messages)

	signalJoin(intent, nil)
}

// applyBroadcast merges one live message. Malformed or foreign-room messages
// are isolated: skipped and logged without touching the ordered store.
func (c *Conn) applyBroadcast(msg proto.Message) {
	if msg.ID == "" || msg.Room == "" {
		c.log.Warn().Msg("malformed broadcast without id or room, skipping")
		return
	}

	c.mu.Lock()
	bound := c.room
	c.mu.Unlock()
	if msg.Room != bound {
		c.log.Debug().Str("room", msg.Room).Msg("discarding broadcast for unbound room")
		return
	}

	// The authoritative broadcast replaces the optimistic entry: resolve the
	// in-flight nonce first, then merge. Append dedups by id, so a REST
	// response racing with this echo cannot double-insert.
	c.store.ResolvePending(msg.Nonce)
	c.store.Append(msg.ToMessage())
}

// handleDrop records an unexpected transport loss. The binding is cleared so
// a future reconnect re-joins explicitly; the merged history stays to avoid
// discarding conversation on a transient blip.
func (c *Conn) handleDrop(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		// A newer transport already took over.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.connected = false
	c.readStop = nil
	if c.room != "" {
		c.lastRoom = c.room
		c.lastName = c.name
	}
	c.room = ""
	intent := c.join
	c.join = nil
	c.mu.Unlock()

	if intent != nil {
		signalJoin(intent, fmt.Errorf("connection lost: %w", err))
	}
	if !errors.Is(err, context.Canceled) {
		c.log.Warn().Err(err).Msg("transport dropped")
	}
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(err)
	}
}

// signalJoin answers a join waiter without ever blocking: the waiter may
// have already given up on its bounded wait.
func signalJoin(intent *joinIntent, err error) {
	select {
	case intent.done <- err:
	default:
	}
}

// WSURL derives the websocket endpoint from an HTTP base URL.
func WSURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}
