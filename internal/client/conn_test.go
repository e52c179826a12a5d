package client

import (
	"context"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/quickchat/quickchat/internal/config"
	"github.com/quickchat/quickchat/internal/core"
	"github.com/quickchat/quickchat/internal/log"
	"github.com/quickchat/quickchat/internal/proto"
	transport "github.com/quickchat/quickchat/internal/transport/http"
)

func startSyncServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := log.New("error")
	hub := core.NewHub(nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := config.Default()
	cfg.UploadDir = t.TempDir()

	server, err := transport.NewServer(hub, cfg, logger)
	if err != nil {
		t.Fatalf("build server: %v", err)
	}
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func newTestConn(t *testing.T, ts *httptest.Server) *Conn {
	t.Helper()

	store := NewMessageStore()
	conn := New(Options{URL: WSURL(ts.URL)}, store)
	t.Cleanup(conn.Disconnect)
	return conn
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectAndJoinFreshRoom(t *testing.T) {
	ts := startSyncServer(t)
	conn := newTestConn(t, ts)

	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := conn.JoinRoom(ctx, "general", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	if conn.Room() != "general" {
		t.Fatalf("room = %q, want general", conn.Room())
	}
	if conn.Store().Len() != 0 {
		t.Fatalf("fresh room store has %d messages", conn.Store().Len())
	}
}

func TestJoinBeforeConnectIsQueued(t *testing.T) {
	ts := startSyncServer(t)
	conn := newTestConn(t, ts)

	ctx := context.Background()
	joinErr := make(chan error, 1)
	go func() {
		joinErr <- conn.JoinRoom(ctx, "general", "alice")
	}()

	// Give the join a moment to queue before the transport exists.
	time.Sleep(20 * time.Millisecond)
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case err := <-joinErr:
		if err != nil {
			t.Fatalf("queued join failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("queued join never completed")
	}
	if conn.Room() != "general" {
		t.Fatalf("room = %q, want general", conn.Room())
	}
}

func TestSendResolvesPendingOnEcho(t *testing.T) {
	ts := startSyncServer(t)
	conn := newTestConn(t, ts)

	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := conn.JoinRoom(ctx, "general", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	nonce, err := conn.Send(ctx, "hello", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if nonce == "" {
		t.Fatal("Send returned empty nonce")
	}
	if len(conn.Store().Pending()) != 1 {
		t.Fatal("send did not record a pending entry")
	}

	waitFor(t, "broadcast echo", func() bool { return conn.Store().Len() == 1 })
	waitFor(t, "pending resolution", func() bool { return len(conn.Store().Pending()) == 0 })

	msg := conn.Store().Messages()[0]
	if msg.Author != "alice" || msg.Body != "hello" {
		t.Fatalf("unexpected merged message: %+v", msg)
	}
	if msg.ID == "" {
		t.Fatal("merged message missing server-assigned id")
	}
}

func TestBroadcastReachesAllMembersInOrder(t *testing.T) {
	ts := startSyncServer(t)
	alice := newTestConn(t, ts)
	bob := newTestConn(t, ts)

	ctx := context.Background()
	for name, conn := range map[string]*Conn{"alice": alice, "bob": bob} {
		if err := conn.Connect(ctx); err != nil {
			t.Fatalf("Connect %s: %v", name, err)
		}
		if err := conn.JoinRoom(ctx, "general", name); err != nil {
			t.Fatalf("JoinRoom %s: %v", name, err)
		}
	}

	for i := 0; i < 5; i++ {
		if _, err := alice.Send(ctx, "msg", nil); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	waitFor(t, "alice view", func() bool { return alice.Store().Len() == 5 })
	waitFor(t, "bob view", func() bool { return bob.Store().Len() == 5 })

	av, bv := alice.Store().Messages(), bob.Store().Messages()
	for i := range av {
		if av[i].ID != bv[i].ID {
			t.Fatalf("views diverge at %d: %q vs %q", i, av[i].ID, bv[i].ID)
		}
	}
}

func TestRoomSwitchReplacesView(t *testing.T) {
	ts := startSyncServer(t)
	alice := newTestConn(t, ts)
	bob := newTestConn(t, ts)

	ctx := context.Background()
	if err := alice.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := alice.JoinRoom(ctx, "roomA", "alice"); err != nil {
		t.Fatalf("join roomA: %v", err)
	}
	if _, err := alice.Send(ctx, "only in A", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "roomA echo", func() bool { return alice.Store().Len() == 1 })

	if err := alice.JoinRoom(ctx, "roomB", "alice"); err != nil {
		t.Fatalf("join roomB: %v", err)
	}
	if alice.Room() != "roomB" {
		t.Fatalf("room = %q, want roomB", alice.Room())
	}
	if alice.Store().Len() != 0 {
		t.Fatalf("roomA history leaked into roomB view: %+v", alice.Store().Messages())
	}

	// A message published into the abandoned room must not reach alice.
	if err := bob.Connect(ctx); err != nil {
		t.Fatalf("Connect bob: %v", err)
	}
	if err := bob.JoinRoom(ctx, "roomA", "bob"); err != nil {
		t.Fatalf("join roomA: %v", err)
	}
	if _, err := bob.Send(ctx, "still in A", nil); err != nil {
		t.Fatalf("Send bob: %v", err)
	}
	waitFor(t, "bob echo", func() bool { return bob.Store().Len() == 2 })

	if alice.Store().Len() != 0 {
		t.Fatalf("cross-room delivery: %+v", alice.Store().Messages())
	}
}

func TestRejoinCatchesUpOnHistory(t *testing.T) {
	ts := startSyncServer(t)
	alice := newTestConn(t, ts)
	bob := newTestConn(t, ts)

	ctx := context.Background()
	for name, conn := range map[string]*Conn{"alice": alice, "bob": bob} {
		if err := conn.Connect(ctx); err != nil {
			t.Fatalf("Connect %s: %v", name, err)
		}
		if err := conn.JoinRoom(ctx, "general", name); err != nil {
			t.Fatalf("JoinRoom %s: %v", name, err)
		}
	}

	alice.Disconnect()
	if alice.Connected() {
		t.Fatal("still connected after Disconnect")
	}

	if _, err := bob.Send(ctx, "while you were away", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "bob echo", func() bool { return bob.Store().Len() == 1 })

	if err := alice.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if err := alice.JoinRoom(ctx, "general", "alice"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	waitFor(t, "history catch-up", func() bool { return alice.Store().Len() == 1 })
	if alice.Store().Messages()[0].Body != "while you were away" {
		t.Fatalf("unexpected catch-up message: %+v", alice.Store().Messages()[0])
	}
}

func TestNewerJoinSupersedesQueuedJoin(t *testing.T) {
	ts := startSyncServer(t)
	conn := newTestConn(t, ts)

	ctx := context.Background()
	firstErr := make(chan error, 1)
	go func() {
		firstErr <- conn.JoinRoom(ctx, "roomA", "alice")
	}()
	waitFor(t, "first join to queue", func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.join != nil && conn.join.room == "roomA"
	})

	secondErr := make(chan error, 1)
	go func() {
		secondErr <- conn.JoinRoom(ctx, "roomB", "alice")
	}()

	select {
	case err := <-firstErr:
		if err != ErrJoinSuperseded {
			t.Fatalf("first join err = %v, want ErrJoinSuperseded", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("superseded join never returned")
	}

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case err := <-secondErr:
		if err != nil {
			t.Fatalf("second join failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second join never completed")
	}
	if conn.Room() != "roomB" {
		t.Fatalf("room = %q, want roomB", conn.Room())
	}
}

func TestDisconnectDuringDialWins(t *testing.T) {
	dialing := make(chan struct{})
	release := make(chan struct{})
	ts := httptest.NewServer(stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		close(dialing)
		<-release
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Hold the server side open until the client closes it.
		_, _, _ = ws.Read(r.Context())
		ws.CloseNow()
	}))
	t.Cleanup(ts.Close)

	conn := New(Options{URL: WSURL(ts.URL)}, NewMessageStore())

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.Connect(context.Background())
	}()

	// Disconnect lands while the dial is still waiting on the handshake.
	<-dialing
	conn.Disconnect()
	close(release)

	if err := <-errCh; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.Connected() {
		t.Fatal("in-flight dial resurrected a deliberately disconnected client")
	}
}

func TestStaleHistoryForAbandonedRoomIsDiscarded(t *testing.T) {
	store := NewMessageStore()
	store.Append(core.Message{ID: "old", Room: "roomB", Author: "alice", Body: "kept", CreatedAt: time.Unix(5, 0).UTC()})
	conn := New(Options{URL: "ws://unused.invalid/ws", JoinTimeout: 3 * time.Second}, store)

	ctx := context.Background()
	firstErr := make(chan error, 1)
	go func() {
		firstErr <- conn.JoinRoom(ctx, "roomA", "alice")
	}()
	waitFor(t, "first join to queue", func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.join != nil && conn.join.room == "roomA"
	})

	secondErr := make(chan error, 1)
	go func() {
		secondErr <- conn.JoinRoom(ctx, "roomB", "alice")
	}()
	waitFor(t, "second join to queue", func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.join != nil && conn.join.room == "roomB"
	})

	select {
	case err := <-firstErr:
		if err != ErrJoinSuperseded {
			t.Fatalf("abandoned join err = %v, want ErrJoinSuperseded", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("abandoned join never returned")
	}

	// The slow reply for the abandoned room finally arrives. It must be
	// dropped, not merged: the store keeps its state and no binding happens.
	conn.applyHistory(proto.EventHistory{
		Room:     "roomA",
		Messages: []proto.Message{{ID: "m1", Room: "roomA", Author: "bob", Text: "stale", CreatedAt: time.Unix(10, 0).UTC()}},
	})

	if conn.Room() != "" {
		t.Fatalf("stale reply bound a room: %q", conn.Room())
	}
	if store.Len() != 1 || !store.Has("old") {
		t.Fatalf("stale reply touched the store: %v", ids(store.Messages()))
	}
	select {
	case err := <-secondErr:
		t.Fatalf("current join answered by a stale reply: %v", err)
	default:
	}

	// The current join's reply is applied in full.
	conn.applyHistory(proto.EventHistory{
		Room:     "roomB",
		Messages: []proto.Message{{ID: "m1", Room: "roomB", Author: "bob", Text: "fresh", CreatedAt: time.Unix(20, 0).UTC()}},
	})

	select {
	case err := <-secondErr:
		if err != nil {
			t.Fatalf("current join failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("current join never completed")
	}
	if conn.Room() != "roomB" {
		t.Fatalf("room = %q, want roomB", conn.Room())
	}
	got := store.Messages()
	if len(got) != 1 || got[0].Body != "fresh" {
		t.Fatalf("store = %v, want only roomB's history", ids(got))
	}
}

func TestSendWithoutRoom(t *testing.T) {
	ts := startSyncServer(t)
	conn := newTestConn(t, ts)

	ctx := context.Background()
	if _, err := conn.Send(ctx, "hello", nil); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := conn.Send(ctx, "hello", nil); err != ErrNoRoom {
		t.Fatalf("err = %v, want ErrNoRoom", err)
	}
}
