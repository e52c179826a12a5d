package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/quickchat/quickchat/internal/client"
	"github.com/quickchat/quickchat/internal/core"
)

func roomMsg(room, id, body string, sec int) core.Message {
	return core.Message{
		ID:        id,
		Room:      room,
		Author:    "alice",
		Body:      body,
		CreatedAt: time.Unix(int64(sec), 0).UTC(),
	}
}

func TestPrinterRendersEachMessageOnce(t *testing.T) {
	store := client.NewMessageStore()
	var buf bytes.Buffer
	p := &printer{out: &buf, store: store, printed: make(map[string]struct{})}

	store.Append(roomMsg("roomA", "m1", "first", 10))
	p.flush()
	p.flush()

	if got := strings.Count(buf.String(), "first"); got != 1 {
		t.Fatalf("message rendered %d times, want 1:\n%s", got, buf.String())
	}
}

func TestPrinterRendersNewRoomAfterSwitch(t *testing.T) {
	store := client.NewMessageStore()
	var buf bytes.Buffer
	p := &printer{out: &buf, store: store, printed: make(map[string]struct{})}

	store.Append(roomMsg("roomA", "m1", "hello from A", 10))
	p.flush()

	// A join to another room replaces the view; its first message carries
	// the same per-room id as the old room's first message.
	store.ReplaceAll([]core.Message{roomMsg("roomB", "m1", "hello from B", 20)})
	p.flush()

	if !strings.Contains(buf.String(), "hello from B") {
		t.Fatalf("new room's message never rendered:\n%s", buf.String())
	}
}
