package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/quickchat/quickchat/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndListRoomMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	msgs := []*store.Message{
		{Room: "ABC1", Seq: 1, ID: "m1", Author: "alice", Body: "hi", CreatedAt: base},
		{Room: "ABC1", Seq: 2, ID: "m2", Author: "bob", Body: "hello", CreatedAt: base.Add(time.Millisecond)},
		{Room: "XYZ9", Seq: 1, ID: "m1", Author: "carol", Body: "other room", CreatedAt: base},
	}
	for _, m := range msgs {
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save %s/%s: %v", m.Room, m.ID, err)
		}
	}

	got, err := s.ListRoomMessages(ctx, "ABC1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Author != "alice" || got[0].Body != "hi" {
		t.Fatalf("unexpected first message: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(base) {
		t.Fatalf("timestamp not preserved: want %v got %v", base, got[0].CreatedAt)
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &store.Message{
		Room:   "ABC1",
		Seq:    1,
		ID:     "m1",
		Author: "alice",
		Attachment: &store.Attachment{
			Name:      "photo.png",
			URL:       "/uploads/1693526400000-photo.png",
			MediaType: "image/png",
			Size:      2048,
		},
		CreatedAt: time.Now(),
	}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save message: %v", err)
	}

	got, err := s.ListRoomMessages(ctx, "ABC1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	att := got[0].Attachment
	if att == nil {
		t.Fatal("attachment not persisted")
	}
	if att.Name != "photo.png" || att.MediaType != "image/png" || att.Size != 2048 {
		t.Fatalf("unexpected attachment: %+v", att)
	}
}

func TestListRooms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rooms, err := s.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list rooms on empty store: %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("expected no rooms, got %v", rooms)
	}

	for i, room := range []string{"B", "A", "B"} {
		msg := &store.Message{Room: room, Seq: int64(i + 1), ID: "x", Author: "a", Body: "b", CreatedAt: time.Now()}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	rooms, err = s.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0] != "A" || rooms[1] != "B" {
		t.Fatalf("unexpected rooms: %v", rooms)
	}
}
