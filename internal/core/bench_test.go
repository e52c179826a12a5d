package core

import (
	"context"
	"fmt"
	"testing"
)

func benchmarkRoomBroadcast(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub()
	go hub.Run(ctx)

	// Register the bulk of the room with drainers attached so their queues
	// never exert backpressure.
	for i := 0; i < recipients-1; i++ {
		c := NewClient(fmt.Sprintf("c%d", i))
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandJoinRoom, Room: "bench", Name: "member"}
		go func(cl *Client) {
			for {
				select {
				case <-cl.Events:
				case <-ctx.Done():
					return
				}
			}
		}(c)
	}

	// The measured target joins last, so its queue holds only its own join
	// traffic before the benchmark starts.
	target := NewClient("target")
	hub.RegisterClient(target)
	target.Commands <- &Command{Kind: CommandJoinRoom, Room: "bench", Name: "target"}
	for {
		ev := <-target.Events
		if ev.Kind == EventHistory {
			break
		}
	}
	for len(target.Events) > 0 {
		<-target.Events
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := hub.Publish(ctx, "bench", "sender", "payload", nil); err != nil {
			b.Fatal(err)
		}
		for {
			ev := <-target.Events
			if ev.Kind == EventRoomMessage {
				break
			}
		}
	}
}

func BenchmarkRoomBroadcast_10(b *testing.B)  { benchmarkRoomBroadcast(b, 10) }
func BenchmarkRoomBroadcast_100(b *testing.B) { benchmarkRoomBroadcast(b, 100) }
func BenchmarkRoomBroadcast_500(b *testing.B) { benchmarkRoomBroadcast(b, 500) }
