package web

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan StatusEvent) StatusEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
		return StatusEvent{}
	}
}

func TestBroadcaster_SubscribeAndReceive(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast("warn", "hello")

	evt := receive(t, ch)
	if evt.Kind != KindLog {
		t.Errorf("kind = %q, want %q", evt.Kind, KindLog)
	}
	if evt.Msg != "hello" {
		t.Errorf("msg = %q, want \"hello\"", evt.Msg)
	}
	if evt.Level != "warn" {
		t.Errorf("level = %q, want \"warn\"", evt.Level)
	}
	if evt.Time == "" {
		t.Error("event should have a timestamp")
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	if n := b.Subscribers(); n != 2 {
		t.Fatalf("subscribers = %d, want 2", n)
	}
	b.BroadcastMsg("multi")

	for i, ch := range []<-chan StatusEvent{ch1, ch2} {
		if evt := receive(t, ch); evt.Msg != "multi" {
			t.Errorf("subscriber %d: msg = %q, want \"multi\"", i, evt.Msg)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
	b.Broadcast("info", "after unsub")
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer; i++ {
		b.Broadcast("info", "fill")
	}
	b.Broadcast("info", "overflow")

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count != subscriberBuffer {
				t.Errorf("expected %d buffered messages, got %d", subscriberBuffer, count)
			}
			return
		}
	}
}

func TestBroadcaster_State(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.BroadcastState("awaiting", "streaming")

	evt := receive(t, ch)
	if evt.Kind != KindState || evt.Msg != "streaming" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	var data map[string]string
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["from"] != "awaiting" || data["to"] != "streaming" {
		t.Errorf("data = %v", data)
	}
}

func TestBroadcaster_MatchAndError(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.BroadcastMatch("5901234123457", map[string]string{"id": "abc", "format": "EAN_13"})
	b.BroadcastError(errors.New("camera unplugged"))

	match := receive(t, ch)
	if match.Kind != KindMatch || match.Msg != "5901234123457" {
		t.Fatalf("unexpected match event: %+v", match)
	}
	var data map[string]string
	if err := json.Unmarshal(match.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["id"] != "abc" {
		t.Errorf("id = %q, want abc", data["id"])
	}

	failure := receive(t, ch)
	if failure.Kind != KindError || failure.Level != "error" || failure.Msg != "camera unplugged" {
		t.Errorf("unexpected error event: %+v", failure)
	}
}

func TestBroadcastWriter_Write(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	input := "  first line  \nsecond line\n"
	n, err := w.Write([]byte(input))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(input) {
		t.Errorf("n = %d, want %d", n, len(input))
	}

	if evt := receive(t, ch); evt.Msg != "first line" {
		t.Errorf("msg = %q, want \"first line\"", evt.Msg)
	}
	if evt := receive(t, ch); evt.Msg != "second line" {
		t.Errorf("msg = %q, want \"second line\"", evt.Msg)
	}
}

func TestBroadcastWriter_EmptyWriteIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	BroadcastWriter(b).Write([]byte("   \n"))

	select {
	case <-ch:
		t.Error("expected no message for whitespace-only write")
	case <-time.After(50 * time.Millisecond):
	}
}
