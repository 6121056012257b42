package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event kinds carried on the status stream.
const (
	KindLog   = "log"
	KindState = "state"
	KindMatch = "match"
	KindError = "error"
)

const subscriberBuffer = 64

// StatusEvent is one message on the SSE stream.
type StatusEvent struct {
	Time  string          `json:"t"`
	Kind  string          `json:"kind"`
	Level string          `json:"l,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StatusBroadcaster fans scan events out to SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan StatusEvent]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan StatusEvent]struct{}),
	}
}

// Subscribe returns a channel of events and its cleanup function, to be
// called when the client disconnects.
func (b *StatusBroadcaster) Subscribe() (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, subscriberBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers returns the number of connected clients.
func (b *StatusBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// publish never blocks: a slow client misses events.
func (b *StatusBroadcaster) publish(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Broadcast sends a log line.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.publish(StatusEvent{Kind: KindLog, Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastError reports a failure, e.g. an unusable camera.
func (b *StatusBroadcaster) BroadcastError(err error) {
	b.publish(StatusEvent{Kind: KindError, Level: "error", Msg: err.Error()})
}

// BroadcastState reports a pipeline transition.
func (b *StatusBroadcaster) BroadcastState(prev, next string) {
	data, _ := json.Marshal(map[string]string{"from": prev, "to": next})
	b.publish(StatusEvent{Kind: KindState, Msg: next, Data: data})
}

// BroadcastMatch sends a decoded result; v is encoded as the event data.
func (b *StatusBroadcaster) BroadcastMatch(text string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = nil
	}
	b.publish(StatusEvent{Kind: KindMatch, Msg: text, Data: data})
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter tees the debug logger into the stream (see debug.SetOutput).
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.BroadcastMsg(msg)
		}
	}
	return len(p), nil
}
