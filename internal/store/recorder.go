package store

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/logic/decode"
)

const recordTimeout = 5 * time.Second

// Recorder is a scan consumer that writes every match to the store and then
// forwards it to the registered callbacks.
type Recorder struct {
	store *Store

	mu         sync.Mutex
	session    string
	onMatch    []func(Record)
	onUnusable []func(error)
}

// NewRecorder records matches into s.
func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s}
}

// SetSession tags subsequent records with a session ID.
func (r *Recorder) SetSession(id string) {
	r.mu.Lock()
	r.session = id
	r.mu.Unlock()
}

// OnRecorded registers a callback run after each stored match.
func (r *Recorder) OnRecorded(fn func(Record)) {
	r.mu.Lock()
	r.onMatch = append(r.onMatch, fn)
	r.mu.Unlock()
}

// OnUnusable registers a callback run when the camera cannot be used.
func (r *Recorder) OnUnusable(fn func(error)) {
	r.mu.Lock()
	r.onUnusable = append(r.onUnusable, fn)
	r.mu.Unlock()
}

// OnMatch stores the match. A store failure is logged and the match is
// still forwarded without an ID.
func (r *Recorder) OnMatch(m decode.Match, crop *image.Gray) {
	r.mu.Lock()
	session := r.session
	callbacks := append([]func(Record){}, r.onMatch...)
	r.mu.Unlock()

	rec := Record{SessionID: session, Text: m.Text, Format: m.Format, Points: m.Points, DecodedAt: m.At, HasCrop: crop != nil}
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		id, err := r.store.Add(ctx, session, m, crop)
		cancel()
		if err != nil {
			debug.Warn("Could not record match: %v", err)
			rec.HasCrop = false
		} else {
			rec.ID = id
			debug.Trace("Recorded match %s", id)
		}
	}
	for _, fn := range callbacks {
		fn(rec)
	}
}

// OnDeviceUnusable forwards the error to the registered callbacks.
func (r *Recorder) OnDeviceUnusable(err error) {
	r.mu.Lock()
	callbacks := append([]func(error){}, r.onUnusable...)
	r.mu.Unlock()
	for _, fn := range callbacks {
		fn(err)
	}
}
