package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/logic/capture"
	"github.com/cjeanneret/scango/internal/store"
)

const (
	defaultMatchLimit = 50
	maxMatchLimit     = 500
	maxRestartDelay   = time.Minute
	heartbeatInterval = 30 * time.Second
	maxBodyBytes      = 1 << 20
)

// Scanner is the running scan session as seen by the HTTP surface.
type Scanner interface {
	ID() string
	State() capture.State
	RestartAfter(d time.Duration)
	SetTorch(on bool)
	Torch() bool
	LastResult() (capture.Result, bool)
}

// History lists stored matches. A nil History disables /matches.
type History interface {
	List(ctx context.Context, limit int) ([]store.Record, error)
	Crop(ctx context.Context, id string) ([]byte, error)
}

// RestartRequest is the optional body of POST /restart.
type RestartRequest struct {
	DelayMs int `json:"delay_ms"`
}

// TorchRequest is the body of POST /torch.
type TorchRequest struct {
	On bool `json:"on"`
}

// StateResponse is returned by GET /state.
type StateResponse struct {
	Session string     `json:"session"`
	State   string     `json:"state"`
	Torch   bool       `json:"torch"`
	Last    *LastMatch `json:"last,omitempty"`
}

// LastMatch is the match currently shown.
type LastMatch struct {
	Text   string `json:"text"`
	Format string `json:"format"`
	At     string `json:"at,omitempty"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Scanner     Scanner
	History     History
	Config      any
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, scanner Scanner, history History, cfg any, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Scanner:     scanner,
		History:     history,
		Config:      cfg,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Verbose("web: encode response: %v", err)
	}
}

// HandleConfig returns the effective configuration as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Config)
}

// ServeIndex serves the main HTML page.
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState reports the pipeline state and the match on display.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Scanner == nil {
		http.Error(w, "scanner not configured", http.StatusServiceUnavailable)
		return
	}
	resp := StateResponse{
		Session: h.Scanner.ID(),
		State:   h.Scanner.State().String(),
		Torch:   h.Scanner.Torch(),
	}
	if last, ok := h.Scanner.LastResult(); ok {
		lm := &LastMatch{Text: last.Match.Text, Format: last.Match.Format}
		if !last.Match.At.IsZero() {
			lm.At = last.Match.At.Format(time.RFC3339)
		}
		resp.Last = lm
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRestart schedules the next scan. An empty body restarts now.
func (h *Handlers) HandleRestart(w http.ResponseWriter, r *http.Request) {
	if h.Scanner == nil {
		http.Error(w, "scanner not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req RestartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	delay := time.Duration(req.DelayMs) * time.Millisecond
	if req.DelayMs < 0 || delay > maxRestartDelay {
		http.Error(w, fmt.Sprintf("delay_ms must be between 0 and %d", maxRestartDelay.Milliseconds()), http.StatusBadRequest)
		return
	}
	if h.Scanner.State() == capture.ShuttingDown {
		http.Error(w, "scanner is shutting down", http.StatusConflict)
		return
	}

	h.Scanner.RestartAfter(delay)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "restarting", "delay_ms": req.DelayMs})
}

// HandleTorch switches the torch.
func (h *Handlers) HandleTorch(w http.ResponseWriter, r *http.Request) {
	if h.Scanner == nil {
		http.Error(w, "scanner not configured", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req TorchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	h.Scanner.SetTorch(req.On)
	writeJSON(w, http.StatusAccepted, map[string]bool{"torch": req.On})
}

// HandleMatches lists recent matches, newest first.
func (h *Handlers) HandleMatches(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		http.Error(w, "history disabled", http.StatusServiceUnavailable)
		return
	}
	limit := defaultMatchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxMatchLimit {
			http.Error(w, fmt.Sprintf("limit must be between 1 and %d", maxMatchLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := h.History.List(r.Context(), limit)
	if err != nil {
		debug.Error(err)
		http.Error(w, "could not list matches", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleCrop serves the stored crop of one match as PNG.
func (h *Handlers) HandleCrop(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		http.Error(w, "history disabled", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, "missing match id", http.StatusBadRequest)
		return
	}
	png, err := h.History.Crop(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "crop not found", http.StatusNotFound)
		return
	}
	if err != nil {
		debug.Error(err)
		http.Error(w, "could not load crop", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Write(png)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
