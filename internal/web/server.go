package web

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cjeanneret/scango/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, scanner Scanner, history History, cfg any) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: sub static fs: %w", err)
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, scanner, history, cfg, subFS),
	}, nil
}

// Handlers returns the route handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/restart", s.handlers.HandleRestart).Methods(http.MethodPost)
	r.HandleFunc("/torch", s.handlers.HandleTorch).Methods(http.MethodPost)
	r.HandleFunc("/state", s.handlers.HandleState).Methods(http.MethodGet)
	r.HandleFunc("/matches", s.handlers.HandleMatches).Methods(http.MethodGet)
	r.HandleFunc("/matches/{id}/crop.png", s.handlers.HandleCrop).Methods(http.MethodGet)
	r.HandleFunc("/config", s.handlers.HandleConfig).Methods(http.MethodGet)
	r.HandleFunc("/status/stream", s.handlers.HandleStatusStream).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	r.HandleFunc("/", s.handlers.ServeIndex).Methods(http.MethodGet)

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
