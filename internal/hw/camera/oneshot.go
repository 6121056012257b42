package camera

import (
	"sync"

	"github.com/cjeanneret/scango/internal/debug"
)

// oneShot holds the handler of a single outstanding hardware request. The
// handler is cleared before it runs, so a second delivery for the same
// request finds nothing and is dropped.
type oneShot[T any] struct {
	name string

	mu      sync.Mutex
	handler func(T)
	stopped bool
}

func (s *oneShot[T]) arm(h func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		debug.Warn("%s request replaced while one was outstanding", s.name)
	}
	s.handler = h
	s.stopped = false
}

func (s *oneShot[T]) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = nil
	s.stopped = true
}

func (s *oneShot[T]) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

// fire delivers v to the armed handler, if any.
func (s *oneShot[T]) fire(v T) {
	s.mu.Lock()
	h := s.handler
	stopped := s.stopped
	s.handler = nil
	s.mu.Unlock()

	if h == nil {
		if stopped {
			debug.Trace("%s callback dropped: arrived after stop", s.name)
		} else {
			debug.Trace("%s callback dropped: no request pending", s.name)
		}
		return
	}
	h(v)
}
