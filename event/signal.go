// Package event provides the typed publish/subscribe signal used between the
// transport, protocol, replay and recorder components.
//
// A Signal holds callbacks keyed by a never-reused id. Subscribe hands back a
// Token; releasing the token is the only way to unsubscribe. Publish copies
// the current callbacks under the lock and runs them after releasing it, so a
// callback may subscribe, release tokens or publish again on the same signal.
package event

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Signal is a multi-listener event of payload type T. The zero value is ready
// to use. A Signal must not be copied after first use.
type Signal[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(T)

	panics atomic.Uint64
}

// Subscribe registers fn and returns the token that owns the subscription.
// A nil fn yields an inert token.
func (s *Signal[T]) Subscribe(fn func(T)) *Token {
	if fn == nil {
		return &Token{}
	}

	s.mu.Lock()
	if s.handlers == nil {
		s.handlers = make(map[uint64]func(T))
	}
	s.nextID++
	id := s.nextID
	s.handlers[id] = fn
	s.mu.Unlock()

	return &Token{release: func() { s.remove(id) }}
}

// Publish delivers v to every callback registered when the call starts.
// Callbacks run on the calling goroutine, one after another, in no particular
// order. A callback that panics is logged and skipped; the rest still run.
func (s *Signal[T]) Publish(v T) {
	s.mu.Lock()
	if len(s.handlers) == 0 {
		s.mu.Unlock()
		return
	}
	snapshot := make([]func(T), 0, len(s.handlers))
	for _, fn := range s.handlers {
		snapshot = append(snapshot, fn)
	}
	s.mu.Unlock()

	for _, fn := range snapshot {
		s.invoke(fn, v)
	}
}

// Len returns the number of live subscriptions.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Panics returns how many callback panics this signal has recovered.
func (s *Signal[T]) Panics() uint64 {
	return s.panics.Load()
}

func (s *Signal[T]) invoke(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			slog.Default().Error("event listener panicked",
				"component", "event",
				"payload_type", fmt.Sprintf("%T", v),
				"panic", r)
		}
	}()
	fn(v)
}

func (s *Signal[T]) remove(id uint64) {
	s.mu.Lock()
	delete(s.handlers, id)
	s.mu.Unlock()
}
