package todo

import (
	"context"
	"sync"
)

// Observable is the read side of a Stream.
type Observable[T any] interface {
	// Value returns the most recently published value.
	Value() T

	// Observe calls fn with the current value and then with every value
	// published afterwards, in publish order. fn must not publish to the
	// stream it observes. The returned func stops delivery; it must not be
	// called from inside fn.
	Observe(fn func(T)) (cancel func())

	// Subscribe returns a channel that receives the current value and then
	// later values. A slow reader only misses intermediate values; the most
	// recent one is always delivered. The channel is closed when ctx is done.
	Subscribe(ctx context.Context) <-chan T
}

// Stream holds a value and replays it to every new observer.
// Safe for concurrent use.
type Stream[T any] struct {
	deliver sync.Mutex // held while observers run, so deliveries never overlap

	mu        sync.Mutex
	value     T
	observers map[int]func(T)
	nextID    int
}

var _ Observable[int] = (*Stream[int])(nil)

// NewStream creates a Stream holding initial.
func NewStream[T any](initial T) *Stream[T] {
	return &Stream[T]{value: initial, observers: make(map[int]func(T))}
}

func (s *Stream[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Publish stores v and delivers it to every observer before returning.
func (s *Stream[T]) Publish(v T) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	s.value = v
	fns := make([]func(T), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (s *Stream[T]) Observe(fn func(T)) func() {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	current := s.value
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.deliver.Lock()
			defer s.deliver.Unlock()
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Stream[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)
	cancel := s.Observe(func(v T) {
		select {
		case ch <- v:
			return
		default:
		}
		// Replace the stale buffered value with the latest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	})
	go func() {
		<-ctx.Done()
		cancel()
		close(ch)
	}()
	return ch
}
