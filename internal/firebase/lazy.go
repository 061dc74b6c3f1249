package firebase

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lazy initializes a value once on first use. Concurrent first callers share
// one init call. A failed init is not cached; the next Get retries.
type Lazy[T any] struct {
	init  func(ctx context.Context) (T, error)
	group singleflight.Group

	mu    sync.RWMutex
	value T
	ready bool
}

func NewLazy[T any](init func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{init: init}
}

// Get returns the value, running init if no call has succeeded yet.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.RLock()
	if l.ready {
		v := l.value
		l.mu.RUnlock()
		return v, nil
	}
	l.mu.RUnlock()

	v, err, _ := l.group.Do("init", func() (interface{}, error) {
		l.mu.RLock()
		if l.ready {
			v := l.value
			l.mu.RUnlock()
			return v, nil
		}
		l.mu.RUnlock()

		v, err := l.init(ctx)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		l.value = v
		l.ready = true
		l.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Peek returns the value if it has been initialized.
func (l *Lazy[T]) Peek() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.ready
}
