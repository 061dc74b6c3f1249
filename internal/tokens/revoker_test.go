package tokens

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/eternisai/doorbell-dispatch/internal/logger"
)

var log *logger.Logger

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Verbose() {
		log = logger.New(logger.Config{Level: slog.LevelDebug})
	} else {
		log = logger.New(logger.Config{Level: slog.LevelError})
	}

	os.Exit(m.Run())
}

// memoryStore maps users to their tokens.
type memoryStore struct {
	mu      sync.Mutex
	users   map[string][]string
	failFor map[string]error
	block   chan struct{}
	calls   int
}

func (s *memoryStore) RemoveToken(ctx context.Context, token string) (int, error) {
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if err := s.failFor[token]; err != nil {
		return 0, err
	}

	updated := 0
	for user, tokens := range s.users {
		kept := tokens[:0:0]
		for _, t := range tokens {
			if t != token {
				kept = append(kept, t)
			}
		}
		if len(kept) != len(tokens) {
			s.users[user] = kept
			updated++
		}
	}
	return updated, nil
}

func (s *memoryStore) tokensOf(user string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users[user]...)
}

func TestRevokeIsIdempotent(t *testing.T) {
	store := &memoryStore{users: map[string][]string{
		"alice": {"tokA", "tokB"},
		"bob":   {"tokB"},
	}}
	r := NewRevoker(store, nil, Options{Workers: 1}, log, nil)
	defer r.Shutdown()

	for i := 0; i < 2; i++ {
		if err := r.Revoke(context.Background(), "tokB"); err != nil {
			t.Fatalf("Revoke #%d failed: %v", i+1, err)
		}
	}

	if got := store.tokensOf("alice"); len(got) != 1 || got[0] != "tokA" {
		t.Errorf("Expected alice to keep tokA only, got %v", got)
	}
	if got := store.tokensOf("bob"); len(got) != 0 {
		t.Errorf("Expected bob to have no tokens, got %v", got)
	}

	if err := r.Revoke(context.Background(), "never-registered"); err != nil {
		t.Errorf("Revoking an absent token must be a no-op, got %v", err)
	}
}

func TestEnqueueAndDrain(t *testing.T) {
	store := &memoryStore{users: map[string][]string{
		"alice": {"t1", "t2", "t3", "keep"},
	}}
	r := NewRevoker(store, nil, Options{Workers: 3, BufferSize: 10, Timeout: time.Second}, log, nil)
	defer r.Shutdown()

	for _, token := range []string{"t1", "t2", "t3"} {
		if err := r.Enqueue(context.Background(), token); err != nil {
			t.Fatalf("Enqueue %s failed: %v", token, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if got := store.tokensOf("alice"); len(got) != 1 || got[0] != "keep" {
		t.Errorf("Expected only keep to remain, got %v", got)
	}
}

func TestEnqueueOutlivesCallerContext(t *testing.T) {
	store := &memoryStore{users: map[string][]string{"alice": {"gone"}}}
	r := NewRevoker(store, nil, Options{Workers: 1, BufferSize: 1}, log, nil)
	defer r.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Enqueue(ctx, "gone"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	if err := r.Drain(drainCtx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if got := store.tokensOf("alice"); len(got) != 0 {
		t.Errorf("Expected token removed after caller cancelled, got %v", got)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	block := make(chan struct{})
	store := &memoryStore{users: map[string][]string{}, block: block}
	r := NewRevoker(store, nil, Options{Workers: 1, BufferSize: 1}, log, nil)

	// The first job is picked up by the worker and blocks; the second fills the buffer.
	if err := r.Enqueue(context.Background(), "a"); err != nil {
		t.Fatalf("Enqueue a failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(r.jobs) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := r.Enqueue(context.Background(), "b"); err != nil {
		t.Fatalf("Enqueue b failed: %v", err)
	}

	if err := r.Enqueue(context.Background(), "c"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	if got := r.dropped.Load(); got != 1 {
		t.Errorf("Expected 1 dropped, got %d", got)
	}

	close(block)
	r.Shutdown()

	if store.calls != 2 {
		t.Errorf("Expected 2 store calls after shutdown drained the queue, got %d", store.calls)
	}
	if err := r.Enqueue(context.Background(), "d"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}
}

func TestDrainRespectsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	store := &memoryStore{users: map[string][]string{}, block: block}
	r := NewRevoker(store, nil, Options{Workers: 1}, log, nil)

	if err := r.Enqueue(context.Background(), "stuck"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestRevokeStoreError(t *testing.T) {
	storeErr := errors.New("throttled")
	store := &memoryStore{users: map[string][]string{}, failFor: map[string]error{"x": storeErr}}
	r := NewRevoker(store, nil, Options{Workers: 1}, log, nil)
	defer r.Shutdown()

	if err := r.Revoke(context.Background(), "x"); !errors.Is(err, storeErr) {
		t.Errorf("Expected wrapped store error, got %v", err)
	}
}

func TestEnqueueRacingShutdownLeavesNothingPending(t *testing.T) {
	for round := 0; round < 50; round++ {
		store := &memoryStore{users: map[string][]string{}}
		r := NewRevoker(store, nil, Options{Workers: 2, BufferSize: 64}, log, nil)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 8; j++ {
					if err := r.Enqueue(context.Background(), "tok"); err == nil {
						mu.Lock()
						accepted++
						mu.Unlock()
					}
				}
			}()
		}
		r.Shutdown()
		wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := r.Drain(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Round %d: accepted job left unhandled after shutdown: %v", round, err)
		}

		store.mu.Lock()
		calls := store.calls
		store.mu.Unlock()
		if calls != accepted {
			t.Fatalf("Round %d: expected %d store calls, got %d", round, accepted, calls)
		}
	}
}
