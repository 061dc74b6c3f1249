package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternisai/doorbell-dispatch/internal/logger"
	"github.com/eternisai/doorbell-dispatch/internal/metrics"
)

// ErrShuttingDown is returned by Enqueue after Shutdown has been called.
var ErrShuttingDown = errors.New("token revoker shutting down")

// ErrQueueFull is returned by Enqueue when the job buffer is full.
var ErrQueueFull = errors.New("token revocation queue is full")

// Store removes a push token from every user that holds it.
// Removing a token that no user holds is not an error.
type Store interface {
	RemoveToken(ctx context.Context, token string) (int, error)
}

// Options configures the worker pool.
type Options struct {
	Workers    int
	BufferSize int
	Timeout    time.Duration
}

// Revoker removes permanently failed tokens in the background.
type Revoker struct {
	store      Store
	suppressor *Suppressor
	metrics    *metrics.Metrics
	logger     *logger.Logger
	timeout    time.Duration

	jobs       chan revokeJob
	workerPool sync.WaitGroup
	shutdown   chan struct{}
	dropped    atomic.Int64

	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{}
}

type revokeJob struct {
	ctx   context.Context
	token string
}

// NewRevoker starts opts.Workers workers. suppressor and m may be nil.
func NewRevoker(store Store, suppressor *Suppressor, opts Options, logger *logger.Logger, m *metrics.Metrics) *Revoker {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	r := &Revoker{
		store:      store,
		suppressor: suppressor,
		metrics:    m,
		logger:     logger.WithComponent("token-hygiene"),
		timeout:    opts.Timeout,
		jobs:       make(chan revokeJob, opts.BufferSize),
		shutdown:   make(chan struct{}),
	}

	for i := 0; i < opts.Workers; i++ {
		r.workerPool.Add(1)
		go r.worker()
	}

	return r
}

func (r *Revoker) worker() {
	defer r.workerPool.Done()

	for {
		select {
		case job := <-r.jobs:
			r.handle(job)
		case <-r.shutdown:
			for {
				select {
				case job := <-r.jobs:
					r.handle(job)
				default:
					return
				}
			}
		}
	}
}

// Revoke removes token synchronously.
func (r *Revoker) Revoke(ctx context.Context, token string) error {
	updated, err := r.store.RemoveToken(ctx, token)
	if err != nil {
		r.metrics.TokenRevoked(false)
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	r.metrics.TokenRevoked(true)

	if r.suppressor != nil {
		if err := r.suppressor.Suppress(ctx, token); err != nil {
			r.logger.WithContext(ctx).Warn("failed to record revoked token in suppression cache",
				slog.String("error", err.Error()))
		}
	}

	r.logger.WithContext(ctx).Info("revoked push token",
		slog.String("token_suffix", tokenSuffix(token)),
		slog.Int("users_updated", updated))
	return nil
}

// Enqueue schedules token for revocation. ctx only contributes its values;
// the job outlives the caller's cancellation.
func (r *Revoker) Enqueue(ctx context.Context, token string) error {
	// closed is checked and the job sent under mu, so Shutdown never
	// leaves an accepted job in the buffer after the workers exit.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.WithContext(ctx).Warn("token revoker is shutting down, dropping revocation",
			slog.String("token_suffix", tokenSuffix(token)))
		r.metrics.RevocationDropped()
		return ErrShuttingDown
	}

	if r.pending == 0 {
		r.idle = make(chan struct{})
	}
	r.pending++

	select {
	case r.jobs <- revokeJob{ctx: context.WithoutCancel(ctx), token: token}:
		r.mu.Unlock()
		return nil
	default:
		r.pending--
		if r.pending == 0 {
			close(r.idle)
		}
		r.mu.Unlock()

		dropped := r.dropped.Add(1)
		r.metrics.RevocationDropped()
		r.logger.WithContext(ctx).Error("token revocation queue full, revocation dropped",
			slog.String("token_suffix", tokenSuffix(token)),
			slog.Int64("total_dropped", dropped),
			slog.Int("queue_size", cap(r.jobs)))
		return ErrQueueFull
	}
}

// Drain blocks until every accepted job has finished or ctx is done.
func (r *Revoker) Drain(ctx context.Context) error {
	r.mu.Lock()
	if r.pending == 0 {
		r.mu.Unlock()
		return nil
	}
	idle := r.idle
	r.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs, finishes the queued ones and stops the workers.
func (r *Revoker) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.shutdown)
	r.workerPool.Wait()
}

func (r *Revoker) handle(job revokeJob) {
	defer r.done()

	ctx, cancel := context.WithTimeout(job.ctx, r.timeout)
	defer cancel()

	if err := r.Revoke(ctx, job.token); err != nil {
		r.logger.LogError(ctx, err, "token revocation failed",
			slog.String("token_suffix", tokenSuffix(job.token)))
	}
}

func (r *Revoker) done() {
	r.mu.Lock()
	r.pending--
	if r.pending == 0 {
		close(r.idle)
	}
	r.mu.Unlock()
}

// tokenSuffix keeps tokens out of logs while leaving them correlatable.
func tokenSuffix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return "..." + token[len(token)-8:]
}
