package doorbell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/eternisai/doorbell-dispatch/internal/devices"
	apierrors "github.com/eternisai/doorbell-dispatch/internal/errors"
	"github.com/eternisai/doorbell-dispatch/internal/ledger"
	"github.com/eternisai/doorbell-dispatch/internal/logger"
	"github.com/eternisai/doorbell-dispatch/internal/metrics"
	"github.com/eternisai/doorbell-dispatch/internal/notifications"
)

// Revoker schedules removal of a permanently failed token.
type Revoker interface {
	Enqueue(ctx context.Context, token string) error
}

// Suppressor drops recently revoked tokens before dispatch.
type Suppressor interface {
	FilterSuppressed(ctx context.Context, tokens []string) ([]string, int, error)
}

// Deps are the collaborators of the pipeline. Suppressor and Metrics may be nil.
type Deps struct {
	Directory  devices.Directory
	Resolver   *devices.Resolver
	Composer   *notifications.Composer
	Dispatcher *notifications.Dispatcher
	Revoker    Revoker
	Suppressor Suppressor
	Ledger     *ledger.Ledger
	Metrics    *metrics.Metrics
}

// Service runs the doorbell pipeline: look up the device, resolve its
// subscribers, compose and dispatch the notification, schedule revocation of
// dead tokens, and record the event.
type Service struct {
	deps   Deps
	logger *logger.Logger
}

func NewService(deps Deps, logger *logger.Logger) *Service {
	return &Service{
		deps:   deps,
		logger: logger.WithComponent("doorbell"),
	}
}

// Process runs the pipeline for a validated event. It returns
// devices.ErrDeviceNotFound for unknown devices.
func (s *Service) Process(ctx context.Context, event devices.Event) (*Response, error) {
	ctx = logger.WithDeviceID(ctx, event.DeviceID)
	log := s.logger.WithContext(ctx)

	info, err := s.deps.Directory.Lookup(ctx, event.DeviceID)
	if err != nil {
		return nil, err
	}

	endpoints, err := s.deps.Resolver.ResolveEndpoints(ctx, event.DeviceID)
	if err != nil {
		return nil, err
	}

	if s.deps.Suppressor != nil && len(endpoints) > 0 {
		kept, suppressed, err := s.deps.Suppressor.FilterSuppressed(ctx, endpoints)
		if err != nil {
			log.Warn("token suppression cache unavailable, dispatching to all tokens",
				slog.String("error", err.Error()))
		} else {
			endpoints = kept
			s.deps.Metrics.TokensSuppressed(suppressed)
		}
	}

	if len(endpoints) == 0 {
		log.Info("no tokens registered for device")
		return &Response{Message: MessageNoUsers, DeviceID: event.DeviceID}, nil
	}

	payload := s.deps.Composer.Compose(event, *info)
	ctx = logger.WithEventID(ctx, payload.EventID)
	log = s.logger.WithContext(ctx)

	outcome := s.deps.Dispatcher.Dispatch(ctx, endpoints, payload)

	revoked := s.scheduleRevocations(ctx, outcome.PermanentFailures())

	s.deps.Ledger.Record(ctx, ledger.Entry{
		EventID:             payload.EventID,
		DeviceID:            event.DeviceID,
		EventType:           ledger.EventTypeDoorbell,
		Timestamp:           event.Timestamp.UTC(),
		NotificationsSent:   outcome.SuccessCount,
		NotificationsFailed: outcome.FailureCount,
	})

	log.Info("doorbell notifications dispatched",
		slog.Int("endpoints", len(endpoints)),
		slog.Int("sent", outcome.SuccessCount),
		slog.Int("failed", outcome.FailureCount),
		slog.Int("revocations_scheduled", revoked))

	return &Response{
		Message:             MessageSent,
		DeviceID:            event.DeviceID,
		NotificationsSent:   outcome.SuccessCount,
		NotificationsFailed: outcome.FailureCount,
	}, nil
}

func (s *Service) scheduleRevocations(ctx context.Context, tokens []string) int {
	seen := make(map[string]struct{}, len(tokens))
	scheduled := 0
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}

		if err := s.deps.Revoker.Enqueue(ctx, token); err != nil {
			continue
		}
		scheduled++
	}
	return scheduled
}

// Handle parses, validates and processes a raw trigger and maps the outcome
// to a status code and body. It never panics.
func (s *Service) Handle(ctx context.Context, raw []byte) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithContext(ctx).Error("panic while processing doorbell event",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			res = failed(fmt.Errorf("panic: %v", r))
		}
		s.deps.Metrics.EventProcessed(res.StatusCode, time.Since(start))
	}()

	trigger, err := ParseTrigger(raw)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.logger.WithContext(ctx).Warn("rejected doorbell event", slog.String("error", err.Error()))
			return Result{
				StatusCode: http.StatusBadRequest,
				Body:       apierrors.NewAPIError(MessageBadRequest, verr.Fields),
			}
		}
		return failed(err)
	}

	return s.HandleEvent(ctx, trigger.Event())
}

// HandleEvent is Handle for an already validated event.
func (s *Service) HandleEvent(ctx context.Context, event devices.Event) Result {
	resp, err := s.Process(ctx, event)
	switch {
	case err == nil:
		return Result{StatusCode: http.StatusOK, Body: resp}
	case errors.Is(err, devices.ErrDeviceNotFound):
		s.logger.WithContext(ctx).Info("device not found", slog.String("device_id", event.DeviceID))
		return Result{StatusCode: http.StatusNotFound, Body: MessageNotFound}
	default:
		s.logger.LogError(logger.WithDeviceID(ctx, event.DeviceID), err, "error processing doorbell notification")
		return failed(err)
	}
}

func failed(err error) Result {
	return Result{
		StatusCode: http.StatusInternalServerError,
		Body:       apierrors.NewAPIError(MessageFailed, err.Error()),
	}
}
