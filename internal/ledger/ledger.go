package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/eternisai/doorbell-dispatch/internal/logger"
	"github.com/eternisai/doorbell-dispatch/internal/metrics"
)

// EventTypeDoorbell is the only event type written today.
const EventTypeDoorbell = "doorbell"

// Entry is the audit record of one processed doorbell event.
type Entry struct {
	EventID             string    `json:"eventId" dynamodbav:"eventId" firestore:"eventId"`
	DeviceID            string    `json:"deviceId" dynamodbav:"deviceId" firestore:"deviceId"`
	EventType           string    `json:"eventType" dynamodbav:"eventType" firestore:"eventType"`
	Timestamp           time.Time `json:"timestamp" dynamodbav:"timestamp" firestore:"timestamp"`
	NotificationsSent   int       `json:"notificationsSent" dynamodbav:"notificationsSent" firestore:"notificationsSent"`
	NotificationsFailed int       `json:"notificationsFailed" dynamodbav:"notificationsFailed" firestore:"notificationsFailed"`
	CreatedAt           time.Time `json:"createdAt" dynamodbav:"createdAt" firestore:"createdAt"`
}

// Store persists ledger entries. Writing the same EventID twice must not fail.
type Store interface {
	PutEvent(ctx context.Context, entry Entry) error
}

// Ledger writes entries without ever failing the caller.
type Ledger struct {
	store   Store
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store Store, logger *logger.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{
		store:   store,
		logger:  logger.WithComponent("event-ledger"),
		metrics: m,
		now:     time.Now,
	}
}

// Record writes entry, filling EventType and CreatedAt when unset.
// Failures are logged and counted only.
func (l *Ledger) Record(ctx context.Context, entry Entry) {
	if entry.EventType == "" {
		entry.EventType = EventTypeDoorbell
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}

	ctx = logger.WithEventID(logger.WithDeviceID(ctx, entry.DeviceID), entry.EventID)
	log := l.logger.WithContext(ctx)

	if err := l.store.PutEvent(ctx, entry); err != nil {
		l.metrics.LedgerWriteFailed()
		log.Warn("failed to record doorbell event", slog.String("error", err.Error()))
		return
	}

	log.Debug("recorded doorbell event",
		slog.Int("sent", entry.NotificationsSent),
		slog.Int("failed", entry.NotificationsFailed))
}
