package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/eternisai/doorbell-dispatch/internal/logger"
	"github.com/eternisai/doorbell-dispatch/internal/metrics"
)

// DefaultBatchSize is the provider's multicast limit.
const DefaultBatchSize = 500

// Dispatcher fans a payload out to endpoints in provider-sized batches.
type Dispatcher struct {
	sender    Sender
	batchSize int
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. A non-positive batchSize uses DefaultBatchSize.
func NewDispatcher(sender Sender, batchSize int, logger *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{
		sender:    sender,
		batchSize: batchSize,
		logger:    logger,
		metrics:   m,
	}
}

// Dispatch sends payload to every endpoint, one provider call per batch,
// batches in order. A failed call marks its whole batch as FailureUnknown and
// the remaining batches are still sent. The result always accounts for every
// endpoint exactly once.
func (d *Dispatcher) Dispatch(ctx context.Context, endpoints []string, payload *Payload) Outcome {
	var out Outcome
	if len(endpoints) == 0 {
		return out
	}

	log := d.logger.WithContext(ctx).WithComponent("dispatch")

	for start := 0; start < len(endpoints); start += d.batchSize {
		end := min(start+d.batchSize, len(endpoints))
		batch := endpoints[start:end]

		began := time.Now()
		responses, err := d.sender.SendMulticast(ctx, batch, payload)
		if err != nil {
			log.Error("multicast batch failed",
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
			d.metrics.BatchSent(false)

			for _, endpoint := range batch {
				out.record(Failure{Endpoint: endpoint, Reason: FailureUnknown, Code: err.Error()})
				d.metrics.NotificationFailed(string(FailureUnknown))
			}
			continue
		}
		d.metrics.BatchSent(true)

		sent := 0
		for i, endpoint := range batch {
			if i >= len(responses) {
				out.record(Failure{Endpoint: endpoint, Reason: FailureUnknown, Code: "missing-response"})
				d.metrics.NotificationFailed(string(FailureUnknown))
				continue
			}

			resp := responses[i]
			if resp.Success {
				out.SuccessCount++
				sent++
				continue
			}

			reason := ClassifyError(resp.ErrorCode)
			out.record(Failure{Endpoint: endpoint, Reason: reason, Code: ErrorCode(resp.ErrorCode)})
			d.metrics.NotificationFailed(string(reason))
		}
		d.metrics.NotificationSent(sent)

		if len(responses) != len(batch) {
			log.Warn("provider returned mismatched response count",
				slog.Int("expected", len(batch)),
				slog.Int("got", len(responses)))
		}

		log.Debug("multicast batch sent",
			slog.Int("batch_start", start),
			slog.Int("batch_size", len(batch)),
			slog.Int("success", sent),
			slog.Duration("duration", time.Since(began)))
	}

	return out
}

func (o *Outcome) record(f Failure) {
	o.FailureCount++
	o.Failures = append(o.Failures, f)
}
