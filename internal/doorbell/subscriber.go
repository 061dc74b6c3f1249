package doorbell

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/eternisai/doorbell-dispatch/internal/logger"
)

// eventTimeout bounds one pipeline run once it is detached from its trigger.
const eventTimeout = 30 * time.Second

// Subscriber feeds doorbell events published on NATS into the pipeline.
// Instances share a queue group so each event is handled once.
type Subscriber struct {
	nc           *nats.Conn
	service      *Service
	subject      string
	queue        string
	logger       *logger.Logger
	subscription *nats.Subscription
}

// NewSubscriber returns nil when nc is nil.
func NewSubscriber(nc *nats.Conn, service *Service, subject, queue string, logger *logger.Logger) *Subscriber {
	if nc == nil {
		return nil
	}

	return &Subscriber{
		nc:      nc,
		service: service,
		subject: subject,
		queue:   queue,
		logger:  logger.WithComponent("doorbell-subscriber"),
	}
}

// Start subscribes to the events subject.
func (s *Subscriber) Start() error {
	sub, err := s.nc.QueueSubscribe(s.subject, s.queue, s.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}

	s.subscription = sub
	s.logger.Info("doorbell subscriber started",
		slog.String("subject", s.subject),
		slog.String("queue", s.queue))

	return nil
}

// Stop drains the subscription so in-flight events complete.
func (s *Subscriber) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Drain(); err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}
	s.logger.Info("doorbell subscriber stopped")
	return nil
}

func (s *Subscriber) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	requestID := msg.Header.Get(logger.RequestIDHeader)
	if requestID == "" {
		requestID = logger.GenerateRequestID()
	}
	ctx = logger.WithRequestID(ctx, requestID)

	res := s.service.Handle(ctx, msg.Data)

	// Publishers using request-reply get the same body an HTTP caller would.
	if msg.Reply == "" {
		return
	}
	body, err := res.Encode()
	if err != nil {
		s.logger.Error("failed to encode reply", slog.String("error", err.Error()))
		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set("Status", fmt.Sprintf("%d", res.StatusCode))
	reply.Data = []byte(body)
	if err := msg.RespondMsg(reply); err != nil {
		s.logger.Error("failed to send reply", slog.String("error", err.Error()))
	}
}
