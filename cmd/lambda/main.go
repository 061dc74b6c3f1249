package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/eternisai/doorbell-dispatch/internal/app"
	"github.com/eternisai/doorbell-dispatch/internal/config"
	"github.com/eternisai/doorbell-dispatch/internal/logger"
	"github.com/eternisai/doorbell-dispatch/internal/metrics"
)

// drainReserve is kept back from the invocation deadline for returning the response.
const drainReserve = 500 * time.Millisecond

type handler struct {
	pipeline *app.App
	logger   *logger.Logger
}

// Handle runs one doorbell event. Revocations scheduled by this invocation
// are drained before returning because the sandbox is frozen afterwards.
func (h *handler) Handle(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error) {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		ctx = logger.WithRequestID(ctx, lc.AwsRequestID)
	}

	res := h.pipeline.Service.Handle(ctx, raw)

	drainCtx := ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithDeadline(context.WithoutCancel(ctx), deadline.Add(-drainReserve))
		defer cancel()
	}
	if err := h.pipeline.Revoker.Drain(drainCtx); err != nil {
		h.logger.WithContext(ctx).Warn("token revocations still pending at end of invocation",
			slog.String("error", err.Error()))
	}

	body, err := res.Encode()
	if err != nil {
		return events.APIGatewayProxyResponse{}, fmt.Errorf("failed to encode response: %w", err)
	}

	contentType := "application/json"
	if _, ok := res.Body.(string); ok {
		contentType = "text/plain; charset=utf-8"
	}

	return events.APIGatewayProxyResponse{
		StatusCode: res.StatusCode,
		Headers:    map[string]string{"Content-Type": contentType},
		Body:       body,
	}, nil
}

func main() {
	// The deployed function reads its tables from DynamoDB unless told otherwise.
	if os.Getenv("STORE_BACKEND") == "" {
		os.Setenv("STORE_BACKEND", config.StoreBackendDynamoDB)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	pipeline, err := app.New(context.Background(), cfg, log, metrics.New())
	if err != nil {
		log.Error("failed to initialize doorbell pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	h := &handler{pipeline: pipeline, logger: log}
	lambda.Start(h.Handle)
}
