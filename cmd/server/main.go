package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"

	"github.com/eternisai/doorbell-dispatch/internal/app"
	"github.com/eternisai/doorbell-dispatch/internal/config"
	"github.com/eternisai/doorbell-dispatch/internal/doorbell"
	"github.com/eternisai/doorbell-dispatch/internal/logger"
	"github.com/eternisai/doorbell-dispatch/internal/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	log.Info("setting gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()
	m := metrics.New()

	pipeline, err := app.New(ctx, cfg, log, m)
	if err != nil {
		log.Error("failed to initialize doorbell pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var subscriber *doorbell.Subscriber
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL,
			nats.Name("doorbell-dispatch-"+logger.GetInstanceID()),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Error("failed to connect to NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}

		subscriber = doorbell.NewSubscriber(nc, pipeline.Service, cfg.NatsSubject, cfg.NatsQueue, log)
		if err := subscriber.Start(); err != nil {
			log.Error("failed to start doorbell subscriber", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.RequestLoggingMiddleware(log))

	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "instance_id": logger.GetInstanceID()}
		if nc != nil {
			status["nats"] = nc.Status().String()
		}
		c.JSON(http.StatusOK, status)
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	doorbell.NewHandler(pipeline.Service, log).RegisterRoutes(router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", logger.RequestIDHeader},
	})

	port := ":" + cfg.Port
	srv := &http.Server{
		Addr:              port,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()
	log.Info("doorbell dispatch listening", slog.String("addr", port))

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	if subscriber != nil {
		if err := subscriber.Stop(); err != nil {
			log.Error("failed to stop subscriber", slog.String("error", err.Error()))
		}
	}
	if nc != nil {
		nc.Close()
	}

	// Finishes queued token revocations before releasing the stores.
	if err := pipeline.Close(); err != nil {
		log.Error("failed to release resources", slog.String("error", err.Error()))
	}

	log.Info("server exited")
}
