package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eternisai/doorbell-dispatch/internal/config"
	"github.com/eternisai/doorbell-dispatch/internal/devices"
	"github.com/eternisai/doorbell-dispatch/internal/doorbell"
	"github.com/eternisai/doorbell-dispatch/internal/firebase"
	"github.com/eternisai/doorbell-dispatch/internal/ledger"
	"github.com/eternisai/doorbell-dispatch/internal/logger"
	"github.com/eternisai/doorbell-dispatch/internal/metrics"
	"github.com/eternisai/doorbell-dispatch/internal/notifications"
	"github.com/eternisai/doorbell-dispatch/internal/storage/dynamo"
	"github.com/eternisai/doorbell-dispatch/internal/storage/fsdb"
	"github.com/eternisai/doorbell-dispatch/internal/storage/pg"
	"github.com/eternisai/doorbell-dispatch/internal/tokens"
)

// Store is everything a key-value backend provides to the pipeline.
type Store interface {
	devices.Directory
	devices.SubscriberIndex
	devices.TokenSource
	tokens.Store
	ledger.Store
}

// App is a fully wired pipeline plus the resources it owns.
type App struct {
	Service *doorbell.Service
	Revoker *tokens.Revoker
	Metrics *metrics.Metrics

	logger  *logger.Logger
	closers []func() error
}

// New wires the pipeline from cfg. Clients for Firebase are created lazily
// on first use; Redis and Postgres are connected eagerly.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*App, error) {
	a := &App{Metrics: m, logger: log}

	var provider *firebase.Provider
	if cfg.PushNotificationsEnabled || cfg.StoreBackend == config.StoreBackendFirestore {
		p, err := firebase.NewProviderFromConfig(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to configure firebase: %w", err)
		}
		provider = p
		a.closers = append(a.closers, provider.Close)
	}

	store, err := newStore(ctx, cfg, provider)
	if err != nil {
		a.Close()
		return nil, err
	}

	ledgerStore := ledger.Store(store)
	if cfg.EffectiveLedgerBackend() == config.LedgerBackendPostgres {
		db, err := pg.InitDatabase(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		ledgerStore = pg.NewEventStore(db.DB)
	}

	var suppressor *tokens.Suppressor
	if cfg.RedisURL != "" {
		client, err := tokens.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		suppressor = tokens.NewSuppressor(client, cfg.TokenSuppressionTTL)
	}

	var sender notifications.Sender = notifications.DisabledSender{}
	if cfg.PushNotificationsEnabled {
		sender = notifications.NewFCMSender(provider.MulticastClient)
	} else {
		log.Warn("push notifications disabled, every dispatch will be reported as failed")
	}

	a.Revoker = tokens.NewRevoker(store, suppressor, tokens.Options{
		Workers:    cfg.HygieneWorkerPoolSize,
		BufferSize: cfg.HygieneBufferSize,
		Timeout:    time.Duration(cfg.HygieneTimeoutSeconds) * time.Second,
	}, log, m)

	deps := doorbell.Deps{
		Directory:  store,
		Resolver:   devices.NewResolver(store, store, log),
		Composer:   notifications.NewComposer(),
		Dispatcher: notifications.NewDispatcher(sender, cfg.DispatchBatchSize, log, m),
		Revoker:    a.Revoker,
		Ledger:     ledger.New(ledgerStore, log, m),
		Metrics:    m,
	}
	if suppressor != nil {
		deps.Suppressor = suppressor
	}
	a.Service = doorbell.NewService(deps, log)

	log.Info("doorbell pipeline ready",
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("ledger_backend", cfg.EffectiveLedgerBackend()),
		slog.Bool("push_enabled", cfg.PushNotificationsEnabled),
		slog.Bool("suppression_cache", suppressor != nil),
		slog.Int("batch_size", cfg.DispatchBatchSize))

	return a, nil
}

func newStore(ctx context.Context, cfg *config.Config, provider *firebase.Provider) (Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendFirestore:
		return fsdb.NewStore(provider.Firestore, cfg.Tables), nil
	case config.StoreBackendDynamoDB:
		return dynamo.NewStoreFromEnv(ctx, cfg.Tables)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Close stops the revoker after finishing queued jobs, then releases clients.
func (a *App) Close() error {
	if a.Revoker != nil {
		a.Revoker.Shutdown()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
