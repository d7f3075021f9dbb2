// Package app initializes and holds the long-lived services shared by every
// command: configuration, logging, the database pool, the stores, and the
// optional cloud providers.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/config"
	"github.com/swarmleads/leadengine/internal/events"
	"github.com/swarmleads/leadengine/internal/logging"
	"github.com/swarmleads/leadengine/internal/metrics"
	"github.com/swarmleads/leadengine/internal/snapshot"
	"github.com/swarmleads/leadengine/internal/store"
	"github.com/swarmleads/leadengine/internal/store/postgres"
)

// App is the dependency container built once at startup.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger

	Pool     *pgxpool.Pool
	Jobs     store.JobStore
	Leads    *postgres.LeadStore
	Queue    store.LeadQueue
	Credits  store.CreditLedger
	Contacts store.ContactStore

	Events    events.Publisher
	Snapshots snapshot.Archive
}

// New builds the container. It fails fast when any critical service cannot
// be reached.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics.Init()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.LifetimeMins) * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	leadStore := postgres.NewLeadStore(pool)

	a := &App{
		Cfg:      cfg,
		Logger:   logger,
		Pool:     pool,
		Jobs:     postgres.NewJobStore(pool),
		Leads:    leadStore,
		Queue:    leadStore,
		Credits:  postgres.NewCreditStore(pool),
		Contacts: postgres.NewContactStore(pool),
	}

	if err := a.initProviders(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("events_provider", cfg.Events.Provider),
		zap.String("snapshot_provider", cfg.Snapshot.Provider),
	)
	return a, nil
}

func (a *App) initProviders(ctx context.Context) error {
	switch a.Cfg.Events.Provider {
	case "pubsub":
		pub, err := events.NewPubSubPublisher(ctx, a.Cfg.Events.ProjectID, a.Cfg.Events.Topic, a.Logger)
		if err != nil {
			return fmt.Errorf("init events publisher: %w", err)
		}
		a.Events = pub
	case "noop", "":
		a.Events = events.NoOpPublisher{}
	default:
		return fmt.Errorf("unknown events provider: %s", a.Cfg.Events.Provider)
	}

	switch a.Cfg.Snapshot.Provider {
	case "gcs":
		archive, err := snapshot.NewGCSArchive(ctx, a.Cfg.Snapshot.GCSBucket, a.Logger)
		if err != nil {
			return fmt.Errorf("init snapshot archive: %w", err)
		}
		a.Snapshots = archive
	case "noop", "":
		a.Snapshots = snapshot.NoOpArchive{}
	default:
		return fmt.Errorf("unknown snapshot provider: %s", a.Cfg.Snapshot.Provider)
	}
	return nil
}

// Close releases everything the container holds.
func (a *App) Close() {
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			a.Logger.Warn("closing events publisher", zap.Error(err))
		}
	}
	if closer, ok := a.Snapshots.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("closing snapshot archive", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	_ = a.Logger.Sync()
}
