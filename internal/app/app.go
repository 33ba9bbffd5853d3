// Package app wires configuration into the storage, ledger and media
// components shared by the API server and storagectl.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/despertar/media/internal/config"
	"github.com/despertar/media/internal/db"
	"github.com/despertar/media/internal/ledger"
	"github.com/despertar/media/internal/media"
	"github.com/despertar/media/internal/storage"
)

// App holds the process-wide dependencies.
type App struct {
	Config   *config.Config
	Client   storage.Client
	Uploader *storage.Uploader
	URLs     storage.URLBuilder
	Media    *media.Service

	// Pool, Ledger and Sweeper are nil when DATABASE_URL is empty.
	Pool    *pgxpool.Pool
	Ledger  *ledger.Repository
	Sweeper *ledger.Sweeper

	log *zap.Logger
}

// New connects to the object store and, when configured, the ledger database.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	factory, client, err := storage.NewClientFactory(ctx, cfg.StorageProfile())
	if err != nil {
		return nil, fmt.Errorf("object storage init: %w", err)
	}

	uploader := storage.NewUploader(factory, cfg.StorageBucket,
		storage.WithRetryPolicy(cfg.RetryPolicy()),
		storage.WithDefaultPartSize(cfg.StorageChunkSize),
		storage.WithTempDir(cfg.StorageTempDir),
		storage.WithLogger(log),
	)

	a := &App{
		Config:   cfg,
		Client:   client,
		Uploader: uploader,
		URLs:     storage.NewURLBuilder(cfg.StoragePublicBase),
		log:      log,
	}

	var l media.Ledger
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("database connection: %w", err)
		}
		if err := db.Migrate(cfg.DatabaseURL, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database migration: %w", err)
		}
		a.Pool = pool
		a.Ledger = ledger.NewRepository(pool)
		a.Sweeper = ledger.NewSweeper(client, cfg.StorageBucket, a.Ledger, cfg.SweepGrace, log)
		l = a.Ledger
	} else {
		log.Warn("DATABASE_URL not set; object ledger and orphan sweep disabled")
	}

	a.Media = media.NewService(uploader, client, a.URLs, l, log)
	return a, nil
}

// EnsureBucket runs the bucket lifecycle check with a bounded timeout.
func (a *App) EnsureBucket(ctx context.Context) storage.Report {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return storage.NewBucketManager(a.Client, a.Config.StorageBucket, a.Config.StorageRegion, a.log).Ensure(ctx)
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
