// Package app wires configuration into stores, caches, the orchestrator and
// the services shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andresuchdata/shopledger/internal/cache"
	"github.com/andresuchdata/shopledger/internal/config"
	"github.com/andresuchdata/shopledger/internal/drive"
	"github.com/andresuchdata/shopledger/internal/importer"
	"github.com/andresuchdata/shopledger/internal/migration"
	"github.com/andresuchdata/shopledger/internal/pipeline"
	"github.com/andresuchdata/shopledger/internal/repository"
	"github.com/andresuchdata/shopledger/internal/repository/mongodb"
	"github.com/andresuchdata/shopledger/internal/repository/postgres"
	"github.com/andresuchdata/shopledger/internal/service"
	"github.com/andresuchdata/shopledger/internal/storage"
	"github.com/andresuchdata/shopledger/internal/store"
	"github.com/andresuchdata/shopledger/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"

	GuardLocal = "local"
	GuardRedis = "redis"

	StorageMinio = "minio"
	StorageLocal = "local"
)

type Options struct {
	// PostgresDriver selects the database/sql driver; empty means the
	// shared lib/pq pool.
	PostgresDriver string
}

type App struct {
	Config    *config.Config
	Store     store.DocumentStore
	Catalog   *service.CatalogService
	Analytics *service.AnalyticsService
	Migration *service.MigrationService
	// Drive is nil unless Drive credentials are configured.
	Drive *drive.Ingester

	closers []func()
}

// New builds every dependency named by cfg. On error everything opened so
// far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var db *postgres.DB
	switch backend := strings.ToLower(cfg.Migration.StoreBackend); backend {
	case BackendMemory:
		a.Store = store.NewMemoryStore()
	case BackendPostgres:
		if opts.PostgresDriver == "" {
			db, err = postgres.NewDB(&cfg.Database)
		} else {
			db, err = postgres.Connect(opts.PostgresDriver, cfg.Database.DSN())
		}
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = db.Close() })
		docs := postgres.NewDocumentStore(db)
		if err = docs.Migrate(ctx); err != nil {
			return nil, err
		}
		a.Store = docs
	case BackendMongo:
		client, cerr := mongodb.Connect(ctx, cfg.Mongo.URI)
		if cerr != nil {
			return nil, cerr
		}
		a.onClose(func() { _ = client.Disconnect(context.Background()) })
		a.Store = mongodb.NewDocumentStore(client.Database(cfg.Mongo.Database))
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}

	redisClient, err := a.redis(cfg)
	if err != nil {
		return nil, err
	}
	var cacheClient *redis.Client
	if cfg.Cache.Enabled {
		cacheClient = redisClient
	}
	reports := cache.NewReportCache(cacheClient, cfg.Cache.ReportTTLSeconds)
	analytics := cache.NewAnalyticsCache(cacheClient, cfg.Cache.AnalyticsTTLSeconds)

	archiver, err := a.archiver(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	orchOpts := []pipeline.Option{pipeline.WithHistory(pipeline.NewMemoryHistory())}
	if db != nil {
		runs := pipeline.NewRepository(db.DB)
		if err = runs.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		orchOpts = append(orchOpts, pipeline.WithHistory(runs))
	}
	if strings.EqualFold(cfg.Migration.GuardBackend, GuardRedis) {
		ttl := time.Duration(cfg.Migration.LockTTLSeconds) * time.Second
		orchOpts = append(orchOpts, pipeline.WithGuard(pipeline.NewRedisGuard(redisClient, cfg.Migration.LockKey, ttl)))
	}

	repo := repository.NewCatalogRepository(a.Store)
	engine := migration.NewEngine(repo, migration.WithTolerance(cfg.Migration.TotalTolerance))
	orch := pipeline.NewOrchestrator(engine, orchOpts...)

	a.Catalog = service.NewCatalogService(repo, importer.New(a.Store), analytics)
	a.Analytics = service.NewAnalyticsService(repo, analytics)
	a.Migration = service.NewMigrationService(orch, reports, analytics, archiver)

	if cfg.Drive.CredentialsJSON != "" {
		driveService, derr := drive.NewService(ctx, cfg.Drive.CredentialsJSON)
		if derr != nil {
			return nil, derr
		}
		a.Drive = drive.NewIngester(driveService, a.Catalog, cfg.Drive.FolderID)
	}

	appLog := logger.Component("app")
	appLog.Info().
		Str("store", cfg.Migration.StoreBackend).
		Str("guard", cfg.Migration.GuardBackend).
		Bool("cache", cacheClient != nil).
		Bool("archive", archiver != nil).
		Bool("drive", a.Drive != nil).
		Msg("application wired")
	return a, nil
}

// redis connects when caching or the redis guard needs it. A cache-only
// connection failure downgrades to the no-op caches.
func (a *App) redis(cfg *config.Config) (*redis.Client, error) {
	needGuard := strings.EqualFold(cfg.Migration.GuardBackend, GuardRedis)
	if !cfg.Cache.Enabled && !needGuard {
		return nil, nil
	}
	client, err := cache.NewRedisClient(cfg.Cache)
	if err != nil {
		if needGuard {
			return nil, fmt.Errorf("redis guard: %w", err)
		}
		log.Warn().Err(err).Msg("redis unavailable, caching disabled")
		return nil, nil
	}
	a.onClose(func() { _ = client.Close() })
	return client, nil
}

func (a *App) archiver(ctx context.Context, cfg config.StorageConfig) (*storage.Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var (
		objects storage.ObjectStorage
		err     error
	)
	switch driver := strings.ToLower(cfg.Driver); driver {
	case StorageLocal:
		objects, err = storage.NewLocalClient(cfg.LocalDir)
	case StorageMinio, "":
		objects, err = storage.NewMinioClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return storage.NewArchiver(objects, cfg.Prefix), nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
