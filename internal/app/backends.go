package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/api/handlers"
	"github.com/testforge/trackingtester/internal/api/middleware"
	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/repository/memory"
	"github.com/testforge/trackingtester/internal/repository/postgres"
	rediscache "github.com/testforge/trackingtester/internal/repository/redis"
	"github.com/testforge/trackingtester/internal/services/history"
	"github.com/testforge/trackingtester/internal/storage"
	"github.com/testforge/trackingtester/migrations"
)

// Options tune which backends Open falls back to.
type Options struct {
	// MemoryHistory keeps run history in memory when no database is
	// configured.
	MemoryHistory bool
}

// Backends holds the optional storage services. Nil fields are not
// configured.
type Backends struct {
	DB      *postgres.DB
	Cache   *rediscache.Cache
	Store   *storage.MinIOStore
	Archive *storage.ScreenshotArchive
	History *history.Service

	liveFeed bool
	logger   *zap.Logger
}

// Open connects to the configured backends. A configured database that
// cannot be reached is an error; Redis and object storage degrade to
// disabled with a warning.
func Open(ctx context.Context, cfg *config.Config, opts Options, metrics *observability.Metrics, logger *zap.Logger) (*Backends, error) {
	b := &Backends{liveFeed: cfg.Features.EnableLiveFeed, logger: logger}

	if cfg.Database.Enabled() && cfg.Features.EnablePersistence {
		db, err := postgres.New(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx, migrations.FS); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrating database: %w", err)
			}
		}
		b.DB = db
		logger.Info("Connected to database", zap.String("host", cfg.Database.Host))
	}

	if cfg.Redis.Enabled() {
		cache, err := rediscache.New(cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, live feed and rate limiting disabled", zap.Error(err))
		} else {
			b.Cache = cache
			logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	if cfg.Storage.Enabled() && cfg.Features.EnableArchive {
		store, err := storage.NewMinIOStore(cfg.Storage)
		if err == nil {
			err = store.EnsureBucket(ctx)
		}
		if err != nil {
			logger.Warn("Object storage unavailable, screenshots stay inline", zap.Error(err))
		} else {
			b.Store = store
			b.Archive = storage.NewScreenshotArchive(store, cfg.Storage.ScreenshotPath, metrics, logger)
			logger.Info("Screenshot archive enabled", zap.String("bucket", cfg.Storage.Bucket))
		}
	}

	var repo domain.TrackingRunRepository
	switch {
	case b.DB != nil:
		repo = postgres.NewTrackingRunRepository(b.DB.DB)
	case opts.MemoryHistory:
		repo = memory.NewTrackingRunRepository(memory.DefaultCapacity)
		logger.Info("Keeping run history in memory")
	}

	var archive history.Archiver
	if b.Archive != nil {
		archive = b.Archive
	}
	var cache history.Cache
	if b.Cache != nil {
		cache = b.Cache
	}
	if repo != nil {
		b.History = history.New(repo, archive, cache, metrics, logger)
	}

	return b, nil
}

// Feed returns the live action feed, or nil when it is off.
func (b *Backends) Feed() handlers.Feed {
	if b.Cache == nil || !b.liveFeed {
		return nil
	}
	return b.Cache
}

// Subscriber returns the live feed reader, or nil when it is off.
func (b *Backends) Subscriber() handlers.ActionSubscriber {
	if b.Cache == nil || !b.liveFeed {
		return nil
	}
	return b.Cache
}

// RateLimiter returns the Redis rate limiter, or nil without Redis.
func (b *Backends) RateLimiter() middleware.RateLimiter {
	if b.Cache == nil {
		return nil
	}
	return b.Cache
}

// Checks returns the readiness checks of the connected backends.
func (b *Backends) Checks() map[string]handlers.CheckFunc {
	checks := make(map[string]handlers.CheckFunc)
	if b.DB != nil {
		checks["database"] = b.DB.Health
	}
	if b.Cache != nil {
		checks["redis"] = b.Cache.Health
	}
	if b.Store != nil {
		checks["storage"] = b.Store.Ping
	}
	return checks
}

// Close releases every connection.
func (b *Backends) Close() {
	if b.DB != nil {
		if err := b.DB.Close(); err != nil {
			b.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			b.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
}
