package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/digaas/internal/metrics"
	"github.com/jmerrifield20/digaas/internal/observer/repository"
	"github.com/jmerrifield20/digaas/internal/observer/service"
	"go.uber.org/zap"
)

// store is everything the server needs from a persistence backend.
type store interface {
	service.ObserverStore
	service.StatsStore
	service.QueryLog
	metrics.QueryRecorder
}

// openStore connects the backend named by cfg.StorageDriver. The returned
// func releases it.
func openStore(ctx context.Context, cfg config, logger *zap.Logger) (store, func(), error) {
	switch cfg.StorageDriver {
	case "", "memory":
		logger.Warn("storage: in-memory; observations are lost on restart")
		return repository.NewMemoryStore(), func() {}, nil

	case "postgres":
		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("storage: postgres")
		return repository.NewPostgresStore(db), db.Close, nil

	case "redis":
		rdb, err := repository.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("storage: redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		return repository.NewRedisStore(rdb), func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("close redis", zap.Error(err))
			}
		}, nil

	case "badger":
		bs, err := repository.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("storage: badger", zap.String("path", cfg.BadgerPath))
		return bs, func() {
			if err := bs.Close(); err != nil {
				logger.Warn("close badger", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage.driver %q (memory, postgres, redis, badger)", cfg.StorageDriver)
	}
}
