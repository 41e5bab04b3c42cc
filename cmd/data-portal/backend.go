// backend.go — выбор и открытие хранилища наборов данных.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/dataportal/internal/config"
	"github.com/bigkaa/dataportal/internal/database"
	"github.com/bigkaa/dataportal/internal/repository"
)

// backend — открытое хранилище наборов и связанные с ним ресурсы.
type backend struct {
	Repo      repository.DatasetRepository
	Readiness *database.ReadinessChecker
	// SQLDB — адаптер pgxpool для topologymetrics; nil для Badger
	SQLDB     *sql.DB
	PgConnURL string

	closers []func()
}

// Close освобождает ресурсы в обратном порядке открытия.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend открывает хранилище согласно DP_STORAGE_BACKEND.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, logger)
	case config.BackendBadger:
		return openBadger(cfg, logger)
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %q", cfg.StorageBackend)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return nil, fmt.Errorf("миграции: %w", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Проверка здоровья PostgreSQL в topologymetrics идёт через этот же
	// пул, поэтому исчерпание пула видно в метриках.
	pgDB := stdlib.OpenDBFromPool(pool)

	return &backend{
		Repo:      repository.NewPostgresRepository(pool),
		Readiness: database.NewReadinessChecker("PostgreSQL", pool),
		SQLDB:     pgDB,
		PgConnURL: cfg.DatabaseURL("postgres"),
		closers: []func(){
			pool.Close,
			func() { _ = pgDB.Close() },
		},
	}, nil
}

func openBadger(cfg *config.Config, logger *slog.Logger) (*backend, error) {
	db, err := database.OpenBadger(cfg.BadgerDir, logger)
	if err != nil {
		return nil, err
	}
	repo := repository.NewBadgerRepository(db)

	return &backend{
		Repo:      repo,
		Readiness: database.NewReadinessChecker("Badger", repo),
		closers: []func(){
			func() {
				if err := db.Close(); err != nil {
					logger.Error("Ошибка закрытия Badger", slog.String("error", err.Error()))
				}
			},
		},
	}, nil
}
