package repository

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/dataportal/internal/config"
	"github.com/bigkaa/dataportal/internal/database"
	"github.com/bigkaa/dataportal/internal/domain/model"
)

// setupPostgres поднимает PostgreSQL через testcontainers и применяет миграции.
func setupPostgres(t *testing.T) DatasetRepository {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("dataportal_test"),
		postgres.WithUsername("dataportal"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := &config.Config{
		DBHost: host, DBPort: port.Int(), DBName: "dataportal_test",
		DBUser: "dataportal", DBPassword: "test-password", DBSSLMode: "disable",
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	require.NoError(t, database.Migrate(cfg, logger))
	pool, err := database.Connect(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewPostgresRepository(pool)
}

func TestPostgresRepository_Lifecycle(t *testing.T) {
	req := require.New(t)
	repo := setupPostgres(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	d := testDataset("Rainfall", now)
	d.Metadata.TimeSeries = true
	d.Metadata.TimeRange = &model.TimeRange{Start: 2001, End: 2020}
	req.NoError(repo.Create(ctx, d))
	req.ErrorIs(repo.Create(ctx, d), ErrConflict)

	got, err := repo.GetByID(ctx, d.ID)
	req.NoError(err)
	req.Equal(int64(300), got.Metadata.FileSize)
	req.Equal(2, got.Files.Len())
	req.Equal(d.Files.All()[0].ID, got.Files.All()[0].ID)
	req.NotNil(got.Metadata.TimeRange)
	req.Equal(2001, got.Metadata.TimeRange.Start)
	req.Empty(got.ApprovedBy)

	// Удаление первого файла и обновление
	first := got.Files.All()[0].ID
	got.RemoveFile(now, first)
	req.NoError(repo.Update(ctx, got))
	req.Equal(int64(2), got.Version)

	stale, err := repo.GetByID(ctx, d.ID)
	req.NoError(err)
	stale.Version = 1
	req.ErrorIs(repo.Update(ctx, stale), ErrConflict)

	reloaded, err := repo.GetByID(ctx, d.ID)
	req.NoError(err)
	req.Equal(1, reloaded.Files.Len())
	req.Equal(int64(200), reloaded.Metadata.FileSize)

	items, total, err := repo.List(ctx, ListFilter{Term: "district", VisibleOnly: true, Limit: 10})
	req.NoError(err)
	req.Equal(1, total)
	req.Len(items, 1)
	req.Equal(1, items[0].Files.Len())

	req.NoError(repo.Delete(ctx, d.ID))
	_, err = repo.GetByID(ctx, d.ID)
	req.ErrorIs(err, ErrNotFound)
	req.NoError(repo.Ping(ctx))
}
