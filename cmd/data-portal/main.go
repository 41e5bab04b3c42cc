// Точка входа Data Portal — реестра открытых государственных наборов данных.
// Загружает конфигурацию, открывает хранилище наборов (PostgreSQL или Badger),
// файловое хранилище и WAL, восстанавливает прерванные загрузки,
// запускает topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bigkaa/dataportal/internal/api/handlers"
	"github.com/bigkaa/dataportal/internal/api/middleware"
	"github.com/bigkaa/dataportal/internal/api/openapi"
	"github.com/bigkaa/dataportal/internal/config"
	"github.com/bigkaa/dataportal/internal/server"
	"github.com/bigkaa/dataportal/internal/service"
	"github.com/bigkaa/dataportal/internal/storage/filestore"
	"github.com/bigkaa/dataportal/internal/storage/wal"
)

// jwksClientTimeout — таймаут HTTP-клиента JWKS.
const jwksClientTimeout = 10 * time.Second

func main() {
	// .env необязателен: в Kubernetes переменные задаются манифестом
	_ = godotenv.Load()

	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("Data Portal запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Файловое хранилище и WAL
	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации FileStore", slog.String("error", err.Error()))
		os.Exit(1)
	}
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Хранилище наборов
	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка открытия хранилища наборов",
			slog.String("backend", cfg.StorageBackend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer backend.Close()

	// 5. Сервисы
	limits := service.Limits{
		MaxFileSize:        cfg.MaxFileSize,
		MaxFilesPerUpload:  cfg.MaxFilesPerUpload,
		PreviewDefaultRows: cfg.PreviewDefaultRows,
		PreviewMaxRows:     cfg.PreviewMaxRows,
	}
	previewSvc := service.NewPreviewService(store, cfg.PreviewCacheSize, cfg.PreviewCacheTTL, logger)
	registrySvc := service.NewRegistryService(backend.Repo, store, walEngine, previewSvc, limits, logger)
	reconcileSvc := service.NewReconcileService(backend.Repo, store, walEngine, logger)

	// 6. Восстановление прерванных загрузок — до приёма запросов
	recovered, err := registrySvc.RecoverPending(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if recovered.RolledBack > 0 || recovered.Committed > 0 {
		logger.Warn("Восстановлены незавершённые WAL-транзакции",
			slog.Int("rolled_back", recovered.RolledBack),
			slog.Int("committed", recovered.Committed),
			slog.Int("files_removed", recovered.FilesRemoved),
		)
	}

	// 7. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.JWKSCACert,
		ClientTimeout:   jwksClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))

	// 8. topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "data-portal",
		Group:         cfg.DephealthGroup,
		DB:            backend.SQLDB,
		PgConnURL:     backend.PgConnURL,
		JWKSURL:       cfg.JWKSUrl,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 9. OpenAPI
	spec, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10. HTTP-сервер
	router := server.NewRouter(logger, server.Handlers{
		Datasets:    handlers.NewDatasetsHandler(registrySvc, limits, logger),
		Files:       handlers.NewFilesHandler(registrySvc, limits, logger),
		Maintenance: handlers.NewMaintenanceHandler(reconcileSvc, logger),
		Health:      handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, cfg.MinFreeDisk, backend.Readiness),
		OpenAPI:     spec,
	}, jwtAuth)

	srv := server.New(cfg, logger, router)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	logger.Info("Data Portal остановлен")
}
