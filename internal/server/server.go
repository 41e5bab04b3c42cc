// Пакет server — HTTP-сервер Data Portal с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/dataportal/internal/api/handlers"
	"github.com/bigkaa/dataportal/internal/api/middleware"
	"github.com/bigkaa/dataportal/internal/config"
)

// JWTAuthProvider — middleware аутентификации.
type JWTAuthProvider interface {
	Middleware() func(http.Handler) http.Handler
	OptionalMiddleware() func(http.Handler) http.Handler
}

// Handlers — обработчики, монтируемые в роутер.
type Handlers struct {
	Datasets    *handlers.DatasetsHandler
	Files       *handlers.FilesHandler
	Maintenance *handlers.MaintenanceHandler
	Health      *handlers.HealthHandler
	// OpenAPI отдаёт описание API; nil — endpoint не монтируется
	OpenAPI http.Handler
}

// Server — HTTP-сервер Data Portal.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// NewRouter собирает маршруты.
//
// Чтение (списки, карточка, скачивание, предпросмотр) доступно анонимно,
// изменения требуют токен, одобрение и сверка — роль admin.
// auth == nil — аутентификация отключена, все запросы анонимные.
func NewRouter(logger *slog.Logger, h Handlers, auth JWTAuthProvider) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	optional, required := passThrough, passThrough
	if auth != nil {
		optional, required = auth.OptionalMiddleware(), auth.Middleware()
	}

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if h.OpenAPI != nil {
		router.Method(http.MethodGet, "/api/v1/openapi.json", h.OpenAPI)
	}

	router.Route("/api/v1/datasets", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(optional)
			r.Get("/", h.Datasets.List)
			r.Get("/search", h.Datasets.Search)
			r.Get("/category/{category}", h.Datasets.ByCategory)
			r.Get("/state/{state}", h.Datasets.ByState)
			r.Get("/year/{year}", h.Datasets.ByYear)
			r.Get("/{id}", h.Datasets.Get)
			r.Post("/{id}/view", h.Datasets.View)
			r.Get("/{id}/files/{fileId}/download", h.Files.Download)
			r.Get("/{id}/files/{fileId}/preview", h.Files.Preview)
		})

		r.Group(func(r chi.Router) {
			r.Use(required)
			r.Post("/", h.Datasets.Create)
			r.Patch("/{id}", h.Datasets.Update)
			r.Delete("/{id}", h.Datasets.Delete)
			r.Post("/{id}/rating", h.Datasets.Rate)
			r.Post("/{id}/files", h.Files.AddFiles)
			r.Patch("/{id}/files/{fileId}", h.Files.SetActive)
			r.Delete("/{id}/files/{fileId}", h.Files.RemoveFile)

			r.With(middleware.RequireAdmin()).Post("/{id}/approve", h.Datasets.Approve)
		})
	})

	router.With(required, middleware.RequireAdmin()).
		Post("/api/v1/maintenance/reconcile", h.Maintenance.Reconcile)

	return router
}

func passThrough(next http.Handler) http.Handler {
	return next
}

// New создаёт HTTP-сервер.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Загрузка до 10 файлов по 50 МБ на медленном канале
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и блокируется до отмены ctx или ошибки сервера.
// После отмены выполняется graceful shutdown с таймаутом из конфигурации.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled()),
		)

		var err error
		if s.cfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
