// maintenance.go — обработчик POST /api/v1/maintenance/reconcile.
// Делегирует сверку в ReconcileService.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/bigkaa/dataportal/internal/service"
)

// ReconcileRunner — запуск сверки записей и файлов.
type ReconcileRunner interface {
	Run(ctx context.Context, opts service.ReconcileOptions) (*service.ReconcileResult, error)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
	logger     *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "maintenance_handler")),
	}
}

// Reconcile обрабатывает POST /api/v1/maintenance/reconcile?deep=&removeOrphans=.
// Запускает синхронную сверку и возвращает результат.
// Если сверка уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var opts service.ReconcileOptions
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "deep", query, &opts.DeepCheck); err != nil {
		paramError(w, "deep", err)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "removeOrphans", query, &opts.RemoveOrphans); err != nil {
		paramError(w, "removeOrphans", err)
		return
	}

	result, err := h.reconciler.Run(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
