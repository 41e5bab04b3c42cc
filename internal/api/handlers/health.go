// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/bigkaa/dataportal/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// StorageReadinessChecker — проверка готовности хранилища метаданных.
type StorageReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к директории файлов (проверка FS и свободного места)
	dataDir string
	// walDir — путь к директории WAL
	walDir string
	// minFreeDisk — минимум свободного места в байтах; 0 — не проверять
	minFreeDisk int64
	storage     StorageReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// storage == nil — проверка хранилища метаданных не выполняется.
func NewHealthHandler(dataDir, walDir string, minFreeDisk int64, storage StorageReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version:     config.Version,
		dataDir:     dataDir,
		walDir:      walDir,
		minFreeDisk: minFreeDisk,
		storage:     storage,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "data-portal",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директория файлов, WAL, хранилище метаданных, свободное место.
// Недоступность данных или метаданных — 503; проблемы WAL и нехватка
// места — degraded.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fail := func() {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}
	degrade := func() {
		if overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	fsCheck := checkWritable(h.dataDir, "Директория данных")
	if fsCheck["status"] != "ok" {
		fail()
	}

	walCheck := checkWritable(h.walDir, "Директория WAL")
	if walCheck["status"] != "ok" {
		degrade()
	}

	repoCheck := h.checkStorage()
	if repoCheck["status"] != "ok" {
		fail()
	}

	diskCheck := h.checkDiskSpace()
	if diskCheck["status"] != "ok" {
		degrade()
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "data-portal",
		"checks": map[string]any{
			"filesystem": fsCheck,
			"wal":        walCheck,
			"repository": repoCheck,
			"disk":       diskCheck,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir, title string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": title + " недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}

func (h *HealthHandler) checkStorage() map[string]any {
	if h.storage == nil {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	status, message := h.storage.CheckReady()
	return map[string]any{
		"status":  status,
		"message": message,
	}
}

// checkDiskSpace сравнивает свободное место в директории данных с порогом.
func (h *HealthHandler) checkDiskSpace() map[string]any {
	if h.dataDir == "" || h.minFreeDisk <= 0 {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	usage, err := disk.Usage(h.dataDir)
	if err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Ошибка получения ёмкости диска: " + err.Error(),
		}
	}

	result := map[string]any{
		"status":     "ok",
		"total":      usage.Total,
		"free":       usage.Free,
		"used_ratio": usage.UsedPercent / 100,
	}
	if usage.Free < uint64(h.minFreeDisk) {
		result["status"] = statusFail
		result["message"] = "Свободно меньше " + strconv.FormatInt(h.minFreeDisk, 10) + " байт"
	}
	return result
}
