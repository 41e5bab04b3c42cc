// metrics.go — бизнес-метрики реестра наборов.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal — операции реестра по результату.
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dp_registry_operations_total",
			Help: "Общее количество операций реестра наборов",
		},
		[]string{"operation", "result"},
	)

	// filesWrittenTotal — файлы, записанные на диск при загрузке.
	filesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dp_files_written_total",
		Help: "Общее количество файлов, записанных на диск",
	})

	// cleanupFilesTotal — файлы, удалённые компенсирующей очисткой.
	cleanupFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dp_cleanup_files_total",
			Help: "Файлы, удалённые компенсирующей очисткой",
		},
		[]string{"result"},
	)

	// downloadsTotal — успешно разрешённые скачивания.
	downloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dp_downloads_total",
		Help: "Общее количество скачиваний файлов",
	})
)

// observe учитывает результат операции в operationsTotal.
func observe(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
}
