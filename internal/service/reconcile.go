// reconcile.go — сверка записей файлов с содержимым директории данных.
//
// Обнаруживает проблемы:
//   - missing_file: запись есть, файла на диске нет
//   - size_mismatch: размер на диске не совпадает с записью
//   - checksum_mismatch: не совпадает SHA-256 (только при глубокой проверке)
//   - orphaned_file: файл на диске без записи
//
// Запускается по запросу администратора.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dataportal/internal/repository"
	"github.com/bigkaa/dataportal/internal/storage/filestore"
	"github.com/bigkaa/dataportal/internal/storage/wal"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dp_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dp_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dp_reconcile_duration_seconds",
		Help:    "Длительность сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// DefaultOrphanGracePeriod — файлы моложе этого возраста не считаются
// осиротевшими: их запись может ещё сохраняться.
const DefaultOrphanGracePeriod = 10 * time.Minute

// IssueType — тип расхождения.
type IssueType string

const (
	IssueMissingFile      IssueType = "missing_file"
	IssueSizeMismatch     IssueType = "size_mismatch"
	IssueChecksumMismatch IssueType = "checksum_mismatch"
	IssueOrphanedFile     IssueType = "orphaned_file"
)

// ReconcileIssue — одно расхождение.
type ReconcileIssue struct {
	Type        IssueType `json:"type"`
	DatasetID   string    `json:"datasetId,omitempty"`
	FileID      string    `json:"fileId,omitempty"`
	Path        string    `json:"path"`
	Description string    `json:"description"`
}

// ReconcileSummary — количество расхождений по типам.
type ReconcileSummary struct {
	Ok                 int `json:"ok"`
	MissingFiles       int `json:"missingFiles"`
	SizeMismatches     int `json:"sizeMismatches"`
	ChecksumMismatches int `json:"checksumMismatches"`
	OrphanedFiles      int `json:"orphanedFiles"`
	OrphansRemoved     int `json:"orphansRemoved"`
}

// ReconcileResult — результат сверки.
type ReconcileResult struct {
	StartedAt    time.Time        `json:"startedAt"`
	CompletedAt  time.Time        `json:"completedAt"`
	FilesChecked int              `json:"filesChecked"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
}

// ReconcileOptions — параметры запуска.
type ReconcileOptions struct {
	// DeepCheck — пересчитывать SHA-256 каждого файла
	DeepCheck bool
	// RemoveOrphans — удалять файлы без записей
	RemoveOrphans bool
}

// ReconcileService — сверка записей и файлов.
type ReconcileService struct {
	repo        repository.DatasetRepository
	store       *filestore.FileStore
	walEngine   *wal.WAL
	gracePeriod time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	repo repository.DatasetRepository,
	store *filestore.FileStore,
	walEngine *wal.WAL,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		repo:        repo,
		store:       store,
		walEngine:   walEngine,
		gracePeriod: DefaultOrphanGracePeriod,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With(slog.String("component", "reconcile")),
	}
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// Run выполняет одну сверку. Параллельный запуск — ErrReconcileInProgress.
func (rs *ReconcileService) Run(ctx context.Context, opts ReconcileOptions) (*ReconcileResult, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, ErrReconcileInProgress
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	result := &ReconcileResult{StartedAt: rs.now(), Issues: []ReconcileIssue{}}
	rs.logger.Info("Сверка начата",
		slog.Bool("deep", opts.DeepCheck),
		slog.Bool("remove_orphans", opts.RemoveOrphans),
	)

	datasets, _, err := rs.repo.List(ctx, repository.ListFilter{})
	if err != nil {
		return nil, mapRepoErr("reconcile_list", err)
	}
	onDisk, err := rs.store.ListFiles()
	if err != nil {
		return nil, &StorageError{Op: "reconcile_list_files", Err: err}
	}

	referenced := make(map[string]bool)
	for _, d := range datasets {
		for _, rec := range d.Files.All() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			referenced[rec.FilePath] = true
			result.FilesChecked++

			issue, ok := rs.checkRecord(rec.FilePath, rec.FileSize, rec.Checksum, opts.DeepCheck)
			if !ok {
				continue
			}
			issue.DatasetID = d.ID
			issue.FileID = rec.ID
			result.Issues = append(result.Issues, issue)
		}
	}

	pending, err := rs.walEngine.PendingPaths()
	if err != nil {
		rs.logger.Warn("Ошибка чтения WAL при сверке", slog.String("error", err.Error()))
		pending = map[string]bool{}
	}

	for _, path := range onDisk {
		if referenced[path] || pending[path] || rs.isFresh(path) {
			continue
		}
		result.Issues = append(result.Issues, ReconcileIssue{
			Type:        IssueOrphanedFile,
			Path:        path,
			Description: "Файл на диске без записи",
		})
		if opts.RemoveOrphans {
			if _, err := rs.store.DeleteFile(path); err != nil {
				rs.logger.Error("Ошибка удаления осиротевшего файла",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.Summary.OrphansRemoved++
		}
	}

	for _, issue := range result.Issues {
		switch issue.Type {
		case IssueMissingFile:
			result.Summary.MissingFiles++
		case IssueSizeMismatch:
			result.Summary.SizeMismatches++
		case IssueChecksumMismatch:
			result.Summary.ChecksumMismatches++
		case IssueOrphanedFile:
			result.Summary.OrphanedFiles++
		}
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}
	result.Summary.Ok = max(result.FilesChecked-
		result.Summary.MissingFiles-result.Summary.SizeMismatches-result.Summary.ChecksumMismatches, 0)

	result.CompletedAt = rs.now()
	duration := result.CompletedAt.Sub(result.StartedAt)
	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())

	rs.logger.Info("Сверка завершена",
		slog.Int("files_checked", result.FilesChecked),
		slog.Int("issues", len(result.Issues)),
		slog.Int("ok", result.Summary.Ok),
		slog.Duration("duration", duration),
	)
	return result, nil
}

// checkRecord сравнивает запись с файлом на диске.
func (rs *ReconcileService) checkRecord(path string, size int64, checksum string, deep bool) (ReconcileIssue, bool) {
	info, err := rs.store.Stat(path)
	if errors.Is(err, filestore.ErrNotExist) {
		return ReconcileIssue{
			Type:        IssueMissingFile,
			Path:        path,
			Description: "Запись есть, файла на диске нет",
		}, true
	}
	if err != nil {
		rs.logger.Warn("Ошибка получения размера файла",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return ReconcileIssue{}, false
	}

	if info.Size != size {
		return ReconcileIssue{
			Type:        IssueSizeMismatch,
			Path:        path,
			Description: "Размер файла на диске не совпадает с записью",
		}, true
	}
	if !deep {
		return ReconcileIssue{}, false
	}

	actual, err := rs.store.ComputeChecksum(path)
	if err != nil {
		rs.logger.Warn("Ошибка вычисления checksum",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return ReconcileIssue{}, false
	}
	if actual != checksum {
		return ReconcileIssue{
			Type:        IssueChecksumMismatch,
			Path:        path,
			Description: "Checksum файла на диске не совпадает с записью",
		}, true
	}
	return ReconcileIssue{}, false
}

// isFresh — файл изменён недавно и может принадлежать идущей загрузке.
func (rs *ReconcileService) isFresh(path string) bool {
	info, err := rs.store.Stat(path)
	if err != nil {
		return false
	}
	return rs.now().Sub(info.ModTime) < rs.gracePeriod
}
