// download.go — скачивание и предпросмотр файлов набора.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/bigkaa/dataportal/internal/domain/model"
	"github.com/bigkaa/dataportal/internal/storage/filestore"
)

// Download — открытый файл для отдачи клиенту.
// Вызывающий обязан закрыть Content.
type Download struct {
	Content io.ReadSeekCloser
	Record  model.FileRecord
	Size    int64
	ModTime time.Time
}

// Download разрешает цепочку набор → запись → байты, увеличивает
// счётчики и возвращает открытый файл.
//
// Любое недостающее звено (скрытый набор, неактивная запись, файл
// отсутствует на диске) — ErrNotFound без изменения счётчиков.
// Счётчики сохраняются до начала передачи: учитывается попытка, а не
// завершённое скачивание.
func (s *RegistryService) Download(ctx context.Context, datasetID, fileID string) (dl *Download, err error) {
	defer func() { observe("download", err) }()

	unlock := s.locks.Lock(datasetID)
	defer unlock()

	d, rec, err := s.resolveFile(ctx, datasetID, fileID)
	if err != nil {
		return nil, err
	}

	f, err := s.store.Open(rec.FilePath)
	if err != nil {
		return nil, s.openError(datasetID, rec, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &StorageError{Op: "stat", Err: err}
	}

	d.IncrementDownload(s.now(), fileID)
	if err := s.repo.Update(ctx, d); err != nil {
		_ = f.Close()
		return nil, mapRepoErr("download", err)
	}
	downloadsTotal.Inc()

	s.logger.Debug("Скачивание файла",
		slog.String("dataset_id", datasetID),
		slog.String("file_id", fileID),
		slog.Int64("size", info.Size()),
	)

	return &Download{
		Content: f,
		Record:  *d.Files.Get(fileID),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Preview возвращает первые строки CSV-файла. Разрешение файла такое же,
// как при скачивании, но счётчики не меняются. rows <= 0 — значение по
// умолчанию, больше максимума — обрезается до максимума.
func (s *RegistryService) Preview(ctx context.Context, datasetID, fileID string, rows int) (res *PreviewResult, err error) {
	defer func() { observe("preview", err) }()

	_, rec, err := s.resolveFile(ctx, datasetID, fileID)
	if err != nil {
		return nil, err
	}
	if rec.FileType != model.FileTypeCSV {
		return nil, ErrUnsupportedOperation
	}

	if rows <= 0 {
		rows = s.limits.PreviewDefaultRows
	}
	rows = min(rows, s.limits.PreviewMaxRows)

	return s.preview.Preview(rec, rows)
}

// resolveFile находит активную запись файла в видимом наборе.
func (s *RegistryService) resolveFile(ctx context.Context, datasetID, fileID string) (*model.Dataset, *model.FileRecord, error) {
	d, err := s.loadVisible(ctx, datasetID)
	if err != nil {
		return nil, nil, err
	}
	rec := d.Files.Get(fileID)
	if rec == nil || !rec.IsActive {
		return nil, nil, ErrNotFound
	}
	return d, rec, nil
}

// openError переводит ошибку открытия файла. Запись без байтов на диске
// считается ненайденной.
func (s *RegistryService) openError(datasetID string, rec *model.FileRecord, err error) error {
	if errors.Is(err, filestore.ErrNotExist) {
		s.logger.Warn("Файл записи отсутствует на диске",
			slog.String("dataset_id", datasetID),
			slog.String("file_id", rec.ID),
			slog.String("path", rec.FilePath),
		)
		return ErrNotFound
	}
	return &StorageError{Op: "open", Err: err}
}
