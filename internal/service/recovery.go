// recovery.go — восстановление незавершённых WAL-транзакций при старте.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/lo"

	"github.com/bigkaa/dataportal/internal/repository"
	"github.com/bigkaa/dataportal/internal/storage/wal"
)

// RecoveryResult — итог восстановления WAL.
type RecoveryResult struct {
	// RolledBack — транзакции, файлы которых удалены
	RolledBack int
	// Committed — транзакции, чьи данные уже сохранены в хранилище
	Committed int
	// FilesRemoved — удалено файлов с диска
	FilesRemoved int
}

// RecoverPending завершает транзакции, прерванные падением процесса.
// Вызывается до приёма запросов.
//
// Если набор уже сохранён и ссылается на все файлы транзакции,
// транзакция фиксируется. Иначе файлы, на которые набор не ссылается,
// удаляются, а транзакция откатывается.
func (s *RegistryService) RecoverPending(ctx context.Context) (*RecoveryResult, error) {
	pending, err := s.walEngine.RecoverPending()
	if err != nil {
		return nil, &StorageError{Op: "wal_recover", Err: err}
	}

	result := &RecoveryResult{}
	for _, entry := range pending {
		referenced, err := s.referencedPaths(ctx, entry)
		if err != nil {
			return result, err
		}

		if len(entry.StoragePaths) > 0 && lo.EveryBy(entry.StoragePaths, func(p string) bool { return referenced[p] }) {
			if err := s.walEngine.Commit(entry.TransactionID); err != nil {
				return result, &StorageError{Op: "wal_commit", Err: err}
			}
			result.Committed++
			continue
		}

		for _, path := range entry.StoragePaths {
			if referenced[path] {
				continue
			}
			existed, err := s.store.DeleteFile(path)
			if err != nil {
				s.logger.Error("Ошибка удаления файла при восстановлении WAL",
					slog.String("tx_id", entry.TransactionID),
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			if existed {
				result.FilesRemoved++
			}
		}
		if err := s.walEngine.Rollback(entry.TransactionID); err != nil {
			return result, &StorageError{Op: "wal_rollback", Err: err}
		}
		result.RolledBack++
	}

	if _, err := s.walEngine.CleanCommitted(); err != nil {
		s.logger.Warn("Ошибка очистки WAL", slog.String("error", err.Error()))
	}

	if len(pending) > 0 {
		s.logger.Info("Восстановление WAL завершено",
			slog.Int("committed", result.Committed),
			slog.Int("rolled_back", result.RolledBack),
			slog.Int("files_removed", result.FilesRemoved),
		)
	}
	return result, nil
}

// referencedPaths возвращает пути файлов набора транзакции,
// которые уже сохранены в хранилище.
func (s *RegistryService) referencedPaths(ctx context.Context, entry *wal.Entry) (map[string]bool, error) {
	d, err := s.repo.GetByID(ctx, entry.DatasetID)
	if errors.Is(err, repository.ErrNotFound) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, mapRepoErr("get", err)
	}
	paths := make(map[string]bool, d.Files.Len())
	for _, rec := range d.Files.All() {
		paths[rec.FilePath] = true
	}
	return paths, nil
}
