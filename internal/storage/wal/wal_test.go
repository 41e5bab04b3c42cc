package wal

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	return w
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию WAL.
func TestNew_CreatesDirectory(t *testing.T) {
	walDir := filepath.Join(t.TempDir(), "wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание WAL, получена ошибка: %v", err)
	}
	if w.Dir() != walDir {
		t.Errorf("ожидался путь %s, получен %s", walDir, w.Dir())
	}
	if info, err := os.Stat(walDir); err != nil || !info.IsDir() {
		t.Fatalf("директория WAL не создана: %v", err)
	}
}

// TestNew_ReadOnlyDir проверяет ошибку при недоступной для записи директории.
func TestNew_ReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root игнорирует права доступа")
	}
	walDir := filepath.Join(t.TempDir(), "wal")
	if err := os.MkdirAll(walDir, 0o550); err != nil {
		t.Fatalf("не удалось создать директорию: %v", err)
	}

	if _, err := New(walDir, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка при недоступной для записи директории")
	}
}

// TestStartTransaction проверяет создание новой транзакции.
func TestStartTransaction(t *testing.T) {
	w := newWAL(t)

	entry, err := w.StartTransaction(OpDatasetCreate, "ds-1")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if entry.TransactionID == "" {
		t.Error("TransactionID не должен быть пустым")
	}
	if entry.Status != StatusPending {
		t.Errorf("ожидался статус %s, получен %s", StatusPending, entry.Status)
	}
	if entry.DatasetID != "ds-1" {
		t.Errorf("ожидался DatasetID 'ds-1', получен %q", entry.DatasetID)
	}
	if entry.CompletedAt != nil {
		t.Error("CompletedAt должен быть nil для pending")
	}

	walFile := filepath.Join(w.Dir(), walFileName(entry.TransactionID))
	if _, err := os.Stat(walFile); os.IsNotExist(err) {
		t.Errorf("WAL-файл не найден: %s", walFile)
	}
	if _, err := os.Stat(walFile + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не должен существовать после записи")
	}
}

// TestRecordPath — записанные пути сохраняются в порядке добавления.
func TestRecordPath(t *testing.T) {
	w := newWAL(t)

	entry, err := w.StartTransaction(OpFilesAdd, "ds-1")
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	for _, p := range []string{"a.csv", "b.pdf"} {
		if err := w.RecordPath(entry.TransactionID, p); err != nil {
			t.Fatalf("ошибка RecordPath: %v", err)
		}
	}

	got, err := w.GetTransaction(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if len(got.StoragePaths) != 2 || got.StoragePaths[0] != "a.csv" || got.StoragePaths[1] != "b.pdf" {
		t.Errorf("StoragePaths: ожидалось [a.csv b.pdf], получено %v", got.StoragePaths)
	}

	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}
	if err := w.RecordPath(entry.TransactionID, "c.txt"); err == nil {
		t.Error("RecordPath в завершённую транзакцию должен возвращать ошибку")
	}
}

// TestCommitRollback проверяет завершение транзакций и повторное завершение.
func TestCommitRollback(t *testing.T) {
	w := newWAL(t)

	committed, _ := w.StartTransaction(OpDatasetCreate, "ds-1")
	rolledBack, _ := w.StartTransaction(OpFilesAdd, "ds-2")

	if err := w.Commit(committed.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}
	if err := w.Rollback(rolledBack.TransactionID); err != nil {
		t.Fatalf("ошибка rollback: %v", err)
	}

	c, err := w.GetTransaction(committed.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if c.Status != StatusCommitted || c.CompletedAt == nil {
		t.Errorf("ожидался committed с CompletedAt, получено %s", c.Status)
	}

	r, err := w.GetTransaction(rolledBack.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if r.Status != StatusRolledBack {
		t.Errorf("ожидался статус %s, получен %s", StatusRolledBack, r.Status)
	}

	if err := w.Commit(committed.TransactionID); err == nil {
		t.Error("ожидалась ошибка при повторном коммите")
	}
	if err := w.Rollback(committed.TransactionID); err == nil {
		t.Error("ожидалась ошибка при rollback закоммиченной транзакции")
	}
}

// TestGetTransaction_NotFound проверяет ошибку при несуществующей транзакции.
func TestGetTransaction_NotFound(t *testing.T) {
	w := newWAL(t)

	if _, err := w.GetTransaction("nonexistent-tx-id"); err == nil {
		t.Error("ожидалась ошибка для несуществующей транзакции")
	}
}

// TestRecoverPending проверяет восстановление pending транзакций.
func TestRecoverPending(t *testing.T) {
	w := newWAL(t)

	pending, _ := w.StartTransaction(OpFilesAdd, "ds-1")
	_ = w.RecordPath(pending.TransactionID, "orphan.csv")

	committed, _ := w.StartTransaction(OpDatasetCreate, "ds-2")
	_ = w.Commit(committed.TransactionID)

	// Мусорный файл не мешает восстановлению
	if err := os.WriteFile(filepath.Join(w.Dir(), "broken.wal.json"), []byte("{"), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	recovered, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("ожидалась 1 pending транзакция, получено %d", len(recovered))
	}
	if recovered[0].TransactionID != pending.TransactionID {
		t.Errorf("ожидался tx_id %s, получен %s", pending.TransactionID, recovered[0].TransactionID)
	}
	if len(recovered[0].StoragePaths) != 1 || recovered[0].StoragePaths[0] != "orphan.csv" {
		t.Errorf("StoragePaths: ожидалось [orphan.csv], получено %v", recovered[0].StoragePaths)
	}
}

func TestPendingPaths(t *testing.T) {
	w := newWAL(t)

	pending, _ := w.StartTransaction(OpDatasetCreate, "ds-1")
	_ = w.RecordPath(pending.TransactionID, "a.csv")
	_ = w.RecordPath(pending.TransactionID, "b.csv")

	done, _ := w.StartTransaction(OpFilesAdd, "ds-2")
	_ = w.RecordPath(done.TransactionID, "c.csv")
	_ = w.Rollback(done.TransactionID)

	paths, err := w.PendingPaths()
	if err != nil {
		t.Fatalf("ошибка PendingPaths: %v", err)
	}
	if len(paths) != 2 || !paths["a.csv"] || !paths["b.csv"] {
		t.Errorf("ожидались a.csv и b.csv, получено %v", paths)
	}
}

// TestCleanCommitted проверяет очистку завершённых WAL-записей.
func TestCleanCommitted(t *testing.T) {
	w := newWAL(t)

	_, _ = w.StartTransaction(OpDatasetCreate, "ds-1")
	tx2, _ := w.StartTransaction(OpFilesAdd, "ds-2")
	_ = w.Commit(tx2.TransactionID)
	tx3, _ := w.StartTransaction(OpFilesAdd, "ds-3")
	_ = w.Rollback(tx3.TransactionID)

	cleaned, err := w.CleanCommitted()
	if err != nil {
		t.Fatalf("ошибка очистки: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось 2 очищенных записи, получено %d", cleaned)
	}

	recovered, _ := w.RecoverPending()
	if len(recovered) != 1 {
		t.Errorf("ожидалась 1 pending запись, получено %d", len(recovered))
	}
}

// TestEntryJSON проверяет формат записи на диске.
func TestEntryJSON(t *testing.T) {
	w := newWAL(t)

	entry, _ := w.StartTransaction(OpDatasetCreate, "ds-json")
	data, err := os.ReadFile(filepath.Join(w.Dir(), walFileName(entry.TransactionID)))
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("невалидный JSON: %v", err)
	}
	for _, key := range []string{"transaction_id", "operation", "status", "dataset_id", "storage_paths", "started_at"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("отсутствует ключ %s", key)
		}
	}
}

// TestConcurrentAccess проверяет потокобезопасность WAL.
func TestConcurrentAccess(t *testing.T) {
	w := newWAL(t)

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()

			entry, err := w.StartTransaction(OpFilesAdd, "ds-concurrent")
			if err != nil {
				errs <- err
				return
			}
			if err := w.RecordPath(entry.TransactionID, "f.csv"); err != nil {
				errs <- err
				return
			}
			if err := w.Commit(entry.TransactionID); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("ошибка в горутине: %v", err)
	}
}
