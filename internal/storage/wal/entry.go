// Пакет wal — файловый журнал компенсирующей очистки.
// Каждая транзакция записи файлов набора — отдельный файл
// {tx_id}.wal.json в DP_WAL_DIR со списком уже записанных путей.
// Если процесс упал между записью байтов и сохранением набора,
// при старте эти файлы удаляются.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpDatasetCreate — создание набора вместе с первыми файлами
	OpDatasetCreate OperationType = "dataset_create"
	// OpFilesAdd — добавление файлов в существующий набор
	OpFilesAdd OperationType = "files_add"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, файлы пишутся
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — набор сохранён, файлы принадлежат ему
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — файлы удалены компенсирующей очисткой
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`
	// DatasetID — набор, в который пишутся файлы
	DatasetID string `json:"dataset_id"`
	// StoragePaths — относительные пути уже записанных файлов
	StoragePaths []string   `json:"storage_paths"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + ".wal.json"
}
