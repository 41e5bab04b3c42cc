// Пакет repository — хранение наборов данных.
// Две реализации DatasetRepository: PostgreSQL (чистый SQL через pgx)
// и встраиваемая Badger (JSON-документ на набор).
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/bigkaa/dataportal/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — запись уже существует или изменена параллельно
	// (версия не совпала).
	ErrConflict = errors.New("конфликт — запись уже существует или изменена")
)

// DatasetRepository — хранилище агрегатов Dataset.
// Набор сохраняется целиком вместе со списком файлов.
type DatasetRepository interface {
	// Create сохраняет новый набор, устанавливает Version = 1.
	Create(ctx context.Context, d *model.Dataset) error
	// GetByID возвращает набор с файлами или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.Dataset, error)
	// Update атомарно заменяет набор, если хранимая версия равна d.Version.
	// При успехе d.Version увеличивается; при несовпадении — ErrConflict.
	Update(ctx context.Context, d *model.Dataset) error
	// Delete удаляет набор и записи его файлов.
	Delete(ctx context.Context, id string) error
	// List возвращает страницу наборов по фильтру (новые первыми)
	// и общее количество подходящих наборов.
	List(ctx context.Context, filter ListFilter) ([]*model.Dataset, int, error)
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// ListFilter — фильтр выборки наборов. Пустые поля не применяются.
type ListFilter struct {
	// Term — подстрока без учёта регистра в title, description или тегах
	Term      string
	Category  string
	State     string
	Year      int
	CreatedBy string
	// VisibleOnly — только IsActive && IsPublic
	VisibleOnly bool
	// Limit <= 0 — без ограничения
	Limit  int
	Offset int
}

// Matches проверяет набор по фильтру в памяти (для Badger).
// Семантика совпадает с buildDatasetWhere.
func (f ListFilter) Matches(d *model.Dataset) bool {
	if f.VisibleOnly && !d.IsVisible() {
		return false
	}
	if f.Category != "" && string(d.Category) != f.Category {
		return false
	}
	if f.State != "" && d.State != f.State {
		return false
	}
	if f.Year != 0 && d.Year != f.Year {
		return false
	}
	if f.CreatedBy != "" && d.CreatedBy != f.CreatedBy {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Term)); term != "" {
		return strings.Contains(strings.ToLower(d.Title), term) ||
			strings.Contains(strings.ToLower(d.Description), term) ||
			lo.ContainsBy(d.Tags, func(tag string) bool {
				return strings.Contains(strings.ToLower(tag), term)
			})
	}
	return true
}

// page применяет Offset/Limit к уже отфильтрованному срезу.
func (f ListFilter) page(items []*model.Dataset) []*model.Dataset {
	if f.Offset >= len(items) {
		return []*model.Dataset{}
	}
	items = items[max(f.Offset, 0):]
	if f.Limit > 0 && f.Limit < len(items) {
		items = items[:f.Limit]
	}
	return items
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
