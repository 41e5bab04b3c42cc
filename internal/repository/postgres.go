package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/dataportal/internal/domain/model"
)

// datasetColumns — столбцы таблицы datasets для SELECT-запросов.
const datasetColumns = `id, title, description, category, state, year,
	source_name, source_url, tags, notes, data_quality,
	created_by, approved_by, approved_at, is_public, is_active,
	total_records, file_size, last_updated, update_frequency, coverage,
	time_series, time_range_start, time_range_end,
	download_count, view_count, rating_average, rating_count, last_downloaded,
	version, created_at, updated_at`

// fileColumns — столбцы таблицы dataset_files в порядке copyFiles.
var fileColumns = []string{
	"dataset_id", "id", "position", "file_name", "original_name", "file_type",
	"file_size", "file_path", "mime_type", "checksum", "uploaded_at",
	"is_active", "download_count",
}

// postgresRepo — реализация DatasetRepository через pgx.
type postgresRepo struct {
	pool *pgxpool.Pool
	tx   *TxRunner
}

// NewPostgresRepository создаёт репозиторий наборов в PostgreSQL.
func NewPostgresRepository(pool *pgxpool.Pool) DatasetRepository {
	return &postgresRepo{pool: pool, tx: NewTxRunner(pool)}
}

// Create вставляет набор и его файлы в одной транзакции.
func (r *postgresRepo) Create(ctx context.Context, d *model.Dataset) error {
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`INSERT INTO datasets (%s) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29,
			1, $30, $31)`, datasetColumns)

		if _, err := tx.Exec(ctx, query, datasetArgs(d)...); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("ошибка создания набора: %w", err)
		}
		return copyFiles(ctx, tx, d)
	})
	if err != nil {
		return err
	}
	d.Version = 1
	return nil
}

// GetByID возвращает набор с файлами или ErrNotFound.
func (r *postgresRepo) GetByID(ctx context.Context, id string) (*model.Dataset, error) {
	query := fmt.Sprintf(`SELECT %s FROM datasets WHERE id = $1`, datasetColumns)

	d, err := scanDataset(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения набора: %w", err)
	}

	if err := loadFiles(ctx, r.pool, []*model.Dataset{d}); err != nil {
		return nil, err
	}
	return d, nil
}

// Update заменяет набор при совпадении версии. Файлы перезаписываются
// целиком в той же транзакции, порядок хранится в столбце position.
func (r *postgresRepo) Update(ctx context.Context, d *model.Dataset) error {
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		query := `UPDATE datasets SET
			title = $2, description = $3, category = $4, state = $5, year = $6,
			source_name = $7, source_url = $8, tags = $9, notes = $10, data_quality = $11,
			approved_by = $12, approved_at = $13, is_public = $14, is_active = $15,
			total_records = $16, file_size = $17, last_updated = $18,
			update_frequency = $19, coverage = $20, time_series = $21,
			time_range_start = $22, time_range_end = $23,
			download_count = $24, view_count = $25, rating_average = $26,
			rating_count = $27, last_downloaded = $28,
			updated_at = $29, version = version + 1
			WHERE id = $1 AND version = $30`

		start, end := timeRangeArgs(d.Metadata.TimeRange)
		tag, err := tx.Exec(ctx, query,
			d.ID, d.Title, d.Description, string(d.Category), d.State, d.Year,
			d.Source.Name, d.Source.URL, nonNilTags(d.Tags), d.Notes, string(d.DataQuality),
			nullString(d.ApprovedBy), d.ApprovedAt, d.IsPublic, d.IsActive,
			d.Metadata.TotalRecords, d.Metadata.FileSize, d.Metadata.LastUpdated,
			string(d.Metadata.UpdateFrequency), string(d.Metadata.Coverage), d.Metadata.TimeSeries,
			start, end,
			d.Statistics.DownloadCount, d.Statistics.ViewCount, d.Statistics.Rating.Average,
			d.Statistics.Rating.Count, d.Statistics.LastDownloaded,
			d.UpdatedAt, d.Version,
		)
		if err != nil {
			return fmt.Errorf("ошибка обновления набора: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM datasets WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
				return fmt.Errorf("ошибка проверки набора: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrConflict
		}

		if _, err := tx.Exec(ctx, `DELETE FROM dataset_files WHERE dataset_id = $1`, d.ID); err != nil {
			return fmt.Errorf("ошибка удаления записей файлов: %w", err)
		}
		return copyFiles(ctx, tx, d)
	})
	if err != nil {
		return err
	}
	d.Version++
	return nil
}

// Delete удаляет набор. Записи файлов удаляются каскадно.
func (r *postgresRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления набора: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List выполняет выборку с фильтрами и пагинацией.
func (r *postgresRepo) List(ctx context.Context, filter ListFilter) ([]*model.Dataset, int, error) {
	where, args := buildDatasetWhere(filter, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`SELECT %s FROM datasets %s ORDER BY created_at DESC, id`, datasetColumns, where)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка выборки наборов: %w", err)
	}
	defer rows.Close()

	result := []*model.Dataset{}
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования набора: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	countWhere, countArgs := buildDatasetWhere(filter, 1)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM datasets `+countWhere, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта наборов: %w", err)
	}

	if err := loadFiles(ctx, r.pool, result); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// Ping проверяет подключение к PostgreSQL.
func (r *postgresRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// buildDatasetWhere строит WHERE-условие и аргументы выборки наборов.
// startArg — номер первого $-параметра.
func buildDatasetWhere(f ListFilter, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if f.VisibleOnly {
		conditions = append(conditions, "is_active AND is_public")
	}

	if term := strings.TrimSpace(f.Term); term != "" {
		conditions = append(conditions, fmt.Sprintf(
			`(title ILIKE $%[1]d OR description ILIKE $%[1]d OR EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE t ILIKE $%[1]d))`,
			argNum))
		args = append(args, "%"+escapeLike(term)+"%")
		argNum++
	}

	if f.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argNum))
		args = append(args, f.Category)
		argNum++
	}

	if f.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argNum))
		args = append(args, f.State)
		argNum++
	}

	if f.Year != 0 {
		conditions = append(conditions, fmt.Sprintf("year = $%d", argNum))
		args = append(args, f.Year)
		argNum++
	}

	if f.CreatedBy != "" {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", argNum))
		args = append(args, f.CreatedBy)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// escapeLike экранирует спецсимволы шаблона ILIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// rowScanner — общий интерфейс pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*model.Dataset, error) {
	var (
		d                    model.Dataset
		category, quality    string
		frequency, coverage  string
		approvedBy           *string
		rangeStart, rangeEnd *int
	)
	err := row.Scan(
		&d.ID, &d.Title, &d.Description, &category, &d.State, &d.Year,
		&d.Source.Name, &d.Source.URL, &d.Tags, &d.Notes, &quality,
		&d.CreatedBy, &approvedBy, &d.ApprovedAt, &d.IsPublic, &d.IsActive,
		&d.Metadata.TotalRecords, &d.Metadata.FileSize, &d.Metadata.LastUpdated, &frequency, &coverage,
		&d.Metadata.TimeSeries, &rangeStart, &rangeEnd,
		&d.Statistics.DownloadCount, &d.Statistics.ViewCount, &d.Statistics.Rating.Average,
		&d.Statistics.Rating.Count, &d.Statistics.LastDownloaded,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Category = model.Category(category)
	d.DataQuality = model.DataQuality(quality)
	d.Metadata.UpdateFrequency = model.UpdateFrequency(frequency)
	d.Metadata.Coverage = model.Coverage(coverage)
	if approvedBy != nil {
		d.ApprovedBy = *approvedBy
	}
	if rangeStart != nil && rangeEnd != nil {
		d.Metadata.TimeRange = &model.TimeRange{Start: *rangeStart, End: *rangeEnd}
	}
	d.Files = model.NewFileList()
	return &d, nil
}

// loadFiles загружает файлы для наборов одним запросом.
func loadFiles(ctx context.Context, db DBTX, datasets []*model.Dataset) error {
	if len(datasets) == 0 {
		return nil
	}

	byID := make(map[string]*model.Dataset, len(datasets))
	ids := make([]string, 0, len(datasets))
	for _, d := range datasets {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}

	rows, err := db.Query(ctx, `SELECT dataset_id, id, file_name, original_name, file_type,
		file_size, file_path, mime_type, checksum, uploaded_at, is_active, download_count
		FROM dataset_files WHERE dataset_id = ANY($1) ORDER BY dataset_id, position`, ids)
	if err != nil {
		return fmt.Errorf("ошибка получения файлов: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			datasetID, fileType string
			f                   model.FileRecord
		)
		if err := rows.Scan(&datasetID, &f.ID, &f.FileName, &f.OriginalName, &fileType,
			&f.FileSize, &f.FilePath, &f.MimeType, &f.Checksum, &f.UploadedAt, &f.IsActive, &f.DownloadCount,
		); err != nil {
			return fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		f.FileType = model.FileType(fileType)
		if d, ok := byID[datasetID]; ok {
			d.Files.Append(&f)
		}
	}
	return rows.Err()
}

// copyFiles вставляет файлы набора через COPY с сохранением порядка.
func copyFiles(ctx context.Context, tx pgx.Tx, d *model.Dataset) error {
	files := d.Files.All()
	if len(files) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(files))
	for i, f := range files {
		rows = append(rows, []any{
			d.ID, f.ID, i, f.FileName, f.OriginalName, string(f.FileType),
			f.FileSize, f.FilePath, f.MimeType, f.Checksum, f.UploadedAt,
			f.IsActive, f.DownloadCount,
		})
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"dataset_files"}, fileColumns, pgx.CopyFromRows(rows)); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка записи файлов набора: %w", err)
	}
	return nil
}

// datasetArgs — значения столбцов datasetColumns без version.
func datasetArgs(d *model.Dataset) []any {
	start, end := timeRangeArgs(d.Metadata.TimeRange)
	return []any{
		d.ID, d.Title, d.Description, string(d.Category), d.State, d.Year,
		d.Source.Name, d.Source.URL, nonNilTags(d.Tags), d.Notes, string(d.DataQuality),
		d.CreatedBy, nullString(d.ApprovedBy), d.ApprovedAt, d.IsPublic, d.IsActive,
		d.Metadata.TotalRecords, d.Metadata.FileSize, d.Metadata.LastUpdated,
		string(d.Metadata.UpdateFrequency), string(d.Metadata.Coverage),
		d.Metadata.TimeSeries, start, end,
		d.Statistics.DownloadCount, d.Statistics.ViewCount, d.Statistics.Rating.Average,
		d.Statistics.Rating.Count, d.Statistics.LastDownloaded,
		d.CreatedAt, d.UpdatedAt,
	}
}

func timeRangeArgs(tr *model.TimeRange) (start, end *int) {
	if tr == nil {
		return nil, nil
	}
	return &tr.Start, &tr.End
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
