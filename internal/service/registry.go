// Пакет service — бизнес-логика реестра наборов данных.
// registry.go — создание наборов и управление их файлами.
// Каждое изменение файлов идёт через WAL-транзакцию: при ошибке после
// записи на диск все записанные файлы удаляются.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/dataportal/internal/domain/model"
	"github.com/bigkaa/dataportal/internal/domain/validation"
	"github.com/bigkaa/dataportal/internal/repository"
	"github.com/bigkaa/dataportal/internal/storage/filestore"
	"github.com/bigkaa/dataportal/internal/storage/wal"
)

// Upload — один загружаемый файл.
type Upload struct {
	// Name — оригинальное имя файла
	Name string
	// Size — заявленный размер; < 0 — неизвестен
	Size int64
	// ContentType — MIME-тип из запроса клиента
	ContentType string
	// Open открывает поток содержимого
	Open func() (io.ReadCloser, error)
}

// Limits — ограничения загрузки и предпросмотра.
type Limits struct {
	MaxFileSize        int64
	MaxFilesPerUpload  int
	PreviewDefaultRows int
	PreviewMaxRows     int
}

// DefaultLimits возвращает ограничения по умолчанию.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:        validation.DefaultMaxFileSize,
		MaxFilesPerUpload:  validation.DefaultMaxFilesPerUpload,
		PreviewDefaultRows: 10,
		PreviewMaxRows:     100,
	}
}

// RegistryService — оркестрация операций над наборами и их файлами.
type RegistryService struct {
	repo      repository.DatasetRepository
	store     *filestore.FileStore
	walEngine *wal.WAL
	preview   *PreviewService
	locks     *KeyedLocker
	limits    Limits
	now       func() time.Time
	logger    *slog.Logger
}

// NewRegistryService создаёт сервис реестра.
func NewRegistryService(
	repo repository.DatasetRepository,
	store *filestore.FileStore,
	walEngine *wal.WAL,
	preview *PreviewService,
	limits Limits,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		repo:      repo,
		store:     store,
		walEngine: walEngine,
		preview:   preview,
		locks:     NewKeyedLocker(),
		limits:    limits,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "registry")),
	}
}

// Create создаёт набор с начальными файлами.
//
// Поток:
//  1. Валидация полей и всех файлов (до записи на диск)
//  2. WAL StartTransaction
//  3. Запись файлов (streaming + SHA-256)
//  4. Сохранение набора, FileSize = сумма размеров файлов
//  5. WAL Commit
//
// При ошибке после первой записи — удаление файлов + WAL Rollback.
func (s *RegistryService) Create(
	ctx context.Context,
	p model.Principal,
	in validation.DatasetInput,
	uploads []Upload,
) (d *model.Dataset, err error) {
	defer func() { observe("create", err) }()

	if p.IsAnonymous() {
		return nil, ErrUnauthenticated
	}

	var fields []validation.FieldError
	if err := validation.ValidateDataset(in); err != nil {
		fields = append(fields, fieldErrors(err)...)
	}
	fields = append(fields, s.checkUploads(uploads)...)
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	now := s.now()
	d = newDataset(uuid.New().String(), p, in, now)

	tx, err := s.walEngine.StartTransaction(wal.OpDatasetCreate, d.ID)
	if err != nil {
		return nil, &StorageError{Op: "wal", Err: err}
	}

	records, err := s.writeFiles(ctx, tx.TransactionID, p, uploads, now)
	if err != nil {
		s.abort(tx.TransactionID, records)
		return nil, err
	}
	d.AddFiles(now, records...)

	if err := s.repo.Create(ctx, d); err != nil {
		s.abort(tx.TransactionID, records)
		return nil, mapRepoErr("create", err)
	}
	s.commit(tx.TransactionID)

	s.logger.Info("Набор создан",
		slog.String("dataset_id", d.ID),
		slog.String("created_by", p.UserID),
		slog.Int("files", len(records)),
		slog.Int64("file_size", d.Metadata.FileSize),
	)
	return d, nil
}

// AddFiles добавляет файлы в существующий набор.
// Доступно владельцу и администратору.
func (s *RegistryService) AddFiles(
	ctx context.Context,
	p model.Principal,
	datasetID string,
	uploads []Upload,
) (added []*model.FileRecord, err error) {
	defer func() { observe("add_files", err) }()

	if p.IsAnonymous() {
		return nil, ErrUnauthenticated
	}

	unlock := s.locks.Lock(datasetID)
	defer unlock()

	d, err := s.loadForModify(ctx, p, datasetID)
	if err != nil {
		return nil, err
	}

	if len(uploads) == 0 {
		return nil, &ValidationError{Fields: []validation.FieldError{{
			Field: "files", Rule: "required", Message: "не передано ни одного файла",
		}}}
	}
	if fields := s.checkUploads(uploads); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	tx, err := s.walEngine.StartTransaction(wal.OpFilesAdd, datasetID)
	if err != nil {
		return nil, &StorageError{Op: "wal", Err: err}
	}

	now := s.now()
	records, err := s.writeFiles(ctx, tx.TransactionID, p, uploads, now)
	if err != nil {
		s.abort(tx.TransactionID, records)
		return nil, err
	}

	d.AddFiles(now, records...)
	d.UpdatedAt = now
	if err := s.repo.Update(ctx, d); err != nil {
		s.abort(tx.TransactionID, records)
		return nil, mapRepoErr("add_files", err)
	}
	s.commit(tx.TransactionID)

	s.logger.Info("Файлы добавлены в набор",
		slog.String("dataset_id", datasetID),
		slog.String("user_id", p.UserID),
		slog.Int("files", len(records)),
		slog.Int64("file_size", d.Metadata.FileSize),
	)
	return records, nil
}

// RemoveFile удаляет запись файла и его байты.
// Сначала сохраняется набор без записи, затем удаляется файл на диске;
// ошибка удаления с диска только логируется.
func (s *RegistryService) RemoveFile(ctx context.Context, p model.Principal, datasetID, fileID string) (err error) {
	defer func() { observe("remove_file", err) }()

	if p.IsAnonymous() {
		return ErrUnauthenticated
	}

	unlock := s.locks.Lock(datasetID)
	defer unlock()

	d, err := s.loadForModify(ctx, p, datasetID)
	if err != nil {
		return err
	}

	now := s.now()
	rec, ok := d.RemoveFile(now, fileID)
	if !ok {
		return ErrNotFound
	}
	d.UpdatedAt = now
	if err := s.repo.Update(ctx, d); err != nil {
		return mapRepoErr("remove_file", err)
	}

	existed, delErr := s.store.DeleteFile(rec.FilePath)
	switch {
	case delErr != nil:
		s.logger.Error("Ошибка удаления файла с диска (запись удалена)",
			slog.String("dataset_id", datasetID),
			slog.String("file_id", fileID),
			slog.String("path", rec.FilePath),
			slog.String("error", delErr.Error()),
		)
	case !existed:
		s.logger.Warn("Файл удалённой записи уже отсутствовал на диске",
			slog.String("dataset_id", datasetID),
			slog.String("file_id", fileID),
			slog.String("path", rec.FilePath),
		)
	}

	s.logger.Info("Файл удалён из набора",
		slog.String("dataset_id", datasetID),
		slog.String("file_id", fileID),
		slog.Int64("file_size", d.Metadata.FileSize),
	)
	return nil
}

// SetFileActive включает или выключает файл (мягкое удаление).
// Байты на диске и FileSize набора не меняются.
func (s *RegistryService) SetFileActive(
	ctx context.Context,
	p model.Principal,
	datasetID, fileID string,
	active bool,
) (rec *model.FileRecord, err error) {
	defer func() { observe("set_file_active", err) }()

	if p.IsAnonymous() {
		return nil, ErrUnauthenticated
	}

	unlock := s.locks.Lock(datasetID)
	defer unlock()

	d, err := s.loadForModify(ctx, p, datasetID)
	if err != nil {
		return nil, err
	}

	rec = d.Files.Get(fileID)
	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.IsActive == active {
		return rec, nil
	}
	rec.IsActive = active
	d.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, mapRepoErr("set_file_active", err)
	}

	s.logger.Info("Изменена активность файла",
		slog.String("dataset_id", datasetID),
		slog.String("file_id", fileID),
		slog.Bool("active", active),
	)
	return rec, nil
}

// loadForModify загружает набор для изменения и проверяет права.
// Деактивированный набор для не-администратора не существует.
func (s *RegistryService) loadForModify(ctx context.Context, p model.Principal, id string) (*model.Dataset, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr("get", err)
	}
	if !d.IsActive && !p.IsAdmin() {
		return nil, ErrNotFound
	}
	if !d.CanModify(p) {
		return nil, ErrForbidden
	}
	return d, nil
}

// checkUploads проверяет количество, типы и заявленные размеры файлов.
func (s *RegistryService) checkUploads(uploads []Upload) []validation.FieldError {
	var fields []validation.FieldError
	if err := validation.ValidateFileCount(len(uploads), s.limits.MaxFilesPerUpload); err != nil {
		fields = append(fields, fieldErrors(err)...)
	}
	for _, u := range uploads {
		if err := validation.ValidateUpload(u.Name, u.Size, s.limits.MaxFileSize); err != nil {
			fields = append(fields, fieldErrors(err)...)
		}
	}
	return fields
}

// writeFiles записывает файлы на диск и регистрирует пути в WAL.
// Возвращает записанные файлы и при ошибке, чтобы их можно было удалить.
func (s *RegistryService) writeFiles(
	ctx context.Context,
	txID string,
	p model.Principal,
	uploads []Upload,
	now time.Time,
) ([]*model.FileRecord, error) {
	records := make([]*model.FileRecord, 0, len(uploads))
	for _, u := range uploads {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		rec, err := s.writeFile(txID, p, u, now)
		if rec != nil {
			records = append(records, rec)
		}
		if err != nil {
			return records, err
		}
	}
	return records, nil
}

// writeFile записывает один файл. При ошибке после записи возвращает
// и запись, и ошибку.
func (s *RegistryService) writeFile(txID string, p model.Principal, u Upload, now time.Time) (*model.FileRecord, error) {
	rc, err := u.Open()
	if err != nil {
		return nil, &StorageError{Op: "open_upload", Err: err}
	}
	defer rc.Close()

	res, err := s.store.SaveFile(rc, u.Name, p.UserID, s.limits.MaxFileSize)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return nil, newValidationError(&validation.UploadRejection{
				FileName: u.Name,
				Reason:   validation.ReasonTooLarge,
				Detail:   strconv.FormatInt(s.limits.MaxFileSize, 10),
			})
		}
		return nil, &StorageError{Op: "save_file", Err: err}
	}
	filesWrittenTotal.Inc()

	rec := &model.FileRecord{
		ID:           uuid.New().String(),
		FileName:     filepath.Base(res.StoragePath),
		OriginalName: u.Name,
		FileType:     model.FileTypeFromName(u.Name),
		FileSize:     res.Size,
		FilePath:     res.StoragePath,
		MimeType:     resolveMimeType(res.MimeType, u.ContentType),
		Checksum:     res.Checksum,
		UploadedAt:   now,
		IsActive:     true,
	}

	if err := s.walEngine.RecordPath(txID, res.StoragePath); err != nil {
		return rec, &StorageError{Op: "wal", Err: err}
	}

	if res.Size == 0 {
		return rec, newValidationError(&validation.UploadRejection{
			FileName: u.Name,
			Reason:   validation.ReasonEmpty,
		})
	}
	return rec, nil
}

// abort удаляет записанные файлы и откатывает WAL-транзакцию.
func (s *RegistryService) abort(txID string, records []*model.FileRecord) {
	for _, rec := range records {
		if _, err := s.store.DeleteFile(rec.FilePath); err != nil {
			cleanupFilesTotal.WithLabelValues("error").Inc()
			s.logger.Error("Ошибка компенсирующего удаления файла",
				slog.String("tx_id", txID),
				slog.String("path", rec.FilePath),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleanupFilesTotal.WithLabelValues("success").Inc()
	}

	if err := s.walEngine.Rollback(txID); err != nil {
		s.logger.Error("Ошибка отката WAL",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}

	if len(records) > 0 {
		s.logger.Warn("Операция отменена, записанные файлы удалены",
			slog.String("tx_id", txID),
			slog.Int("files", len(records)),
		)
	}
}

// commit фиксирует WAL-транзакцию. Данные уже сохранены,
// поэтому ошибка только логируется.
func (s *RegistryService) commit(txID string) {
	if err := s.walEngine.Commit(txID); err != nil {
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

// newDataset строит набор из проверенных полей.
func newDataset(id string, p model.Principal, in validation.DatasetInput, now time.Time) *model.Dataset {
	d := &model.Dataset{
		ID:          id,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Category:    model.Category(in.Category),
		State:       in.State,
		Year:        in.Year,
		Source:      model.Source{Name: strings.TrimSpace(in.Source.Name), URL: in.Source.URL},
		Tags:        validation.NormalizeTags(in.Tags),
		Notes:       in.Notes,
		DataQuality: model.QualityPending,
		CreatedBy:   p.UserID,
		IsPublic:    true,
		IsActive:    true,
		Files:       model.NewFileList(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.IsPublic != nil {
		d.IsPublic = *in.IsPublic
	}
	applyMetadata(&d.Metadata, in.Metadata)
	d.RecomputeAggregates(now)
	return d
}

// applyMetadata переносит пользовательские поля метаданных.
// Пустые перечисления заменяются значениями по умолчанию.
func applyMetadata(m *model.Metadata, in validation.MetadataInput) {
	m.TotalRecords = in.TotalRecords
	m.UpdateFrequency = model.UpdateFrequency(in.UpdateFrequency)
	if m.UpdateFrequency == "" {
		m.UpdateFrequency = model.FrequencyYearly
	}
	m.Coverage = model.Coverage(in.Coverage)
	if m.Coverage == "" {
		m.Coverage = model.CoverageNational
	}
	m.TimeSeries = in.TimeSeries
	m.TimeRange = nil
	if in.TimeRange != nil {
		m.TimeRange = &model.TimeRange{Start: in.TimeRange.Start, End: in.TimeRange.End}
	}
}

// resolveMimeType предпочитает MIME-тип, определённый по содержимому.
// Заявленный клиентом тип используется, только если содержимое не распознано.
func resolveMimeType(sniffed, declared string) string {
	if sniffed != "" && sniffed != "application/octet-stream" {
		return sniffed
	}
	if declared = detectContentType(declared); declared != "" {
		return declared
	}
	return "application/octet-stream"
}

// detectContentType убирает параметры из Content-Type.
func detectContentType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(contentType)
}

// fieldErrors извлекает ошибки полей из ошибки валидатора.
func fieldErrors(err error) []validation.FieldError {
	var ve *ValidationError
	if errors.As(newValidationError(err), &ve) {
		return ve.Fields
	}
	return nil
}
