// preview.go — предпросмотр CSV-файлов с LRU-кэшем результатов.
// Ключ кэша — checksum содержимого и лимит строк, поэтому
// закэшированный результат не устаревает при изменении набора.
package service

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dataportal/internal/domain/model"
	"github.com/bigkaa/dataportal/internal/domain/validation"
	"github.com/bigkaa/dataportal/internal/storage/filestore"
)

var (
	previewCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dp_preview_cache_hits_total",
		Help: "Общее количество попаданий в кэш предпросмотра CSV.",
	})
	previewCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dp_preview_cache_misses_total",
		Help: "Общее количество промахов кэша предпросмотра CSV.",
	})
)

// utf8BOM — BOM в начале CSV, выгруженных из Excel.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// PreviewResult — первые строки CSV-файла.
type PreviewResult struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	// TotalRows — количество строк данных во всём файле (без заголовка)
	TotalRows    int  `json:"totalRows"`
	TotalColumns int  `json:"totalColumns"`
	HasMoreRows  bool `json:"hasMoreRows"`
}

// PreviewService читает CSV из файлового хранилища.
type PreviewService struct {
	store  *filestore.FileStore
	cache  *expirable.LRU[string, *PreviewResult]
	logger *slog.Logger
}

// NewPreviewService создаёт сервис предпросмотра с кэшем на cacheSize
// результатов и временем жизни ttl.
func NewPreviewService(store *filestore.FileStore, cacheSize int, ttl time.Duration, logger *slog.Logger) *PreviewService {
	return &PreviewService{
		store:  store,
		cache:  expirable.NewLRU[string, *PreviewResult](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "preview")),
	}
}

// Preview возвращает не более rows строк данных файла rec.
// Отсутствие файла на диске — ErrNotFound.
func (p *PreviewService) Preview(rec *model.FileRecord, rows int) (*PreviewResult, error) {
	// Кэш не отменяет проверку наличия байтов на диске
	if !p.store.Exists(rec.FilePath) {
		p.missingFile(rec)
		return nil, ErrNotFound
	}

	key := fmt.Sprintf("%s:%d", rec.Checksum, rows)
	if cached, ok := p.cache.Get(key); ok {
		previewCacheHitsTotal.Inc()
		return cached, nil
	}
	previewCacheMissesTotal.Inc()

	f, err := p.store.Open(rec.FilePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotExist) {
			p.missingFile(rec)
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "preview", Err: err}
	}
	defer f.Close()

	result, err := parseCSV(f, rows)
	if err != nil {
		return nil, err
	}

	p.cache.Add(key, result)
	return result, nil
}

func (p *PreviewService) missingFile(rec *model.FileRecord) {
	p.logger.Warn("Файл записи отсутствует на диске",
		slog.String("file_id", rec.ID),
		slog.String("path", rec.FilePath),
	)
}

// Purge очищает кэш.
func (p *PreviewService) Purge() {
	p.cache.Purge()
}

// parseCSV читает заголовок, до limit строк данных и считает оставшиеся.
// Строки разной длины допускаются.
func parseCSV(r io.Reader, limit int) (*PreviewResult, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	result := &PreviewResult{Headers: []string{}, Rows: [][]string{}}

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return result, nil
	}
	if err != nil {
		return nil, &ValidationError{Fields: csvFieldError(err)}
	}
	result.Headers = headers
	result.TotalColumns = len(headers)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ValidationError{Fields: csvFieldError(err)}
		}
		if result.TotalRows < limit {
			result.Rows = append(result.Rows, record)
		}
		result.TotalRows++
	}

	result.HasMoreRows = result.TotalRows > len(result.Rows)
	return result, nil
}

func csvFieldError(err error) []validation.FieldError {
	return []validation.FieldError{{
		Field:   "file",
		Rule:    "csv",
		Message: "некорректный CSV: " + err.Error(),
	}}
}
