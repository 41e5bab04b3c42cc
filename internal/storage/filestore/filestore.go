// Пакет filestore — байты файлов наборов данных на локальном диске.
// Запись потоковая: SHA-256 и MIME-тип вычисляются на лету,
// размер ограничивается во время записи.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// sniffLen — сколько первых байт файла используется для определения MIME-типа.
const sniffLen = 3072

var (
	// ErrTooLarge — поток превысил допустимый размер, файл не сохранён.
	ErrTooLarge = errors.New("файл превышает допустимый размер")
	// ErrNotExist — файл отсутствует на диске.
	ErrNotExist = errors.New("файл не найден")
	// ErrInvalidPath — путь выходит за пределы директории данных.
	ErrInvalidPath = errors.New("недопустимый путь файла")
)

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (DP_DATA_DIR)
	dataDir string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// StoragePath — относительный путь файла в dataDir
	StoragePath string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого файла (hex)
	Checksum string
	// MimeType — MIME-тип, определённый по содержимому
	MimeType string
}

// FileInfo — сведения о файле на диске.
type FileInfo struct {
	Size    int64
	ModTime time.Time
}

// New создаёт новый FileStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// SaveFile записывает данные из reader на диск.
// Формат имени файла: {name}_{owner}_{timestamp}_{uuid8}.{ext}
// maxSize > 0 ограничивает размер: при превышении запись прерывается,
// временный файл удаляется и возвращается ErrTooLarge.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
func (fs *FileStore) SaveFile(reader io.Reader, originalName, owner string, maxSize int64) (*SaveResult, error) {
	storageName := generateStorageName(originalName, owner)
	fullPath := filepath.Join(fs.dataDir, storageName)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if maxSize > 0 {
		// Читаем на байт больше лимита, чтобы отличить "ровно лимит" от превышения
		reader = io.LimitReader(reader, maxSize+1)
	}

	hasher := sha256.New()
	head := &headBuffer{limit: sniffLen}
	size, err := io.Copy(io.MultiWriter(f, hasher, head), reader)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if maxSize > 0 && size > maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, ErrTooLarge
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: storageName,
		FullPath:    fullPath,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		MimeType:    mimetype.Detect(head.buf).String(),
	}, nil
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(storagePath string) (*os.File, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}

	return f, nil
}

// Stat возвращает размер и время изменения файла.
func (fs *FileStore) Stat(storagePath string) (*FileInfo, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, storagePath)
		}
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return &FileInfo{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Exists проверяет существование файла на диске.
func (fs *FileStore) Exists(storagePath string) bool {
	_, err := fs.Stat(storagePath)
	return err == nil
}

// DeleteFile удаляет файл с диска. existed = false, если файла уже не было;
// это не ошибка.
func (fs *FileStore) DeleteFile(storagePath string) (existed bool, err error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return false, err
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return true, nil
}

// ComputeChecksum вычисляет SHA-256 хэш существующего файла.
// Используется при reconciliation для проверки целостности.
func (fs *FileStore) ComputeChecksum(storagePath string) (string, error) {
	f, err := fs.Open(storagePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", storagePath, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ListFiles возвращает относительные пути всех файлов в директории данных.
// Временные .tmp файлы незавершённых записей пропускаются.
func (fs *FileStore) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории данных: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasSuffix(e.Name(), ".tmp") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (fs *FileStore) FullPath(storagePath string) string {
	return filepath.Join(fs.dataDir, storagePath)
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// resolve проверяет, что путь относительный и не выходит за dataDir.
func (fs *FileStore) resolve(storagePath string) (string, error) {
	if storagePath == "" || !filepath.IsLocal(storagePath) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
	}
	return filepath.Join(fs.dataDir, storagePath), nil
}

// headBuffer запоминает первые limit байт потока для определения MIME-типа.
type headBuffer struct {
	buf   []byte
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}

// generateStorageName генерирует имя файла для хранения на диске.
// Формат: {name}_{owner}_{timestamp}_{uuid8}.{ext}
// Пример: census_u42_20260221150405_a1b2c3d4.csv
func generateStorageName(originalName, owner string) string {
	ext := filepath.Ext(originalName)
	name := strings.TrimSuffix(filepath.Base(originalName), ext)

	name = sanitize(name)
	user := sanitize(owner)

	if len(name) > 50 {
		name = name[:50]
	}
	if len(user) > 20 {
		user = user[:20]
	}

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	ext = strings.ToLower(sanitizeExt(ext))
	if ext != "" {
		return fmt.Sprintf("%s_%s_%s_%s.%s", name, user, ts, uid, ext)
	}
	return fmt.Sprintf("%s_%s_%s_%s", name, user, ts, uid)
}

// sanitizeExt оставляет в расширении только латиницу и цифры.
func sanitizeExt(ext string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, ext)
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет только латиницу, цифры, дефис и подчёркивание. Байтовая
// обрезка в generateStorageName поэтому не разрезает многобайтовые символы.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}
