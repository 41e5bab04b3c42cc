package model

import (
	"path/filepath"
	"strings"
	"time"
)

// FileType — тип файла, определяется по расширению имени.
type FileType string

const (
	FileTypeCSV  FileType = "csv"
	FileTypePDF  FileType = "pdf"
	FileTypeXLSX FileType = "xlsx"
	FileTypeJSON FileType = "json"
	FileTypeXML  FileType = "xml"
	FileTypeTXT  FileType = "txt"
	FileTypeZIP  FileType = "zip"
)

// allowedFileTypes — допустимые типы загружаемых файлов.
var allowedFileTypes = map[FileType]bool{
	FileTypeCSV:  true,
	FileTypePDF:  true,
	FileTypeXLSX: true,
	FileTypeJSON: true,
	FileTypeXML:  true,
	FileTypeTXT:  true,
	FileTypeZIP:  true,
}

// IsAllowed проверяет, входит ли тип в список допустимых.
func (t FileType) IsAllowed() bool {
	return allowedFileTypes[t]
}

// FileTypeFromName возвращает тип файла по расширению (без точки,
// в нижнем регистре). MIME-тип клиента при этом не учитывается.
// "data.CSV" → "csv", "README" → "".
func FileTypeFromName(name string) FileType {
	ext := filepath.Ext(name)
	return FileType(strings.ToLower(strings.TrimPrefix(ext, ".")))
}

// FileRecord — метаданные одного физического файла набора данных.
// FilePath — путь относительно директории данных; в API не отдаётся.
type FileRecord struct {
	// ID — идентификатор файла (UUID v4), уникален внутри набора
	ID string `json:"id"`
	// FileName — сгенерированное имя файла в хранилище
	FileName string `json:"fileName"`
	// OriginalName — имя файла, переданное пользователем
	OriginalName string `json:"originalName"`
	// FileType — тип по расширению
	FileType FileType `json:"fileType"`
	// FileSize — размер в байтах, совпадает с размером на диске
	FileSize int64 `json:"fileSize"`
	// FilePath — относительный путь в директории данных
	FilePath string `json:"filePath"`
	// MimeType — MIME-тип, определённый по содержимому
	MimeType string `json:"mimeType"`
	// Checksum — SHA-256 содержимого (hex)
	Checksum string `json:"checksum"`
	// UploadedAt — время загрузки (UTC)
	UploadedAt time.Time `json:"uploadedAt"`
	// IsActive — false для мягко удалённых файлов
	IsActive bool `json:"isActive"`
	// DownloadCount — количество скачиваний файла
	DownloadCount int64 `json:"downloadCount"`
}
