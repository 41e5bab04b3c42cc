package handlers

import (
	"time"

	"github.com/samber/lo"

	"github.com/bigkaa/dataportal/internal/domain/model"
	"github.com/bigkaa/dataportal/internal/service"
)

// FileResponse — запись файла в ответе API. Путь на диске не отдаётся.
type FileResponse struct {
	ID            string         `json:"id"`
	FileName      string         `json:"fileName"`
	OriginalName  string         `json:"originalName"`
	FileType      model.FileType `json:"fileType"`
	FileSize      int64          `json:"fileSize"`
	MimeType      string         `json:"mimeType"`
	Checksum      string         `json:"checksum"`
	UploadedAt    time.Time      `json:"uploadedAt"`
	DownloadCount int64          `json:"downloadCount"`
	IsActive      bool           `json:"isActive"`
}

// DatasetResponse — набор данных в ответе API.
type DatasetResponse struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Category    model.Category    `json:"category"`
	State       string            `json:"state"`
	Year        int               `json:"year"`
	Source      model.Source      `json:"source"`
	Tags        []string          `json:"tags"`
	Notes       string            `json:"notes,omitempty"`
	DataQuality model.DataQuality `json:"dataQuality"`
	CreatedBy   string            `json:"createdBy"`
	ApprovedBy  string            `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time        `json:"approvedAt,omitempty"`
	IsPublic    bool              `json:"isPublic"`
	IsActive    bool              `json:"isActive"`
	Metadata    model.Metadata    `json:"metadata"`
	Statistics  model.Statistics  `json:"statistics"`
	Files       []FileResponse    `json:"files"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// DatasetListResponse — страница наборов.
type DatasetListResponse struct {
	Items   []DatasetResponse `json:"items"`
	Total   int               `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	HasMore bool              `json:"hasMore"`
}

func toFileResponse(rec *model.FileRecord) FileResponse {
	return FileResponse{
		ID:            rec.ID,
		FileName:      rec.FileName,
		OriginalName:  rec.OriginalName,
		FileType:      rec.FileType,
		FileSize:      rec.FileSize,
		MimeType:      rec.MimeType,
		Checksum:      rec.Checksum,
		UploadedAt:    rec.UploadedAt,
		DownloadCount: rec.DownloadCount,
		IsActive:      rec.IsActive,
	}
}

func toFileResponses(records []*model.FileRecord) []FileResponse {
	return lo.Map(records, func(rec *model.FileRecord, _ int) FileResponse {
		return toFileResponse(rec)
	})
}

// toDatasetResponse преобразует набор. Владелец и администратор видят
// все файлы, остальные — только активные.
func toDatasetResponse(d *model.Dataset, p model.Principal) DatasetResponse {
	files := d.ActiveFiles()
	if d.CanModify(p) {
		files = d.Files.All()
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}

	return DatasetResponse{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		State:       d.State,
		Year:        d.Year,
		Source:      d.Source,
		Tags:        tags,
		Notes:       d.Notes,
		DataQuality: d.DataQuality,
		CreatedBy:   d.CreatedBy,
		ApprovedBy:  d.ApprovedBy,
		ApprovedAt:  d.ApprovedAt,
		IsPublic:    d.IsPublic,
		IsActive:    d.IsActive,
		Metadata:    d.Metadata,
		Statistics:  d.Statistics,
		Files:       toFileResponses(files),
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func toListResponse(res *service.SearchResult, p model.Principal) DatasetListResponse {
	return DatasetListResponse{
		Items: lo.Map(res.Items, func(d *model.Dataset, _ int) DatasetResponse {
			return toDatasetResponse(d, p)
		}),
		Total:   res.Total,
		Limit:   res.Limit,
		Offset:  res.Offset,
		HasMore: res.Offset+len(res.Items) < res.Total,
	}
}
