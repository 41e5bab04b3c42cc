package model

import (
	"time"
)

// Source — источник данных.
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// TimeRange — диапазон лет для временных рядов.
type TimeRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Metadata — производные метаданные набора.
// FileSize пересчитывается при каждом изменении списка файлов.
type Metadata struct {
	TotalRecords    int64           `json:"totalRecords"`
	FileSize        int64           `json:"fileSize"`
	LastUpdated     time.Time       `json:"lastUpdated"`
	UpdateFrequency UpdateFrequency `json:"updateFrequency"`
	Coverage        Coverage        `json:"coverage"`
	TimeSeries      bool            `json:"timeSeries"`
	TimeRange       *TimeRange      `json:"timeRange,omitempty"`
}

// Rating — средняя оценка и количество оценок.
type Rating struct {
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}

// Statistics — счётчики использования. Значения только растут.
type Statistics struct {
	DownloadCount  int64      `json:"downloadCount"`
	ViewCount      int64      `json:"viewCount"`
	Rating         Rating     `json:"rating"`
	LastDownloaded *time.Time `json:"lastDownloaded,omitempty"`
}

// Dataset — опубликованный набор данных и принадлежащие ему файлы.
type Dataset struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Category    Category    `json:"category"`
	State       string      `json:"state"`
	Year        int         `json:"year"`
	Source      Source      `json:"source"`
	Tags        []string    `json:"tags"`
	Notes       string      `json:"notes,omitempty"`
	DataQuality DataQuality `json:"dataQuality"`

	CreatedBy  string     `json:"createdBy"`
	ApprovedBy string     `json:"approvedBy,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`

	IsPublic bool `json:"isPublic"`
	IsActive bool `json:"isActive"`

	Metadata   Metadata   `json:"metadata"`
	Statistics Statistics `json:"statistics"`
	Files      *FileList  `json:"files"`

	// Version — счётчик оптимистичной блокировки, увеличивается при каждом сохранении
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsVisible — набор доступен анонимным пользователям.
func (d *Dataset) IsVisible() bool {
	return d.IsActive && d.IsPublic
}

// CanModify — изменять набор может владелец или администратор.
func (d *Dataset) CanModify(p Principal) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == d.CreatedBy)
}

// ActiveFiles возвращает активные файлы в порядке добавления.
func (d *Dataset) ActiveFiles() []*FileRecord {
	return d.Files.Active()
}

// AddFiles добавляет файлы в конец списка и пересчитывает метаданные.
func (d *Dataset) AddFiles(now time.Time, records ...*FileRecord) {
	if d.Files == nil {
		d.Files = NewFileList()
	}
	d.Files.Append(records...)
	d.RecomputeAggregates(now)
}

// RemoveFile удаляет запись файла и пересчитывает метаданные.
func (d *Dataset) RemoveFile(now time.Time, fileID string) (*FileRecord, bool) {
	rec, ok := d.Files.Remove(fileID)
	if !ok {
		return nil, false
	}
	d.RecomputeAggregates(now)
	return rec, true
}

// RecomputeAggregates пересчитывает Metadata.FileSize как сумму размеров
// всех файлов (активных и неактивных) и обновляет LastUpdated.
func (d *Dataset) RecomputeAggregates(now time.Time) {
	d.Metadata.FileSize = d.Files.TotalSize()
	d.Metadata.LastUpdated = now
}

// IncrementView увеличивает счётчик просмотров на 1.
func (d *Dataset) IncrementView() {
	d.Statistics.ViewCount++
}

// IncrementDownload увеличивает счётчик скачиваний набора и, если fileID
// найден, счётчик файла. Ненайденный fileID не является ошибкой.
func (d *Dataset) IncrementDownload(now time.Time, fileID string) {
	d.Statistics.DownloadCount++
	d.Statistics.LastDownloaded = &now
	if fileID == "" {
		return
	}
	if rec := d.Files.Get(fileID); rec != nil {
		rec.DownloadCount++
	}
}

// AddRating добавляет оценку и пересчитывает среднее:
// (avg*count + score) / (count+1). Диапазон проверяется вызывающим кодом.
func (d *Dataset) AddRating(score float64) {
	r := &d.Statistics.Rating
	r.Average = (r.Average*float64(r.Count) + score) / float64(r.Count+1)
	r.Count++
}

// Clone возвращает глубокую копию набора.
func (d *Dataset) Clone() *Dataset {
	copied := *d
	copied.Tags = append([]string(nil), d.Tags...)
	if d.ApprovedAt != nil {
		t := *d.ApprovedAt
		copied.ApprovedAt = &t
	}
	if d.Metadata.TimeRange != nil {
		tr := *d.Metadata.TimeRange
		copied.Metadata.TimeRange = &tr
	}
	if d.Statistics.LastDownloaded != nil {
		t := *d.Statistics.LastDownloaded
		copied.Statistics.LastDownloaded = &t
	}
	if d.Files != nil {
		copied.Files = d.Files.Clone()
	} else {
		copied.Files = NewFileList()
	}
	return &copied
}
