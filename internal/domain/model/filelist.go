package model

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// FileList — упорядоченная коллекция файлов набора данных.
// Хранит записи в map по ID и отдельный срез ID для порядка отображения,
// поэтому поиск и удаление по ID не требуют линейного прохода по записям.
// Не потокобезопасна: сериализация изменений — на стороне RegistryService.
type FileList struct {
	byID  map[string]*FileRecord
	order []string
}

// NewFileList создаёт список из записей в заданном порядке.
// Запись с повторяющимся ID заменяет предыдущую, сохраняя её позицию.
func NewFileList(records ...*FileRecord) *FileList {
	fl := &FileList{byID: make(map[string]*FileRecord, len(records))}
	fl.Append(records...)
	return fl
}

// Append добавляет записи в конец списка.
func (fl *FileList) Append(records ...*FileRecord) {
	if fl.byID == nil {
		fl.byID = make(map[string]*FileRecord, len(records))
	}
	for _, r := range records {
		if _, exists := fl.byID[r.ID]; !exists {
			fl.order = append(fl.order, r.ID)
		}
		fl.byID[r.ID] = r
	}
}

// Get возвращает запись по ID или nil.
func (fl *FileList) Get(id string) *FileRecord {
	if fl == nil || fl.byID == nil {
		return nil
	}
	return fl.byID[id]
}

// Remove удаляет запись по ID. Возвращает удалённую запись и true,
// если она существовала.
func (fl *FileList) Remove(id string) (*FileRecord, bool) {
	if fl == nil || fl.byID == nil {
		return nil, false
	}
	rec, ok := fl.byID[id]
	if !ok {
		return nil, false
	}
	delete(fl.byID, id)
	fl.order = lo.Without(fl.order, id)
	return rec, true
}

// All возвращает все записи в порядке добавления.
func (fl *FileList) All() []*FileRecord {
	if fl == nil {
		return nil
	}
	return lo.Map(fl.order, func(id string, _ int) *FileRecord {
		return fl.byID[id]
	})
}

// Active возвращает только активные записи, порядок сохраняется.
func (fl *FileList) Active() []*FileRecord {
	return lo.Filter(fl.All(), func(r *FileRecord, _ int) bool {
		return r.IsActive
	})
}

// Len возвращает количество записей (активных и неактивных).
func (fl *FileList) Len() int {
	if fl == nil {
		return 0
	}
	return len(fl.order)
}

// TotalSize — сумма FileSize по всем записям, включая неактивные.
func (fl *FileList) TotalSize() int64 {
	return lo.SumBy(fl.All(), func(r *FileRecord) int64 {
		return r.FileSize
	})
}

// Clone возвращает глубокую копию списка.
func (fl *FileList) Clone() *FileList {
	out := &FileList{byID: make(map[string]*FileRecord, fl.Len())}
	for _, r := range fl.All() {
		copied := *r
		out.Append(&copied)
	}
	return out
}

// MarshalJSON сериализует список как упорядоченный массив.
func (fl *FileList) MarshalJSON() ([]byte, error) {
	all := fl.All()
	if all == nil {
		all = []*FileRecord{}
	}
	return json.Marshal(all)
}

// UnmarshalJSON восстанавливает список из упорядоченного массива.
func (fl *FileList) UnmarshalJSON(data []byte) error {
	var records []*FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("ошибка десериализации списка файлов: %w", err)
	}
	fl.byID = make(map[string]*FileRecord, len(records))
	fl.order = nil
	fl.Append(records...)
	return nil
}
