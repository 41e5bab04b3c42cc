// datasets.go — метаданные, модерация, счётчики и поиск наборов.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/bigkaa/dataportal/internal/domain/model"
	"github.com/bigkaa/dataportal/internal/domain/validation"
	"github.com/bigkaa/dataportal/internal/repository"
)

// DefaultPageSize — размер страницы поиска по умолчанию.
const DefaultPageSize = 20

// MaxPageSize — максимальный размер страницы поиска.
const MaxPageSize = 100

// Page — параметры пагинации.
type Page struct {
	Limit  int
	Offset int
}

// normalize приводит лимит и смещение к допустимым значениям.
func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	p.Limit = min(p.Limit, MaxPageSize)
	p.Offset = max(p.Offset, 0)
	return p
}

// SearchResult — страница наборов и общее количество подходящих.
type SearchResult struct {
	Items  []*model.Dataset
	Total  int
	Limit  int
	Offset int
}

// Get возвращает набор. Скрытые и деактивированные наборы видны
// только владельцу и администратору. Просмотры не считаются.
func (s *RegistryService) Get(ctx context.Context, p model.Principal, id string) (*model.Dataset, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr("get", err)
	}
	if !d.IsVisible() && !d.CanModify(p) {
		return nil, ErrNotFound
	}
	return d, nil
}

// View увеличивает счётчик просмотров видимого набора на 1
// и сразу сохраняет его.
func (s *RegistryService) View(ctx context.Context, id string) (d *model.Dataset, err error) {
	defer func() { observe("view", err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	d, err = s.loadVisible(ctx, id)
	if err != nil {
		return nil, err
	}
	d.IncrementView()
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, mapRepoErr("view", err)
	}
	return d, nil
}

// Rate добавляет оценку в диапазоне [0, 5] к видимому набору.
func (s *RegistryService) Rate(ctx context.Context, p model.Principal, id string, score float64) (d *model.Dataset, err error) {
	defer func() { observe("rate", err) }()

	if p.IsAnonymous() {
		return nil, ErrUnauthenticated
	}
	if err := validation.ValidateRating(score); err != nil {
		return nil, newValidationError(err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	d, err = s.loadVisible(ctx, id)
	if err != nil {
		return nil, err
	}
	d.AddRating(score)
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, mapRepoErr("rate", err)
	}
	return d, nil
}

// UpdateMetadata применяет частичное обновление полей набора.
func (s *RegistryService) UpdateMetadata(
	ctx context.Context,
	p model.Principal,
	id string,
	patch validation.DatasetPatch,
) (d *model.Dataset, err error) {
	defer func() { observe("update", err) }()

	if p.IsAnonymous() {
		return nil, ErrUnauthenticated
	}
	if patch.IsEmpty() {
		return nil, &ValidationError{Fields: []validation.FieldError{{
			Rule: "required", Message: "нет изменяемых полей",
		}}}
	}
	if err := validation.ValidatePatch(patch); err != nil {
		return nil, newValidationError(err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	d, err = s.loadForModify(ctx, p, id)
	if err != nil {
		return nil, err
	}

	applyPatch(d, patch)
	d.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, mapRepoErr("update", err)
	}

	s.logger.Info("Набор обновлён",
		slog.String("dataset_id", id),
		slog.String("user_id", p.UserID),
	)
	return d, nil
}

// Approve устанавливает качество данных и отметку одобрения.
// Только для администратора.
func (s *RegistryService) Approve(ctx context.Context, p model.Principal, id, quality string) (d *model.Dataset, err error) {
	defer func() { observe("approve", err) }()

	if p.IsAnonymous() {
		return nil, ErrUnauthenticated
	}
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := validation.ValidateQuality(quality); err != nil {
		return nil, newValidationError(err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	d, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr("get", err)
	}

	now := s.now()
	d.DataQuality = model.DataQuality(quality)
	d.ApprovedBy = p.UserID
	d.ApprovedAt = &now
	d.UpdatedAt = now
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, mapRepoErr("approve", err)
	}

	s.logger.Info("Набор одобрен",
		slog.String("dataset_id", id),
		slog.String("approved_by", p.UserID),
		slog.String("quality", quality),
	)
	return d, nil
}

// Deactivate логически удаляет набор (IsActive = false).
// Файлы остаются на диске.
func (s *RegistryService) Deactivate(ctx context.Context, p model.Principal, id string) (err error) {
	defer func() { observe("deactivate", err) }()

	if p.IsAnonymous() {
		return ErrUnauthenticated
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.loadForModify(ctx, p, id)
	if err != nil {
		return err
	}
	if !d.IsActive {
		return nil
	}
	d.IsActive = false
	d.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, d); err != nil {
		return mapRepoErr("deactivate", err)
	}

	s.logger.Info("Набор деактивирован",
		slog.String("dataset_id", id),
		slog.String("user_id", p.UserID),
	)
	return nil
}

// HardDelete удаляет набор из хранилища и все его файлы с диска.
// Только для администратора; ошибки удаления файлов логируются.
func (s *RegistryService) HardDelete(ctx context.Context, p model.Principal, id string) (err error) {
	defer func() { observe("hard_delete", err) }()

	if p.IsAnonymous() {
		return ErrUnauthenticated
	}
	if !p.IsAdmin() {
		return ErrForbidden
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return mapRepoErr("get", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapRepoErr("delete", err)
	}

	removed := 0
	for _, rec := range d.Files.All() {
		existed, delErr := s.store.DeleteFile(rec.FilePath)
		if delErr != nil {
			s.logger.Error("Ошибка удаления файла набора",
				slog.String("dataset_id", id),
				slog.String("path", rec.FilePath),
				slog.String("error", delErr.Error()),
			)
			continue
		}
		if existed {
			removed++
		}
	}

	s.logger.Info("Набор удалён",
		slog.String("dataset_id", id),
		slog.String("user_id", p.UserID),
		slog.Int("files_removed", removed),
	)
	return nil
}

// Search ищет видимые наборы по подстроке в названии, описании и тегах
// без учёта регистра. Пустой term возвращает все видимые наборы.
func (s *RegistryService) Search(ctx context.Context, term string, page Page) (*SearchResult, error) {
	return s.list(ctx, repository.ListFilter{Term: term, VisibleOnly: true}, page)
}

// FindByCategory возвращает видимые наборы категории.
func (s *RegistryService) FindByCategory(ctx context.Context, category string, page Page) (*SearchResult, error) {
	if !lo.Contains(model.Categories, model.Category(category)) {
		return nil, &ValidationError{Fields: []validation.FieldError{{
			Field: "category", Rule: "oneof", Message: "недопустимая категория",
		}}}
	}
	return s.list(ctx, repository.ListFilter{Category: category, VisibleOnly: true}, page)
}

// FindByState возвращает видимые наборы штата.
func (s *RegistryService) FindByState(ctx context.Context, state string, page Page) (*SearchResult, error) {
	if !lo.Contains(model.States, state) {
		return nil, &ValidationError{Fields: []validation.FieldError{{
			Field: "state", Rule: "state", Message: "недопустимый код штата",
		}}}
	}
	return s.list(ctx, repository.ListFilter{State: state, VisibleOnly: true}, page)
}

// FindByYear возвращает видимые наборы за год.
func (s *RegistryService) FindByYear(ctx context.Context, year int, page Page) (*SearchResult, error) {
	if year < model.MinYear || year > model.MaxYear {
		return nil, &ValidationError{Fields: []validation.FieldError{{
			Field: "year", Rule: "range", Message: "год вне диапазона [1900, 2030]",
		}}}
	}
	return s.list(ctx, repository.ListFilter{Year: year, VisibleOnly: true}, page)
}

// List возвращает наборы по комбинированному фильтру.
// Анонимные пользователи и пользователи видят только видимые наборы;
// собственные скрытые наборы доступны при фильтре CreatedBy = свой ID.
func (s *RegistryService) List(ctx context.Context, p model.Principal, filter repository.ListFilter, page Page) (*SearchResult, error) {
	ownOnly := !p.IsAnonymous() && filter.CreatedBy == p.UserID
	if !p.IsAdmin() && !ownOnly {
		filter.VisibleOnly = true
	}
	return s.list(ctx, filter, page)
}

func (s *RegistryService) list(ctx context.Context, filter repository.ListFilter, page Page) (*SearchResult, error) {
	page = page.normalize()
	filter.Term = strings.TrimSpace(filter.Term)
	filter.Limit = page.Limit
	filter.Offset = page.Offset

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, mapRepoErr("list", err)
	}
	return &SearchResult{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// loadVisible загружает набор, доступный всем (IsActive && IsPublic).
func (s *RegistryService) loadVisible(ctx context.Context, id string) (*model.Dataset, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr("get", err)
	}
	if !d.IsVisible() {
		return nil, ErrNotFound
	}
	return d, nil
}

// applyPatch переносит заданные поля патча в набор.
func applyPatch(d *model.Dataset, patch validation.DatasetPatch) {
	if patch.Title != nil {
		d.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		d.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Category != nil {
		d.Category = model.Category(*patch.Category)
	}
	if patch.State != nil {
		d.State = *patch.State
	}
	if patch.Year != nil {
		d.Year = *patch.Year
	}
	if patch.Source != nil {
		d.Source = model.Source{Name: strings.TrimSpace(patch.Source.Name), URL: patch.Source.URL}
	}
	if patch.Tags != nil {
		d.Tags = validation.NormalizeTags(patch.Tags)
	}
	if patch.Notes != nil {
		d.Notes = *patch.Notes
	}
	if patch.IsPublic != nil {
		d.IsPublic = *patch.IsPublic
	}
	if patch.Metadata != nil {
		applyMetadata(&d.Metadata, *patch.Metadata)
	}
}
