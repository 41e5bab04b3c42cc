package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/bigkaa/dataportal/internal/domain/model"
)

const datasetKeyPrefix = "dataset:"

// badgerRepo — реализация DatasetRepository поверх Badger.
// Набор хранится JSON-документом под ключом dataset:{id}.
type badgerRepo struct {
	db *badger.DB
}

// NewBadgerRepository создаёт репозиторий наборов в Badger.
func NewBadgerRepository(db *badger.DB) DatasetRepository {
	return &badgerRepo{db: db}
}

func datasetKey(id string) []byte {
	return []byte(datasetKeyPrefix + id)
}

// Create сохраняет новый набор. Существующий ID — ErrConflict.
func (r *badgerRepo) Create(_ context.Context, d *model.Dataset) error {
	stored := d.Clone()
	stored.Version = 1

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("ошибка сериализации набора: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		key := datasetKey(d.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return mapBadgerErr("создания набора", err)
	}
	d.Version = 1
	return nil
}

// GetByID возвращает набор или ErrNotFound.
func (r *badgerRepo) GetByID(_ context.Context, id string) (*model.Dataset, error) {
	var d *model.Dataset
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		d, err = getDataset(txn, datasetKey(id))
		return err
	})
	if err != nil {
		return nil, mapBadgerErr("получения набора", err)
	}
	return d, nil
}

// Update заменяет документ, если хранимая версия равна d.Version.
func (r *badgerRepo) Update(_ context.Context, d *model.Dataset) error {
	next := d.Clone()
	next.Version = d.Version + 1

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("ошибка сериализации набора: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		key := datasetKey(d.ID)
		current, err := getDataset(txn, key)
		if err != nil {
			return err
		}
		if current.Version != d.Version {
			return ErrConflict
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return mapBadgerErr("обновления набора", err)
	}
	d.Version = next.Version
	return nil
}

// Delete удаляет документ набора.
func (r *badgerRepo) Delete(_ context.Context, id string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		key := datasetKey(id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return mapBadgerErr("удаления набора", err)
	}
	return nil
}

// List перебирает все наборы по префиксу, фильтрует в памяти
// и сортирует новые первыми.
func (r *badgerRepo) List(ctx context.Context, filter ListFilter) ([]*model.Dataset, int, error) {
	var matched []*model.Dataset

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(datasetKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var d model.Dataset
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			}); err != nil {
				return fmt.Errorf("ошибка десериализации %s: %w", it.Item().Key(), err)
			}
			if d.Files == nil {
				d.Files = model.NewFileList()
			}
			if filter.Matches(&d) {
				matched = append(matched, &d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, mapBadgerErr("выборки наборов", err)
	}

	slices.SortFunc(matched, func(a, b *model.Dataset) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	return filter.page(matched), len(matched), nil
}

// Ping проверяет, что база открыта.
func (r *badgerRepo) Ping(_ context.Context) error {
	if r.db.IsClosed() {
		return errors.New("badger закрыт")
	}
	return nil
}

func getDataset(txn *badger.Txn, key []byte) (*model.Dataset, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var d model.Dataset
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &d)
	}); err != nil {
		return nil, fmt.Errorf("ошибка десериализации набора: %w", err)
	}
	if d.Files == nil {
		d.Files = model.NewFileList()
	}
	return &d, nil
}

// mapBadgerErr переводит ошибки Badger в ошибки слоя репозиториев.
func mapBadgerErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, badger.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("ошибка %s: %w", op, err)
	}
}
