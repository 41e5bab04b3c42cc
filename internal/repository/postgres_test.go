package repository

import (
	"strings"
	"testing"
)

// --- Тесты buildDatasetWhere ---

// TestBuildDatasetWhere_Empty проверяет пустой фильтр.
func TestBuildDatasetWhere_Empty(t *testing.T) {
	where, args := buildDatasetWhere(ListFilter{}, 1)

	if where != "" {
		t.Errorf("where = %q, ожидалась пустая строка", where)
	}
	if len(args) != 0 {
		t.Errorf("args count = %d, ожидался 0", len(args))
	}
}

// TestBuildDatasetWhere_VisibleOnly — условие видимости без аргументов.
func TestBuildDatasetWhere_VisibleOnly(t *testing.T) {
	where, args := buildDatasetWhere(ListFilter{VisibleOnly: true}, 1)

	if where != "WHERE is_active AND is_public" {
		t.Errorf("where = %q", where)
	}
	if len(args) != 0 {
		t.Errorf("args count = %d, ожидался 0", len(args))
	}
}

// TestBuildDatasetWhere_Term — один аргумент для title, description и тегов.
func TestBuildDatasetWhere_Term(t *testing.T) {
	where, args := buildDatasetWhere(ListFilter{Term: "  census "}, 1)

	if strings.Count(where, "ILIKE $1") != 3 {
		t.Errorf("where = %q, ожидалось три ILIKE $1", where)
	}
	if !strings.Contains(where, "unnest(tags)") {
		t.Errorf("where = %q, ожидался поиск по тегам", where)
	}
	if len(args) != 1 || args[0] != "%census%" {
		t.Errorf("args = %v, ожидался [%%census%%]", args)
	}
}

// TestBuildDatasetWhere_EscapesLike — спецсимволы ILIKE экранируются.
func TestBuildDatasetWhere_EscapesLike(t *testing.T) {
	_, args := buildDatasetWhere(ListFilter{Term: "100%_rural"}, 1)

	if args[0] != `%100\%\_rural%` {
		t.Errorf("args[0] = %v", args[0])
	}
}

// TestBuildDatasetWhere_MultipleFilters проверяет комбинацию фильтров.
func TestBuildDatasetWhere_MultipleFilters(t *testing.T) {
	f := ListFilter{
		Term:        "school",
		Category:    "education",
		State:       "kerala",
		Year:        2021,
		CreatedBy:   "u1",
		VisibleOnly: true,
	}
	where, args := buildDatasetWhere(f, 1)

	if strings.Count(where, " AND ") != 6 {
		t.Errorf("where = %q, ожидалось 6 AND", where)
	}
	for _, part := range []string{"category = $2", "state = $3", "year = $4", "created_by = $5"} {
		if !strings.Contains(where, part) {
			t.Errorf("where = %q, ожидалось %q", where, part)
		}
	}
	if len(args) != 5 {
		t.Errorf("args count = %d, ожидался 5", len(args))
	}
}

// TestBuildDatasetWhere_StartArgOffset проверяет нумерацию аргументов.
func TestBuildDatasetWhere_StartArgOffset(t *testing.T) {
	where, _ := buildDatasetWhere(ListFilter{Category: "health"}, 5)

	if !strings.Contains(where, "category = $5") {
		t.Errorf("where = %q, ожидался category = $5", where)
	}
}
