// Пакет openapi — описание HTTP API Data Portal в формате OpenAPI 3.
// Документ встроен в бинарник, проверяется при старте и отдаётся
// клиентам по GET /api/v1/openapi.json.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

// Spec — загруженный и проверенный документ.
type Spec struct {
	doc  *openapi3.T
	json []byte
}

// Load разбирает встроенный документ и проверяет его корректность.
func Load(ctx context.Context) (*Spec, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора OpenAPI: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("некорректный OpenAPI: %w", err)
	}

	raw, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации OpenAPI: %w", err)
	}
	return &Spec{doc: doc, json: raw}, nil
}

// Doc возвращает разобранный документ.
func (s *Spec) Doc() *openapi3.T {
	return s.doc
}

// HasOperation — документ описывает метод для пути. Имена параметров
// в шаблоне пути не обязаны совпадать.
func (s *Spec) HasOperation(method, path string) bool {
	item := s.doc.Paths.Find(path)
	if item == nil {
		return false
	}
	return item.GetOperation(method) != nil
}

// ServeHTTP отдаёт документ в JSON.
func (s *Spec) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.json)
}
