// Package pagination реализует постраничную выдачу упорядоченных результатов.
package pagination

import "math"

// Params задаёт номер страницы (с единицы) и её размер.
type Params struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// Enabled сообщает, запрошен ли постраничный вывод.
func (p Params) Enabled() bool {
	return p.Page > 0 && p.PageSize > 0
}

// Offset возвращает число элементов, пропускаемых до начала страницы.
// При переполнении возвращается math.MaxInt.
func (p Params) Offset() int {
	if !p.Enabled() {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.PageSize {
		return math.MaxInt
	}
	return (p.Page - 1) * p.PageSize
}

// Meta описывает положение страницы в полном результате.
type Meta struct {
	Page            int   `json:"page"`
	PageSize        int   `json:"pageSize"`
	TotalRecords    int64 `json:"totalRecords"`
	TotalPages      int   `json:"totalPages"`
	HasNextPage     bool  `json:"hasNextPage"`
	HasPreviousPage bool  `json:"hasPreviousPage"`
}

// NewMeta считает метаданные страницы по общему числу записей.
func NewMeta(p Params, total int64) Meta {
	totalPages := 0
	if p.PageSize > 0 {
		totalPages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	return Meta{
		Page:            p.Page,
		PageSize:        p.PageSize,
		TotalRecords:    total,
		TotalPages:      totalPages,
		HasNextPage:     p.Page < totalPages,
		HasPreviousPage: p.Page > 1,
	}
}

// Paginate возвращает срез items, соответствующий странице p, и метаданные.
// Общее число записей считается до нарезки. Страница за пределами
// результата пуста, метаданные при этом остаются корректными.
func Paginate[T any](items []T, p Params) ([]T, Meta) {
	meta := NewMeta(p, int64(len(items)))
	if !p.Enabled() {
		return items, meta
	}

	if p.Page > meta.TotalPages {
		return []T{}, meta
	}

	start := p.Offset()
	end := min(start+p.PageSize, len(items))
	return items[start:end], meta
}
