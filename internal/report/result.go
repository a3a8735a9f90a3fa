package report

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/tollgate/internal/model"
	"github.com/mmeshcher/tollgate/internal/pagination"
	"github.com/mmeshcher/tollgate/internal/validation"
)

// HourlyRevenueRow описывает выручку города за один час.
type HourlyRevenueRow struct {
	City        string          `json:"city"`
	State       string          `json:"state"`
	Hour        time.Time       `json:"hour"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	UsageCount  int64           `json:"usageCount"`
}

// TopPlazaRow описывает позицию площадки в рейтинге по выручке.
type TopPlazaRow struct {
	Rank        int             `json:"rank"`
	PlazaID     int64           `json:"plazaId"`
	PlazaName   string          `json:"plazaName"`
	City        string          `json:"city"`
	State       string          `json:"state"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	UsageCount  int64           `json:"usageCount"`
}

// VehicleClassShare описывает долю категории транспорта в проездах площадки.
type VehicleClassShare struct {
	Class       model.VehicleClass `json:"vehicleClass"`
	Count       int64              `json:"count"`
	TotalAmount decimal.Decimal    `json:"totalAmount"`
	Percentage  decimal.Decimal    `json:"percentage"`
}

// VehicleMixRow описывает распределение проездов площадки по категориям.
type VehicleMixRow struct {
	PlazaID     int64               `json:"plazaId"`
	PlazaName   string              `json:"plazaName"`
	City        string              `json:"city"`
	State       string              `json:"state"`
	TotalUsages int64               `json:"totalUsages"`
	Classes     []VehicleClassShare `json:"classes"`
}

// Rows содержит строки отчёта и, при постраничном запросе, метаданные страницы.
type Rows[T any] struct {
	Items      []T              `json:"items"`
	Pagination *pagination.Meta `json:"pagination,omitempty"`
}

// Result содержит ответ на запрос отчёта.
type Result[T any] struct {
	Success          bool                   `json:"success"`
	Message          string                 `json:"message"`
	Data             *Rows[T]               `json:"data"`
	ProcessingTimeMs int64                  `json:"processingTimeMs"`
	TotalRecords     int64                  `json:"totalRecords"`
	CorrelationID    uuid.UUID              `json:"correlationId"`
	CompletedAt      time.Time              `json:"completedAt"`
	Status           model.ReportStatus     `json:"status"`
	Violations       []validation.Violation `json:"errors,omitempty"`
}

// Outcome возвращает итоговое состояние выполнения.
func (r Result[T]) Outcome() model.ReportStatus {
	return r.Status
}

// Invalid сообщает, что запрос отклонён проверкой.
func (r Result[T]) Invalid() bool {
	return len(r.Violations) > 0
}

// Envelope объединяет результаты отчётов разных типов.
type Envelope interface {
	Outcome() model.ReportStatus
	Invalid() bool
}
