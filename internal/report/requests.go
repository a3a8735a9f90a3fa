package report

import (
	"fmt"
	"time"

	"github.com/mmeshcher/tollgate/internal/model"
	"github.com/mmeshcher/tollgate/internal/pagination"
	"github.com/mmeshcher/tollgate/internal/validation"
)

const (
	// DefaultTop задаёт размер рейтинга площадок по умолчанию.
	DefaultTop = 10
	// MaxTop ограничивает размер рейтинга площадок.
	MaxTop = 100
	// firstReportYear задаёт первый год, за который строится рейтинг.
	firstReportYear = 2021
)

// Request описывает запрос одного из трёх отчётов. Реализуется только типами этого пакета.
type Request interface {
	Kind() model.ReportKind
	validate(now time.Time) []validation.Violation
}

// HourlyRevenueRequest запрашивает почасовую выручку по городам.
type HourlyRevenueRequest struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	City      string    `json:"city,omitempty"`
	pagination.Params
}

// Kind возвращает тип отчёта.
func (HourlyRevenueRequest) Kind() model.ReportKind { return model.ReportHourlyRevenue }

func (r HourlyRevenueRequest) validate(now time.Time) []validation.Violation {
	vs := validation.ValidateDateRange(r.StartDate, r.EndDate, now)
	vs = append(vs, validation.ValidateCityFilter(r.City)...)
	return append(vs, validation.ValidatePage(r.Page, r.PageSize)...)
}

// TopPlazasRequest запрашивает рейтинг площадок по выручке за месяц.
// При заданной пагинации Top не применяется.
type TopPlazasRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Top   int `json:"top,omitempty"`
	pagination.Params
}

// Kind возвращает тип отчёта.
func (TopPlazasRequest) Kind() model.ReportKind { return model.ReportTopPlazas }

func (r TopPlazasRequest) validate(now time.Time) []validation.Violation {
	var vs []validation.Violation

	if r.Year < firstReportYear || r.Year > now.Year() {
		vs = append(vs, validation.Violation{
			Field:   "year",
			Message: fmt.Sprintf("must be between %d and %d", firstReportYear, now.Year()),
		})
	}
	if r.Month < 1 || r.Month > 12 {
		vs = append(vs, validation.Violation{Field: "month", Message: "must be between 1 and 12"})
	} else if r.Year == now.Year() && time.Month(r.Month) > now.Month() {
		vs = append(vs, validation.Violation{Field: "month", Message: "must not be in the future"})
	}
	if r.Top < 0 || r.Top > MaxTop {
		vs = append(vs, validation.Violation{Field: "top", Message: fmt.Sprintf("must be between 1 and %d", MaxTop)})
	}

	return append(vs, validation.ValidatePage(r.Page, r.PageSize)...)
}

func (r TopPlazasRequest) limit() int {
	if r.Top == 0 {
		return DefaultTop
	}
	return r.Top
}

// monthRange возвращает полуоткрытый интервал [начало месяца, начало следующего).
func (r TopPlazasRequest) monthRange() (time.Time, time.Time) {
	from := time.Date(r.Year, time.Month(r.Month), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// VehicleMixRequest запрашивает распределение проездов по категориям транспорта.
type VehicleMixRequest struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	PlazaID   *int64    `json:"plazaId,omitempty"`
	pagination.Params
}

// Kind возвращает тип отчёта.
func (VehicleMixRequest) Kind() model.ReportKind { return model.ReportVehicleMix }

func (r VehicleMixRequest) validate(now time.Time) []validation.Violation {
	vs := validation.ValidateDateRange(r.StartDate, r.EndDate, now)
	if r.PlazaID != nil && *r.PlazaID <= 0 {
		vs = append(vs, validation.Violation{Field: "plazaId", Message: "must be positive"})
	}
	return append(vs, validation.ValidatePage(r.Page, r.PageSize)...)
}
