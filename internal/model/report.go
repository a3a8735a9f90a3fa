package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReportKind определяет тип отчёта.
type ReportKind string

const (
	ReportHourlyRevenue ReportKind = "hourly_revenue"
	ReportTopPlazas     ReportKind = "top_plazas"
	ReportVehicleMix    ReportKind = "vehicle_mix"
)

// ReportStatus описывает состояние выполнения отчёта.
type ReportStatus string

const (
	ReportProcessing ReportStatus = "processing"
	ReportCompleted  ReportStatus = "completed"
	ReportCancelled  ReportStatus = "cancelled"
	ReportFailed     ReportStatus = "failed"
)

// Terminal сообщает, является ли состояние конечным.
func (s ReportStatus) Terminal() bool {
	return s == ReportCompleted || s == ReportCancelled || s == ReportFailed
}

// ReportHistoryEntry описывает запись журнала выполнения отчётов.
type ReportHistoryEntry struct {
	Kind          ReportKind
	RequestJSON   json.RawMessage
	ResultJSON    json.RawMessage
	DurationMs    int64
	CorrelationID uuid.UUID
	Status        ReportStatus
	ErrorMessage  *string
	CompletedAt   time.Time
}

// HourlyRevenueFilter задаёт выборку для почасовой выручки.
type HourlyRevenueFilter struct {
	From time.Time
	To   time.Time
	City string
}

// HourlyRevenueGroup содержит сумму проездов по городу за час.
type HourlyRevenueGroup struct {
	City       string
	State      string
	Hour       time.Time
	TotalCents int64
	Count      int64
}

// PlazaRevenueGroup содержит выручку площадки за период.
type PlazaRevenueGroup struct {
	PlazaID    int64
	PlazaName  string
	City       string
	State      string
	TotalCents int64
	Count      int64
}

// VehicleMixFilter задаёт выборку для распределения по категориям.
type VehicleMixFilter struct {
	From    time.Time
	To      time.Time
	PlazaID *int64
}

// PlazaClassGroup содержит число проездов одной категории через площадку.
type PlazaClassGroup struct {
	PlazaID    int64
	PlazaName  string
	City       string
	State      string
	Class      VehicleClass
	Count      int64
	TotalCents int64
}
