// Package model содержит доменные сущности сервиса tollgate.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrPlazaNotFound возвращается, если площадка не зарегистрирована или неактивна.
var ErrPlazaNotFound = errors.New("plaza not found or inactive")

// Plaza описывает пункт взимания платы.
type Plaza struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	City   string `json:"city"`
	State  string `json:"state"`
	Active bool   `json:"active"`
}

// VehicleClass описывает категорию транспортного средства.
type VehicleClass int16

const (
	VehicleMotorcycle VehicleClass = 1
	VehicleCar        VehicleClass = 2
	VehicleTruck      VehicleClass = 3
)

// VehicleClasses перечисляет все категории в порядке их порядковых номеров.
var VehicleClasses = []VehicleClass{VehicleMotorcycle, VehicleCar, VehicleTruck}

var vehicleClassNames = map[VehicleClass]string{
	VehicleMotorcycle: "motorcycle",
	VehicleCar:        "car",
	VehicleTruck:      "truck",
}

// Valid сообщает, входит ли значение в перечисление.
func (c VehicleClass) Valid() bool {
	return slices.Contains(VehicleClasses, c)
}

// vehicleClassFromOrdinal возвращает категорию по номеру или ноль для
// номеров вне перечисления.
func vehicleClassFromOrdinal(n int64) VehicleClass {
	for _, c := range VehicleClasses {
		if int64(c) == n {
			return c
		}
	}
	return 0
}

func (c VehicleClass) String() string {
	if name, ok := vehicleClassNames[c]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON кодирует категорию её именем.
func (c VehicleClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON принимает как имя категории, так и её порядковый номер.
// Неизвестные значения декодируются в ноль и отсекаются валидацией.
func (c *VehicleClass) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode vehicle class: %w", err)
	}

	switch v := raw.(type) {
	case string:
		*c = ParseVehicleClass(v)
	case float64:
		*c = 0
		if v == math.Trunc(v) && math.Abs(v) <= math.MaxInt16 {
			*c = vehicleClassFromOrdinal(int64(v))
		}
	default:
		*c = 0
	}
	return nil
}

// ParseVehicleClass разбирает имя или номер категории.
func ParseVehicleClass(s string) VehicleClass {
	s = strings.ToLower(strings.TrimSpace(s))
	for class, name := range vehicleClassNames {
		if name == s {
			return class
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return vehicleClassFromOrdinal(n)
	}
	return 0
}

// UsageInput содержит данные проезда, поступившие на вход.
type UsageInput struct {
	UsedAt       time.Time       `json:"timestamp"`
	PlazaID      int64           `json:"plazaId"`
	City         string          `json:"city"`
	State        string          `json:"state"`
	AmountPaid   decimal.Decimal `json:"amountPaid"`
	VehicleClass VehicleClass    `json:"vehicleClass"`
}

// Normalize приводит город и штат к каноничному виду.
func (u UsageInput) Normalize() UsageInput {
	u.City = strings.ToUpper(strings.TrimSpace(u.City))
	u.State = strings.ToUpper(strings.TrimSpace(u.State))
	return u
}

// Batch описывает пакет проездов для загрузки.
type Batch struct {
	ID          uuid.UUID    `json:"batchId"`
	SubmittedAt time.Time    `json:"submittedAt"`
	Origin      string       `json:"origin,omitempty"`
	Usages      []UsageInput `json:"usages"`
}

// NewBatch создаёт пакет с новым идентификатором.
func NewBatch(usages []UsageInput, origin string, now time.Time) Batch {
	return Batch{
		ID:          uuid.New(),
		SubmittedAt: now.UTC(),
		Origin:      origin,
		Usages:      usages,
	}
}

// BatchOutcome содержит результат обработки пакета.
type BatchOutcome struct {
	BatchID     uuid.UUID `json:"batchId"`
	Processed   int       `json:"processed"`
	Errored     int       `json:"errored"`
	Errors      []string  `json:"errors"`
	CompletedAt time.Time `json:"completedAt"`
}

// Acceptance подтверждает приём одиночного проезда.
type Acceptance struct {
	ID          int64     `json:"id"`
	ProcessedAt time.Time `json:"processedAt"`
}

// UsageStats содержит сводку по загруженным проездам.
type UsageStats struct {
	TotalToday         int64            `json:"totalToday"`
	TotalYesterday     int64            `json:"totalYesterday"`
	AverageAmountToday decimal.Decimal  `json:"averageAmountToday"`
	ByVehicleClass     map[string]int64 `json:"byVehicleClass"`
	ByState            map[string]int64 `json:"byState"`
	ComputedAt         time.Time        `json:"computedAt"`
}

// AmountToCents переводит денежную сумму в копейки с банковским округлением до двух знаков.
func AmountToCents(d decimal.Decimal) int64 {
	return d.Shift(2).RoundBank(0).IntPart()
}

// CentsToAmount переводит копейки в денежную сумму.
func CentsToAmount(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
