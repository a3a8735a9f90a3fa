package validation

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/tollgate/internal/model"
)

const (
	// MaxBatchSize ограничивает число записей в одном пакете.
	MaxBatchSize = 10000
	// MaxCityLength ограничивает длину названия города.
	MaxCityLength = 100
	// MaxUsageAge определяет, насколько старым может быть проезд.
	MaxUsageAge = 365 * 24 * time.Hour
)

var (
	cityPattern  = regexp.MustCompile(`^[a-zA-ZÀ-ÿ\s\-'.]+$`)
	statePattern = regexp.MustCompile(`^[A-Z]{2}$`)

	maxAmount = decimal.RequireFromString("999999.99")
)

// ValidateUsage проверяет одну запись о проезде относительно момента now.
func ValidateUsage(in model.UsageInput, now time.Time) []Violation {
	var vs []Violation

	switch {
	case in.UsedAt.IsZero():
		vs = append(vs, Violation{Field: "timestamp", Message: "is required"})
	case in.UsedAt.After(now):
		vs = append(vs, Violation{Field: "timestamp", Message: "must not be in the future"})
	case in.UsedAt.Before(now.Add(-MaxUsageAge)):
		vs = append(vs, Violation{Field: "timestamp", Message: "must not be older than one year"})
	}

	if in.PlazaID <= 0 {
		vs = append(vs, Violation{Field: "plazaId", Message: "must be positive"})
	}

	switch {
	case in.City == "":
		vs = append(vs, Violation{Field: "city", Message: "is required"})
	case utf8.RuneCountInString(in.City) > MaxCityLength:
		vs = append(vs, Violation{Field: "city", Message: fmt.Sprintf("must be at most %d characters", MaxCityLength)})
	case !cityPattern.MatchString(in.City):
		vs = append(vs, Violation{Field: "city", Message: "contains invalid characters"})
	}

	if !statePattern.MatchString(in.State) {
		vs = append(vs, Violation{Field: "state", Message: "must be two uppercase letters"})
	}

	switch {
	case !in.AmountPaid.IsPositive():
		vs = append(vs, Violation{Field: "amountPaid", Message: "must be positive"})
	case in.AmountPaid.GreaterThan(maxAmount):
		vs = append(vs, Violation{Field: "amountPaid", Message: "must not exceed 999999.99"})
	case in.AmountPaid.Exponent() < -2 && !in.AmountPaid.Equal(in.AmountPaid.Round(2)):
		vs = append(vs, Violation{Field: "amountPaid", Message: "must have at most two decimal places"})
	}

	if !in.VehicleClass.Valid() {
		vs = append(vs, Violation{Field: "vehicleClass", Message: "must be one of motorcycle, car, truck"})
	}

	return vs
}

// ValidateBatchSize проверяет допустимый размер пакета.
func ValidateBatchSize(n int) []Violation {
	if n < 1 || n > MaxBatchSize {
		return []Violation{{
			Field:   "usages",
			Message: fmt.Sprintf("must contain between 1 and %d records", MaxBatchSize),
		}}
	}
	return nil
}

// ValidateBatch проверяет размер пакета и каждую запись. Нарушения записей
// получают префикс вида "usages[3]".
func ValidateBatch(usages []model.UsageInput, now time.Time) []Violation {
	if vs := ValidateBatchSize(len(usages)); vs != nil {
		return vs
	}

	var vs []Violation
	for i, u := range usages {
		vs = append(vs, Prefixed(fmt.Sprintf("usages[%d]", i), ValidateUsage(u.Normalize(), now))...)
	}
	return vs
}
