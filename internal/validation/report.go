package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxPageSize ограничивает размер страницы отчёта.
const MaxPageSize = 100

// ValidateDateRange проверяет интервал отчёта: конец не раньше начала и не
// позже чем через сутки от now.
func ValidateDateRange(start, end, now time.Time) []Violation {
	var vs []Violation

	if start.IsZero() {
		vs = append(vs, Violation{Field: "startDate", Message: "is required"})
	}
	if end.IsZero() {
		vs = append(vs, Violation{Field: "endDate", Message: "is required"})
	}
	if len(vs) > 0 {
		return vs
	}

	if end.Before(start) {
		vs = append(vs, Violation{Field: "endDate", Message: "must not be before startDate"})
	}
	if end.After(now.Add(24 * time.Hour)) {
		vs = append(vs, Violation{Field: "endDate", Message: "must not be more than one day in the future"})
	}
	return vs
}

// ValidateCityFilter проверяет необязательный фильтр по городу. Длина
// считается после обрезки пробелов, как и при поиске.
func ValidateCityFilter(city string) []Violation {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil
	}
	n := utf8.RuneCountInString(city)
	if n < 2 || n > MaxCityLength {
		return []Violation{{Field: "city", Message: fmt.Sprintf("must be between 2 and %d characters", MaxCityLength)}}
	}
	return nil
}

// ValidatePage проверяет параметры постраничного вывода. Нулевые page и
// pageSize означают запрос без пагинации.
func ValidatePage(page, pageSize int) []Violation {
	if page == 0 && pageSize == 0 {
		return nil
	}

	var vs []Violation
	if page < 1 {
		vs = append(vs, Violation{Field: "page", Message: "must be at least 1"})
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		vs = append(vs, Violation{Field: "pageSize", Message: fmt.Sprintf("must be between 1 and %d", MaxPageSize)})
	}
	return vs
}
