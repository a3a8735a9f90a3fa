// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"strings"
)

// Violation описывает нарушение правила для одного поля.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error объединяет нарушения, найденные при проверке запроса.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsError возвращает *Error, если список нарушений не пуст, и nil в противном случае.
func AsError(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &Error{Violations: violations}
}

// Prefixed добавляет префикс к именам полей, например номер записи в пакете.
func Prefixed(prefix string, violations []Violation) []Violation {
	out := make([]Violation, 0, len(violations))
	for _, v := range violations {
		out = append(out, Violation{Field: fmt.Sprintf("%s.%s", prefix, v.Field), Message: v.Message})
	}
	return out
}
