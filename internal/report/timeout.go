package report

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout ограничивает время выполнения одного отчёта.
const DefaultTimeout = 10 * time.Second

// ErrReportTimeout используется как причина отмены отчёта по истечении времени.
var ErrReportTimeout = errors.New("report execution timed out")

// withBudget объединяет отмену вызывающего с таймером на d.
func withBudget(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(parent, d, ErrReportTimeout)
}

// timedOut сообщает, был ли ctx отменён собственным таймером отчёта,
// а не вызывающей стороной.
func timedOut(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrReportTimeout)
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
