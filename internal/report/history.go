package report

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/tollgate/internal/model"
)

const historyWriteTimeout = 5 * time.Second

// HistoryStore сохраняет записи журнала отчётов.
type HistoryStore interface {
	InsertReportHistory(ctx context.Context, e model.ReportHistoryEntry) error
}

// HistoryRecorder пишет журнал отчётов. Ошибки записи только логируются.
type HistoryRecorder struct {
	store  HistoryStore
	logger *zap.Logger
}

// NewHistoryRecorder создаёт регистратор поверх хранилища. nil-хранилище отключает журнал.
func NewHistoryRecorder(store HistoryStore, logger *zap.Logger) *HistoryRecorder {
	return &HistoryRecorder{store: store, logger: logger}
}

// Record сохраняет запись о завершённом отчёте. Отмена ctx не прерывает запись, у неё свой лимит времени.
func (h *HistoryRecorder) Record(ctx context.Context, e model.ReportHistoryEntry) {
	if h == nil || h.store == nil {
		return
	}
	if !e.Status.Terminal() {
		h.logger.Warn("report history entry is not final",
			zap.String("status", string(e.Status)),
			zap.String("correlationID", e.CorrelationID.String()),
		)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("report history panic",
				zap.Any("panic", r),
				zap.String("correlationID", e.CorrelationID.String()),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()

	if err := h.store.InsertReportHistory(ctx, e); err != nil {
		h.logger.Error("save report history error",
			zap.Error(err),
			zap.String("kind", string(e.Kind)),
			zap.String("correlationID", e.CorrelationID.String()),
		)
	}
}
