// Package report строит агрегированные отчёты по проездам: почасовую
// выручку, рейтинг площадок и распределение по категориям транспорта.
//
// Каждый запрос проходит стадии Received, Validating и Executing и
// завершается одним из состояний Completed, Cancelled или Failed. Выполнение
// ограничено по времени, итог каждого запроса записывается в журнал.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/tollgate/internal/metrics"
	"github.com/mmeshcher/tollgate/internal/model"
)

const (
	msgCompleted      = "report generated"
	msgInvalid        = "validation failed"
	msgTimeout        = "report cancelled by timeout"
	msgCancelled      = "report cancelled"
	msgInternalFailed = "internal error"

	maxErrorMessage = 1000
)

// Store выполняет группирующие запросы к проездам.
type Store interface {
	HourlyRevenueGroups(ctx context.Context, f model.HourlyRevenueFilter) ([]model.HourlyRevenueGroup, error)
	PlazaRevenueGroups(ctx context.Context, from, to time.Time) ([]model.PlazaRevenueGroup, error)
	VehicleMixGroups(ctx context.Context, f model.VehicleMixFilter) ([]model.PlazaClassGroup, error)
}

// Aggregator строит отчёты.
type Aggregator struct {
	store   Store
	history *HistoryRecorder
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewAggregator создаёт построитель отчётов. Нулевой timeout заменяется на DefaultTimeout.
func NewAggregator(store Store, history *HistoryRecorder, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Aggregator{
		store:   store,
		history: history,
		timeout: timeout,
		metrics: m,
		logger:  logger.Named("report"),
		now:     time.Now,
	}
}

// Run выполняет отчёт любого типа. Запрос можно передать по значению или по указателю.
func (a *Aggregator) Run(ctx context.Context, req Request) (Envelope, error) {
	switch r := req.(type) {
	case HourlyRevenueRequest:
		return a.HourlyRevenue(ctx, r), nil
	case TopPlazasRequest:
		return a.TopPlazas(ctx, r), nil
	case VehicleMixRequest:
		return a.VehicleMix(ctx, r), nil
	case *HourlyRevenueRequest:
		if r != nil {
			return a.HourlyRevenue(ctx, *r), nil
		}
	case *TopPlazasRequest:
		if r != nil {
			return a.TopPlazas(ctx, *r), nil
		}
	case *VehicleMixRequest:
		if r != nil {
			return a.VehicleMix(ctx, *r), nil
		}
	}
	return nil, fmt.Errorf("unsupported report request %T", req)
}

// HourlyRevenue строит отчёт о почасовой выручке.
func (a *Aggregator) HourlyRevenue(ctx context.Context, req HourlyRevenueRequest) Result[HourlyRevenueRow] {
	return execute(ctx, a, req, a.hourlyRevenue)
}

// TopPlazas строит рейтинг площадок за месяц.
func (a *Aggregator) TopPlazas(ctx context.Context, req TopPlazasRequest) Result[TopPlazaRow] {
	return execute(ctx, a, req, a.topPlazas)
}

// VehicleMix строит распределение проездов по категориям транспорта.
func (a *Aggregator) VehicleMix(ctx context.Context, req VehicleMixRequest) Result[VehicleMixRow] {
	return execute(ctx, a, req, a.vehicleMix)
}

func execute[R Request, T any](
	ctx context.Context,
	a *Aggregator,
	req R,
	compute func(context.Context, R) (Rows[T], int64, error),
) Result[T] {
	start := a.now()
	res := Result[T]{
		CorrelationID: uuid.New(),
		Status:        model.ReportProcessing,
	}
	log := a.logger.With(
		zap.String("kind", string(req.Kind())),
		zap.String("correlationID", res.CorrelationID.String()),
	)
	log.Debug("report received")

	var execErr error
	if vs := req.validate(start); len(vs) > 0 {
		res.Status = model.ReportFailed
		res.Message = msgInvalid
		res.Violations = vs
	} else {
		log.Debug("report executing")

		runCtx, cancel := withBudget(ctx, a.timeout)
		rows, total, err := compute(runCtx, req)

		switch {
		case err == nil && runCtx.Err() == nil:
			res.Success = true
			res.Status = model.ReportCompleted
			res.Message = msgCompleted
			res.Data = &rows
			res.TotalRecords = total
		case isCancellation(runCtx, err):
			res.Status = model.ReportCancelled
			if timedOut(runCtx) {
				res.Message = msgTimeout
				log.Warn("report timed out", zap.Duration("timeout", a.timeout))
			} else {
				res.Message = msgCancelled
				log.Info("report cancelled by caller")
			}
			execErr = context.Cause(runCtx)
		default:
			res.Status = model.ReportFailed
			res.Message = msgInternalFailed
			execErr = err
			log.Error("report failed", zap.Error(err))
		}
		cancel()
	}

	res.CompletedAt = a.now().UTC()
	elapsed := res.CompletedAt.Sub(start)
	res.ProcessingTimeMs = elapsed.Milliseconds()

	a.metrics.ObserveReport(string(req.Kind()), string(res.Status), elapsed)
	a.history.Record(ctx, historyEntry(req, res, execErr))

	log.Info("report finished",
		zap.String("status", string(res.Status)),
		zap.Int64("durationMs", res.ProcessingTimeMs),
		zap.Int64("totalRecords", res.TotalRecords),
	)

	return res
}

func historyEntry[T any](req Request, res Result[T], execErr error) model.ReportHistoryEntry {
	e := model.ReportHistoryEntry{
		Kind:          req.Kind(),
		DurationMs:    res.ProcessingTimeMs,
		CorrelationID: res.CorrelationID,
		Status:        res.Status,
		CompletedAt:   res.CompletedAt,
	}

	if raw, err := json.Marshal(req); err == nil {
		e.RequestJSON = raw
	} else {
		e.RequestJSON = json.RawMessage(`{}`)
	}

	if res.Status == model.ReportCompleted {
		if raw, err := json.Marshal(res.Data); err == nil {
			e.ResultJSON = raw
		}
		return e
	}

	msg := res.Message
	switch {
	case len(res.Violations) > 0:
		if raw, err := json.Marshal(res.Violations); err == nil {
			msg = msg + ": " + string(raw)
		}
	case execErr != nil:
		msg = msg + ": " + execErr.Error()
	}
	if utf8.RuneCountInString(msg) > maxErrorMessage {
		msg = string([]rune(msg)[:maxErrorMessage])
	}
	e.ErrorMessage = &msg

	return e
}
