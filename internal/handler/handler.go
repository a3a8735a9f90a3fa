// Package handler содержит HTTP-обработчики API приёма проездов и отчётов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/tollgate/internal/model"
	"github.com/mmeshcher/tollgate/internal/report"
	"github.com/mmeshcher/tollgate/internal/service"
	"github.com/mmeshcher/tollgate/internal/validation"
)

// maxBodyBytes ограничивает размер распакованного тела запроса.
const maxBodyBytes = 32 << 20

const (
	msgAccepted       = "usage accepted"
	msgInvalid        = "validation failed"
	msgInternalFailed = "internal error"
	msgBadRequest     = "malformed request body"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	IngestSingle(ctx context.Context, in model.UsageInput) (*model.Acceptance, error)
	IngestBatch(ctx context.Context, usages []model.UsageInput, origin string) (*model.BatchOutcome, error)
	EnqueueBatch(ctx context.Context, usages []model.UsageInput, origin string) (*model.Batch, error)
	Stats(ctx context.Context) (*model.UsageStats, error)
	Plazas(ctx context.Context) ([]model.Plaza, error)
}

// Reports строит отчёты.
type Reports interface {
	Run(ctx context.Context, req report.Request) (report.Envelope, error)
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service Service
	reports Reports
	db      Pinger
	metrics http.Handler
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. metrics может быть nil.
func NewHandler(s Service, reports Reports, db Pinger, metrics http.Handler, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		reports: reports,
		db:      db,
		metrics: metrics,
		logger:  logger,
	}
}

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    any                    `json:"data,omitempty"`
	Errors  []validation.Violation `json:"errors,omitempty"`
}

type batchRequest struct {
	Origin string             `json:"origin,omitempty"`
	Usages []model.UsageInput `json:"usages"`
}

type enqueueResponse struct {
	BatchID    uuid.UUID `json:"batchId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Size       int       `json:"size"`
}

// IngestSingle принимает одиночный проезд.
func (h *Handler) IngestSingle(w http.ResponseWriter, r *http.Request) {
	var in model.UsageInput
	if !h.decode(w, r, &in) {
		return
	}

	acc, err := h.service.IngestSingle(r.Context(), in)
	if err != nil {
		h.writeIngestError(w, "ingest usage error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope{Success: true, Message: msgAccepted, Data: acc})
}

// IngestBatch синхронно обрабатывает пакет проездов.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}

	outcome, err := h.service.IngestBatch(r.Context(), req.Usages, req.Origin)
	if err != nil {
		h.writeIngestError(w, "ingest batch error", err)
		return
	}

	h.writeJSON(w, http.StatusOK, outcome)
}

// EnqueueBatch ставит пакет в очередь и сразу отвечает 202.
func (h *Handler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}

	batch, err := h.service.EnqueueBatch(r.Context(), req.Usages, req.Origin)
	if err != nil {
		h.writeIngestError(w, "enqueue batch error", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, enqueueResponse{
		BatchID:    batch.ID,
		EnqueuedAt: batch.SubmittedAt,
		Size:       len(batch.Usages),
	})
}

// Stats возвращает сводку по загруженным проездам.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("get stats error", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, envelope{Message: msgInternalFailed})
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// Plazas возвращает список площадок.
func (h *Handler) Plazas(w http.ResponseWriter, r *http.Request) {
	plazas, err := h.service.Plazas(r.Context())
	if err != nil {
		h.logger.Error("list plazas error", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, envelope{Message: msgInternalFailed})
		return
	}

	h.writeJSON(w, http.StatusOK, plazas)
}

// Health проверяет доступность базы данных.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HourlyRevenue строит отчёт о почасовой выручке.
func (h *Handler) HourlyRevenue(w http.ResponseWriter, r *http.Request) {
	serveReport[report.HourlyRevenueRequest](h, w, r)
}

// TopPlazas строит рейтинг площадок.
func (h *Handler) TopPlazas(w http.ResponseWriter, r *http.Request) {
	serveReport[report.TopPlazasRequest](h, w, r)
}

// VehicleMix строит распределение по категориям транспорта.
func (h *Handler) VehicleMix(w http.ResponseWriter, r *http.Request) {
	serveReport[report.VehicleMixRequest](h, w, r)
}

func serveReport[R report.Request](h *Handler, w http.ResponseWriter, r *http.Request) {
	var req R
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.reports.Run(r.Context(), req)
	if err != nil {
		h.logger.Error("run report error", zap.Error(err), zap.String("kind", string(req.Kind())))
		h.writeJSON(w, http.StatusInternalServerError, envelope{Message: msgInternalFailed})
		return
	}

	h.writeJSON(w, reportStatusCode(res), res)
}

// reportStatusCode переводит итог отчёта в HTTP-статус.
func reportStatusCode(res report.Envelope) int {
	switch res.Outcome() {
	case model.ReportCompleted:
		return http.StatusOK
	case model.ReportCancelled:
		return http.StatusRequestTimeout
	default:
		if res.Invalid() {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, envelope{Message: "request body too large"})
			return false
		}
		h.writeJSON(w, http.StatusBadRequest, envelope{Message: msgBadRequest})
		return false
	}
	return true
}

func (h *Handler) writeIngestError(w http.ResponseWriter, logMsg string, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, envelope{Message: msgInvalid, Errors: verr.Violations})
	case errors.Is(err, model.ErrPlazaNotFound):
		h.writeJSON(w, http.StatusUnprocessableEntity, envelope{Message: err.Error()})
	case errors.Is(err, service.ErrQueueUnavailable):
		h.writeJSON(w, http.StatusServiceUnavailable, envelope{Message: err.Error()})
	default:
		h.logger.Error(logMsg, zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, envelope{Message: msgInternalFailed})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
