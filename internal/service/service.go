// Package service реализует загрузку проездов: проверку, маршрутизацию
// пакетов и постановку их в очередь.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/tollgate/internal/metrics"
	"github.com/mmeshcher/tollgate/internal/model"
	"github.com/mmeshcher/tollgate/internal/validation"
)

// ErrQueueUnavailable возвращается, если асинхронная загрузка не настроена.
var ErrQueueUnavailable = errors.New("queue is not configured")

// PlazaRegistry проверяет, какие площадки активны.
type PlazaRegistry interface {
	ActivePlazaIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error)
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	DirectWriter
	BulkLoader
	PlazaRegistry
	ListPlazas(ctx context.Context) ([]model.Plaza, error)
	UsageStats(ctx context.Context, now time.Time) (*model.UsageStats, error)
}

// BatchPublisher ставит пакет в очередь на асинхронную обработку.
type BatchPublisher interface {
	Publish(ctx context.Context, batch model.Batch) error
}

// StatsCache хранит последнюю рассчитанную сводку.
type StatsCache interface {
	GetStats(ctx context.Context) (*model.UsageStats, error)
	SetStats(ctx context.Context, stats *model.UsageStats, ttl time.Duration) error
}

// Options содержит необязательные зависимости сервиса.
type Options struct {
	Publisher BatchPublisher
	Cache     StatsCache
	Metrics   *metrics.Metrics
	StatsTTL  time.Duration
}

// Service содержит бизнес-логику загрузки проездов.
type Service struct {
	repo      Repository
	router    *Router
	publisher BatchPublisher
	cache     StatsCache
	statsTTL  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService создаёт сервис поверх репозитория.
func NewService(repo Repository, logger *zap.Logger, opts Options) *Service {
	return &Service{
		repo:      repo,
		router:    NewRouter(repo, repo, opts.Metrics),
		publisher: opts.Publisher,
		cache:     opts.Cache,
		statsTTL:  opts.StatsTTL,
		metrics:   opts.Metrics,
		logger:    logger.Named("ingest"),
		now:       time.Now,
	}
}

// IngestSingle проверяет и сохраняет одиночный проезд. Любое нарушение или
// неактивная площадка отменяет операцию целиком. Отмена ctx не прерывает
// начатую запись.
func (s *Service) IngestSingle(ctx context.Context, in model.UsageInput) (*model.Acceptance, error) {
	ctx = context.WithoutCancel(ctx)
	in = in.Normalize()

	if err := validation.AsError(validation.ValidateUsage(in, s.now())); err != nil {
		s.metrics.AddRejected("validation", 1)
		return nil, err
	}

	active, err := s.repo.ActivePlazaIDs(ctx, []int64{in.PlazaID})
	if err != nil {
		return nil, fmt.Errorf("lookup plaza: %w", err)
	}
	if _, ok := active[in.PlazaID]; !ok {
		s.metrics.AddRejected("plaza", 1)
		return nil, fmt.Errorf("%w: id %d", model.ErrPlazaNotFound, in.PlazaID)
	}

	ids, err := s.repo.InsertUsages(ctx, []model.UsageInput{in})
	if err != nil {
		return nil, fmt.Errorf("insert usage: %w", err)
	}
	s.metrics.AddWritten(string(StrategyDirect), len(ids))

	return &model.Acceptance{ID: ids[0], ProcessedAt: s.now().UTC()}, nil
}

// IngestBatch синхронно обрабатывает пакет. Размер пакета проверяется
// целиком, остальные нарушения отклоняют только отдельные записи. Принятый
// пакет записывается до конца даже после отмены ctx.
func (s *Service) IngestBatch(ctx context.Context, usages []model.UsageInput, origin string) (*model.BatchOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	if err := validation.AsError(validation.ValidateBatchSize(len(usages))); err != nil {
		return nil, err
	}

	return s.ProcessBatch(ctx, model.NewBatch(usages, origin, s.now()))
}

// ProcessBatch проверяет записи пакета, отбрасывает записи с неактивными
// площадками и записывает оставшиеся через Router. Используется как при
// синхронной загрузке, так и обработчиками очереди.
func (s *Service) ProcessBatch(ctx context.Context, batch model.Batch) (*model.BatchOutcome, error) {
	now := s.now()
	outcome := &model.BatchOutcome{BatchID: batch.ID, Errors: []string{}}

	candidates := make([]model.UsageInput, 0, len(batch.Usages))
	for i, u := range batch.Usages {
		u = u.Normalize()
		if vs := validation.ValidateUsage(u, now); len(vs) > 0 {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("Record %d: %s", i, validation.AsError(vs).Error()))
			continue
		}
		candidates = append(candidates, u)
	}
	s.metrics.AddRejected("validation", len(batch.Usages)-len(candidates))

	active, err := s.repo.ActivePlazaIDs(ctx, distinctPlazaIDs(candidates))
	if err != nil {
		return nil, fmt.Errorf("lookup plazas: %w", err)
	}

	accepted := make([]model.UsageInput, 0, len(candidates))
	for _, u := range candidates {
		if _, ok := active[u.PlazaID]; !ok {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("Plaza id %d not found or inactive", u.PlazaID))
			continue
		}
		accepted = append(accepted, u)
	}
	s.metrics.AddRejected("plaza", len(candidates)-len(accepted))

	res, err := s.router.Route(ctx, accepted)
	if err != nil {
		return nil, fmt.Errorf("route batch %s: %w", batch.ID, err)
	}

	outcome.Processed = res.Written
	outcome.Errored = len(batch.Usages) - len(accepted)
	outcome.CompletedAt = s.now().UTC()

	s.logger.Info("batch processed",
		zap.String("batchID", batch.ID.String()),
		zap.String("origin", batch.Origin),
		zap.String("strategy", string(res.Strategy)),
		zap.Int("processed", outcome.Processed),
		zap.Int("errored", outcome.Errored),
	)

	return outcome, nil
}

// EnqueueBatch проверяет пакет целиком и ставит его в очередь. Пакет с
// любым нарушением не принимается.
func (s *Service) EnqueueBatch(ctx context.Context, usages []model.UsageInput, origin string) (*model.Batch, error) {
	if s.publisher == nil {
		return nil, ErrQueueUnavailable
	}

	if err := validation.AsError(validation.ValidateBatch(usages, s.now())); err != nil {
		return nil, err
	}

	batch := model.NewBatch(usages, origin, s.now())
	if err := s.publisher.Publish(ctx, batch); err != nil {
		return nil, fmt.Errorf("publish batch: %w", err)
	}
	s.metrics.IncEnqueued()

	s.logger.Info("batch enqueued",
		zap.String("batchID", batch.ID.String()),
		zap.Int("size", len(batch.Usages)),
	)

	return &batch, nil
}

// Plazas возвращает список зарегистрированных площадок.
func (s *Service) Plazas(ctx context.Context) ([]model.Plaza, error) {
	plazas, err := s.repo.ListPlazas(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plazas: %w", err)
	}
	return plazas, nil
}

// Stats возвращает сводку по проездам, по возможности из кэша.
// Недоступность кэша не влияет на результат.
func (s *Service) Stats(ctx context.Context) (*model.UsageStats, error) {
	if s.cache != nil {
		cached, err := s.cache.GetStats(ctx)
		if err != nil {
			s.logger.Warn("stats cache read failed", zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	stats, err := s.repo.UsageStats(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}

	if s.cache != nil && s.statsTTL > 0 {
		if err := s.cache.SetStats(ctx, stats, s.statsTTL); err != nil {
			s.logger.Warn("stats cache write failed", zap.Error(err))
		}
	}

	return stats, nil
}

func distinctPlazaIDs(usages []model.UsageInput) []int64 {
	seen := make(map[int64]struct{}, len(usages))
	ids := make([]int64, 0, len(usages))
	for _, u := range usages {
		if _, ok := seen[u.PlazaID]; ok {
			continue
		}
		seen[u.PlazaID] = struct{}{}
		ids = append(ids, u.PlazaID)
	}
	return ids
}
