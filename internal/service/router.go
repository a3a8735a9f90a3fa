package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/tollgate/internal/metrics"
	"github.com/mmeshcher/tollgate/internal/model"
)

// BulkThreshold задаёт наибольший размер пакета, который пишется транзакционно.
const BulkThreshold = 100

// Strategy определяет способ записи пакета.
type Strategy string

const (
	StrategyDirect Strategy = "direct"
	StrategyBulk   Strategy = "bulk"
)

// DirectWriter записывает записи в одной транзакции.
type DirectWriter interface {
	InsertUsages(ctx context.Context, usages []model.UsageInput) ([]int64, error)
}

// BulkLoader загружает записи через потоковое копирование.
type BulkLoader interface {
	CopyUsages(ctx context.Context, usages []model.UsageInput) (int, error)
}

// RouteResult содержит выбранную стратегию и число записанных строк.
type RouteResult struct {
	Strategy Strategy
	Written  int
}

// Router выбирает способ записи пакета по его размеру.
type Router struct {
	direct  DirectWriter
	bulk    BulkLoader
	metrics *metrics.Metrics
}

// NewRouter создаёт маршрутизатор пакетов.
func NewRouter(direct DirectWriter, bulk BulkLoader, m *metrics.Metrics) *Router {
	return &Router{direct: direct, bulk: bulk, metrics: m}
}

// StrategyFor возвращает стратегию записи для пакета из n записей.
func StrategyFor(n int) Strategy {
	if n > BulkThreshold {
		return StrategyBulk
	}
	return StrategyDirect
}

// Route записывает usages выбранным способом, сохраняя их порядок.
// Ошибка записи возвращается вызывающему без повторов.
func (r *Router) Route(ctx context.Context, usages []model.UsageInput) (RouteResult, error) {
	res := RouteResult{Strategy: StrategyFor(len(usages))}
	if len(usages) == 0 {
		return res, nil
	}

	switch res.Strategy {
	case StrategyBulk:
		n, err := r.bulk.CopyUsages(ctx, usages)
		res.Written = n
		r.metrics.AddWritten(string(res.Strategy), n)
		if err != nil {
			return res, fmt.Errorf("bulk load: %w", err)
		}
	default:
		ids, err := r.direct.InsertUsages(ctx, usages)
		if err != nil {
			return res, fmt.Errorf("direct write: %w", err)
		}
		res.Written = len(ids)
		r.metrics.AddWritten(string(res.Strategy), len(ids))
	}

	return res, nil
}
