package report

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/tollgate/internal/model"
	"github.com/mmeshcher/tollgate/internal/pagination"
)

var hundred = decimal.NewFromInt(100)

func (a *Aggregator) hourlyRevenue(ctx context.Context, req HourlyRevenueRequest) (Rows[HourlyRevenueRow], int64, error) {
	groups, err := a.store.HourlyRevenueGroups(ctx, model.HourlyRevenueFilter{
		From: req.StartDate,
		To:   req.EndDate,
		City: strings.TrimSpace(req.City),
	})
	if err != nil {
		return Rows[HourlyRevenueRow]{}, 0, fmt.Errorf("hourly revenue groups: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Rows[HourlyRevenueRow]{}, 0, err
	}

	slices.SortStableFunc(groups, func(x, y model.HourlyRevenueGroup) int {
		return cmp.Or(
			cmp.Compare(x.City, y.City),
			x.Hour.Compare(y.Hour),
			cmp.Compare(x.State, y.State),
		)
	})

	rows := make([]HourlyRevenueRow, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, HourlyRevenueRow{
			City:        g.City,
			State:       g.State,
			Hour:        g.Hour,
			TotalAmount: model.CentsToAmount(g.TotalCents),
			UsageCount:  g.Count,
		})
	}

	return paged(rows, req.Params)
}

func (a *Aggregator) topPlazas(ctx context.Context, req TopPlazasRequest) (Rows[TopPlazaRow], int64, error) {
	from, to := req.monthRange()

	groups, err := a.store.PlazaRevenueGroups(ctx, from, to)
	if err != nil {
		return Rows[TopPlazaRow]{}, 0, fmt.Errorf("plaza revenue groups: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Rows[TopPlazaRow]{}, 0, err
	}

	// Стабильная сортировка сохраняет порядок группировки при равных суммах.
	slices.SortStableFunc(groups, func(x, y model.PlazaRevenueGroup) int {
		return cmp.Compare(y.TotalCents, x.TotalCents)
	})

	if !req.Params.Enabled() {
		groups = groups[:min(len(groups), req.limit())]
	}

	ranked := make([]TopPlazaRow, 0, len(groups))
	for i, g := range groups {
		ranked = append(ranked, TopPlazaRow{
			Rank:        i + 1,
			PlazaID:     g.PlazaID,
			PlazaName:   g.PlazaName,
			City:        g.City,
			State:       g.State,
			TotalAmount: model.CentsToAmount(g.TotalCents),
			UsageCount:  g.Count,
		})
	}

	return paged(ranked, req.Params)
}

func (a *Aggregator) vehicleMix(ctx context.Context, req VehicleMixRequest) (Rows[VehicleMixRow], int64, error) {
	groups, err := a.store.VehicleMixGroups(ctx, model.VehicleMixFilter{
		From:    req.StartDate,
		To:      req.EndDate,
		PlazaID: req.PlazaID,
	})
	if err != nil {
		return Rows[VehicleMixRow]{}, 0, fmt.Errorf("vehicle mix groups: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Rows[VehicleMixRow]{}, 0, err
	}

	rows := groupByPlaza(groups)
	if err := ctx.Err(); err != nil {
		return Rows[VehicleMixRow]{}, 0, err
	}

	slices.SortStableFunc(rows, func(x, y VehicleMixRow) int {
		return cmp.Or(
			cmp.Compare(x.City, y.City),
			cmp.Compare(x.PlazaName, y.PlazaName),
			cmp.Compare(x.PlazaID, y.PlazaID),
		)
	})

	return paged(rows, req.Params)
}

// groupByPlaza сворачивает строки (площадка, категория) в одну строку на
// площадку с долями категорий в порядке их номеров.
func groupByPlaza(groups []model.PlazaClassGroup) []VehicleMixRow {
	index := make(map[int64]int)
	var rows []VehicleMixRow

	for _, g := range groups {
		i, ok := index[g.PlazaID]
		if !ok {
			i = len(rows)
			index[g.PlazaID] = i
			rows = append(rows, VehicleMixRow{
				PlazaID:   g.PlazaID,
				PlazaName: g.PlazaName,
				City:      g.City,
				State:     g.State,
			})
		}
		rows[i].TotalUsages += g.Count
		rows[i].Classes = append(rows[i].Classes, VehicleClassShare{
			Class:       g.Class,
			Count:       g.Count,
			TotalAmount: model.CentsToAmount(g.TotalCents),
		})
	}

	for i := range rows {
		total := decimal.NewFromInt(rows[i].TotalUsages)
		slices.SortStableFunc(rows[i].Classes, func(x, y VehicleClassShare) int {
			return cmp.Compare(x.Class, y.Class)
		})
		for j := range rows[i].Classes {
			share := &rows[i].Classes[j]
			if total.IsZero() {
				share.Percentage = decimal.Zero
				continue
			}
			share.Percentage = decimal.NewFromInt(share.Count).Mul(hundred).Div(total).Round(2)
		}
	}

	if rows == nil {
		rows = []VehicleMixRow{}
	}
	return rows
}

// paged применяет пагинацию, если она запрошена. Общее число строк
// считается до нарезки.
func paged[T any](rows []T, p pagination.Params) (Rows[T], int64, error) {
	if !p.Enabled() {
		return Rows[T]{Items: rows}, int64(len(rows)), nil
	}

	items, meta := pagination.Paginate(rows, p)
	return Rows[T]{Items: items, Pagination: &meta}, meta.TotalRecords, nil
}
