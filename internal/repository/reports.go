package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmeshcher/tollgate/internal/model"
)

// HourlyRevenueGroups суммирует проезды по городу, штату и часу (UTC) в
// интервале [From, To]. Фильтр City ищет подстроку без учёта регистра.
func (r *PostgresRepository) HourlyRevenueGroups(ctx context.Context, f model.HourlyRevenueFilter) ([]model.HourlyRevenueGroup, error) {
	var groups []model.HourlyRevenueGroup

	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT city, state, date_trunc('hour', used_at AT TIME ZONE 'UTC') AS hour,
			        SUM(amount_cents), COUNT(*)
			 FROM usages
			 WHERE used_at >= $1 AND used_at <= $2
			   AND ($3::text = '' OR strpos(lower(city), lower($3::text)) > 0)
			 GROUP BY city, state, hour
			 ORDER BY city, hour, state`,
			f.From.UTC(), f.To.UTC(), f.City,
		)
		if err != nil {
			return fmt.Errorf("select hourly revenue: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				g    model.HourlyRevenueGroup
				hour time.Time
			)
			if err := rows.Scan(&g.City, &g.State, &hour, &g.TotalCents, &g.Count); err != nil {
				return fmt.Errorf("scan hourly revenue: %w", err)
			}
			g.Hour = time.Date(hour.Year(), hour.Month(), hour.Day(), hour.Hour(), 0, 0, 0, time.UTC)
			groups = append(groups, g)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return groups, nil
}

// PlazaRevenueGroups суммирует выручку каждой площадки в полуоткрытом интервале [from, to).
func (r *PostgresRepository) PlazaRevenueGroups(ctx context.Context, from, to time.Time) ([]model.PlazaRevenueGroup, error) {
	var groups []model.PlazaRevenueGroup

	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT u.plaza_id, p.name, p.city, p.state, SUM(u.amount_cents), COUNT(*)
			 FROM usages u
			 JOIN plazas p ON p.id = u.plaza_id
			 WHERE u.used_at >= $1 AND u.used_at < $2
			 GROUP BY u.plaza_id, p.name, p.city, p.state
			 ORDER BY u.plaza_id`,
			from.UTC(), to.UTC(),
		)
		if err != nil {
			return fmt.Errorf("select plaza revenue: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var g model.PlazaRevenueGroup
			if err := rows.Scan(&g.PlazaID, &g.PlazaName, &g.City, &g.State, &g.TotalCents, &g.Count); err != nil {
				return fmt.Errorf("scan plaza revenue: %w", err)
			}
			groups = append(groups, g)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return groups, nil
}

// VehicleMixGroups считает проезды по площадке и категории транспорта в интервале [From, To].
func (r *PostgresRepository) VehicleMixGroups(ctx context.Context, f model.VehicleMixFilter) ([]model.PlazaClassGroup, error) {
	var groups []model.PlazaClassGroup

	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT u.plaza_id, p.name, p.city, p.state, u.vehicle_class, COUNT(*), SUM(u.amount_cents)
			 FROM usages u
			 JOIN plazas p ON p.id = u.plaza_id
			 WHERE u.used_at >= $1 AND u.used_at <= $2
			   AND ($3::bigint IS NULL OR u.plaza_id = $3::bigint)
			 GROUP BY u.plaza_id, p.name, p.city, p.state, u.vehicle_class
			 ORDER BY u.plaza_id, u.vehicle_class`,
			f.From.UTC(), f.To.UTC(), f.PlazaID,
		)
		if err != nil {
			return fmt.Errorf("select vehicle mix: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				g     model.PlazaClassGroup
				class int16
			)
			if err := rows.Scan(&g.PlazaID, &g.PlazaName, &g.City, &g.State, &class, &g.Count, &g.TotalCents); err != nil {
				return fmt.Errorf("scan vehicle mix: %w", err)
			}
			g.Class = model.VehicleClass(class)
			groups = append(groups, g)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return groups, nil
}
