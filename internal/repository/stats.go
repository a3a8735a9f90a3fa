package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmeshcher/tollgate/internal/model"
)

// UsageStats собирает сводку по проездам за текущие и предыдущие сутки (UTC).
func (r *PostgresRepository) UsageStats(ctx context.Context, now time.Time) (*model.UsageStats, error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)
	tomorrow := today.AddDate(0, 0, 1)

	stats := &model.UsageStats{
		ByVehicleClass: map[string]int64{},
		ByState:        map[string]int64{},
		ComputedAt:     now,
	}

	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		var avgCents float64
		err := conn.QueryRow(ctx,
			`SELECT
			   COUNT(*) FILTER (WHERE used_at >= $2 AND used_at < $3),
			   COUNT(*) FILTER (WHERE used_at >= $1 AND used_at < $2),
			   COALESCE(AVG(amount_cents) FILTER (WHERE used_at >= $2 AND used_at < $3), 0)::float8
			 FROM usages
			 WHERE used_at >= $1 AND used_at < $3`,
			yesterday, today, tomorrow,
		).Scan(&stats.TotalToday, &stats.TotalYesterday, &avgCents)
		if err != nil {
			return fmt.Errorf("select usage totals: %w", err)
		}
		stats.AverageAmountToday = model.CentsToAmount(int64(avgCents + 0.5))

		rows, err := conn.Query(ctx,
			`SELECT vehicle_class, COUNT(*) FROM usages
			 WHERE used_at >= $1 AND used_at < $2
			 GROUP BY vehicle_class`,
			today, tomorrow,
		)
		if err != nil {
			return fmt.Errorf("select usages by class: %w", err)
		}
		for rows.Next() {
			var (
				class int16
				n     int64
			)
			if err := rows.Scan(&class, &n); err != nil {
				rows.Close()
				return fmt.Errorf("scan usages by class: %w", err)
			}
			stats.ByVehicleClass[model.VehicleClass(class).String()] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		rows, err = conn.Query(ctx,
			`SELECT state, COUNT(*) FROM usages
			 WHERE used_at >= $1 AND used_at < $2
			 GROUP BY state`,
			today, tomorrow,
		)
		if err != nil {
			return fmt.Errorf("select usages by state: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				state string
				n     int64
			)
			if err := rows.Scan(&state, &n); err != nil {
				return fmt.Errorf("scan usages by state: %w", err)
			}
			stats.ByState[state] = n
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}
