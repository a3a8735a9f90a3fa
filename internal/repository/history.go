package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmeshcher/tollgate/internal/model"
)

// InsertReportHistory сохраняет запись журнала выполнения отчёта.
func (r *PostgresRepository) InsertReportHistory(ctx context.Context, e model.ReportHistoryEntry) error {
	var result any
	if len(e.ResultJSON) > 0 {
		result = string(e.ResultJSON)
	}

	return r.withConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO report_history
			   (kind, request, result, duration_ms, correlation_id, status, error_message, completed_at)
			 VALUES ($1, $2::jsonb, $3::jsonb, $4, $5, $6, $7, $8)`,
			string(e.Kind), string(e.RequestJSON), result, e.DurationMs,
			e.CorrelationID, string(e.Status), e.ErrorMessage, e.CompletedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert report history: %w", err)
		}
		return nil
	})
}
