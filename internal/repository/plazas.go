package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmeshcher/tollgate/internal/model"
)

// ActivePlazaIDs возвращает подмножество ids, соответствующее активным площадкам.
func (r *PostgresRepository) ActivePlazaIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	active := make(map[int64]struct{}, len(ids))
	if len(ids) == 0 {
		return active, nil
	}

	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT id FROM plazas WHERE active AND id = ANY($1)`,
			ids,
		)
		if err != nil {
			return fmt.Errorf("select active plazas: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan plaza id: %w", err)
			}
			active[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return active, nil
}

// ListPlazas возвращает все площадки, упорядоченные по штату и городу.
func (r *PostgresRepository) ListPlazas(ctx context.Context) ([]model.Plaza, error) {
	var plazas []model.Plaza

	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT id, name, city, state, active
			 FROM plazas
			 ORDER BY state, city, name`,
		)
		if err != nil {
			return fmt.Errorf("select plazas: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var p model.Plaza
			if err := rows.Scan(&p.ID, &p.Name, &p.City, &p.State, &p.Active); err != nil {
				return fmt.Errorf("scan plaza: %w", err)
			}
			plazas = append(plazas, p)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return plazas, nil
}
