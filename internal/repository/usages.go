package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmeshcher/tollgate/internal/model"
)

const (
	// CopyChunkSize ограничивает число строк в одной операции COPY.
	CopyChunkSize = 10000
	// CopyChunkTimeout ограничивает время загрузки одного блока.
	CopyChunkTimeout = 300 * time.Second
)

var usageColumns = []string{"used_at", "plaza_id", "city", "state", "amount_cents", "vehicle_class"}

// InsertUsages сохраняет записи в одной транзакции и возвращает их идентификаторы.
// При ошибке не сохраняется ни одна запись.
func (r *PostgresRepository) InsertUsages(ctx context.Context, usages []model.UsageInput) ([]int64, error) {
	var ids []int64

	err := withRetry(ctx, func() error {
		return r.withConn(ctx, func(conn *pgxpool.Conn) error {
			var err error
			ids, err = insertUsagesTx(ctx, conn, usages)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func insertUsagesTx(ctx context.Context, conn *pgxpool.Conn, usages []model.UsageInput) ([]int64, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range usages {
		batch.Queue(
			`INSERT INTO usages (used_at, plaza_id, city, state, amount_cents, vehicle_class)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			u.UsedAt.UTC(), u.PlazaID, u.City, u.State, model.AmountToCents(u.AmountPaid), int16(u.VehicleClass),
		)
	}

	results := tx.SendBatch(ctx, batch)

	ids := make([]int64, 0, len(usages))
	for range usages {
		var id int64
		if err := results.QueryRow().Scan(&id); err != nil {
			results.Close()
			return nil, fmt.Errorf("insert usage: %w", err)
		}
		ids = append(ids, id)
	}

	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return ids, nil
}

// CopyUsages загружает записи через COPY блоками по CopyChunkSize строк.
// Каждый блок загружается в отдельной транзакции со своим ограничением по
// времени. При ошибке уже загруженные блоки остаются в базе, а возвращаемое
// число отражает их размер.
func (r *PostgresRepository) CopyUsages(ctx context.Context, usages []model.UsageInput) (int, error) {
	written := 0

	for i, chunk := range chunkUsages(usages, CopyChunkSize) {
		n, err := r.copyChunk(ctx, chunk)
		written += int(n)
		if err != nil {
			return written, fmt.Errorf("copy chunk %d: %w", i, err)
		}
	}

	return written, nil
}

func (r *PostgresRepository) copyChunk(ctx context.Context, chunk []model.UsageInput) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, CopyChunkTimeout)
	defer cancel()

	var n int64
	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		var err error
		n, err = conn.CopyFrom(ctx,
			pgx.Identifier{"usages"},
			usageColumns,
			pgx.CopyFromSlice(len(chunk), func(i int) ([]any, error) {
				u := chunk[i]
				return []any{
					u.UsedAt.UTC(), u.PlazaID, u.City, u.State,
					model.AmountToCents(u.AmountPaid), int16(u.VehicleClass),
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy from: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

func chunkUsages(usages []model.UsageInput, size int) [][]model.UsageInput {
	if size <= 0 || len(usages) == 0 {
		return nil
	}

	chunks := make([][]model.UsageInput, 0, (len(usages)+size-1)/size)
	for start := 0; start < len(usages); start += size {
		end := min(start+size, len(usages))
		chunks = append(chunks, usages[start:end])
	}
	return chunks
}
