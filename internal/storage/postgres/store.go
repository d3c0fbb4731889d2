package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nodewatch/internal/model"
)

// Store provides Postgres persistence for UTXO statistic records.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the txoutset_stats table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS txoutset_stats (
			best_block        TEXT PRIMARY KEY,
			height            BIGINT NOT NULL,
			transactions      BIGINT NOT NULL,
			txouts            BIGINT NOT NULL,
			bogosize          BIGINT NOT NULL,
			disk_size         BIGINT NOT NULL,
			total_amount      DOUBLE PRECISION NOT NULL,
			hash_serialized_2 TEXT NOT NULL,
			ingested_at       TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// UpsertStats inserts or updates statistic records keyed by best-block hash.
func (s *Store) UpsertStats(ctx context.Context, stats []model.StatRecord) error {
	if len(stats) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, stat := range stats {
		batch.Queue(`
			INSERT INTO txoutset_stats (
				best_block, height, transactions, txouts, bogosize,
				disk_size, total_amount, hash_serialized_2, ingested_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			ON CONFLICT (best_block)
			DO UPDATE SET
				height = EXCLUDED.height,
				transactions = EXCLUDED.transactions,
				txouts = EXCLUDED.txouts,
				bogosize = EXCLUDED.bogosize,
				disk_size = EXCLUDED.disk_size,
				total_amount = EXCLUDED.total_amount,
				hash_serialized_2 = EXCLUDED.hash_serialized_2,
				ingested_at = EXCLUDED.ingested_at,
				updated_at = now()
		`,
			stat.BestBlock,
			stat.Height,
			stat.Transactions,
			stat.TxOuts,
			stat.BogoSize,
			stat.DiskSize,
			stat.TotalAmount,
			stat.HashSerialized2,
			stat.IngestedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range stats {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestStat returns the most recently ingested record, if any.
func (s *Store) LatestStat(ctx context.Context) (model.StatRecord, bool, error) {
	var stat model.StatRecord
	row := s.pool.QueryRow(ctx, `
		SELECT best_block, height, transactions, txouts, bogosize,
		       disk_size, total_amount, hash_serialized_2, ingested_at::text
		FROM txoutset_stats
		ORDER BY ingested_at DESC
		LIMIT 1
	`)
	err := row.Scan(
		&stat.BestBlock,
		&stat.Height,
		&stat.Transactions,
		&stat.TxOuts,
		&stat.BogoSize,
		&stat.DiskSize,
		&stat.TotalAmount,
		&stat.HashSerialized2,
		&stat.IngestedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.StatRecord{}, false, nil
		}
		return model.StatRecord{}, false, err
	}
	return stat, true, nil
}
