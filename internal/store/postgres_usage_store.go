package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/tslm9/logostamp/internal/domain"
)

const batchLogSchemaSQL = `
CREATE TABLE IF NOT EXISTS batch_logs (
	batch_id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	images_processed INT NOT NULL,
	images_skipped INT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(ctx context.Context, dsn string) (*PostgresUsageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresUsageStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresUsageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, batchLogSchemaSQL); err != nil {
		return fmt.Errorf("ensure batch_logs schema: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Close() error {
	return s.db.Close()
}

func (s *PostgresUsageStore) CreateBatchLog(ctx context.Context, entry domain.BatchLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO batch_logs (batch_id, user_id, images_processed, images_skipped, pixels_processed, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.BatchID,
		entry.UserID,
		entry.ImagesProcessed,
		entry.ImagesSkipped,
		entry.PixelsProcessed,
		entry.ComputeTimeMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch log: %w", err)
	}

	return nil
}
