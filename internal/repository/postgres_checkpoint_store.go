package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresCheckpointStore implements CheckpointStore on the event_checkpoints table
type PostgresCheckpointStore struct {
	db DB
}

func NewPostgresCheckpointStore(db DB) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{db: db}
}

func (s *PostgresCheckpointStore) Load(ctx context.Context, consumer string) (int64, error) {
	var position int64
	err := s.db.QueryRow(ctx, `SELECT position FROM event_checkpoints WHERE consumer = $1`, consumer).Scan(&position)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return position, nil
}

// Store never moves a checkpoint backwards
func (s *PostgresCheckpointStore) Store(ctx context.Context, consumer string, position int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO event_checkpoints (consumer, position, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (consumer) DO UPDATE SET
			position   = GREATEST(event_checkpoints.position, EXCLUDED.position),
			updated_at = NOW()`,
		consumer, position,
	)
	if err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}
