package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/arcana/api/internal/database"
	"github.com/jackc/pgx/v5"
)

// PostgresStore keeps counters in the usage_counters table
type PostgresStore struct {
	db *database.Postgres
}

// NewPostgresStore creates a Postgres-backed counter store
func NewPostgresStore(db *database.Postgres) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Reserve(ctx context.Context, key Key, limit int) (Counters, error) {
	ensure := `
		INSERT INTO usage_counters (requester_id, period_key)
		VALUES ($1, $2)
		ON CONFLICT (requester_id, period_key) DO NOTHING
	`
	if _, err := s.db.Pool().Exec(ctx, ensure, key.RequesterID, key.PeriodKey); err != nil {
		return Counters{}, fmt.Errorf("failed to ensure counter row: %w", err)
	}

	// The row lock taken by UPDATE serializes concurrent reservations on one key
	reserve := `
		UPDATE usage_counters
		SET reserved = reserved + 1, updated_at = NOW()
		WHERE requester_id = $1 AND period_key = $2
		  AND ($3 <= 0 OR committed + reserved < $3)
		RETURNING committed, reserved
	`
	var c Counters
	err := s.db.Pool().QueryRow(ctx, reserve, key.RequesterID, key.PeriodKey, limit).Scan(&c.Committed, &c.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		current, cerr := s.Counters(ctx, key)
		if cerr != nil {
			return Counters{}, cerr
		}
		return current, ErrQuotaExceeded
	}
	if err != nil {
		return Counters{}, fmt.Errorf("failed to reserve: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Commit(ctx context.Context, key Key) error {
	query := `
		UPDATE usage_counters
		SET reserved = reserved - 1, committed = committed + 1, updated_at = NOW()
		WHERE requester_id = $1 AND period_key = $2 AND reserved > 0
	`
	return s.resolve(ctx, query, key)
}

func (s *PostgresStore) Release(ctx context.Context, key Key) error {
	query := `
		UPDATE usage_counters
		SET reserved = reserved - 1, updated_at = NOW()
		WHERE requester_id = $1 AND period_key = $2 AND reserved > 0
	`
	return s.resolve(ctx, query, key)
}

func (s *PostgresStore) resolve(ctx context.Context, query string, key Key) error {
	tag, err := s.db.Pool().Exec(ctx, query, key.RequesterID, key.PeriodKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoOutstandingReservation
	}
	return nil
}

func (s *PostgresStore) Counters(ctx context.Context, key Key) (Counters, error) {
	query := `
		SELECT committed, reserved
		FROM usage_counters
		WHERE requester_id = $1 AND period_key = $2
	`
	var c Counters
	err := s.db.Pool().QueryRow(ctx, query, key.RequesterID, key.PeriodKey).Scan(&c.Committed, &c.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return Counters{}, nil
	}
	if err != nil {
		return Counters{}, fmt.Errorf("failed to read counters: %w", err)
	}
	return c, nil
}
