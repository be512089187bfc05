package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arcana/api/internal/database"
)

// PostgresSink stores records in reading_telemetry
type PostgresSink struct {
	db *database.Postgres
}

func NewPostgresSink(db *database.Postgres) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Emit(ctx context.Context, rec Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	// write-once: a replayed request id never overwrites the first record
	query := `
		INSERT INTO reading_telemetry
			(request_id, requester_id, status, reason, backend_id, reservation_state, record, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO NOTHING
	`
	_, err = s.db.Pool().Exec(ctx, query,
		rec.RequestID,
		rec.RequesterID,
		string(rec.Status),
		rec.Reason,
		rec.BackendID,
		string(rec.ReservationState),
		doc,
		rec.Signature,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// Get loads one stored record
func (s *PostgresSink) Get(ctx context.Context, requestID string) (Record, error) {
	var doc []byte
	err := s.db.Pool().QueryRow(ctx, `SELECT record FROM reading_telemetry WHERE request_id = $1`, requestID).Scan(&doc)
	if err != nil {
		return Record{}, fmt.Errorf("failed to load telemetry %s: %w", requestID, err)
	}
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode telemetry %s: %w", requestID, err)
	}
	return rec, nil
}
