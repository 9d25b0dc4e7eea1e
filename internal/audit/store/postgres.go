package store

import (
	"context"
	"database/sql"
	"fmt"

	"verdant/internal/audit"
	id "verdant/pkg/domain"
)

// Postgres persists the trail. The table has no UPDATE or DELETE path.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Append(ctx context.Context, rec audit.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records (ts, request_id, actor_id, action, subject, detail)
		VALUES ($1, $2, NULLIF($3, '00000000-0000-0000-0000-000000000000')::uuid, $4, $5, $6)
	`,
		rec.Timestamp,
		rec.RequestID,
		rec.ActorID.String(),
		rec.Action,
		rec.Subject,
		rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (s *Postgres) ListBySubject(ctx context.Context, subject string) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, request_id, COALESCE(actor_id::text, ''), action, subject, detail
		FROM audit_records WHERE subject = $1 ORDER BY ts
	`, subject)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Postgres) ListByActor(ctx context.Context, actorID id.ActorID) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, request_id, COALESCE(actor_id::text, ''), action, subject, detail
		FROM audit_records WHERE actor_id = $1 ORDER BY ts
	`, actorID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var out []audit.Record
	for rows.Next() {
		var (
			rec      audit.Record
			rawActor string
		)
		if err := rows.Scan(&rec.Timestamp, &rec.RequestID, &rawActor, &rec.Action, &rec.Subject, &rec.Detail); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if rawActor != "" {
			actorID, err := id.ParseActorID(rawActor)
			if err != nil {
				return nil, fmt.Errorf("scan audit record: %w", err)
			}
			rec.ActorID = actorID
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
