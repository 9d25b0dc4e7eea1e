package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"verdant/internal/identity"
	id "verdant/pkg/domain"
	"verdant/pkg/platform/sentinel"
)

// Postgres persists actors in PostgreSQL. Uniqueness invariants live in the
// schema; unique violations surface as sentinel.ErrConflict.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed actor store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const uniqueViolation = "23505"

func asConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", pqErr.Constraint, sentinel.ErrConflict)
	}
	return err
}

func (s *Postgres) Save(ctx context.Context, actor *identity.Actor) error {
	query := `
		INSERT INTO actors (id, identity_key, role, org_name, email, accreditation_id, ledger_role_granted, suspended, registered_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		actor.ID.String(),
		actor.IdentityKey,
		string(actor.Role),
		actor.OrgName,
		actor.Email,
		actor.AccreditationID,
		actor.LedgerRoleGranted,
		actor.Suspended,
		actor.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("save actor: %w", asConflict(err))
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, actorID id.ActorID) (*identity.Actor, error) {
	query := `
		SELECT id, identity_key, role, org_name, email, COALESCE(accreditation_id, ''), ledger_role_granted, suspended, registered_at
		FROM actors WHERE id = $1
	`
	return s.scanActor(s.db.QueryRowContext(ctx, query, actorID.String()))
}

func (s *Postgres) FindByIdentityKey(ctx context.Context, key string) (*identity.Actor, error) {
	query := `
		SELECT id, identity_key, role, org_name, email, COALESCE(accreditation_id, ''), ledger_role_granted, suspended, registered_at
		FROM actors WHERE identity_key = $1
	`
	return s.scanActor(s.db.QueryRowContext(ctx, query, key))
}

func (s *Postgres) scanActor(row *sql.Row) (*identity.Actor, error) {
	var (
		actor   identity.Actor
		rawID   string
		rawRole string
	)
	err := row.Scan(&rawID, &actor.IdentityKey, &rawRole, &actor.OrgName, &actor.Email,
		&actor.AccreditationID, &actor.LedgerRoleGranted, &actor.Suspended, &actor.RegisteredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan actor: %w", err)
	}
	parsed, err := id.ParseActorID(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored actor id: %w", err)
	}
	actor.ID = parsed
	actor.Role = identity.Role(rawRole)
	return &actor, nil
}

func (s *Postgres) SetLedgerRoleGranted(ctx context.Context, actorID id.ActorID, granted bool) error {
	return s.setFlag(ctx, "ledger_role_granted", actorID, granted)
}

func (s *Postgres) SetSuspended(ctx context.Context, actorID id.ActorID, suspended bool) error {
	return s.setFlag(ctx, "suspended", actorID, suspended)
}

func (s *Postgres) setFlag(ctx context.Context, column string, actorID id.ActorID, value bool) error {
	// column is one of two fixed names above, never caller input.
	query := fmt.Sprintf("UPDATE actors SET %s = $1 WHERE id = $2", column)
	res, err := s.db.ExecContext(ctx, query, value, actorID.String())
	if err != nil {
		return fmt.Errorf("update actor %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update actor %s: %w", column, err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) List(ctx context.Context) ([]*identity.Actor, error) {
	query := `
		SELECT id, identity_key, role, org_name, email, COALESCE(accreditation_id, ''), ledger_role_granted, suspended, registered_at
		FROM actors ORDER BY registered_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()

	var actors []*identity.Actor
	for rows.Next() {
		var (
			actor   identity.Actor
			rawID   string
			rawRole string
		)
		if err := rows.Scan(&rawID, &actor.IdentityKey, &rawRole, &actor.OrgName, &actor.Email,
			&actor.AccreditationID, &actor.LedgerRoleGranted, &actor.Suspended, &actor.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		parsed, err := id.ParseActorID(rawID)
		if err != nil {
			return nil, fmt.Errorf("stored actor id: %w", err)
		}
		actor.ID = parsed
		actor.Role = identity.Role(rawRole)
		actors = append(actors, &actor)
	}
	return actors, rows.Err()
}
