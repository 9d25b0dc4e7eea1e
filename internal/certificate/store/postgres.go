package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"verdant/internal/certificate"
	id "verdant/pkg/domain"
	"verdant/pkg/platform/sentinel"
)

// Postgres persists certificates and review decisions. State transitions use
// conditional UPDATEs so concurrent claimers resolve in the database, and the
// decisions table's primary key keeps the one-decision invariant even if two
// service instances race.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed certificate store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, cert *certificate.Certificate) error {
	query := `
		INSERT INTO certificates (id, parent_id, producer_id, facility, amount, carbon_intensity, state, submitted_at)
		VALUES ($1, NULLIF($2, '00000000-0000-0000-0000-000000000000')::uuid, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		cert.ID.String(),
		cert.ParentID.String(),
		cert.ProducerID.String(),
		cert.Facility,
		cert.Amount,
		cert.CarbonIntensity,
		string(cert.State),
		cert.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, certID id.CertificateID) (*certificate.Certificate, error) {
	query := `
		SELECT id, COALESCE(parent_id::text, ''), producer_id, facility, amount, carbon_intensity, state, COALESCE(reviewer_id::text, ''), submitted_at
		FROM certificates WHERE id = $1
	`
	return scanCertificate(s.db.QueryRowContext(ctx, query, certID.String()))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*certificate.Certificate, error) {
	var (
		cert        certificate.Certificate
		rawID       string
		rawParent   string
		rawProducer string
		rawState    string
		rawReviewer string
	)
	err := row.Scan(&rawID, &rawParent, &rawProducer, &cert.Facility, &cert.Amount,
		&cert.CarbonIntensity, &rawState, &rawReviewer, &cert.SubmittedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan certificate: %w", err)
	}

	certID, err := id.ParseCertificateID(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored certificate id: %w", err)
	}
	cert.ID = certID
	if rawParent != "" {
		parentID, err := id.ParseCertificateID(rawParent)
		if err != nil {
			return nil, fmt.Errorf("stored parent id: %w", err)
		}
		cert.ParentID = parentID
	}
	producerID, err := id.ParseActorID(rawProducer)
	if err != nil {
		return nil, fmt.Errorf("stored producer id: %w", err)
	}
	cert.ProducerID = producerID
	if rawReviewer != "" {
		reviewerID, err := id.ParseActorID(rawReviewer)
		if err != nil {
			return nil, fmt.Errorf("stored reviewer id: %w", err)
		}
		cert.ReviewerID = reviewerID
	}
	cert.State = certificate.State(rawState)
	return &cert, nil
}

// ClaimReview is the single atomic claim: the conditional UPDATE succeeds for
// exactly one concurrent caller. Losers inspect the current state to report
// the right conflict.
func (s *Postgres) ClaimReview(ctx context.Context, certID id.CertificateID, certifierID id.ActorID) error {
	query := `
		UPDATE certificates SET state = $1, reviewer_id = $2
		WHERE id = $3 AND state = $4
	`
	res, err := s.db.ExecContext(ctx, query,
		string(certificate.StateUnderReview),
		certifierID.String(),
		certID.String(),
		string(certificate.StatePending),
	)
	if err != nil {
		return fmt.Errorf("claim review: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim review: %w", err)
	}
	if affected == 1 {
		return nil
	}

	cert, err := s.Get(ctx, certID)
	if err != nil {
		return err
	}
	if cert.State == certificate.StateUnderReview {
		return sentinel.ErrConflict
	}
	return sentinel.ErrInvalidState
}

// Conclude writes the decision and the final state in one transaction. The
// decisions primary key makes the second writer fail, so exactly one
// ReviewDecision ever exists per certificate.
func (s *Postgres) Conclude(ctx context.Context, decision *certificate.ReviewDecision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conclude: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	checklist, err := json.Marshal(decision.Checklist)
	if err != nil {
		return fmt.Errorf("conclude: marshal checklist: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE certificates SET state = $1
		WHERE id = $2 AND state = $3
	`,
		string(decision.Decision.CertificateState()),
		decision.CertificateID.String(),
		string(certificate.StateUnderReview),
	)
	if err != nil {
		return fmt.Errorf("conclude: update state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conclude: update state: %w", err)
	}
	if affected == 0 {
		cert, getErr := s.Get(ctx, decision.CertificateID)
		if getErr != nil {
			return getErr
		}
		if cert.State.Concluded() {
			return sentinel.ErrConflict
		}
		return sentinel.ErrInvalidState
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO review_decisions (certificate_id, certifier_id, checklist, score, decision, comment, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		decision.CertificateID.String(),
		decision.CertifierID.String(),
		checklist,
		decision.Score,
		string(decision.Decision),
		decision.Comment,
		decision.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("conclude: insert decision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conclude: commit: %w", err)
	}
	return nil
}

func (s *Postgres) GetDecision(ctx context.Context, certID id.CertificateID) (*certificate.ReviewDecision, error) {
	query := `
		SELECT certificate_id, certifier_id, checklist, score, decision, comment, decided_at
		FROM review_decisions WHERE certificate_id = $1
	`
	var (
		decision     certificate.ReviewDecision
		rawCert      string
		rawCertifier string
		rawChecklist []byte
		rawDecision  string
	)
	err := s.db.QueryRowContext(ctx, query, certID.String()).Scan(
		&rawCert, &rawCertifier, &rawChecklist, &decision.Score, &rawDecision,
		&decision.Comment, &decision.DecidedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get decision: %w", err)
	}

	parsedCert, err := id.ParseCertificateID(rawCert)
	if err != nil {
		return nil, fmt.Errorf("stored certificate id: %w", err)
	}
	decision.CertificateID = parsedCert
	parsedCertifier, err := id.ParseActorID(rawCertifier)
	if err != nil {
		return nil, fmt.Errorf("stored certifier id: %w", err)
	}
	decision.CertifierID = parsedCertifier
	decision.Decision = certificate.Decision(rawDecision)
	if err := json.Unmarshal(rawChecklist, &decision.Checklist); err != nil {
		return nil, fmt.Errorf("stored checklist: %w", err)
	}
	return &decision, nil
}

func (s *Postgres) ListByProducer(ctx context.Context, producerID id.ActorID) ([]*certificate.Certificate, error) {
	query := `
		SELECT id, COALESCE(parent_id::text, ''), producer_id, facility, amount, carbon_intensity, state, COALESCE(reviewer_id::text, ''), submitted_at
		FROM certificates WHERE producer_id = $1 ORDER BY submitted_at
	`
	return s.list(ctx, query, producerID.String())
}

func (s *Postgres) ListByState(ctx context.Context, state certificate.State) ([]*certificate.Certificate, error) {
	query := `
		SELECT id, COALESCE(parent_id::text, ''), producer_id, facility, amount, carbon_intensity, state, COALESCE(reviewer_id::text, ''), submitted_at
		FROM certificates WHERE state = $1 ORDER BY submitted_at
	`
	return s.list(ctx, query, string(state))
}

func (s *Postgres) list(ctx context.Context, query string, arg any) ([]*certificate.Certificate, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var certs []*certificate.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, rows.Err()
}
