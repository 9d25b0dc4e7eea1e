package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"verdant/internal/credit"
	"verdant/internal/ledger"
	id "verdant/pkg/domain"
	"verdant/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// Postgres persists the credit mirror. The credit_batches table carries a
// unique constraint on certificate_id, so a raced double mint resolves to a
// conflict in the database. Transfers and retirements run in transactions
// with conditional UPDATEs guarding the non-negative amounts.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed credit store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func asConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return sentinel.ErrConflict
	}
	return err
}

func (s *Postgres) CreateBatch(ctx context.Context, batch *credit.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_batches (batch_id, certificate_id, producer_id, total, outstanding, mint_tx_ref, minted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		batch.BatchID.String(),
		batch.CertificateID.String(),
		batch.ProducerID.String(),
		batch.Total,
		batch.Outstanding,
		string(batch.MintTxRef),
		batch.MintedAt,
	)
	if err != nil {
		return fmt.Errorf("create batch: %w", asConflict(err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_holdings (batch_id, holder_id, amount)
		VALUES ($1, $2, $3)
	`, batch.BatchID.String(), batch.ProducerID.String(), batch.Total)
	if err != nil {
		return fmt.Errorf("seed producer holding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create batch: %w", err)
	}
	return nil
}

func (s *Postgres) GetBatch(ctx context.Context, batchID id.BatchID) (*credit.Batch, error) {
	query := `
		SELECT batch_id, certificate_id, producer_id, total, outstanding, mint_tx_ref, minted_at
		FROM credit_batches WHERE batch_id = $1
	`
	return scanBatch(s.db.QueryRowContext(ctx, query, batchID.String()))
}

func (s *Postgres) GetBatchByCertificate(ctx context.Context, certID id.CertificateID) (*credit.Batch, error) {
	query := `
		SELECT batch_id, certificate_id, producer_id, total, outstanding, mint_tx_ref, minted_at
		FROM credit_batches WHERE certificate_id = $1
	`
	return scanBatch(s.db.QueryRowContext(ctx, query, certID.String()))
}

func (s *Postgres) ListBatches(ctx context.Context) ([]*credit.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, certificate_id, producer_id, total, outstanding, mint_tx_ref, minted_at
		FROM credit_batches ORDER BY minted_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*credit.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, rows.Err()
}

func (s *Postgres) ApplyTransfer(ctx context.Context, batchID id.BatchID, from, to id.ActorID, amount int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE credit_holdings SET amount = amount - $3
		WHERE batch_id = $1 AND holder_id = $2 AND amount >= $3
	`, batchID.String(), from.String(), amount)
	if err != nil {
		return fmt.Errorf("debit sender: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit sender: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("holding of %s in batch %s below transfer amount: %w", from, batchID, sentinel.ErrConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_holdings (batch_id, holder_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (batch_id, holder_id) DO UPDATE SET amount = credit_holdings.amount + EXCLUDED.amount
	`, batchID.String(), to.String(), amount)
	if err != nil {
		return fmt.Errorf("credit recipient: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	return nil
}

func (s *Postgres) ApplyRetirement(ctx context.Context, rec *credit.Retirement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retirement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE credit_batches SET outstanding = outstanding - $2
		WHERE batch_id = $1 AND outstanding >= $2
	`, rec.BatchID.String(), rec.Amount)
	if err != nil {
		return fmt.Errorf("reduce outstanding: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reduce outstanding: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("retirement exceeds outstanding credits of batch %s: %w", rec.BatchID, sentinel.ErrConflict)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE credit_holdings SET amount = amount - $3
		WHERE batch_id = $1 AND holder_id = $2 AND amount >= $3
	`, rec.BatchID.String(), rec.HolderID.String(), rec.Amount)
	if err != nil {
		return fmt.Errorf("debit holder: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit holder: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("holding of %s in batch %s below retirement amount: %w", rec.HolderID, rec.BatchID, sentinel.ErrConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_retirements (retirement_id, batch_id, holder_id, amount, beneficiary, tx_ref, retired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		rec.RetirementID.String(),
		rec.BatchID.String(),
		rec.HolderID.String(),
		rec.Amount,
		rec.Beneficiary,
		string(rec.TxRef),
		rec.RetiredAt,
	)
	if err != nil {
		return fmt.Errorf("record retirement: %w", asConflict(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit retirement: %w", err)
	}
	return nil
}

func (s *Postgres) HoldingOf(ctx context.Context, batchID id.BatchID, holderID id.ActorID) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		SELECT amount FROM credit_holdings WHERE batch_id = $1 AND holder_id = $2
	`, batchID.String(), holderID.String()).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load holding: %w", err)
	}
	return amount, nil
}

func (s *Postgres) HoldingsOf(ctx context.Context, holderID id.ActorID) ([]*credit.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, holder_id, amount FROM credit_holdings
		WHERE holder_id = $1 AND amount > 0 ORDER BY batch_id
	`, holderID.String())
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()
	return scanHoldings(rows)
}

func (s *Postgres) ListHoldings(ctx context.Context, batchID id.BatchID) ([]*credit.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, holder_id, amount FROM credit_holdings
		WHERE batch_id = $1 AND amount > 0 ORDER BY holder_id
	`, batchID.String())
	if err != nil {
		return nil, fmt.Errorf("list batch holdings: %w", err)
	}
	defer rows.Close()
	return scanHoldings(rows)
}

func (s *Postgres) ListRetirements(ctx context.Context, batchID id.BatchID) ([]*credit.Retirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT retirement_id, batch_id, holder_id, amount, beneficiary, tx_ref, retired_at
		FROM credit_retirements WHERE batch_id = $1 ORDER BY retired_at
	`, batchID.String())
	if err != nil {
		return nil, fmt.Errorf("list retirements: %w", err)
	}
	defer rows.Close()
	return scanRetirements(rows)
}

func (s *Postgres) RetirementsOf(ctx context.Context, holderID id.ActorID) ([]*credit.Retirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT retirement_id, batch_id, holder_id, amount, beneficiary, tx_ref, retired_at
		FROM credit_retirements WHERE holder_id = $1 ORDER BY retired_at
	`, holderID.String())
	if err != nil {
		return nil, fmt.Errorf("list holder retirements: %w", err)
	}
	defer rows.Close()
	return scanRetirements(rows)
}

func (s *Postgres) SaveFailedIssuance(ctx context.Context, failure *credit.FailedIssuance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_issuances (certificate_id, kind, reason, attempts, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (certificate_id) DO UPDATE
		SET kind = EXCLUDED.kind, reason = EXCLUDED.reason,
		    attempts = EXCLUDED.attempts, last_attempt_at = EXCLUDED.last_attempt_at
	`,
		failure.CertificateID.String(),
		string(failure.Kind),
		failure.Reason,
		failure.Attempts,
		failure.LastAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("save failed issuance: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteFailedIssuance(ctx context.Context, certID id.CertificateID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM failed_issuances WHERE certificate_id = $1`, certID.String())
	if err != nil {
		return fmt.Errorf("delete failed issuance: %w", err)
	}
	return nil
}

func (s *Postgres) ListFailedIssuances(ctx context.Context) ([]*credit.FailedIssuance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT certificate_id, kind, reason, attempts, last_attempt_at
		FROM failed_issuances ORDER BY last_attempt_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list failed issuances: %w", err)
	}
	defer rows.Close()

	var out []*credit.FailedIssuance
	for rows.Next() {
		var (
			failure credit.FailedIssuance
			certRaw string
			kindRaw string
		)
		if err := rows.Scan(&certRaw, &kindRaw, &failure.Reason, &failure.Attempts, &failure.LastAttemptAt); err != nil {
			return nil, fmt.Errorf("scan failed issuance: %w", err)
		}
		certID, err := id.ParseCertificateID(certRaw)
		if err != nil {
			return nil, fmt.Errorf("scan failed issuance: %w", err)
		}
		failure.CertificateID = certID
		failure.Kind = ledger.ErrorKind(kindRaw)
		out = append(out, &failure)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*credit.Batch, error) {
	var (
		batch   credit.Batch
		rawID   string
		rawCert string
		rawProd string
		rawRef  string
	)
	err := row.Scan(&rawID, &rawCert, &rawProd, &batch.Total, &batch.Outstanding, &rawRef, &batch.MintedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	if batch.BatchID, err = id.ParseBatchID(rawID); err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	if batch.CertificateID, err = id.ParseCertificateID(rawCert); err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	if batch.ProducerID, err = id.ParseActorID(rawProd); err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	batch.MintTxRef = ledger.TxRef(rawRef)
	return &batch, nil
}

func scanHoldings(rows *sql.Rows) ([]*credit.Holding, error) {
	var out []*credit.Holding
	for rows.Next() {
		var (
			holding   credit.Holding
			rawBatch  string
			rawHolder string
		)
		if err := rows.Scan(&rawBatch, &rawHolder, &holding.Amount); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		batchID, err := id.ParseBatchID(rawBatch)
		if err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		holderID, err := id.ParseActorID(rawHolder)
		if err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		holding.BatchID = batchID
		holding.HolderID = holderID
		out = append(out, &holding)
	}
	return out, rows.Err()
}

func scanRetirements(rows *sql.Rows) ([]*credit.Retirement, error) {
	var out []*credit.Retirement
	for rows.Next() {
		var (
			rec       credit.Retirement
			rawID     string
			rawBatch  string
			rawHolder string
			rawRef    string
		)
		if err := rows.Scan(&rawID, &rawBatch, &rawHolder, &rec.Amount, &rec.Beneficiary, &rawRef, &rec.RetiredAt); err != nil {
			return nil, fmt.Errorf("scan retirement: %w", err)
		}
		retID, err := id.ParseRetirementID(rawID)
		if err != nil {
			return nil, fmt.Errorf("scan retirement: %w", err)
		}
		batchID, err := id.ParseBatchID(rawBatch)
		if err != nil {
			return nil, fmt.Errorf("scan retirement: %w", err)
		}
		holderID, err := id.ParseActorID(rawHolder)
		if err != nil {
			return nil, fmt.Errorf("scan retirement: %w", err)
		}
		rec.RetirementID = retID
		rec.BatchID = batchID
		rec.HolderID = holderID
		rec.TxRef = ledger.TxRef(rawRef)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
