// Package service implements the credit coordinator. It is the only code
// that talks to the ledger about credits, and it follows one rule
// everywhere: no local record is written until the ledger has confirmed the
// corresponding transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"verdant/internal/audit"
	"verdant/internal/certificate"
	"verdant/internal/credit"
	"verdant/internal/credit/idempotency"
	"verdant/internal/credit/metrics"
	"verdant/internal/identity"
	"verdant/internal/ledger"
	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
	"verdant/pkg/platform/sentinel"
	"verdant/pkg/requestcontext"
)

// Store is the credit mirror this service needs.
type Store interface {
	CreateBatch(ctx context.Context, batch *credit.Batch) error
	GetBatch(ctx context.Context, batchID id.BatchID) (*credit.Batch, error)
	GetBatchByCertificate(ctx context.Context, certID id.CertificateID) (*credit.Batch, error)
	ListBatches(ctx context.Context) ([]*credit.Batch, error)
	ApplyTransfer(ctx context.Context, batchID id.BatchID, from, to id.ActorID, amount int64) error
	ApplyRetirement(ctx context.Context, rec *credit.Retirement) error
	HoldingOf(ctx context.Context, batchID id.BatchID, holderID id.ActorID) (int64, error)
	HoldingsOf(ctx context.Context, holderID id.ActorID) ([]*credit.Holding, error)
	ListHoldings(ctx context.Context, batchID id.BatchID) ([]*credit.Holding, error)
	ListRetirements(ctx context.Context, batchID id.BatchID) ([]*credit.Retirement, error)
	RetirementsOf(ctx context.Context, holderID id.ActorID) ([]*credit.Retirement, error)
	SaveFailedIssuance(ctx context.Context, failure *credit.FailedIssuance) error
	DeleteFailedIssuance(ctx context.Context, certID id.CertificateID) error
	ListFailedIssuances(ctx context.Context) ([]*credit.FailedIssuance, error)
}

// Directory resolves actors, implemented by the identity service.
type Directory interface {
	Get(ctx context.Context, actorID id.ActorID) (*identity.Actor, error)
}

// CertificateSource resolves certificates, implemented by the certification
// engine.
type CertificateSource interface {
	Get(ctx context.Context, certID id.CertificateID) (*certificate.Certificate, error)
}

// AuditPublisher records credit lifecycle events on the audit trail.
type AuditPublisher interface {
	Publish(ctx context.Context, action string, actorID id.ActorID, subject string, detail string)
}

// Service coordinates mint, transfer and retirement against the ledger.
type Service struct {
	store    Store
	keys     idempotency.KeyStore
	chain    ledger.Client
	actors   Directory
	certs    CertificateSource
	audit    AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	requests chan id.CertificateID
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditPublisher sets the audit publisher.
func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// WithQueueSize overrides the issuance request buffer.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		s.requests = make(chan id.CertificateID, n)
	}
}

const defaultQueueSize = 128

// New creates the credit coordinator. The chain client should already wrap
// retry policy; this service never retries on its own.
func New(store Store, keys idempotency.KeyStore, chain ledger.Client, actors Directory, certs CertificateSource, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("credit store is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("idempotency key store is required")
	}
	if chain == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if actors == nil {
		return nil, fmt.Errorf("actor directory is required")
	}
	if certs == nil {
		return nil, fmt.Errorf("certificate source is required")
	}
	svc := &Service{
		store:    store,
		keys:     keys,
		chain:    chain,
		actors:   actors,
		certs:    certs,
		logger:   slog.Default(),
		requests: make(chan id.CertificateID, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RequestIssuance enqueues a mint for an approved certificate. It never
// blocks the caller; a full queue is recoverable through RetryIssuance.
func (s *Service) RequestIssuance(certID id.CertificateID) {
	select {
	case s.requests <- certID:
	default:
		s.logger.Warn("issuance queue full, dropping request", "certificate_id", certID)
	}
}

// Run drains the issuance queue until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case certID := <-s.requests:
			if _, err := s.IssueFromCertificate(ctx, certID); err != nil {
				if !dErrors.HasCode(err, dErrors.CodeAlreadyIssued) {
					s.logger.Error("credit issuance failed",
						"certificate_id", certID,
						"error", err,
					)
				}
			}
		}
	}
}

// IssueFromCertificate mints credits for an approved certificate, exactly
// once. The idempotency key is created before the first ledger call and
// reused verbatim on every retry, so a mint that succeeded after a lost
// response is deduplicated by the ledger rather than repeated. The local
// batch is recorded only after the ledger confirms.
func (s *Service) IssueFromCertificate(ctx context.Context, certID id.CertificateID) (*credit.Batch, error) {
	if existing, err := s.store.GetBatchByCertificate(ctx, certID); err == nil {
		return existing, dErrors.Newf(dErrors.CodeAlreadyIssued, "certificate %s already has batch %s", certID, existing.BatchID)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check for existing batch")
	}

	cert, err := s.certs.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.State != certificate.StateApproved {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition, "certificate %s is %s, issuance requires %s",
			certID, cert.State, certificate.StateApproved)
	}

	producer, err := s.actors.Get(ctx, cert.ProducerID)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.MintKey(ctx, certID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve mint idempotency key")
	}

	result, err := s.chain.Mint(ctx, key, producer.IdentityKey, cert.Amount, certID.String())
	if err != nil {
		return nil, s.recordIssuanceFailure(ctx, certID, err)
	}

	batch := &credit.Batch{
		BatchID:       result.BatchID,
		CertificateID: certID,
		ProducerID:    cert.ProducerID,
		Total:         cert.Amount,
		Outstanding:   cert.Amount,
		MintTxRef:     result.TxRef,
		MintedAt:      requestcontext.Now(ctx),
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// A concurrent issuance recorded the batch first. The ledger
			// deduplicated the mint, so this is the same batch; the caller
			// still learns its request was a duplicate.
			existing, getErr := s.store.GetBatchByCertificate(ctx, certID)
			if getErr == nil {
				return existing, dErrors.Newf(dErrors.CodeAlreadyIssued, "certificate %s already has batch %s", certID, existing.BatchID)
			}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "mint confirmed but batch record failed")
	}

	if err := s.store.DeleteFailedIssuance(ctx, certID); err != nil {
		s.logger.Warn("failed to clear issuance failure record", "certificate_id", certID, "error", err)
	}

	s.metrics.IncrementBatchesMinted(batch.Total)
	s.publishAudit(ctx, audit.ActionBatchMinted, cert.ProducerID, batch.BatchID.String(),
		fmt.Sprintf("certificate=%s amount=%d tx=%s", certID, batch.Total, batch.MintTxRef))
	s.logger.Info("credit batch minted",
		"batch_id", batch.BatchID,
		"certificate_id", certID,
		"amount", batch.Total,
	)
	return batch, nil
}

func (s *Service) recordIssuanceFailure(ctx context.Context, certID id.CertificateID, cause error) error {
	kind := ledger.KindRejected
	if ledger.IsTransient(cause) {
		kind = ledger.KindTransient
	}

	attempts := 1
	failures, err := s.store.ListFailedIssuances(ctx)
	if err == nil {
		for _, failure := range failures {
			if failure.CertificateID == certID {
				attempts = failure.Attempts + 1
			}
		}
	}

	failure := &credit.FailedIssuance{
		CertificateID: certID,
		Kind:          kind,
		Reason:        cause.Error(),
		Attempts:      attempts,
		LastAttemptAt: requestcontext.Now(ctx),
	}
	if saveErr := s.store.SaveFailedIssuance(ctx, failure); saveErr != nil {
		s.logger.Error("failed to record issuance failure", "certificate_id", certID, "error", saveErr)
	}
	s.metrics.IncrementIssuanceFailures(string(kind))
	s.publishAudit(ctx, audit.ActionIssuanceFailed, id.ActorID{}, certID.String(), cause.Error())

	if kind == ledger.KindTransient {
		return dErrors.Wrap(cause, dErrors.CodeLedgerUnavailable, "mint did not complete, ledger unavailable")
	}
	return dErrors.Wrap(cause, dErrors.CodeLedgerRejected, "mint rejected by ledger")
}

// RetryIssuance re-runs a failed mint with the original idempotency key.
func (s *Service) RetryIssuance(ctx context.Context, certID id.CertificateID) (*credit.Batch, error) {
	batch, err := s.IssueFromCertificate(ctx, certID)
	if dErrors.HasCode(err, dErrors.CodeAlreadyIssued) {
		return batch, nil
	}
	return batch, err
}

// FailedIssuances lists approved certificates still waiting on a mint.
func (s *Service) FailedIssuances(ctx context.Context) ([]*credit.FailedIssuance, error) {
	failures, err := s.store.ListFailedIssuances(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list issuance failures")
	}
	return failures, nil
}

// Transfer moves credits between holders. The sender's authoritative balance
// is re-read from the ledger immediately before the transfer; the mirrored
// holding is never trusted for a spend decision.
func (s *Service) Transfer(ctx context.Context, fromID id.ActorID, input credit.TransferInput) (ledger.TxRef, error) {
	if input.Amount <= 0 {
		return "", dErrors.New(dErrors.CodeInvalidAmount, "transfer amount must be positive")
	}
	if fromID == input.To {
		return "", dErrors.New(dErrors.CodeInvalidInput, "cannot transfer credits to yourself")
	}

	sender, err := s.holder(ctx, fromID)
	if err != nil {
		return "", err
	}
	recipient, err := s.holder(ctx, input.To)
	if err != nil {
		return "", err
	}

	batch, err := s.batch(ctx, input.BatchID)
	if err != nil {
		return "", err
	}

	balance, err := s.chain.BalanceOf(ctx, sender.IdentityKey, batch.BatchID)
	if err != nil {
		return "", ledgerError(err, "balance check")
	}
	if balance < input.Amount {
		return "", dErrors.Newf(dErrors.CodeInsufficientBalance,
			"balance %d in batch %s is below transfer amount %d", balance, batch.BatchID, input.Amount)
	}

	txRef, err := s.chain.Transfer(ctx, uuid.NewString(), sender.IdentityKey, recipient.IdentityKey, batch.BatchID, input.Amount)
	if err != nil {
		return "", ledgerError(err, "transfer")
	}

	if err := s.store.ApplyTransfer(ctx, batch.BatchID, fromID, input.To, input.Amount); err != nil {
		// The ledger moved the credits; the mirror is now behind until
		// reconciliation. Surface the inconsistency rather than hide it.
		s.logger.Error("transfer confirmed but mirror update failed",
			"batch_id", batch.BatchID, "tx", txRef, "error", err)
		return txRef, dErrors.Wrap(err, dErrors.CodeInternal, "transfer confirmed but local record failed")
	}

	s.metrics.IncrementTransferred(input.Amount)
	s.publishAudit(ctx, audit.ActionCreditsTransferred, fromID, batch.BatchID.String(),
		fmt.Sprintf("to=%s amount=%d tx=%s", input.To, input.Amount, txRef))
	return txRef, nil
}

// Retire permanently destroys held credits on behalf of a beneficiary. Like
// Transfer, the spend is gated on a fresh authoritative balance read, and the
// immutable retirement record is written only after ledger confirmation.
func (s *Service) Retire(ctx context.Context, holderID id.ActorID, input credit.RetireInput) (*credit.Retirement, error) {
	if input.Amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "retirement amount must be positive")
	}
	if strings.TrimSpace(input.Beneficiary) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "retirement must name a beneficiary")
	}

	holder, err := s.holder(ctx, holderID)
	if err != nil {
		return nil, err
	}
	batch, err := s.batch(ctx, input.BatchID)
	if err != nil {
		return nil, err
	}

	balance, err := s.chain.BalanceOf(ctx, holder.IdentityKey, batch.BatchID)
	if err != nil {
		return nil, ledgerError(err, "balance check")
	}
	if balance < input.Amount {
		return nil, dErrors.Newf(dErrors.CodeInsufficientBalance,
			"balance %d in batch %s is below retirement amount %d", balance, batch.BatchID, input.Amount)
	}

	txRef, err := s.chain.Retire(ctx, uuid.NewString(), holder.IdentityKey, batch.BatchID, input.Amount)
	if err != nil {
		return nil, ledgerError(err, "retirement")
	}

	rec := &credit.Retirement{
		RetirementID: id.NewRetirementID(),
		BatchID:      batch.BatchID,
		HolderID:     holderID,
		Amount:       input.Amount,
		Beneficiary:  strings.TrimSpace(input.Beneficiary),
		TxRef:        txRef,
		RetiredAt:    requestcontext.Now(ctx),
	}
	if err := s.store.ApplyRetirement(ctx, rec); err != nil {
		s.logger.Error("retirement confirmed but mirror update failed",
			"batch_id", batch.BatchID, "tx", txRef, "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "retirement confirmed but local record failed")
	}

	s.metrics.IncrementRetired(input.Amount)
	s.publishAudit(ctx, audit.ActionCreditsRetired, holderID, batch.BatchID.String(),
		fmt.Sprintf("amount=%d beneficiary=%s tx=%s", input.Amount, rec.Beneficiary, txRef))
	return rec, nil
}

// BatchOf returns the batch minted for a certificate, if any.
func (s *Service) BatchOf(ctx context.Context, certID id.CertificateID) (*credit.Batch, error) {
	batch, err := s.store.GetBatchByCertificate(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "certificate %s has no minted batch", certID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load batch")
	}
	return batch, nil
}

// GetBatch fetches one batch.
func (s *Service) GetBatch(ctx context.Context, batchID id.BatchID) (*credit.Batch, error) {
	return s.batch(ctx, batchID)
}

// Holdings lists an actor's mirrored positions.
func (s *Service) Holdings(ctx context.Context, holderID id.ActorID) ([]*credit.Holding, error) {
	holdings, err := s.store.HoldingsOf(ctx, holderID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list holdings")
	}
	return holdings, nil
}

// Retirements lists an actor's retirement records.
func (s *Service) Retirements(ctx context.Context, holderID id.ActorID) ([]*credit.Retirement, error) {
	recs, err := s.store.RetirementsOf(ctx, holderID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list retirements")
	}
	return recs, nil
}

// Reconcile compares every mirrored holding against the ledger and reports
// the positions that disagree. Mismatches indicate a confirmed ledger
// transaction whose local write was lost.
func (s *Service) Reconcile(ctx context.Context) ([]credit.Mismatch, error) {
	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list batches")
	}

	var (
		mu         sync.Mutex
		mismatches []credit.Mismatch
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, batch := range batches {
		holdings, err := s.store.ListHoldings(ctx, batch.BatchID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list batch holdings")
		}
		for _, holding := range holdings {
			g.Go(func() error {
				holder, err := s.actors.Get(gctx, holding.HolderID)
				if err != nil {
					return err
				}
				balance, err := s.chain.BalanceOf(gctx, holder.IdentityKey, holding.BatchID)
				if err != nil {
					return ledgerError(err, "balance check")
				}
				if balance != holding.Amount {
					mu.Lock()
					mismatches = append(mismatches, credit.Mismatch{
						BatchID:  holding.BatchID,
						HolderID: holding.HolderID,
						Local:    holding.Amount,
						Ledger:   balance,
					})
					mu.Unlock()
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mismatches, nil
}

// holder resolves an actor allowed to hold credits.
func (s *Service) holder(ctx context.Context, actorID id.ActorID) (*identity.Actor, error) {
	actor, err := s.actors.Get(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Suspended {
		return nil, dErrors.Newf(dErrors.CodeRoleViolation, "actor %s is suspended", actorID)
	}
	if actor.Role != identity.RoleProducer && actor.Role != identity.RoleBuyer {
		return nil, dErrors.Newf(dErrors.CodeRoleViolation, "role %s cannot hold credits", actor.Role)
	}
	return actor, nil
}

func (s *Service) batch(ctx context.Context, batchID id.BatchID) (*credit.Batch, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "batch %s does not exist", batchID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load batch")
	}
	return batch, nil
}

func ledgerError(err error, op string) error {
	if ledger.IsTransient(err) {
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, op+" did not complete, ledger unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeLedgerRejected, op+" rejected by ledger")
}

func (s *Service) publishAudit(ctx context.Context, action string, actorID id.ActorID, subject, detail string) {
	if s.audit != nil {
		s.audit.Publish(ctx, action, actorID, subject, detail)
	}
}
