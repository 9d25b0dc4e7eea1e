package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"verdant/internal/certificate"
	certservice "verdant/internal/certificate/service"
	certstore "verdant/internal/certificate/store"
	"verdant/internal/credit"
	"verdant/internal/credit/idempotency"
	creditstore "verdant/internal/credit/store"
	"verdant/internal/identity"
	identityservice "verdant/internal/identity/service"
	identitystore "verdant/internal/identity/store"
	"verdant/internal/ledger"
	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
)

// noopIssuer satisfies the certification engine; tests drive issuance
// explicitly through the coordinator instead of the queue.
type noopIssuer struct{}

func (noopIssuer) RequestIssuance(id.CertificateID) {}

type CreditSuite struct {
	suite.Suite
	chain     *ledger.MemoryLedger
	store     *creditstore.Memory
	identity  *identityservice.Service
	certs     *certservice.Service
	service   *Service
	producer  *identity.Actor
	certifier *identity.Actor
	buyer     *identity.Actor
}

func TestCreditSuite(t *testing.T) {
	suite.Run(t, new(CreditSuite))
}

func (s *CreditSuite) SetupTest() {
	ctx := context.Background()
	s.chain = ledger.NewMemoryLedger()
	s.store = creditstore.NewMemory()

	var err error
	s.identity, err = identityservice.New(identitystore.NewMemory(), s.chain)
	s.Require().NoError(err)

	s.producer, err = s.identity.Register(ctx, identity.RegisterInput{
		IdentityKey: "key-producer", Role: identity.RoleProducer,
		OrgName: "Solaris Farms", Email: "ops@solaris.example",
	})
	s.Require().NoError(err)
	s.certifier, err = s.identity.Register(ctx, identity.RegisterInput{
		IdentityKey: "key-certifier", Role: identity.RoleCertifier,
		OrgName: "AuditCo", Email: "audit@auditco.example", AccreditationID: "ACC-1",
	})
	s.Require().NoError(err)
	s.buyer, err = s.identity.Register(ctx, identity.RegisterInput{
		IdentityKey: "key-buyer", Role: identity.RoleBuyer,
		OrgName: "OffsetCo", Email: "buy@offsetco.example",
	})
	s.Require().NoError(err)

	s.certs, err = certservice.New(certstore.NewMemory(), s.identity, noopIssuer{})
	s.Require().NoError(err)

	s.service, err = New(s.store, idempotency.NewMemory(), s.chain, s.identity, s.certs)
	s.Require().NoError(err)
}

// approvedCertificate walks a claim through review to approval.
func (s *CreditSuite) approvedCertificate(amount int64) *certificate.Certificate {
	ctx := context.Background()
	cert, err := s.certs.Submit(ctx, s.producer.ID, certificate.Claim{
		Facility: "Solar Park 7", Amount: amount, CarbonIntensity: 12.5,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.certs.StartReview(ctx, s.certifier.ID, cert.ID))

	checklist := make(certificate.Checklist)
	for _, item := range certificate.ChecklistItems() {
		checklist[item] = true
	}
	_, err = s.certs.Decide(ctx, s.certifier.ID, cert.ID, checklist, certificate.DecisionApproved, "")
	s.Require().NoError(err)
	return cert
}

func (s *CreditSuite) mintedBatch(amount int64) *credit.Batch {
	cert := s.approvedCertificate(amount)
	batch, err := s.service.IssueFromCertificate(context.Background(), cert.ID)
	s.Require().NoError(err)
	return batch
}

func (s *CreditSuite) TestIssueFromCertificate() {
	ctx := context.Background()

	s.Run("mints once and seeds the producer holding", func() {
		cert := s.approvedCertificate(100)
		batch, err := s.service.IssueFromCertificate(ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(cert.ID, batch.CertificateID)
		s.Equal(int64(100), batch.Total)
		s.Equal(int64(100), batch.Outstanding)
		s.NotEmpty(batch.MintTxRef)

		balance, err := s.chain.BalanceOf(ctx, s.producer.IdentityKey, batch.BatchID)
		s.Require().NoError(err)
		s.Equal(int64(100), balance)
		s.Equal(int64(100), s.chain.MintedTotal(batch.BatchID))
	})

	s.Run("second issuance fails with AlreadyIssued", func() {
		cert := s.approvedCertificate(50)
		first, err := s.service.IssueFromCertificate(ctx, cert.ID)
		s.Require().NoError(err)

		second, err := s.service.IssueFromCertificate(ctx, cert.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyIssued))
		s.Equal(first.BatchID, second.BatchID)
		s.Equal(int64(50), s.chain.MintedTotal(first.BatchID))
	})

	s.Run("pending certificate cannot be issued", func() {
		cert, err := s.certs.Submit(ctx, s.producer.ID, certificate.Claim{Facility: "Plant", Amount: 10})
		s.Require().NoError(err)
		_, err = s.service.IssueFromCertificate(ctx, cert.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

// TestIssueFromCertificate_Concurrent checks the mint-once invariant under a
// raced issuance: the ledger mints exactly once, a single batch exists, and
// every losing caller gets AlreadyIssued rather than a silent success.
func (s *CreditSuite) TestIssueFromCertificate_Concurrent() {
	ctx := context.Background()
	cert := s.approvedCertificate(100)

	const n = 8
	var wg sync.WaitGroup
	batches := make([]*credit.Batch, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batches[i], errs[i] = s.service.IssueFromCertificate(ctx, cert.ID)
		}(i)
	}
	wg.Wait()

	got, err := s.service.BatchOf(ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(int64(100), s.chain.MintedTotal(got.BatchID))

	winners := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			winners++
		} else {
			s.True(dErrors.HasCode(errs[i], dErrors.CodeAlreadyIssued))
		}
		if batches[i] != nil {
			s.Equal(got.BatchID, batches[i].BatchID)
		}
	}
	s.Equal(1, winners)
}

func (s *CreditSuite) TestIssuanceFailureAndRetry() {
	ctx := context.Background()
	cert := s.approvedCertificate(100)

	s.chain.FailNext("mint", 1)
	_, err := s.service.IssueFromCertificate(ctx, cert.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeLedgerUnavailable))

	failures, err := s.service.FailedIssuances(ctx)
	s.Require().NoError(err)
	s.Require().Len(failures, 1)
	s.Equal(cert.ID, failures[0].CertificateID)
	s.Equal(ledger.KindTransient, failures[0].Kind)
	s.Equal(1, failures[0].Attempts)

	batch, err := s.service.RetryIssuance(ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(int64(100), batch.Total)
	s.Equal(int64(100), s.chain.MintedTotal(batch.BatchID))

	failures, err = s.service.FailedIssuances(ctx)
	s.Require().NoError(err)
	s.Empty(failures)
}

func (s *CreditSuite) TestTransfer() {
	ctx := context.Background()

	s.Run("moves credits and mirrors both holdings", func() {
		batch := s.mintedBatch(100)
		txRef, err := s.service.Transfer(ctx, s.producer.ID, credit.TransferInput{
			BatchID: batch.BatchID, To: s.buyer.ID, Amount: 30,
		})
		s.Require().NoError(err)
		s.NotEmpty(txRef)

		producerBalance, err := s.chain.BalanceOf(ctx, s.producer.IdentityKey, batch.BatchID)
		s.Require().NoError(err)
		s.Equal(int64(70), producerBalance)
		buyerBalance, err := s.chain.BalanceOf(ctx, s.buyer.IdentityKey, batch.BatchID)
		s.Require().NoError(err)
		s.Equal(int64(30), buyerBalance)

		local, err := s.store.HoldingOf(ctx, batch.BatchID, s.buyer.ID)
		s.Require().NoError(err)
		s.Equal(int64(30), local)
	})

	s.Run("rejects amounts above the authoritative balance", func() {
		batch := s.mintedBatch(100)
		_, err := s.service.Transfer(ctx, s.producer.ID, credit.TransferInput{
			BatchID: batch.BatchID, To: s.buyer.ID, Amount: 101,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
	})

	s.Run("rejects non-positive amounts", func() {
		batch := s.mintedBatch(10)
		_, err := s.service.Transfer(ctx, s.producer.ID, credit.TransferInput{
			BatchID: batch.BatchID, To: s.buyer.ID, Amount: 0,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidAmount))
	})

	s.Run("rejects self transfers", func() {
		batch := s.mintedBatch(10)
		_, err := s.service.Transfer(ctx, s.producer.ID, credit.TransferInput{
			BatchID: batch.BatchID, To: s.producer.ID, Amount: 5,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("certifiers cannot hold credits", func() {
		batch := s.mintedBatch(10)
		_, err := s.service.Transfer(ctx, s.producer.ID, credit.TransferInput{
			BatchID: batch.BatchID, To: s.certifier.ID, Amount: 5,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeRoleViolation))
	})

	s.Run("suspended senders are refused", func() {
		batch := s.mintedBatch(10)
		s.Require().NoError(s.identity.Suspend(ctx, s.producer.ID))
		_, err := s.service.Transfer(ctx, s.producer.ID, credit.TransferInput{
			BatchID: batch.BatchID, To: s.buyer.ID, Amount: 5,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeRoleViolation))
		s.Require().NoError(s.identity.Reinstate(ctx, s.producer.ID))
	})

	s.Run("unknown batch fails with NotFound", func() {
		_, err := s.service.Transfer(ctx, s.producer.ID, credit.TransferInput{
			BatchID: id.BatchID(uuid.New()), To: s.buyer.ID, Amount: 5,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *CreditSuite) TestRetire() {
	ctx := context.Background()

	s.Run("destroys credits and reduces outstanding", func() {
		batch := s.mintedBatch(100)
		rec, err := s.service.Retire(ctx, s.producer.ID, credit.RetireInput{
			BatchID: batch.BatchID, Amount: 40, Beneficiary: "Flight BA117 offset",
		})
		s.Require().NoError(err)
		s.Equal(int64(40), rec.Amount)
		s.NotEmpty(rec.TxRef)

		got, err := s.service.GetBatch(ctx, batch.BatchID)
		s.Require().NoError(err)
		s.Equal(int64(60), got.Outstanding)
		s.Equal(int64(40), s.chain.RetiredTotal(batch.BatchID))

		// Outstanding is 60 now; retiring 70 must fail and change nothing.
		_, err = s.service.Retire(ctx, s.producer.ID, credit.RetireInput{
			BatchID: batch.BatchID, Amount: 70, Beneficiary: "too much",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
		s.Equal(int64(40), s.chain.RetiredTotal(batch.BatchID))
		s.LessOrEqual(s.chain.RetiredTotal(batch.BatchID), s.chain.MintedTotal(batch.BatchID))
	})

	s.Run("requires a beneficiary", func() {
		batch := s.mintedBatch(10)
		_, err := s.service.Retire(ctx, s.producer.ID, credit.RetireInput{
			BatchID: batch.BatchID, Amount: 5, Beneficiary: "  ",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("retirement records are listed for the holder", func() {
		batch := s.mintedBatch(20)
		_, err := s.service.Retire(ctx, s.producer.ID, credit.RetireInput{
			BatchID: batch.BatchID, Amount: 5, Beneficiary: "Corp offset 2026",
		})
		s.Require().NoError(err)

		recs, err := s.service.Retirements(ctx, s.producer.ID)
		s.Require().NoError(err)
		s.NotEmpty(recs)
	})
}

func (s *CreditSuite) TestReconcile() {
	ctx := context.Background()
	batch := s.mintedBatch(100)
	_, err := s.service.Transfer(ctx, s.producer.ID, credit.TransferInput{
		BatchID: batch.BatchID, To: s.buyer.ID, Amount: 30,
	})
	s.Require().NoError(err)

	mismatches, err := s.service.Reconcile(ctx)
	s.Require().NoError(err)
	s.Empty(mismatches)

	// Drift the mirror without touching the ledger, as if a confirmed
	// transfer's local write had been lost.
	s.Require().NoError(s.store.ApplyTransfer(ctx, batch.BatchID, s.buyer.ID, s.producer.ID, 10))

	mismatches, err = s.service.Reconcile(ctx)
	s.Require().NoError(err)
	s.Len(mismatches, 2)
}
