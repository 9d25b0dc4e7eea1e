package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"verdant/internal/certificate"
	certstore "verdant/internal/certificate/store"
	"verdant/internal/identity"
	identityservice "verdant/internal/identity/service"
	identitystore "verdant/internal/identity/store"
	"verdant/internal/ledger"
	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
)

// captureIssuer records issuance requests instead of minting.
type captureIssuer struct {
	mu       sync.Mutex
	requests []id.CertificateID
}

func (c *captureIssuer) RequestIssuance(certID id.CertificateID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, certID)
}

func (c *captureIssuer) all() []id.CertificateID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]id.CertificateID(nil), c.requests...)
}

type CertificationSuite struct {
	suite.Suite
	store     *certstore.Memory
	issuer    *captureIssuer
	identity  *identityservice.Service
	service   *Service
	producer  *identity.Actor
	certifier *identity.Actor
	buyer     *identity.Actor
}

func TestCertificationSuite(t *testing.T) {
	suite.Run(t, new(CertificationSuite))
}

func (s *CertificationSuite) SetupTest() {
	ctx := context.Background()
	s.store = certstore.NewMemory()
	s.issuer = &captureIssuer{}

	var err error
	s.identity, err = identityservice.New(identitystore.NewMemory(), ledger.NewMemoryLedger())
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

	s.service, err = New(s.store, s.identity, s.issuer)
	s.Require().NoError(err)
}

func (s *CertificationSuite) submit() *certificate.Certificate {
	cert, err := s.service.Submit(context.Background(), s.producer.ID, certificate.Claim{
		Facility: "Solar Park 7", Amount: 100, CarbonIntensity: 12.5,
	})
	s.Require().NoError(err)
	return cert
}

func checklistWithScore(passed int) certificate.Checklist {
	items := certificate.ChecklistItems()
	cl := make(certificate.Checklist, len(items))
	for i, item := range items {
		cl[item] = i < passed
	}
	return cl
}

func (s *CertificationSuite) TestSubmit() {
	ctx := context.Background()

	s.Run("creates pending certificate", func() {
		cert := s.submit()
		s.Equal(certificate.StatePending, cert.State)
		s.True(cert.ParentID.IsNil())
		s.False(cert.ID.IsNil())
	})

	s.Run("rejects empty facility", func() {
		_, err := s.service.Submit(ctx, s.producer.ID, certificate.Claim{Facility: "  ", Amount: 10})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidClaim))
	})

	s.Run("rejects non-positive amount", func() {
		_, err := s.service.Submit(ctx, s.producer.ID, certificate.Claim{Facility: "Plant", Amount: 0})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidClaim))
	})

	s.Run("rejects non-producers", func() {
		_, err := s.service.Submit(ctx, s.buyer.ID, certificate.Claim{Facility: "Plant", Amount: 10})
		s.True(dErrors.HasCode(err, dErrors.CodeRoleViolation))
	})

	s.Run("rejects unknown actors", func() {
		_, err := s.service.Submit(ctx, id.NewActorID(), certificate.Claim{Facility: "Plant", Amount: 10})
		s.True(dErrors.HasCode(err, dErrors.CodeUnknownActor))
	})
}

func (s *CertificationSuite) TestStartReview() {
	ctx := context.Background()

	s.Run("claims a pending certificate", func() {
		cert := s.submit()
		s.Require().NoError(s.service.StartReview(ctx, s.certifier.ID, cert.ID))

		got, err := s.service.Get(ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(certificate.StateUnderReview, got.State)
		s.Equal(s.certifier.ID, got.ReviewerID)
	})

	s.Run("second claim fails with AlreadyUnderReview", func() {
		cert := s.submit()
		s.Require().NoError(s.service.StartReview(ctx, s.certifier.ID, cert.ID))

		err := s.service.StartReview(ctx, s.certifier.ID, cert.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyUnderReview))
	})

	s.Run("non-certifier fails with RoleViolation", func() {
		cert := s.submit()
		err := s.service.StartReview(ctx, s.producer.ID, cert.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeRoleViolation))
	})

	s.Run("unknown certificate fails with NotFound", func() {
		err := s.service.StartReview(ctx, s.certifier.ID, id.NewCertificateID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("concluded certificate fails with InvalidTransition", func() {
		cert := s.submit()
		s.Require().NoError(s.service.StartReview(ctx, s.certifier.ID, cert.ID))
		_, err := s.service.Decide(ctx, s.certifier.ID, cert.ID, checklistWithScore(5), certificate.DecisionApproved, "")
		s.Require().NoError(err)

		err = s.service.StartReview(ctx, s.certifier.ID, cert.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

// TestStartReview_ConcurrentClaimers checks the first-claim-wins invariant:
// among N concurrent claimers exactly one succeeds.
func (s *CertificationSuite) TestStartReview_ConcurrentClaimers() {
	ctx := context.Background()
	cert := s.submit()

	const n = 16
	certifiers := make([]*identity.Actor, n)
	for i := range certifiers {
		actor, err := s.identity.Register(ctx, identity.RegisterInput{
			IdentityKey:     "key-racer-" + string(rune('a'+i)),
			Role:            identity.RoleCertifier,
			OrgName:         "Racer " + string(rune('a'+i)),
			Email:           "racer" + string(rune('a'+i)) + "@example.com",
			AccreditationID: "ACC-RACE-" + string(rune('a'+i)),
		})
		s.Require().NoError(err)
		certifiers[i] = actor
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.service.StartReview(ctx, certifiers[i].ID, cert.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			s.True(dErrors.HasCode(err, dErrors.CodeAlreadyUnderReview))
		}
	}
	s.Equal(1, winners)
}

func (s *CertificationSuite) TestDecide() {
	ctx := context.Background()

	s.Run("approval above threshold mints an issuance request", func() {
		cert := s.submit()
		s.Require().NoError(s.service.StartReview(ctx, s.certifier.ID, cert.ID))

		record, err := s.service.Decide(ctx, s.certifier.ID, cert.ID, checklistWithScore(5), certificate.DecisionApproved, "clean audit")
		s.Require().NoError(err)
		s.Equal(100, record.Score)
		s.Equal(certificate.DecisionApproved, record.Decision)

		got, err := s.service.Get(ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(certificate.StateApproved, got.State)
		s.Contains(s.issuer.all(), cert.ID)
	})

	s.Run("score below threshold cannot approve", func() {
		cert := s.submit()
		s.Require().NoError(s.service.StartReview(ctx, s.certifier.ID, cert.ID))

		// 2 of 5 passed = score 40
		_, err := s.service.Decide(ctx, s.certifier.ID, cert.ID, checklistWithScore(2), certificate.DecisionApproved, "")
		s.True(dErrors.HasCode(err, dErrors.CodeScoreBelowThreshold))

		// Same checklist with RequiresChanges succeeds.
		record, err := s.service.Decide(ctx, s.certifier.ID, cert.ID, checklistWithScore(2), certificate.DecisionRequiresChanges, "fix metering")
		s.Require().NoError(err)
		s.Equal(40, record.Score)
	})

	s.Run("second decide fails with AlreadyDecided regardless of caller", func() {
		cert := s.submit()
		s.Require().NoError(s.service.StartReview(ctx, s.certifier.ID, cert.ID))
		_, err := s.service.Decide(ctx, s.certifier.ID, cert.ID, checklistWithScore(1), certificate.DecisionRejected, "")
		s.Require().NoError(err)

		_, err = s.service.Decide(ctx, s.certifier.ID, cert.ID, checklistWithScore(5), certificate.DecisionApproved, "")
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyDecided))

		other, regErr := s.identity.Register(ctx, identity.RegisterInput{
			IdentityKey: "key-other-cert", Role: identity.RoleCertifier,
			OrgName: "OtherAudit", Email: "other@audit.example", AccreditationID: "ACC-2",
		})
		s.Require().NoError(regErr)
		_, err = s.service.Decide(ctx, other.ID, cert.ID, checklistWithScore(5), certificate.DecisionApproved, "")
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyDecided))
	})

	s.Run("only the claiming certifier may decide", func() {
		cert := s.submit()
		s.Require().NoError(s.service.StartReview(ctx, s.certifier.ID, cert.ID))

		other, err := s.identity.Register(ctx, identity.RegisterInput{
			IdentityKey: "key-intruder", Role: identity.RoleCertifier,
			OrgName: "IntruderAudit", Email: "intruder@audit.example", AccreditationID: "ACC-3",
		})
		s.Require().NoError(err)

		_, err = s.service.Decide(ctx, other.ID, cert.ID, checklistWithScore(5), certificate.DecisionApproved, "")
		s.True(dErrors.HasCode(err, dErrors.CodeRoleViolation))
	})

	s.Run("decide before review fails with InvalidTransition", func() {
		cert := s.submit()
		_, err := s.service.Decide(ctx, s.certifier.ID, cert.ID, checklistWithScore(5), certificate.DecisionApproved, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("incomplete checklist is rejected", func() {
		cert := s.submit()
		s.Require().NoError(s.service.StartReview(ctx, s.certifier.ID, cert.ID))

		partial := certificate.Checklist{certificate.ItemMeterCalibration: true}
		_, err := s.service.Decide(ctx, s.certifier.ID, cert.ID, partial, certificate.DecisionApproved, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejecting a passing score is refused", func() {
		cert := s.submit()
		s.Require().NoError(s.service.StartReview(ctx, s.certifier.ID, cert.ID))

		_, err := s.service.Decide(ctx, s.certifier.ID, cert.ID, checklistWithScore(4), certificate.DecisionRejected, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// TestResubmission covers the append-only rule: changes-requested
// certificates are replaced by parent-linked resubmissions, never edited.
func (s *CertificationSuite) TestResubmission() {
	ctx := context.Background()
	cert := s.submit()
	s.Require().NoError(s.service.StartReview(ctx, s.certifier.ID, cert.ID))
	_, err := s.service.Decide(ctx, s.certifier.ID, cert.ID, checklistWithScore(3), certificate.DecisionRequiresChanges, "recalibrate")
	s.Require().NoError(err)

	s.Run("resubmission links the parent", func() {
		resubmitted, err := s.service.Submit(ctx, s.producer.ID, certificate.Claim{
			Facility: "Solar Park 7", Amount: 100, ParentID: cert.ID,
		})
		s.Require().NoError(err)
		s.Equal(cert.ID, resubmitted.ParentID)
		s.NotEqual(cert.ID, resubmitted.ID)
		s.Equal(certificate.StatePending, resubmitted.State)
	})

	s.Run("parent must be changes-requested", func() {
		fresh := s.submit()
		_, err := s.service.Submit(ctx, s.producer.ID, certificate.Claim{
			Facility: "Solar Park 7", Amount: 100, ParentID: fresh.ID,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidClaim))
	})

	s.Run("parent must belong to the submitting producer", func() {
		otherProducer, err := s.identity.Register(ctx, identity.RegisterInput{
			IdentityKey: "key-producer-2", Role: identity.RoleProducer,
			OrgName: "WindWorks", Email: "ops@windworks.example",
		})
		s.Require().NoError(err)

		_, err = s.service.Submit(ctx, otherProducer.ID, certificate.Claim{
			Facility: "Wind Farm 1", Amount: 50, ParentID: cert.ID,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidClaim))
	})
}

func (s *CertificationSuite) TestChecklistScore() {
	s.Equal(100, checklistWithScore(5).Score())
	s.Equal(80, checklistWithScore(4).Score())
	s.Equal(60, checklistWithScore(3).Score())
	s.Equal(40, checklistWithScore(2).Score())
	s.Equal(0, checklistWithScore(0).Score())
}
