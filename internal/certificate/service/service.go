package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"verdant/internal/audit"
	"verdant/internal/certificate"
	"verdant/internal/certificate/metrics"
	"verdant/internal/identity"
	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
	"verdant/pkg/platform/sentinel"
	"verdant/pkg/requestcontext"
)

// Store is the certificate persistence this service needs. ClaimReview and
// Conclude are atomic in every implementation; the service never sequences
// read-then-write for a state transition.
type Store interface {
	Create(ctx context.Context, cert *certificate.Certificate) error
	Get(ctx context.Context, certID id.CertificateID) (*certificate.Certificate, error)
	ClaimReview(ctx context.Context, certID id.CertificateID, certifierID id.ActorID) error
	Conclude(ctx context.Context, decision *certificate.ReviewDecision) error
	GetDecision(ctx context.Context, certID id.CertificateID) (*certificate.ReviewDecision, error)
	ListByProducer(ctx context.Context, producerID id.ActorID) ([]*certificate.Certificate, error)
	ListByState(ctx context.Context, state certificate.State) ([]*certificate.Certificate, error)
}

// Authorizer is the single role chokepoint, implemented by the identity service.
type Authorizer interface {
	RequireRole(ctx context.Context, actorID id.ActorID, role identity.Role) (*identity.Actor, error)
}

// Issuer receives credit-issuance requests for approved certificates,
// implemented by the credit coordinator. Enqueueing never blocks a decision:
// an approval stands even when issuance later fails.
type Issuer interface {
	RequestIssuance(certID id.CertificateID)
}

// IssuerFunc adapts a function to the Issuer interface. It lets wiring break
// the construction cycle between this engine and the credit coordinator.
type IssuerFunc func(certID id.CertificateID)

func (f IssuerFunc) RequestIssuance(certID id.CertificateID) { f(certID) }

// AuditPublisher records lifecycle events on the audit trail.
type AuditPublisher interface {
	Publish(ctx context.Context, action string, actorID id.ActorID, subject string, detail string)
}

// Service is the certification engine: it owns the claim-to-certificate state
// machine and the compliance scoring policy.
type Service struct {
	store     Store
	auth      Authorizer
	issuer    Issuer
	audit     AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	threshold int
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

// WithComplianceThreshold overrides the approval score threshold.
func WithComplianceThreshold(threshold int) Option {
	return func(s *Service) {
		s.threshold = threshold
	}
}

// DefaultComplianceThreshold is the minimum score for approval unless policy
// overrides it.
const DefaultComplianceThreshold = 70

// New creates the certification engine.
func New(store Store, auth Authorizer, issuer Issuer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("certificate store is required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	svc := &Service{
		store:     store,
		auth:      auth,
		issuer:    issuer,
		logger:    slog.Default(),
		threshold: DefaultComplianceThreshold,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Submit validates a production claim and creates a Pending certificate.
// Resubmission after changes-requested links the new certificate to its
// parent; the parent record itself is never edited.
func (s *Service) Submit(ctx context.Context, producerID id.ActorID, claim certificate.Claim) (*certificate.Certificate, error) {
	if _, err := s.auth.RequireRole(ctx, producerID, identity.RoleProducer); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claim.Facility) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidClaim, "claim must describe the producing facility")
	}
	if claim.Amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidClaim, "claimed production amount must be positive")
	}

	if !claim.ParentID.IsNil() {
		parent, err := s.Get(ctx, claim.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.ProducerID != producerID {
			return nil, dErrors.New(dErrors.CodeInvalidClaim, "parent certificate belongs to a different producer")
		}
		if parent.State != certificate.StateRequiresChanges {
			return nil, dErrors.Newf(dErrors.CodeInvalidClaim, "parent certificate is %s, resubmission requires %s",
				parent.State, certificate.StateRequiresChanges)
		}
	}

	cert := &certificate.Certificate{
		ID:              id.NewCertificateID(),
		ParentID:        claim.ParentID,
		ProducerID:      producerID,
		Facility:        strings.TrimSpace(claim.Facility),
		Amount:          claim.Amount,
		CarbonIntensity: claim.CarbonIntensity,
		State:           certificate.StatePending,
		SubmittedAt:     requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, cert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save certificate")
	}

	s.metrics.IncrementSubmitted()
	s.publishAudit(ctx, audit.ActionCertificateSubmitted, producerID, cert.ID.String(),
		fmt.Sprintf("facility=%s amount=%d", cert.Facility, cert.Amount))
	return cert, nil
}

// StartReview claims a pending certificate for review. The claim is a single
// atomic compare-and-set in the store: among N concurrent certifiers exactly
// one wins, the rest observe AlreadyUnderReview.
func (s *Service) StartReview(ctx context.Context, certifierID id.ActorID, certID id.CertificateID) error {
	if _, err := s.auth.RequireRole(ctx, certifierID, identity.RoleCertifier); err != nil {
		return err
	}

	err := s.store.ClaimReview(ctx, certID, certifierID)
	switch {
	case err == nil:
		s.publishAudit(ctx, audit.ActionReviewStarted, certifierID, certID.String(), "")
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "certificate %s does not exist", certID)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Newf(dErrors.CodeAlreadyUnderReview, "certificate %s is already claimed by another certifier", certID)
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Newf(dErrors.CodeInvalidTransition, "certificate %s is not pending review", certID)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim review")
	}
}

// Decide concludes a review with the compliance checklist verdict.
//
// Scoring policy: score >= threshold permits Approved or RequiresChanges;
// score < threshold permits Rejected or RequiresChanges, and Approved fails
// with ScoreBelowThreshold. Once concluded by anyone, a second Decide always
// returns AlreadyDecided. On approval the certificate is handed to the credit
// coordinator; issuance failures never unwind the approval.
func (s *Service) Decide(
	ctx context.Context,
	certifierID id.ActorID,
	certID id.CertificateID,
	checklist certificate.Checklist,
	decision certificate.Decision,
	comment string,
) (*certificate.ReviewDecision, error) {
	if _, err := s.auth.RequireRole(ctx, certifierID, identity.RoleCertifier); err != nil {
		return nil, err
	}
	if !decision.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown decision %q", decision)
	}
	if err := checklist.Validate(); err != nil {
		return nil, err
	}

	cert, err := s.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.State.Concluded() {
		return nil, dErrors.Newf(dErrors.CodeAlreadyDecided, "certificate %s review already concluded", certID)
	}
	if cert.State != certificate.StateUnderReview {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition, "certificate %s has not entered review", certID)
	}
	if cert.ReviewerID != certifierID {
		return nil, dErrors.Newf(dErrors.CodeRoleViolation, "certificate %s is claimed by a different certifier", certID)
	}

	score := checklist.Score()
	if decision == certificate.DecisionApproved && score < s.threshold {
		return nil, dErrors.Newf(dErrors.CodeScoreBelowThreshold,
			"compliance score %d is below the approval threshold %d", score, s.threshold)
	}
	if decision == certificate.DecisionRejected && score >= s.threshold {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"compliance score %d meets the threshold %d; request changes instead of rejecting", score, s.threshold)
	}

	record := &certificate.ReviewDecision{
		CertificateID: certID,
		CertifierID:   certifierID,
		Checklist:     checklist,
		Score:         score,
		Decision:      decision,
		Comment:       comment,
		DecidedAt:     requestcontext.Now(ctx),
	}

	if err := s.store.Conclude(ctx, record); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.Newf(dErrors.CodeAlreadyDecided, "certificate %s review already concluded", certID)
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.Newf(dErrors.CodeInvalidTransition, "certificate %s has not entered review", certID)
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record decision")
		}
	}

	s.metrics.RecordDecision(string(decision), score)
	s.publishAudit(ctx, audit.ActionDecisionRecorded, certifierID, certID.String(),
		fmt.Sprintf("decision=%s score=%d", decision, score))

	if decision == certificate.DecisionApproved {
		s.issuer.RequestIssuance(certID)
	}
	return record, nil
}

// Get fetches one certificate.
func (s *Service) Get(ctx context.Context, certID id.CertificateID) (*certificate.Certificate, error) {
	cert, err := s.store.Get(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "certificate %s does not exist", certID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return cert, nil
}

// DecisionOf returns the immutable decision record for a concluded review.
func (s *Service) DecisionOf(ctx context.Context, certID id.CertificateID) (*certificate.ReviewDecision, error) {
	decision, err := s.store.GetDecision(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "certificate %s has no concluded review", certID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load decision")
	}
	return decision, nil
}

// ListByProducer returns a producer's certificates.
func (s *Service) ListByProducer(ctx context.Context, producerID id.ActorID) ([]*certificate.Certificate, error) {
	certs, err := s.store.ListByProducer(ctx, producerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return certs, nil
}

// ListByState returns certificates in one state, e.g. the pending queue.
func (s *Service) ListByState(ctx context.Context, state certificate.State) ([]*certificate.Certificate, error) {
	certs, err := s.store.ListByState(ctx, state)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return certs, nil
}

func (s *Service) publishAudit(ctx context.Context, action string, actorID id.ActorID, subject, detail string) {
	if s.audit != nil {
		s.audit.Publish(ctx, action, actorID, subject, detail)
	}
}
