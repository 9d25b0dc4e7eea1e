package store

import (
	"context"
	"sync"

	"verdant/internal/certificate"
	id "verdant/pkg/domain"
	"verdant/pkg/platform/sentinel"
)

// Memory is the in-memory certificate store. The review-claim and decide
// operations are compare-and-set under one lock, giving the same atomicity
// the Postgres store gets from conditional UPDATEs.
type Memory struct {
	mu        sync.RWMutex
	certs     map[id.CertificateID]*certificate.Certificate
	decisions map[id.CertificateID]*certificate.ReviewDecision
}

// NewMemory creates an empty in-memory certificate store.
func NewMemory() *Memory {
	return &Memory{
		certs:     make(map[id.CertificateID]*certificate.Certificate),
		decisions: make(map[id.CertificateID]*certificate.ReviewDecision),
	}
}

// Create inserts a new certificate.
func (s *Memory) Create(ctx context.Context, cert *certificate.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.certs[cert.ID]; exists {
		return sentinel.ErrConflict
	}
	stored := *cert
	s.certs[cert.ID] = &stored
	return nil
}

// Get returns a copy of one certificate.
func (s *Memory) Get(ctx context.Context, certID id.CertificateID) (*certificate.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, ok := s.certs[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *cert
	return &copied, nil
}

// ClaimReview atomically transitions Pending -> UnderReview and records the
// claiming certifier. Exactly one of N concurrent claimers wins; the rest see
// ErrConflict. Any non-pending, non-under-review state yields ErrInvalidState.
func (s *Memory) ClaimReview(ctx context.Context, certID id.CertificateID, certifierID id.ActorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certs[certID]
	if !ok {
		return sentinel.ErrNotFound
	}
	switch cert.State {
	case certificate.StatePending:
		cert.State = certificate.StateUnderReview
		cert.ReviewerID = certifierID
		return nil
	case certificate.StateUnderReview:
		return sentinel.ErrConflict
	default:
		return sentinel.ErrInvalidState
	}
}

// Conclude atomically moves UnderReview to the decision's final state and
// writes the immutable ReviewDecision. A second conclusion attempt fails with
// ErrConflict regardless of caller, keeping the decision record append-only.
func (s *Memory) Conclude(ctx context.Context, decision *certificate.ReviewDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certs[decision.CertificateID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if _, decided := s.decisions[decision.CertificateID]; decided || cert.State.Concluded() {
		return sentinel.ErrConflict
	}
	if cert.State != certificate.StateUnderReview {
		return sentinel.ErrInvalidState
	}

	stored := *decision
	stored.Checklist = make(certificate.Checklist, len(decision.Checklist))
	for item, ok := range decision.Checklist {
		stored.Checklist[item] = ok
	}
	s.decisions[decision.CertificateID] = &stored
	cert.State = decision.Decision.CertificateState()
	return nil
}

// GetDecision returns the immutable review decision for a certificate.
func (s *Memory) GetDecision(ctx context.Context, certID id.CertificateID) (*certificate.ReviewDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	decision, ok := s.decisions[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *decision
	return &copied, nil
}

// ListByProducer returns all certificates submitted by one producer.
func (s *Memory) ListByProducer(ctx context.Context, producerID id.ActorID) ([]*certificate.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var certs []*certificate.Certificate
	for _, cert := range s.certs {
		if cert.ProducerID == producerID {
			copied := *cert
			certs = append(certs, &copied)
		}
	}
	return certs, nil
}

// ListByState returns all certificates in one state.
func (s *Memory) ListByState(ctx context.Context, state certificate.State) ([]*certificate.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var certs []*certificate.Certificate
	for _, cert := range s.certs {
		if cert.State == state {
			copied := *cert
			certs = append(certs, &copied)
		}
	}
	return certs, nil
}
