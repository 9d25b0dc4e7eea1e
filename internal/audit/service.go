package audit

import (
	"context"

	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
)

// Store is the append-only trail persistence.
type Store interface {
	Append(ctx context.Context, rec Record) error
	ListBySubject(ctx context.Context, subject string) ([]Record, error)
	ListByActor(ctx context.Context, actorID id.ActorID) ([]Record, error)
}

// Service answers trail queries. Writes go through the Publisher only.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// BySubject returns the trail for one certificate, batch or actor subject.
func (s *Service) BySubject(ctx context.Context, subject string) ([]Record, error) {
	recs, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit trail")
	}
	return recs, nil
}

// ByActor returns every action one actor performed.
func (s *Service) ByActor(ctx context.Context, actorID id.ActorID) ([]Record, error) {
	recs, err := s.store.ListByActor(ctx, actorID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit trail")
	}
	return recs, nil
}
