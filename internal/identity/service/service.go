package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"verdant/internal/audit"
	"verdant/internal/identity"
	"verdant/internal/ledger"
	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
	"verdant/pkg/platform/sentinel"
	"verdant/pkg/requestcontext"
)

// Store is the actor persistence this service needs.
type Store interface {
	Save(ctx context.Context, actor *identity.Actor) error
	FindByID(ctx context.Context, actorID id.ActorID) (*identity.Actor, error)
	FindByIdentityKey(ctx context.Context, key string) (*identity.Actor, error)
	SetLedgerRoleGranted(ctx context.Context, actorID id.ActorID, granted bool) error
	SetSuspended(ctx context.Context, actorID id.ActorID, suspended bool) error
	List(ctx context.Context) ([]*identity.Actor, error)
}

// AuditPublisher records actor lifecycle events on the audit trail.
type AuditPublisher interface {
	Publish(ctx context.Context, action string, actorID id.ActorID, subject string, detail string)
}

// Service owns actor registration and is the single authorization chokepoint:
// every state-transition entry point calls RequireRole here.
type Service struct {
	store  Store
	chain  ledger.Client
	audit  AuditPublisher
	logger *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a logger for degraded-state reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditPublisher sets the audit publisher.
func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// New creates the identity service.
func New(store Store, chain ledger.Client, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("actor store is required")
	}
	if chain == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	svc := &Service{
		store:  store,
		chain:  chain,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register validates and persists a new actor, then attempts the ledger role
// grant. A failed grant never fails registration: the actor is stored with
// LedgerRoleGranted=false, queryable and retryable via RetryLedgerGrant.
func (s *Service) Register(ctx context.Context, input identity.RegisterInput) (*identity.Actor, error) {
	if err := validateRegisterInput(input); err != nil {
		return nil, err
	}

	actor := &identity.Actor{
		ID:              id.NewActorID(),
		IdentityKey:     strings.TrimSpace(input.IdentityKey),
		Role:            input.Role,
		OrgName:         strings.TrimSpace(input.OrgName),
		Email:           strings.ToLower(strings.TrimSpace(input.Email)),
		AccreditationID: strings.TrimSpace(input.AccreditationID),
		RegisteredAt:    requestcontext.Now(ctx),
	}

	if err := s.store.Save(ctx, actor); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "registration conflicts with an existing actor")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save actor")
	}

	s.publishAudit(ctx, audit.ActionActorRegistered, actor.ID, actor.ID.String(),
		fmt.Sprintf("role=%s org=%s", actor.Role, actor.OrgName))

	if err := s.chain.GrantRole(ctx, actor.IdentityKey, actor.Role.String()); err != nil {
		s.logger.WarnContext(ctx, "ledger role grant failed; actor registered in degraded state",
			"actor_id", actor.ID,
			"role", actor.Role,
			"error", err,
		)
		return actor, nil
	}

	if err := s.store.SetLedgerRoleGranted(ctx, actor.ID, true); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record ledger grant")
	}
	actor.LedgerRoleGranted = true
	s.publishAudit(ctx, audit.ActionLedgerRoleGranted, actor.ID, actor.ID.String(), "role="+actor.Role.String())
	return actor, nil
}

// RetryLedgerGrant re-attempts the ledger role grant for a degraded actor.
func (s *Service) RetryLedgerGrant(ctx context.Context, actorID id.ActorID) (*identity.Actor, error) {
	actor, err := s.Get(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.LedgerRoleGranted {
		return actor, nil
	}

	if err := s.chain.GrantRole(ctx, actor.IdentityKey, actor.Role.String()); err != nil {
		if ledger.IsTransient(err) {
			return nil, dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable for role grant")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeLedgerRejected, "ledger rejected role grant")
	}
	if err := s.store.SetLedgerRoleGranted(ctx, actorID, true); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record ledger grant")
	}
	actor.LedgerRoleGranted = true
	s.publishAudit(ctx, audit.ActionLedgerRoleGranted, requestcontext.ActorID(ctx), actor.ID.String(), "role="+actor.Role.String())
	return actor, nil
}

// Get fetches one actor.
func (s *Service) Get(ctx context.Context, actorID id.ActorID) (*identity.Actor, error) {
	actor, err := s.store.FindByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeUnknownActor, "actor %s is not registered", actorID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load actor")
	}
	return actor, nil
}

// GetByIdentityKey fetches the actor registered under a chain identity key.
func (s *Service) GetByIdentityKey(ctx context.Context, key string) (*identity.Actor, error) {
	actor, err := s.store.FindByIdentityKey(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeUnknownActor, "identity key %q is not registered", key)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load actor")
	}
	return actor, nil
}

// RequireRole resolves the actor and enforces that it holds the given role and
// is not suspended. All lifecycle operations authorize through this method.
func (s *Service) RequireRole(ctx context.Context, actorID id.ActorID, role identity.Role) (*identity.Actor, error) {
	actor, err := s.Get(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Suspended {
		return nil, dErrors.Newf(dErrors.CodeRoleViolation, "actor %s is suspended", actorID)
	}
	if actor.Role != role {
		return nil, dErrors.Newf(dErrors.CodeRoleViolation, "actor %s holds role %s, %s required", actorID, actor.Role, role)
	}
	return actor, nil
}

// Suspend marks an actor suspended. Admin-gated at the transport layer.
func (s *Service) Suspend(ctx context.Context, actorID id.ActorID) error {
	return s.setSuspended(ctx, actorID, true)
}

// Reinstate lifts a suspension.
func (s *Service) Reinstate(ctx context.Context, actorID id.ActorID) error {
	return s.setSuspended(ctx, actorID, false)
}

func (s *Service) setSuspended(ctx context.Context, actorID id.ActorID, suspended bool) error {
	if err := s.store.SetSuspended(ctx, actorID, suspended); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeUnknownActor, "actor %s is not registered", actorID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update suspension")
	}
	action := audit.ActionActorReinstated
	if suspended {
		action = audit.ActionActorSuspended
	}
	s.publishAudit(ctx, action, requestcontext.ActorID(ctx), actorID.String(), "")
	return nil
}

func (s *Service) publishAudit(ctx context.Context, action string, actorID id.ActorID, subject, detail string) {
	if s.audit != nil {
		s.audit.Publish(ctx, action, actorID, subject, detail)
	}
}

// List returns all registered actors, for the admin surface.
func (s *Service) List(ctx context.Context) ([]*identity.Actor, error) {
	actors, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list actors")
	}
	return actors, nil
}

func validateRegisterInput(input identity.RegisterInput) error {
	if !input.Role.Valid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown role %q", input.Role)
	}
	if strings.TrimSpace(input.IdentityKey) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identity key is required")
	}
	if strings.TrimSpace(input.OrgName) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "organization name is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(input.Email)); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "a valid contact email is required")
	}
	if input.Role == identity.RoleCertifier && strings.TrimSpace(input.AccreditationID) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "certifiers must provide an accreditation id")
	}
	if input.Role != identity.RoleCertifier && strings.TrimSpace(input.AccreditationID) != "" {
		return dErrors.New(dErrors.CodeInvalidInput, "accreditation id is only valid for certifiers")
	}
	return nil
}
