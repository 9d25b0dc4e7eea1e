package store

import (
	"context"
	"fmt"
	"sync"

	"verdant/internal/identity"
	id "verdant/pkg/domain"
	"verdant/pkg/platform/sentinel"
)

// Memory is the in-memory actor store used in dev mode and tests. Uniqueness
// indexes mirror the database constraints so tests exercise the same
// conflicts production would hit.
type Memory struct {
	mu       sync.RWMutex
	byID     map[id.ActorID]*identity.Actor
	byKey    map[string]id.ActorID
	byEmail  map[string]id.ActorID
	byOrg    map[orgKey]id.ActorID
	byAccred map[string]id.ActorID
}

type orgKey struct {
	role identity.Role
	org  string
}

// NewMemory creates an empty in-memory actor store.
func NewMemory() *Memory {
	return &Memory{
		byID:     make(map[id.ActorID]*identity.Actor),
		byKey:    make(map[string]id.ActorID),
		byEmail:  make(map[string]id.ActorID),
		byOrg:    make(map[orgKey]id.ActorID),
		byAccred: make(map[string]id.ActorID),
	}
}

// Save inserts a new actor, enforcing the uniqueness invariants.
func (s *Memory) Save(ctx context.Context, actor *identity.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[actor.ID]; exists {
		return fmt.Errorf("actor id: %w", sentinel.ErrConflict)
	}
	if _, exists := s.byKey[actor.IdentityKey]; exists {
		return fmt.Errorf("identity key: %w", sentinel.ErrConflict)
	}
	if _, exists := s.byEmail[actor.Email]; exists {
		return fmt.Errorf("email: %w", sentinel.ErrConflict)
	}
	ok := orgKey{role: actor.Role, org: actor.OrgName}
	if _, exists := s.byOrg[ok]; exists {
		return fmt.Errorf("organization name: %w", sentinel.ErrConflict)
	}
	if actor.AccreditationID != "" {
		if _, exists := s.byAccred[actor.AccreditationID]; exists {
			return fmt.Errorf("accreditation id: %w", sentinel.ErrConflict)
		}
	}

	stored := *actor
	s.byID[actor.ID] = &stored
	s.byKey[actor.IdentityKey] = actor.ID
	s.byEmail[actor.Email] = actor.ID
	s.byOrg[ok] = actor.ID
	if actor.AccreditationID != "" {
		s.byAccred[actor.AccreditationID] = actor.ID
	}
	return nil
}

// FindByID returns a copy of the actor record.
func (s *Memory) FindByID(ctx context.Context, actorID id.ActorID) (*identity.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actor, ok := s.byID[actorID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *actor
	return &copied, nil
}

// FindByIdentityKey resolves an actor by wallet-equivalent key.
func (s *Memory) FindByIdentityKey(ctx context.Context, key string) (*identity.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actorID, ok := s.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.byID[actorID]
	return &copied, nil
}

// SetLedgerRoleGranted records the outcome of a ledger role grant.
func (s *Memory) SetLedgerRoleGranted(ctx context.Context, actorID id.ActorID, granted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	actor, ok := s.byID[actorID]
	if !ok {
		return sentinel.ErrNotFound
	}
	actor.LedgerRoleGranted = granted
	return nil
}

// SetSuspended flips the suspension flag.
func (s *Memory) SetSuspended(ctx context.Context, actorID id.ActorID, suspended bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	actor, ok := s.byID[actorID]
	if !ok {
		return sentinel.ErrNotFound
	}
	actor.Suspended = suspended
	return nil
}

// List returns all actors, for the admin surface.
func (s *Memory) List(ctx context.Context) ([]*identity.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actors := make([]*identity.Actor, 0, len(s.byID))
	for _, actor := range s.byID {
		copied := *actor
		actors = append(actors, &copied)
	}
	return actors, nil
}
