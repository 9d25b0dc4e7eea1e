// Package identity holds the actor registry: who may act, in which role.
// Every state-transition entry point in the system authorizes through this
// package so role checks cannot diverge between call sites.
package identity

import (
	"time"

	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
)

// Role is the closed set of participant roles. An actor holds exactly one
// role, fixed at registration.
type Role string

const (
	RoleProducer  Role = "producer"
	RoleCertifier Role = "certifier"
	RoleBuyer     Role = "buyer"
	RoleAdmin     Role = "admin"
)

// Valid reports whether the role is a member of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleProducer, RoleCertifier, RoleBuyer, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole validates a role string at a trust boundary.
func ParseRole(s string) (Role, error) {
	role := Role(s)
	if !role.Valid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown role %q", s)
	}
	return role, nil
}

// Actor is a registered participant. The record is never deleted; suspension
// flips a flag and RequireRole stops honoring the actor.
type Actor struct {
	ID          id.ActorID
	IdentityKey string // wallet-equivalent key, unique
	Role        Role   // immutable after registration
	OrgName     string // unique per role
	Email       string // unique
	// AccreditationID is set for certifiers only and unique among them.
	AccreditationID string
	// LedgerRoleGranted records whether the ledger's access contract
	// acknowledges this actor. Registration succeeds even when the grant
	// fails; the degraded state stays visible and retryable.
	LedgerRoleGranted bool
	Suspended         bool
	RegisteredAt      time.Time
}

// RegisterInput carries the registration facts for a new actor.
type RegisterInput struct {
	IdentityKey     string
	Role            Role
	OrgName         string
	Email           string
	AccreditationID string
}
