// Package domain defines the typed identifiers shared across modules. Each ID
// is a distinct UUID-backed type so the compiler rejects cross-entity mixups
// (passing a CertificateID where a BatchID is expected does not compile).
package domain

import (
	"github.com/google/uuid"

	dErrors "verdant/pkg/domain-errors"
)

type (
	// ActorID identifies a registered participant (producer, certifier, buyer, admin).
	ActorID uuid.UUID

	// CertificateID identifies one submitted production claim. Resubmission
	// after changes-requested always allocates a fresh CertificateID.
	CertificateID uuid.UUID

	// BatchID identifies a credit batch minted from exactly one approved
	// certificate. Assigned by the ledger at mint time.
	BatchID uuid.UUID

	// RetirementID identifies one irreversible retirement record.
	RetirementID uuid.UUID
)

// NewActorID allocates a fresh actor identifier.
func NewActorID() ActorID { return ActorID(uuid.New()) }

// NewCertificateID allocates a fresh certificate identifier.
func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }

// NewRetirementID allocates a fresh retirement identifier.
func NewRetirementID() RetirementID { return RetirementID(uuid.New()) }

func (id ActorID) String() string       { return uuid.UUID(id).String() }
func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id BatchID) String() string       { return uuid.UUID(id).String() }
func (id RetirementID) String() string  { return uuid.UUID(id).String() }

func (id ActorID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id BatchID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id RetirementID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// ParseActorID parses and validates an actor ID at a trust boundary.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s, "actor_id")
	return ActorID(u), err
}

// ParseCertificateID parses and validates a certificate ID at a trust boundary.
func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID(s, "certificate_id")
	return CertificateID(u), err
}

// ParseBatchID parses and validates a batch ID at a trust boundary.
func ParseBatchID(s string) (BatchID, error) {
	u, err := parseUUID(s, "batch_id")
	return BatchID(u), err
}

// ParseRetirementID parses and validates a retirement ID at a trust boundary.
func ParseRetirementID(s string) (RetirementID, error) {
	u, err := parseUUID(s, "retirement_id")
	return RetirementID(u), err
}

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs.
func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be empty", field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid UUID", field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be the nil UUID", field)
	}
	return u, nil
}
