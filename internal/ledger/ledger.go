// Package ledger defines the boundary to the authoritative external credit
// ledger. The registry never owns balances; it drives the ledger through this
// interface and treats every local record as a reconciliation cache.
package ledger

import (
	"context"
	"errors"
	"fmt"

	id "verdant/pkg/domain"
)

// TxRef is the ledger's reference for a committed transaction.
type TxRef string

// ErrorKind classifies ledger failures for retry policy.
type ErrorKind string

const (
	// KindTransient covers network faults and timeouts: retry-eligible with
	// the same idempotency key.
	KindTransient ErrorKind = "transient"

	// KindRejected means the ledger itself refused the operation (for
	// example insufficient balance). Never retried.
	KindRejected ErrorKind = "rejected"
)

// Error wraps ledger failures with normalized classification.
type Error struct {
	Kind       ErrorKind
	Op         string
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("ledger %s [%s]: %s: %v", e.Op, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("ledger %s [%s]: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewTransient creates a retry-eligible ledger error.
func NewTransient(op, message string, underlying error) *Error {
	return &Error{Kind: KindTransient, Op: op, Message: message, Underlying: underlying}
}

// NewRejected creates a permanent ledger refusal.
func NewRejected(op, message string) *Error {
	return &Error{Kind: KindRejected, Op: op, Message: message}
}

// IsTransient reports whether an error is worth retrying.
func IsTransient(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == KindTransient
	}
	// Deadline or cancellation on the call boundary counts as transient: the
	// ledger may or may not have committed, which is exactly what idempotency
	// keys are for.
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// IsRejected reports whether the ledger permanently refused the operation.
func IsRejected(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == KindRejected
	}
	return false
}

// MintResult carries the ledger-assigned batch identity for a mint.
type MintResult struct {
	BatchID id.BatchID
	TxRef   TxRef
}

// Client is the consumed ledger interface. All mutating calls take a
// caller-generated idempotency key; retrying with the same key has at most
// one effect on the ledger. Calls may block; callers must supply deadlines
// and must not hold in-process locks across a call.
type Client interface {
	// Mint creates a new credit batch owned by toIdentity, bound to
	// metadataRef (the approved certificate id).
	Mint(ctx context.Context, idempotencyKey string, toIdentity string, amount int64, metadataRef string) (MintResult, error)

	// BalanceOf reports the authoritative balance of a holder for one batch.
	BalanceOf(ctx context.Context, identity string, batchID id.BatchID) (int64, error)

	// Transfer moves credits between holders within a batch.
	Transfer(ctx context.Context, idempotencyKey string, from, to string, batchID id.BatchID, amount int64) (TxRef, error)

	// Retire permanently removes credits from circulation.
	Retire(ctx context.Context, idempotencyKey string, holder string, batchID id.BatchID, amount int64) (TxRef, error)

	// GrantRole registers a participant role on the ledger's access contract.
	GrantRole(ctx context.Context, identityKey string, role string) error
}
