// Package credit holds the tradable-credit domain model. Credits exist
// authoritatively on the external ledger; the records here are the
// coordinator's local mirror of ledger-confirmed facts, kept for queries and
// reconciliation. Nothing in this package is written without a confirmed
// ledger transaction reference.
package credit

import (
	"time"

	"verdant/internal/ledger"
	id "verdant/pkg/domain"
)

// Batch is the local record of a mint. Exactly one batch ever exists per
// approved certificate.
type Batch struct {
	BatchID       id.BatchID
	CertificateID id.CertificateID
	ProducerID    id.ActorID
	Total         int64
	Outstanding   int64 // total minus retired
	MintTxRef     ledger.TxRef
	MintedAt      time.Time
}

// Holding is a holder's mirrored position in one batch. The ledger balance is
// re-read before any spend; holdings serve listings and reconciliation.
type Holding struct {
	BatchID  id.BatchID
	HolderID id.ActorID
	Amount   int64
}

// Retirement is an immutable proof that credits were permanently destroyed.
type Retirement struct {
	RetirementID id.RetirementID
	BatchID      id.BatchID
	HolderID     id.ActorID
	Amount       int64
	Beneficiary  string
	TxRef        ledger.TxRef
	RetiredAt    time.Time
}

// FailedIssuance records an approved certificate whose mint did not complete.
// It stays visible until an operator retry succeeds.
type FailedIssuance struct {
	CertificateID id.CertificateID
	Kind          ledger.ErrorKind
	Reason        string
	Attempts      int
	LastAttemptAt time.Time
}

// TransferInput describes a credit transfer between actors.
type TransferInput struct {
	BatchID id.BatchID
	To      id.ActorID
	Amount  int64
}

// RetireInput describes a voluntary retirement of held credits.
type RetireInput struct {
	BatchID     id.BatchID
	Amount      int64
	Beneficiary string
}

// Mismatch is one reconciliation finding: a holding whose mirrored amount
// disagrees with the ledger balance.
type Mismatch struct {
	BatchID  id.BatchID
	HolderID id.ActorID
	Local    int64
	Ledger   int64
}
