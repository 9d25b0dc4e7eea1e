package audit

import (
	"time"

	id "verdant/pkg/domain"
)

// Actions recorded on the trail. The set is closed so downstream consumers
// can rely on stable names.
const (
	ActionActorRegistered      = "actor_registered"
	ActionLedgerRoleGranted    = "ledger_role_granted"
	ActionActorSuspended       = "actor_suspended"
	ActionActorReinstated      = "actor_reinstated"
	ActionCertificateSubmitted = "certificate_submitted"
	ActionReviewStarted        = "review_started"
	ActionDecisionRecorded     = "decision_recorded"
	ActionBatchMinted          = "batch_minted"
	ActionIssuanceFailed       = "issuance_failed"
	ActionCreditsTransferred   = "credits_transferred"
	ActionCreditsRetired       = "credits_retired"
)

// Record is one append-only trail entry. Subject is the identifier of the
// thing acted on, a certificate, batch or actor ID in string form.
type Record struct {
	Timestamp time.Time
	RequestID string
	ActorID   id.ActorID
	Action    string
	Subject   string
	Detail    string
}
