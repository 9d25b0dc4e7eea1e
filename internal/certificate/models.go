// Package certificate holds the production-claim records and the review state
// machine that turns a submitted claim into an approved, rejected, or
// changes-requested certificate.
package certificate

import (
	"time"

	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
)

// State is the review state of one certificate.
//
// Pending -> UnderReview -> {Approved, Rejected, RequiresChanges}
//
// Approved and Rejected never transition again. RequiresChanges is terminal
// for this certificate id as well: the producer resubmits as a new
// certificate linked through ParentID, so the audited record is never
// mutated in place.
type State string

const (
	StatePending         State = "pending"
	StateUnderReview     State = "under_review"
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
	StateRequiresChanges State = "requires_changes"
)

// Valid reports whether the state is a member of the closed set.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateUnderReview, StateApproved, StateRejected, StateRequiresChanges:
		return true
	}
	return false
}

// Concluded reports whether review has finished for this certificate id.
func (s State) Concluded() bool {
	switch s {
	case StateApproved, StateRejected, StateRequiresChanges:
		return true
	}
	return false
}

// Certificate is a reviewable claim of certified green-energy production.
type Certificate struct {
	ID         id.CertificateID
	ParentID   id.CertificateID // non-nil when resubmitted after changes requested
	ProducerID id.ActorID
	// Facility describes the production site making the claim.
	Facility string
	// Amount is the declared production in whole credit units.
	Amount int64
	// CarbonIntensity is the declared gCO2e/kWh score for the facility.
	CarbonIntensity float64
	State           State
	// ReviewerID is the certifier that claimed the review, zero until then.
	// At most one reviewer is ever active for a certificate.
	ReviewerID  id.ActorID
	SubmittedAt time.Time
}

// Claim is the producer-submitted input for a new certificate.
type Claim struct {
	Facility        string
	Amount          int64
	CarbonIntensity float64
	// ParentID links a resubmission to the changes-requested certificate it
	// replaces. Zero for first submissions.
	ParentID id.CertificateID
}

// Decision is the certifier's verdict on a certificate.
type Decision string

const (
	DecisionApproved        Decision = "approved"
	DecisionRejected        Decision = "rejected"
	DecisionRequiresChanges Decision = "requires_changes"
)

// Valid reports whether the decision is a member of the closed set.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionRequiresChanges:
		return true
	}
	return false
}

// CertificateState maps a decision to the state it concludes in.
func (d Decision) CertificateState() State {
	switch d {
	case DecisionApproved:
		return StateApproved
	case DecisionRejected:
		return StateRejected
	default:
		return StateRequiresChanges
	}
}

// ChecklistItem names one boolean compliance check.
type ChecklistItem string

const (
	ItemMeterCalibration ChecklistItem = "meter_calibration"
	ItemRenewableSource  ChecklistItem = "renewable_fuel_source"
	ItemEmissionsReport  ChecklistItem = "emissions_reporting"
	ItemSiteInspection   ChecklistItem = "site_inspection"
	ItemChainOfCustody   ChecklistItem = "chain_of_custody"
)

// ChecklistItems is the fixed compliance checklist. Treated as policy, not
// law: the item set may be revised by product, so scoring derives from
// whatever set is current rather than hardcoding positions.
func ChecklistItems() []ChecklistItem {
	return []ChecklistItem{
		ItemMeterCalibration,
		ItemRenewableSource,
		ItemEmissionsReport,
		ItemSiteInspection,
		ItemChainOfCustody,
	}
}

// Checklist records the outcome of each compliance item.
type Checklist map[ChecklistItem]bool

// Validate requires an answer for every current item and nothing else.
func (c Checklist) Validate() error {
	items := ChecklistItems()
	if len(c) != len(items) {
		return dErrors.Newf(dErrors.CodeInvalidInput, "checklist must answer all %d compliance items", len(items))
	}
	for _, item := range items {
		if _, ok := c[item]; !ok {
			return dErrors.Newf(dErrors.CodeInvalidInput, "checklist is missing item %q", item)
		}
	}
	return nil
}

// Score derives the compliance score: round(100 * passed / total).
func (c Checklist) Score() int {
	total := len(c)
	if total == 0 {
		return 0
	}
	passed := 0
	for _, ok := range c {
		if ok {
			passed++
		}
	}
	return (100*passed + total/2) / total
}

// ReviewDecision is the immutable audit record of a concluded review.
// Exactly one exists per certificate once review concludes.
type ReviewDecision struct {
	CertificateID id.CertificateID
	CertifierID   id.ActorID
	Checklist     Checklist
	Score         int
	Decision      Decision
	Comment       string
	DecidedAt     time.Time
}
