package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"verdant/internal/credit"
	"verdant/internal/identity"
	"verdant/internal/ledger"
	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
	"verdant/pkg/requestcontext"
)

// CreditService is the slice of the credit coordinator the credit endpoints
// need.
type CreditService interface {
	IssueFromCertificate(ctx context.Context, certID id.CertificateID) (*credit.Batch, error)
	RetryIssuance(ctx context.Context, certID id.CertificateID) (*credit.Batch, error)
	FailedIssuances(ctx context.Context) ([]*credit.FailedIssuance, error)
	Transfer(ctx context.Context, fromID id.ActorID, input credit.TransferInput) (ledger.TxRef, error)
	Retire(ctx context.Context, holderID id.ActorID, input credit.RetireInput) (*credit.Retirement, error)
	GetBatch(ctx context.Context, batchID id.BatchID) (*credit.Batch, error)
	BatchOf(ctx context.Context, certID id.CertificateID) (*credit.Batch, error)
	Holdings(ctx context.Context, holderID id.ActorID) ([]*credit.Holding, error)
	Retirements(ctx context.Context, holderID id.ActorID) ([]*credit.Retirement, error)
	Reconcile(ctx context.Context) ([]credit.Mismatch, error)
}

type CreditHandler struct {
	credits  CreditService
	identity IdentityService
}

func NewCreditHandler(credits CreditService, identity IdentityService) *CreditHandler {
	return &CreditHandler{credits: credits, identity: identity}
}

func (h *CreditHandler) Register(authed chi.Router) {
	authed.Post("/credits/issue", h.handleIssue)
	authed.Post("/credits/transfer", h.handleTransfer)
	authed.Post("/credits/retire", h.handleRetire)
	authed.Get("/credits/holdings", h.handleHoldings)
	authed.Get("/credits/retirements", h.handleRetirements)
	authed.Get("/credits/batches/{batchID}", h.handleGetBatch)
	authed.Get("/credits/failed-issuances", h.handleFailedIssuances)
	authed.Post("/credits/reconcile", h.handleReconcile)
}

type batchResponse struct {
	BatchID       string    `json:"batch_id"`
	CertificateID string    `json:"certificate_id"`
	ProducerID    string    `json:"producer_id"`
	Total         int64     `json:"total"`
	Outstanding   int64     `json:"outstanding"`
	MintTxRef     string    `json:"mint_tx_ref"`
	MintedAt      time.Time `json:"minted_at"`
}

func toBatchResponse(batch *credit.Batch) batchResponse {
	return batchResponse{
		BatchID:       batch.BatchID.String(),
		CertificateID: batch.CertificateID.String(),
		ProducerID:    batch.ProducerID.String(),
		Total:         batch.Total,
		Outstanding:   batch.Outstanding,
		MintTxRef:     string(batch.MintTxRef),
		MintedAt:      batch.MintedAt,
	}
}

type issueRequest struct {
	CertificateID string `json:"certificate_id"`
}

// handleIssue is the operator retry surface for failed issuances. Normal
// issuance happens automatically when a certificate is approved.
func (h *CreditHandler) handleIssue(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}

	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	certID, err := id.ParseCertificateID(req.CertificateID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid certificate_id"))
		return
	}

	batch, err := h.credits.RetryIssuance(r.Context(), certID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchResponse(batch))
}

type transferRequest struct {
	BatchID string `json:"batch_id"`
	To      string `json:"to"`
	Amount  int64  `json:"amount"`
}

type transferResponse struct {
	TxRef string `json:"tx_ref"`
}

func (h *CreditHandler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	batchID, err := id.ParseBatchID(req.BatchID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid batch_id"))
		return
	}
	toID, err := id.ParseActorID(req.To)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid recipient id"))
		return
	}

	txRef, err := h.credits.Transfer(r.Context(), requestcontext.ActorID(r.Context()), credit.TransferInput{
		BatchID: batchID,
		To:      toID,
		Amount:  req.Amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{TxRef: string(txRef)})
}

type retireRequest struct {
	BatchID     string `json:"batch_id"`
	Amount      int64  `json:"amount"`
	Beneficiary string `json:"beneficiary"`
}

type retirementResponse struct {
	RetirementID string    `json:"retirement_id"`
	BatchID      string    `json:"batch_id"`
	HolderID     string    `json:"holder_id"`
	Amount       int64     `json:"amount"`
	Beneficiary  string    `json:"beneficiary"`
	TxRef        string    `json:"tx_ref"`
	RetiredAt    time.Time `json:"retired_at"`
}

func toRetirementResponse(rec *credit.Retirement) retirementResponse {
	return retirementResponse{
		RetirementID: rec.RetirementID.String(),
		BatchID:      rec.BatchID.String(),
		HolderID:     rec.HolderID.String(),
		Amount:       rec.Amount,
		Beneficiary:  rec.Beneficiary,
		TxRef:        string(rec.TxRef),
		RetiredAt:    rec.RetiredAt,
	}
}

func (h *CreditHandler) handleRetire(w http.ResponseWriter, r *http.Request) {
	var req retireRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	batchID, err := id.ParseBatchID(req.BatchID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid batch_id"))
		return
	}

	rec, err := h.credits.Retire(r.Context(), requestcontext.ActorID(r.Context()), credit.RetireInput{
		BatchID:     batchID,
		Amount:      req.Amount,
		Beneficiary: req.Beneficiary,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRetirementResponse(rec))
}

type holdingResponse struct {
	BatchID string `json:"batch_id"`
	Amount  int64  `json:"amount"`
}

func (h *CreditHandler) handleHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.credits.Holdings(r.Context(), requestcontext.ActorID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]holdingResponse, 0, len(holdings))
	for _, holding := range holdings {
		out = append(out, holdingResponse{BatchID: holding.BatchID.String(), Amount: holding.Amount})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CreditHandler) handleRetirements(w http.ResponseWriter, r *http.Request) {
	recs, err := h.credits.Retirements(r.Context(), requestcontext.ActorID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]retirementResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRetirementResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CreditHandler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid batch id"))
		return
	}
	batch, err := h.credits.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(batch))
}

type failedIssuanceResponse struct {
	CertificateID string    `json:"certificate_id"`
	Kind          string    `json:"kind"`
	Reason        string    `json:"reason"`
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

func (h *CreditHandler) handleFailedIssuances(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	failures, err := h.credits.FailedIssuances(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]failedIssuanceResponse, 0, len(failures))
	for _, failure := range failures {
		out = append(out, failedIssuanceResponse{
			CertificateID: failure.CertificateID.String(),
			Kind:          string(failure.Kind),
			Reason:        failure.Reason,
			Attempts:      failure.Attempts,
			LastAttemptAt: failure.LastAttemptAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type mismatchResponse struct {
	BatchID  string `json:"batch_id"`
	HolderID string `json:"holder_id"`
	Local    int64  `json:"local"`
	Ledger   int64  `json:"ledger"`
}

func (h *CreditHandler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	mismatches, err := h.credits.Reconcile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]mismatchResponse, 0, len(mismatches))
	for _, m := range mismatches {
		out = append(out, mismatchResponse{
			BatchID:  m.BatchID.String(),
			HolderID: m.HolderID.String(),
			Local:    m.Local,
			Ledger:   m.Ledger,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CreditHandler) requireAdmin(r *http.Request) error {
	_, err := h.identity.RequireRole(r.Context(), requestcontext.ActorID(r.Context()), identity.RoleAdmin)
	return err
}
