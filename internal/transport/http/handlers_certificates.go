package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"verdant/internal/certificate"
	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
	"verdant/pkg/requestcontext"
)

// CertificateService is the slice of the certification engine the
// certificate endpoints need.
type CertificateService interface {
	Submit(ctx context.Context, producerID id.ActorID, claim certificate.Claim) (*certificate.Certificate, error)
	StartReview(ctx context.Context, certifierID id.ActorID, certID id.CertificateID) error
	Decide(ctx context.Context, certifierID id.ActorID, certID id.CertificateID, checklist certificate.Checklist, decision certificate.Decision, comment string) (*certificate.ReviewDecision, error)
	Get(ctx context.Context, certID id.CertificateID) (*certificate.Certificate, error)
	DecisionOf(ctx context.Context, certID id.CertificateID) (*certificate.ReviewDecision, error)
	ListByProducer(ctx context.Context, producerID id.ActorID) ([]*certificate.Certificate, error)
	ListByState(ctx context.Context, state certificate.State) ([]*certificate.Certificate, error)
}

type CertificateHandler struct {
	certs CertificateService
}

func NewCertificateHandler(certs CertificateService) *CertificateHandler {
	return &CertificateHandler{certs: certs}
}

func (h *CertificateHandler) Register(authed chi.Router) {
	authed.Post("/certificates", h.handleSubmit)
	authed.Get("/certificates", h.handleList)
	authed.Get("/certificates/{certID}", h.handleGet)
	authed.Post("/certificates/{certID}/review", h.handleStartReview)
	authed.Post("/certificates/{certID}/decision", h.handleDecide)
	authed.Get("/certificates/{certID}/decision", h.handleGetDecision)
}

type submitCertificateRequest struct {
	Facility        string  `json:"facility"`
	Amount          int64   `json:"amount"`
	CarbonIntensity float64 `json:"carbon_intensity,omitempty"`
	ParentID        string  `json:"parent_id,omitempty"`
}

type certificateResponse struct {
	ID              string    `json:"id"`
	ParentID        string    `json:"parent_id,omitempty"`
	ProducerID      string    `json:"producer_id"`
	Facility        string    `json:"facility"`
	Amount          int64     `json:"amount"`
	CarbonIntensity float64   `json:"carbon_intensity"`
	State           string    `json:"state"`
	ReviewerID      string    `json:"reviewer_id,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

func toCertificateResponse(cert *certificate.Certificate) certificateResponse {
	resp := certificateResponse{
		ID:              cert.ID.String(),
		ProducerID:      cert.ProducerID.String(),
		Facility:        cert.Facility,
		Amount:          cert.Amount,
		CarbonIntensity: cert.CarbonIntensity,
		State:           string(cert.State),
		SubmittedAt:     cert.SubmittedAt,
	}
	if !cert.ParentID.IsNil() {
		resp.ParentID = cert.ParentID.String()
	}
	if !cert.ReviewerID.IsNil() {
		resp.ReviewerID = cert.ReviewerID.String()
	}
	return resp
}

type decisionResponse struct {
	CertificateID string          `json:"certificate_id"`
	CertifierID   string          `json:"certifier_id"`
	Checklist     map[string]bool `json:"checklist"`
	Score         int             `json:"score"`
	Decision      string          `json:"decision"`
	Comment       string          `json:"comment,omitempty"`
	DecidedAt     time.Time       `json:"decided_at"`
}

func toDecisionResponse(rec *certificate.ReviewDecision) decisionResponse {
	checklist := make(map[string]bool, len(rec.Checklist))
	for item, passed := range rec.Checklist {
		checklist[string(item)] = passed
	}
	return decisionResponse{
		CertificateID: rec.CertificateID.String(),
		CertifierID:   rec.CertifierID.String(),
		Checklist:     checklist,
		Score:         rec.Score,
		Decision:      string(rec.Decision),
		Comment:       rec.Comment,
		DecidedAt:     rec.DecidedAt,
	}
}

func (h *CertificateHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitCertificateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	claim := certificate.Claim{
		Facility:        req.Facility,
		Amount:          req.Amount,
		CarbonIntensity: req.CarbonIntensity,
	}
	if req.ParentID != "" {
		parentID, err := id.ParseCertificateID(req.ParentID)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid parent_id"))
			return
		}
		claim.ParentID = parentID
	}

	cert, err := h.certs.Submit(r.Context(), requestcontext.ActorID(r.Context()), claim)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCertificateResponse(cert))
}

// handleList serves the review queue. With a state filter it lists matching
// certificates; without one it lists the caller's own submissions.
func (h *CertificateHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if raw := r.URL.Query().Get("state"); raw != "" {
		state := certificate.State(raw)
		if !state.Valid() {
			writeError(w, dErrors.Newf(dErrors.CodeBadRequest, "unknown state %q", raw))
			return
		}
		certs, err := h.certs.ListByState(ctx, state)
		if err != nil {
			writeError(w, err)
			return
		}
		writeCertificates(w, certs)
		return
	}

	certs, err := h.certs.ListByProducer(ctx, requestcontext.ActorID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeCertificates(w, certs)
}

func writeCertificates(w http.ResponseWriter, certs []*certificate.Certificate) {
	out := make([]certificateResponse, 0, len(certs))
	for _, cert := range certs {
		out = append(out, toCertificateResponse(cert))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CertificateHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid certificate id"))
		return
	}
	cert, err := h.certs.Get(r.Context(), certID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateResponse(cert))
}

func (h *CertificateHandler) handleStartReview(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid certificate id"))
		return
	}
	if err := h.certs.StartReview(r.Context(), requestcontext.ActorID(r.Context()), certID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type decideRequest struct {
	Checklist map[string]bool `json:"checklist"`
	Decision  string          `json:"decision"`
	Comment   string          `json:"comment,omitempty"`
}

func (h *CertificateHandler) handleDecide(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid certificate id"))
		return
	}

	var req decideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	checklist := make(certificate.Checklist, len(req.Checklist))
	for item, passed := range req.Checklist {
		checklist[certificate.ChecklistItem(item)] = passed
	}

	rec, err := h.certs.Decide(r.Context(), requestcontext.ActorID(r.Context()), certID,
		checklist, certificate.Decision(req.Decision), req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDecisionResponse(rec))
}

func (h *CertificateHandler) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid certificate id"))
		return
	}
	rec, err := h.certs.DecisionOf(r.Context(), certID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionResponse(rec))
}
