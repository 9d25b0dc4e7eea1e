package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"verdant/internal/audit"
	"verdant/internal/identity"
	id "verdant/pkg/domain"
	"verdant/pkg/requestcontext"
)

// AuditService answers trail queries.
type AuditService interface {
	BySubject(ctx context.Context, subject string) ([]audit.Record, error)
	ByActor(ctx context.Context, actorID id.ActorID) ([]audit.Record, error)
}

type AuditHandler struct {
	audit    AuditService
	identity IdentityService
}

func NewAuditHandler(auditSvc AuditService, identity IdentityService) *AuditHandler {
	return &AuditHandler{audit: auditSvc, identity: identity}
}

func (h *AuditHandler) Register(authed chi.Router) {
	authed.Get("/audit/{subject}", h.handleBySubject)
}

type auditRecordResponse struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail,omitempty"`
}

// handleBySubject returns the trail for one subject. Subjects are opaque
// strings here, certificate, batch or actor IDs.
func (h *AuditHandler) handleBySubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.identity.RequireRole(ctx, requestcontext.ActorID(ctx), identity.RoleAdmin); err != nil {
		writeError(w, err)
		return
	}

	recs, err := h.audit.BySubject(ctx, chi.URLParam(r, "subject"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]auditRecordResponse, 0, len(recs))
	for _, rec := range recs {
		resp := auditRecordResponse{
			Timestamp: rec.Timestamp,
			RequestID: rec.RequestID,
			Action:    rec.Action,
			Subject:   rec.Subject,
			Detail:    rec.Detail,
		}
		if !rec.ActorID.IsNil() {
			resp.ActorID = rec.ActorID.String()
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}
