package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"verdant/internal/identity"
	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
	"verdant/pkg/requestcontext"
)

// IdentityService is the slice of the identity service the actor endpoints
// need.
type IdentityService interface {
	Register(ctx context.Context, input identity.RegisterInput) (*identity.Actor, error)
	Get(ctx context.Context, actorID id.ActorID) (*identity.Actor, error)
	RequireRole(ctx context.Context, actorID id.ActorID, role identity.Role) (*identity.Actor, error)
	RetryLedgerGrant(ctx context.Context, actorID id.ActorID) (*identity.Actor, error)
	Suspend(ctx context.Context, actorID id.ActorID) error
	Reinstate(ctx context.Context, actorID id.ActorID) error
	List(ctx context.Context) ([]*identity.Actor, error)
}

type ActorHandler struct {
	identity IdentityService
}

func NewActorHandler(identity IdentityService) *ActorHandler {
	return &ActorHandler{identity: identity}
}

// Register mounts the actor routes. Registration itself is open; the
// administrative routes live behind auth and an admin role check.
func (h *ActorHandler) Register(public, authed chi.Router) {
	public.Post("/actors", h.handleRegister)

	authed.Get("/actors", h.handleList)
	authed.Get("/actors/{actorID}", h.handleGet)
	authed.Post("/actors/{actorID}/ledger-grant", h.handleRetryLedgerGrant)
	authed.Post("/actors/{actorID}/suspend", h.handleSuspend)
	authed.Post("/actors/{actorID}/reinstate", h.handleReinstate)
}

type registerActorRequest struct {
	IdentityKey     string `json:"identity_key"`
	Role            string `json:"role"`
	OrgName         string `json:"org_name"`
	Email           string `json:"email"`
	AccreditationID string `json:"accreditation_id,omitempty"`
}

type actorResponse struct {
	ID                string    `json:"id"`
	IdentityKey       string    `json:"identity_key"`
	Role              string    `json:"role"`
	OrgName           string    `json:"org_name"`
	Email             string    `json:"email"`
	AccreditationID   string    `json:"accreditation_id,omitempty"`
	LedgerRoleGranted bool      `json:"ledger_role_granted"`
	Suspended         bool      `json:"suspended"`
	RegisteredAt      time.Time `json:"registered_at"`
}

func toActorResponse(actor *identity.Actor) actorResponse {
	return actorResponse{
		ID:                actor.ID.String(),
		IdentityKey:       actor.IdentityKey,
		Role:              string(actor.Role),
		OrgName:           actor.OrgName,
		Email:             actor.Email,
		AccreditationID:   actor.AccreditationID,
		LedgerRoleGranted: actor.LedgerRoleGranted,
		Suspended:         actor.Suspended,
		RegisteredAt:      actor.RegisteredAt,
	}
}

func (h *ActorHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerActorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validateRegisterActorRequest(req); err != nil {
		writeError(w, err)
		return
	}

	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	actor, err := h.identity.Register(r.Context(), identity.RegisterInput{
		IdentityKey:     req.IdentityKey,
		Role:            role,
		OrgName:         req.OrgName,
		Email:           req.Email,
		AccreditationID: req.AccreditationID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActorResponse(actor))
}

func (h *ActorHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	actorID, err := id.ParseActorID(chi.URLParam(r, "actorID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid actor id"))
		return
	}
	actor, err := h.identity.Get(r.Context(), actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActorResponse(actor))
}

func (h *ActorHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	actors, err := h.identity.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]actorResponse, 0, len(actors))
	for _, actor := range actors {
		out = append(out, toActorResponse(actor))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRetryLedgerGrant retries the on-chain role grant for an actor stuck
// in the degraded registered-but-ungranted state.
func (h *ActorHandler) handleRetryLedgerGrant(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	actorID, err := id.ParseActorID(chi.URLParam(r, "actorID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid actor id"))
		return
	}
	actor, err := h.identity.RetryLedgerGrant(r.Context(), actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActorResponse(actor))
}

func (h *ActorHandler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	h.setSuspension(w, r, h.identity.Suspend)
}

func (h *ActorHandler) handleReinstate(w http.ResponseWriter, r *http.Request) {
	h.setSuspension(w, r, h.identity.Reinstate)
}

func (h *ActorHandler) setSuspension(w http.ResponseWriter, r *http.Request, apply func(context.Context, id.ActorID) error) {
	if err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	actorID, err := id.ParseActorID(chi.URLParam(r, "actorID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid actor id"))
		return
	}
	if err := apply(r.Context(), actorID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ActorHandler) requireAdmin(r *http.Request) error {
	_, err := h.identity.RequireRole(r.Context(), requestcontext.ActorID(r.Context()), identity.RoleAdmin)
	return err
}

func validateRegisterActorRequest(req registerActorRequest) error {
	if !govalidator.StringLength(req.IdentityKey, "1", "255") {
		return dErrors.New(dErrors.CodeInvalidInput, "identity_key is required")
	}
	if !govalidator.StringLength(req.OrgName, "1", "255") {
		return dErrors.New(dErrors.CodeInvalidInput, "org_name is required")
	}
	if !govalidator.IsEmail(req.Email) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid email")
	}
	return nil
}
