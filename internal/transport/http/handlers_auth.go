package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"verdant/internal/identity"
	dErrors "verdant/pkg/domain-errors"
)

// TokenIssuer mints access tokens, implemented by the JWT service.
type TokenIssuer interface {
	GenerateAccessToken(actorID uuid.UUID, role string, expiresIn time.Duration) (string, error)
}

// ActorResolver looks up an actor by chain identity key.
type ActorResolver interface {
	GetByIdentityKey(ctx context.Context, key string) (*identity.Actor, error)
}

const accessTokenTTL = time.Hour

// AuthHandler issues bearer tokens against a registered identity key. The
// identity key stands in for a real credential exchange; suspended actors
// cannot obtain tokens.
type AuthHandler struct {
	actors ActorResolver
	tokens TokenIssuer
}

func NewAuthHandler(actors ActorResolver, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{actors: actors, tokens: tokens}
}

func (h *AuthHandler) Register(public chi.Router) {
	public.Post("/auth/token", h.handleToken)
}

type tokenRequest struct {
	IdentityKey string `json:"identity_key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	ActorID     string `json:"actor_id"`
	Role        string `json:"role"`
}

func (h *AuthHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IdentityKey == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "identity_key is required"))
		return
	}

	actor, err := h.actors.GetByIdentityKey(r.Context(), req.IdentityKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if actor.Suspended {
		writeError(w, dErrors.New(dErrors.CodeRoleViolation, "actor is suspended"))
		return
	}

	token, err := h.tokens.GenerateAccessToken(uuid.UUID(actor.ID), string(actor.Role), accessTokenTTL)
	if err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token"))
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(accessTokenTTL.Seconds()),
		ActorID:     actor.ID.String(),
		Role:        string(actor.Role),
	})
}
