package testutil

import (
	"context"
	"net/http"

	id "verdant/pkg/domain"
	"verdant/pkg/requestcontext"
)

// WithActor adds an authenticated actor ID and role to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// An invalid actorID is silently ignored so scaffold tests can pass junk.
func WithActor(req *http.Request, actorID, role string) *http.Request {
	ctx := req.Context()
	if parsed, err := id.ParseActorID(actorID); err == nil {
		ctx = requestcontext.WithActorID(ctx, parsed)
	}
	if role != "" {
		ctx = requestcontext.WithRole(ctx, role)
	}
	return req.WithContext(ctx)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
