package httpauth

import (
	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-router"
)

// RequireSession rejects requests without an active session credential.
// The credential is stored in the request context, handlers read it
// with auth.CredentialFromContext.
func (h *Controller) RequireSession() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			cred, err := h.sessions.For(ctx).CurrentCredential(ctx.Context())
			if err != nil {
				h.logger.Debug("session cookie rejected: %v", err)
			}
			if cred == nil {
				return h.fail(ctx, auth.NotAuthenticated())
			}
			ctx.SetContext(auth.WithCredential(ctx.Context(), cred))
			return next(ctx)
		}
	}
}
