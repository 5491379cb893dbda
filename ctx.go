package auth

import (
	"context"
)

var credentialCtxKey = &contextKey{"credential"}

type contextKey struct {
	name string
}

// WithCredential sets the signed in Credential in the given context
func WithCredential(ctx context.Context, credential *Credential) context.Context {
	return context.WithValue(ctx, credentialCtxKey, credential)
}

// CredentialFromContext finds the signed in credential in the context.
// Inactive credentials are reported as missing.
func CredentialFromContext(ctx context.Context) (*Credential, bool) {
	raw, ok := ctx.Value(credentialCtxKey).(*Credential)
	if !ok || !raw.Active() {
		return nil, false
	}
	return raw, true
}
