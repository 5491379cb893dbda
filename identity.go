package auth

import (
	"slices"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// CheckVerifiedIdentity applies the checks the engine owns on top of the
// signature verification done by a provider verifier: the issuer must be
// allowed, the token must not be expired at now, and an email and subject
// must be present.
func CheckVerifiedIdentity(v VerifiedIdentity, allowedIssuers []string, now time.Time) error {
	if v.Provider != ProviderApple && v.Provider != ProviderGoogle {
		return ProviderVerificationFailed(v.Provider,
			goerrors.New("provider does not issue identity tokens", goerrors.CategoryBadInput))
	}
	if !slices.Contains(allowedIssuers, v.Issuer) {
		return ProviderVerificationFailed(v.Provider,
			goerrors.New("issuer not allowed", goerrors.CategoryAuth).
				WithMetadata(map[string]any{"issuer": v.Issuer}))
	}
	if !v.ExpiresAt.IsZero() && !now.Before(v.ExpiresAt) {
		return ProviderVerificationFailed(v.Provider,
			goerrors.New("identity token expired", goerrors.CategoryAuth))
	}
	if v.Subject == "" {
		return ProviderVerificationFailed(v.Provider,
			goerrors.New("identity token has no subject", goerrors.CategoryAuth))
	}
	if NormalizeEmail(v.Email) == "" {
		return ProviderVerificationFailed(v.Provider,
			goerrors.New("identity token has no email", goerrors.CategoryAuth))
	}
	return nil
}
