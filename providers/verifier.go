package providers

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-errors"
)

const (
	AppleJWKSURL  = "https://appleid.apple.com/auth/keys"
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// Verifier checks a provider ID token and returns the identity it vouches for.
type Verifier interface {
	Provider() auth.Provider
	Verify(ctx context.Context, rawToken, expectedNonce string) (auth.VerifiedIdentity, error)
}

// flexBool accepts both true and "true", Apple sends booleans as strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = flexBool(v)
	return nil
}

// IDTokenClaims are the claims Apple and Google put in ID tokens.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Email         string    `json:"email"`
	EmailVerified *flexBool `json:"email_verified,omitempty"`
	Nonce         string    `json:"nonce,omitempty"`
}

type options struct {
	keyFunc jwt.Keyfunc
	jwksURL string
	now     func() time.Time
	logger  auth.Logger
}

// Option customizes a verifier
type Option func(*options)

// WithKeyfunc skips the JWKS download and resolves keys with kf.
func WithKeyfunc(kf jwt.Keyfunc) Option {
	return func(o *options) {
		o.keyFunc = kf
	}
}

// WithJWKSURL overrides the provider JWKS endpoint.
func WithJWKSURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.jwksURL = url
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// IDTokenVerifier verifies RS256/ES256 ID tokens against a JWKS.
type IDTokenVerifier struct {
	provider auth.Provider
	audience string
	issuers  []string
	keyFunc  jwt.Keyfunc
	jwks     *keyfunc.JWKS
	now      func() time.Time
	logger   auth.Logger
}

var _ Verifier = (*IDTokenVerifier)(nil)

// NewAppleVerifier verifies Sign in with Apple ID tokens issued to
// cfg.AppleClientID.
func NewAppleVerifier(cfg auth.Config, opts ...Option) (*IDTokenVerifier, error) {
	return newIDTokenVerifier(auth.ProviderApple, cfg, AppleJWKSURL, opts...)
}

// NewGoogleVerifier verifies Google Identity Services ID tokens issued to
// cfg.GoogleClientID.
func NewGoogleVerifier(cfg auth.Config, opts ...Option) (*IDTokenVerifier, error) {
	return newIDTokenVerifier(auth.ProviderGoogle, cfg, GoogleJWKSURL, opts...)
}

func newIDTokenVerifier(provider auth.Provider, cfg auth.Config, jwksURL string, opts ...Option) (*IDTokenVerifier, error) {
	o := options{jwksURL: jwksURL, now: time.Now, logger: auth.DefaultLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	audience := cfg.Audience(provider)
	if audience == "" {
		return nil, errors.New("client id is required", errors.CategoryBadInput).
			WithMetadata(map[string]any{"provider": string(provider)})
	}

	v := &IDTokenVerifier{
		provider: provider,
		audience: audience,
		issuers:  cfg.AllowedIssuers(provider),
		keyFunc:  o.keyFunc,
		now:      o.now,
		logger:   o.logger,
	}

	if v.keyFunc == nil {
		jwks, err := keyfunc.Get(o.jwksURL, keyfuncOptions(provider, o.logger))
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryOperation, "failed to load provider JWKS").
				WithMetadata(map[string]any{"provider": string(provider), "url": o.jwksURL})
		}
		v.jwks = jwks
		v.keyFunc = jwks.Keyfunc
	}

	return v, nil
}

func keyfuncOptions(provider auth.Provider, logger auth.Logger) keyfunc.Options {
	return keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			if logger != nil {
				logger.Warn("failed to refresh %s JWKS: %v", provider, err)
				return
			}
			log.Printf("failed to refresh %s JWKS: %s", provider, err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

func (v *IDTokenVerifier) Provider() auth.Provider {
	return v.provider
}

// Close stops the background JWKS refresh.
func (v *IDTokenVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// Verify checks signature, audience, expiry, issuer, nonce and email
// verification of rawToken. expectedNonce is skipped when empty.
func (v *IDTokenVerifier) Verify(ctx context.Context, rawToken, expectedNonce string) (auth.VerifiedIdentity, error) {
	select {
	case <-ctx.Done():
		return auth.VerifiedIdentity{}, auth.ProviderVerificationFailed(v.provider, ctx.Err())
	default:
	}

	if rawToken == "" {
		return auth.VerifiedIdentity{}, auth.ProviderVerificationFailed(v.provider,
			errors.New("identity token is required", errors.CategoryBadInput))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)

	claims := &IDTokenClaims{}
	if _, err := parser.ParseWithClaims(rawToken, claims, v.keyFunc); err != nil {
		v.logger.Info("%s identity token rejected: %v", v.provider, err)
		return auth.VerifiedIdentity{}, auth.ProviderVerificationFailed(v.provider, err)
	}

	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return auth.VerifiedIdentity{}, auth.ProviderVerificationFailed(v.provider,
			errors.New("identity token nonce mismatch", errors.CategoryAuth))
	}

	if claims.EmailVerified != nil && !bool(*claims.EmailVerified) {
		return auth.VerifiedIdentity{}, auth.ProviderVerificationFailed(v.provider,
			errors.New("email not verified", errors.CategoryAuth))
	}

	identity := auth.VerifiedIdentity{
		Provider: v.provider,
		Email:    auth.NormalizeEmail(claims.Email),
		Subject:  claims.Subject,
		Issuer:   claims.Issuer,
		Nonce:    claims.Nonce,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}

	if err := auth.CheckVerifiedIdentity(identity, v.issuers, v.now()); err != nil {
		return auth.VerifiedIdentity{}, err
	}
	return identity, nil
}
