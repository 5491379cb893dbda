package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Provider identifies the source of a credential
type Provider string

const (
	ProviderApple  Provider = "apple"
	ProviderEmail  Provider = "email"
	ProviderGoogle Provider = "google"
)

// Providers lists every supported provider
var Providers = []Provider{ProviderApple, ProviderEmail, ProviderGoogle}

func (p Provider) String() string {
	return string(p)
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderApple, ProviderEmail, ProviderGoogle:
		return true
	}
	return false
}

// ParseProvider converts s into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

// Intent is the purpose a client declared before reaching the engine.
// It only matters when no credential matches the assertion.
type Intent string

const (
	IntentJoin   Intent = "join"
	IntentSignIn Intent = "sign_in"
)

func (i Intent) Valid() bool {
	return i == IntentJoin || i == IntentSignIn
}

// IdentityAssertion is a verified (provider, email, external id) triple.
// Password is only set for ProviderEmail and is never persisted or logged.
type IdentityAssertion struct {
	Provider   Provider
	Email      string
	ExternalID string
	Password   string
}

// VerifiedIdentity is what a provider verifier returns after checking
// the signature of an ID token.
type VerifiedIdentity struct {
	Provider  Provider
	Email     string
	Subject   string
	Issuer    string
	Nonce     string
	ExpiresAt time.Time
}

// Assertion converts a verified identity into the engine input.
func (v VerifiedIdentity) Assertion() IdentityAssertion {
	return IdentityAssertion{
		Provider:   v.Provider,
		Email:      v.Email,
		ExternalID: v.Subject,
	}
}

// Session is the request scoped authentication context the engine logs
// credentials into. Implementations own cookies and session storage.
type Session interface {
	Login(ctx context.Context, credential *Credential) error
	Logout(ctx context.Context, invalidateSession bool) error
	// CurrentCredential returns nil, nil when nobody is signed in.
	CurrentCredential(ctx context.Context) (*Credential, error)
}

// PasswordHasher hashes and compares password secrets
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Clock returns the current time, tests replace it to control expiry.
type Clock func() time.Time

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

// DefaultLogger returns the console logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// NormalizeEmail trims and lower cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
