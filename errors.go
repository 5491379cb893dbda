package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind enumerates the failures the engine reports to callers
type ErrorKind string

const (
	KindNotRegistered              ErrorKind = "not_registered"
	KindOtherRegistration          ErrorKind = "other_registration"
	KindAlreadyRegistered          ErrorKind = "already_registered"
	KindWrongPassword              ErrorKind = "wrong_password"
	KindTokenInvalidOrExpired      ErrorKind = "token_invalid_or_expired"
	KindNotAuthenticated           ErrorKind = "not_authenticated"
	KindValidationFailed           ErrorKind = "validation_failed"
	KindProviderVerificationFailed ErrorKind = "provider_verification_failed"
	KindDeliveryFailed             ErrorKind = "delivery_failed"
)

const (
	TextCodeNotRegistered              = "AUTH_NOT_REGISTERED"
	TextCodeOtherRegistration          = "AUTH_OTHER_REGISTRATION"
	TextCodeAlreadyRegistered          = "AUTH_ALREADY_REGISTERED"
	TextCodeWrongPassword              = "AUTH_WRONG_PASSWORD"
	TextCodeTokenInvalidOrExpired      = "AUTH_TOKEN_INVALID_OR_EXPIRED"
	TextCodeNotAuthenticated           = "AUTH_NOT_AUTHENTICATED"
	TextCodeValidationFailed           = "AUTH_VALIDATION_FAILED"
	TextCodeProviderVerificationFailed = "AUTH_PROVIDER_VERIFICATION_FAILED"
	TextCodeDeliveryFailed             = "AUTH_DELIVERY_FAILED"
)

// Internal token failure reasons, only ever logged.
const (
	ReasonTokenNotFound = "not_found"
	ReasonTokenExpired  = "expired"
)

// AuthError is the typed failure returned by the reconciliation and
// password lifecycle operations. Only the fields relevant to Kind are set.
type AuthError struct {
	Kind     ErrorKind
	Provider Provider
	Email    string
	Field    string
	Messages []string
	Purpose  Purpose

	reason string
	err    error
}

// Sentinels for errors.Is, matching is done on Kind only.
var (
	ErrNotRegistered              = &AuthError{Kind: KindNotRegistered}
	ErrOtherRegistration          = &AuthError{Kind: KindOtherRegistration}
	ErrAlreadyRegistered          = &AuthError{Kind: KindAlreadyRegistered}
	ErrWrongPassword              = &AuthError{Kind: KindWrongPassword}
	ErrTokenInvalidOrExpired      = &AuthError{Kind: KindTokenInvalidOrExpired}
	ErrNotAuthenticated           = &AuthError{Kind: KindNotAuthenticated}
	ErrValidationFailed           = &AuthError{Kind: KindValidationFailed}
	ErrProviderVerificationFailed = &AuthError{Kind: KindProviderVerificationFailed}
	ErrDeliveryFailed             = &AuthError{Kind: KindDeliveryFailed}
)

func NotRegistered(provider Provider, email string) *AuthError {
	return &AuthError{Kind: KindNotRegistered, Provider: provider, Email: email}
}

// OtherRegistration reports that email already belongs to another provider.
func OtherRegistration(other Provider, email string) *AuthError {
	return &AuthError{Kind: KindOtherRegistration, Provider: other, Email: email}
}

func AlreadyRegistered(provider Provider, email string) *AuthError {
	return &AuthError{Kind: KindAlreadyRegistered, Provider: provider, Email: email}
}

func WrongPassword(email string) *AuthError {
	return &AuthError{Kind: KindWrongPassword, Provider: ProviderEmail, Email: email}
}

// TokenInvalidOrExpired keeps reason for logs, it is never serialized.
func TokenInvalidOrExpired(reason string) *AuthError {
	return &AuthError{Kind: KindTokenInvalidOrExpired, reason: reason}
}

func NotAuthenticated() *AuthError {
	return &AuthError{Kind: KindNotAuthenticated}
}

func ValidationFailed(field string, messages ...string) *AuthError {
	return &AuthError{Kind: KindValidationFailed, Field: field, Messages: messages}
}

func ProviderVerificationFailed(provider Provider, cause error) *AuthError {
	return &AuthError{Kind: KindProviderVerificationFailed, Provider: provider, err: cause}
}

func DeliveryFailed(purpose Purpose, email string, cause error) *AuthError {
	return &AuthError{Kind: KindDeliveryFailed, Purpose: purpose, Email: email, err: cause}
}

func (e *AuthError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	switch e.Kind {
	case KindNotRegistered, KindOtherRegistration, KindAlreadyRegistered:
		fmt.Fprintf(&b, ": provider=%s email=%s", e.Provider, e.Email)
	case KindWrongPassword:
		fmt.Fprintf(&b, ": email=%s", e.Email)
	case KindValidationFailed:
		fmt.Fprintf(&b, ": %s: %s", e.Field, strings.Join(e.Messages, "; "))
	case KindProviderVerificationFailed:
		fmt.Fprintf(&b, ": provider=%s", e.Provider)
	case KindDeliveryFailed:
		fmt.Fprintf(&b, ": purpose=%s", e.Purpose)
	}
	if e.err != nil {
		fmt.Fprintf(&b, ": %v", e.err)
	}
	return b.String()
}

func (e *AuthError) Unwrap() error {
	return e.err
}

// Is matches any AuthError of the same Kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Reason returns the internal detail of a token failure.
func (e *AuthError) Reason() string {
	return e.reason
}

// Message is the user facing text for the error.
func (e *AuthError) Message() string {
	switch e.Kind {
	case KindNotRegistered:
		switch e.Provider {
		case ProviderApple:
			return "Not registered with Apple account."
		case ProviderGoogle:
			return "Not registered with Google account."
		}
		return "Not registered with email address."
	case KindOtherRegistration:
		switch e.Provider {
		case ProviderApple:
			return "Already registered with your Apple account."
		case ProviderGoogle:
			return "Already registered with your Google account."
		}
		return "Already registered with same email address."
	case KindAlreadyRegistered:
		return "Account already exists."
	case KindWrongPassword:
		return "Password incorrect."
	case KindTokenInvalidOrExpired:
		return "Link invalid or expired."
	case KindNotAuthenticated:
		return "Not signed in."
	case KindValidationFailed:
		if len(e.Messages) > 0 {
			return e.Messages[0]
		}
		return "Invalid input."
	case KindProviderVerificationFailed:
		switch e.Provider {
		case ProviderApple:
			return "Apple service not working."
		case ProviderGoogle:
			return "Google service not working."
		}
		return "Unable to verify identity."
	case KindDeliveryFailed:
		return fmt.Sprintf("Unable to email %s due to internal error.", e.Purpose.Label())
	}
	return "Authentication failed."
}

// Rich maps the error onto a go-errors value for transport layers.
func (e *AuthError) Rich() *goerrors.Error {
	var rich *goerrors.Error
	switch e.Kind {
	case KindNotRegistered:
		rich = goerrors.New(e.Message(), goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeNotRegistered)
	case KindOtherRegistration:
		rich = goerrors.New(e.Message(), goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict).
			WithTextCode(TextCodeOtherRegistration)
	case KindAlreadyRegistered:
		rich = goerrors.New(e.Message(), goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict).
			WithTextCode(TextCodeAlreadyRegistered)
	case KindWrongPassword:
		rich = goerrors.New(e.Message(), goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeWrongPassword)
	case KindTokenInvalidOrExpired:
		rich = goerrors.New(e.Message(), goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeTokenInvalidOrExpired)
	case KindNotAuthenticated:
		rich = goerrors.New(e.Message(), goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeNotAuthenticated)
	case KindValidationFailed:
		rich = goerrors.New(e.Message(), goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeValidationFailed)
	case KindProviderVerificationFailed:
		rich = goerrors.New(e.Message(), goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeProviderVerificationFailed)
	case KindDeliveryFailed:
		rich = goerrors.New(e.Message(), goerrors.CategoryOperation).
			WithCode(goerrors.CodeInternal).
			WithTextCode(TextCodeDeliveryFailed)
	default:
		rich = goerrors.New(e.Message(), goerrors.CategoryInternal).
			WithCode(goerrors.CodeInternal)
	}

	meta := map[string]any{"kind": string(e.Kind)}
	if e.Provider != "" {
		meta["provider"] = string(e.Provider)
	}
	if e.Email != "" {
		meta["email"] = e.Email
	}
	if e.Field != "" {
		meta["field"] = e.Field
	}
	if len(e.Messages) > 0 {
		meta["messages"] = e.Messages
	}
	if e.Purpose != "" {
		meta["purpose"] = string(e.Purpose)
	}
	return rich.WithMetadata(meta)
}

// AsAuthError extracts an AuthError from err.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// FlashError is the serializable subset of an AuthError. It crosses the
// session cookie boundary so the next page can render the failure.
type FlashError struct {
	Kind     ErrorKind `json:"k"`
	Provider Provider  `json:"p,omitempty"`
	Email    string    `json:"e,omitempty"`
	Field    string    `json:"f,omitempty"`
	Messages []string  `json:"m,omitempty"`
	Purpose  Purpose   `json:"u,omitempty"`
}

// Flash returns the wire representation of the error.
func (e *AuthError) Flash() FlashError {
	return FlashError{
		Kind:     e.Kind,
		Provider: e.Provider,
		Email:    e.Email,
		Field:    e.Field,
		Messages: e.Messages,
		Purpose:  e.Purpose,
	}
}

// AuthError rebuilds the in process error, causes and reasons are gone.
func (f FlashError) AuthError() *AuthError {
	return &AuthError{
		Kind:     f.Kind,
		Provider: f.Provider,
		Email:    f.Email,
		Field:    f.Field,
		Messages: f.Messages,
		Purpose:  f.Purpose,
	}
}

// EncodeFlash encodes err as a cookie safe string.
func EncodeFlash(err *AuthError) (string, error) {
	if err == nil {
		return "", goerrors.New("flash error is required", goerrors.CategoryBadInput)
	}
	raw, mErr := json.Marshal(err.Flash())
	if mErr != nil {
		return "", goerrors.Wrap(mErr, goerrors.CategoryInternal, "failed to encode flash error")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeFlash reverses EncodeFlash.
func DecodeFlash(value string) (*AuthError, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed flash error")
	}
	var f FlashError
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed flash error")
	}
	if f.Kind == "" {
		return nil, goerrors.New("flash error kind is missing", goerrors.CategoryBadInput)
	}
	return f.AuthError(), nil
}
