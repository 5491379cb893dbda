package redirect

import "github.com/goliatone/go-errors"

const (
	TextCodeInvalidState  = "redirect_invalid_state"
	TextCodeStateExpired  = "redirect_state_expired"
	TextCodeStateMismatch = "redirect_state_mismatch"
	TextCodeNonceMismatch = "redirect_nonce_mismatch"
	TextCodeCSRFMismatch  = "redirect_csrf_mismatch"
)

// ErrInvalidState is returned when the sealed state is malformed or tampered.
var ErrInvalidState = errors.New("invalid redirect state", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(errors.CodeBadRequest)

// ErrStateExpired is returned when the sealed state is past its expiry.
var ErrStateExpired = errors.New("redirect state expired", errors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(errors.CodeBadRequest)

// ErrStateMismatch is returned when the echoed state or provider does not
// match the cookie.
var ErrStateMismatch = errors.New("redirect state mismatch", errors.CategoryAuth).
	WithTextCode(TextCodeStateMismatch).
	WithCode(errors.CodeForbidden)

var ErrNonceMismatch = errors.New("identity token nonce mismatch", errors.CategoryAuth).
	WithTextCode(TextCodeNonceMismatch).
	WithCode(errors.CodeForbidden)

// ErrCSRFMismatch is returned when a double submit cookie and form field differ.
var ErrCSRFMismatch = errors.New("csrf token mismatch", errors.CategoryAuth).
	WithTextCode(TextCodeCSRFMismatch).
	WithCode(errors.CodeForbidden)
