package auth

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Stable policy messages, one per rule.
const (
	MsgPasswordEmpty         = "Password must not be empty."
	MsgPasswordNoLetter      = "Password must contain at least one letter."
	MsgPasswordNoDigit       = "Password must contain at least one digit."
	MsgPasswordNoPunctuation = "Password must contain at least one punctuation character."
	MsgPasswordMismatch      = "Password confirmation does not match."
	MsgEmailInvalid          = "Enter a valid email address."
	MsgEmailRequired         = "Enter an email address."
)

const (
	FieldPassword        = "password"
	FieldPasswordConfirm = "password_confirmation"
	FieldEmail           = "email"
)

// MsgPasswordTooShort returns the length rule message for min characters.
func MsgPasswordTooShort(min int) string {
	return fmt.Sprintf("Password must be at least %d characters.", min)
}

// PasswordPolicy checks candidate passwords. The zero value is not
// usable, use NewPasswordPolicy.
type PasswordPolicy struct {
	minLength int
}

func NewPasswordPolicy(minLength int) PasswordPolicy {
	if minLength <= 0 {
		minLength = DefaultPasswordMinLength
	}
	return PasswordPolicy{minLength: minLength}
}

// MinLength returns the configured minimum amount of characters.
func (p PasswordPolicy) MinLength() int {
	return p.minLength
}

// Violations evaluates every rule and returns the messages of the
// failing ones, in rule order. Length is counted in runes.
func (p PasswordPolicy) Violations(password string) []string {
	var hasLetter, hasDigit, hasPunct bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r):
			hasPunct = true
		}
	}

	var out []string
	if password == "" {
		out = append(out, MsgPasswordEmpty)
	}
	if utf8.RuneCountInString(password) < p.minLength {
		out = append(out, MsgPasswordTooShort(p.minLength))
	}
	if !hasLetter {
		out = append(out, MsgPasswordNoLetter)
	}
	if !hasDigit {
		out = append(out, MsgPasswordNoDigit)
	}
	if !hasPunct {
		out = append(out, MsgPasswordNoPunctuation)
	}
	return out
}

// Validate returns a ValidationFailed error listing every violated rule.
func (p PasswordPolicy) Validate(password string) error {
	if v := p.Violations(password); len(v) > 0 {
		return ValidationFailed(FieldPassword, v...)
	}
	return nil
}

// ValidateWithConfirmation runs the policy and then compares the
// confirmation verbatim when confirm is set.
func (p PasswordPolicy) ValidateWithConfirmation(password, confirmation string, confirm bool) error {
	if err := p.Validate(password); err != nil {
		return err
	}
	if confirm && password != confirmation {
		return ValidationFailed(FieldPasswordConfirm, MsgPasswordMismatch)
	}
	return nil
}

// ValidateEmail checks the address format.
func ValidateEmail(email string) error {
	if email == "" {
		return ValidationFailed(FieldEmail, MsgEmailRequired)
	}
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return ValidationFailed(FieldEmail, MsgEmailInvalid)
	}
	return nil
}
