package httpauth

import (
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-errors"
)

// CredentialsPayload is posted by the email join and sign in forms.
type CredentialsPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (r CredentialsPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// EmailPayload starts an invite or password reset.
type EmailPayload struct {
	Email string `form:"email" json:"email"`
}

func (r EmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
	)
}

// PasswordPayload sets a password, either from a link or for the signed
// in member. Strength rules are enforced by the password policy.
type PasswordPayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (r PasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.ConfirmPassword, validation.Required),
	)
}

// CallbackPayload is the form_post body providers send to the callback.
type CallbackPayload struct {
	State      string `form:"state" json:"state"`
	IDToken    string `form:"id_token" json:"id_token"`
	Credential string `form:"credential" json:"credential"`
	CSRFToken  string `form:"g_csrf_token" json:"g_csrf_token"`
}

// Token returns the ID token, Google posts it as credential.
func (r CallbackPayload) Token() string {
	if r.IDToken != "" {
		return r.IDToken
	}
	return r.Credential
}

func (r CallbackPayload) Validate(provider auth.Provider) error {
	if r.Token() == "" {
		return validation.Errors{"id_token": errors.New("cannot be blank", errors.CategoryValidation)}
	}
	var rules []*validation.FieldRules
	switch provider {
	case auth.ProviderApple:
		rules = append(rules, validation.Field(&r.State, validation.Required))
	case auth.ProviderGoogle:
		rules = append(rules, validation.Field(&r.CSRFToken, validation.Required))
	}
	return validation.ValidateStruct(&r, rules...)
}

// validationError converts ozzo field errors into the engine error.
func validationError(err error) *auth.AuthError {
	errs, ok := err.(validation.Errors)
	if !ok {
		return auth.ValidationFailed("request", err.Error())
	}
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	if len(fields) == 0 {
		return auth.ValidationFailed("request", err.Error())
	}
	sort.Strings(fields)
	return auth.ValidationFailed(fields[0], errs[fields[0]].Error())
}
