package auth

import (
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultTokenTTL          = 900 * time.Second
	DefaultStateBytes        = 32
	DefaultPasswordMinLength = 11
	DefaultBcryptCost        = 12
	DefaultRedirectStateTTL  = 10 * time.Minute
	DefaultOperationTimeout  = 10 * time.Second
)

const (
	AppleIssuer = "https://appleid.apple.com"
)

// GoogleIssuers are the issuers Google signs ID tokens with
var GoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Config is built once at startup and handed by value to every
// component. Components keep their own copy.
type Config struct {
	// TokenTTL is the lifetime of join and reset state tokens.
	TokenTTL time.Duration
	// StateBytes is the amount of random bytes in a state token.
	StateBytes int
	// SupersedeOnIssue deletes earlier tokens for an email when a new one is issued.
	SupersedeOnIssue bool

	PasswordMinLength int
	BcryptCost        int

	// RefreshProviderEmail updates the stored email of an apple or google
	// credential when the provider reports a different address.
	RefreshProviderEmail bool

	JoinLinkBase  string
	ResetLinkBase string

	AppleClientID  string
	GoogleClientID string
	AppleIssuers   []string
	GoogleIssuers  []string

	RedirectStateTTL time.Duration
	OperationTimeout time.Duration
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		TokenTTL:          DefaultTokenTTL,
		StateBytes:        DefaultStateBytes,
		PasswordMinLength: DefaultPasswordMinLength,
		BcryptCost:        DefaultBcryptCost,
		JoinLinkBase:      "/invite",
		ResetLinkBase:     "/password-reset",
		AppleIssuers:      []string{AppleIssuer},
		GoogleIssuers:     slices.Clone(GoogleIssuers),
		RedirectStateTTL:  DefaultRedirectStateTTL,
		OperationTimeout:  DefaultOperationTimeout,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.TokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.StateBytes, validation.Required, validation.Min(DefaultStateBytes)),
		validation.Field(&c.PasswordMinLength, validation.Required, validation.Min(1)),
		validation.Field(&c.BcryptCost, validation.Required, validation.Min(4), validation.Max(31)),
		validation.Field(&c.JoinLinkBase, validation.Required),
		validation.Field(&c.ResetLinkBase, validation.Required),
		validation.Field(&c.AppleIssuers, validation.Required),
		validation.Field(&c.GoogleIssuers, validation.Required),
		validation.Field(&c.RedirectStateTTL, validation.Required),
		validation.Field(&c.OperationTimeout, validation.Required),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid auth configuration")
	}
	return nil
}

// AllowedIssuers returns a copy of the issuer allow list for provider.
func (c Config) AllowedIssuers(provider Provider) []string {
	switch provider {
	case ProviderApple:
		return slices.Clone(c.AppleIssuers)
	case ProviderGoogle:
		return slices.Clone(c.GoogleIssuers)
	}
	return nil
}

// Audience returns the client id tokens for provider must be issued to.
func (c Config) Audience(provider Provider) string {
	switch provider {
	case ProviderApple:
		return c.AppleClientID
	case ProviderGoogle:
		return c.GoogleClientID
	}
	return ""
}

func (c Config) clone() Config {
	c.AppleIssuers = slices.Clone(c.AppleIssuers)
	c.GoogleIssuers = slices.Clone(c.GoogleIssuers)
	return c
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TokenTTL == 0 {
		c.TokenTTL = d.TokenTTL
	}
	if c.StateBytes == 0 {
		c.StateBytes = d.StateBytes
	}
	if c.PasswordMinLength == 0 {
		c.PasswordMinLength = d.PasswordMinLength
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = d.BcryptCost
	}
	if c.JoinLinkBase == "" {
		c.JoinLinkBase = d.JoinLinkBase
	}
	if c.ResetLinkBase == "" {
		c.ResetLinkBase = d.ResetLinkBase
	}
	if len(c.AppleIssuers) == 0 {
		c.AppleIssuers = d.AppleIssuers
	}
	if len(c.GoogleIssuers) == 0 {
		c.GoogleIssuers = d.GoogleIssuers
	}
	if c.RedirectStateTTL == 0 {
		c.RedirectStateTTL = d.RedirectStateTTL
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	return c.clone()
}
