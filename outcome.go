package auth

// OutcomeKind is the decision reached by the reconciler
type OutcomeKind string

const (
	OutcomeSignedIn      OutcomeKind = "signed_in"
	OutcomeCreated       OutcomeKind = "created"
	OutcomeConflict      OutcomeKind = "conflict"
	OutcomeNotRegistered OutcomeKind = "not_registered"
	OutcomeWrongPassword OutcomeKind = "wrong_password"
)

// Outcome is the result of reconciling an identity assertion.
// Credential and User are set for signed in and created outcomes.
// OtherProviders is advisory and lists active credentials of the same
// email under different providers.
type Outcome struct {
	Kind           OutcomeKind
	Provider       Provider
	Email          string
	Credential     *Credential
	User           *User
	OtherProvider  Provider
	OtherProviders []Provider
	Rejoined       bool
}

// Authenticated reports whether the outcome logged a credential in.
func (o Outcome) Authenticated() bool {
	return o.Kind == OutcomeSignedIn || o.Kind == OutcomeCreated
}

// Err converts a rejection outcome into its AuthError, nil otherwise.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeConflict:
		return OtherRegistration(o.OtherProvider, o.Email)
	case OutcomeNotRegistered:
		return NotRegistered(o.Provider, o.Email)
	case OutcomeWrongPassword:
		return WrongPassword(o.Email)
	}
	return nil
}
