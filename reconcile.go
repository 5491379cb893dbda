package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Reconciler maps a verified identity assertion and a declared intent to
// an authentication outcome.
type Reconciler struct {
	repo     RepositoryManager
	cfg      Config
	hasher   PasswordHasher
	policy   PasswordPolicy
	sender   NotificationSender
	logger   Logger
	activity ActivitySink
	now      Clock
}

func NewReconciler(repo RepositoryManager, cfg Config) *Reconciler {
	cfg = cfg.withDefaults()
	return &Reconciler{
		repo:     repo,
		cfg:      cfg,
		hasher:   NewBcryptHasher(cfg.BcryptCost),
		policy:   NewPasswordPolicy(cfg.PasswordMinLength),
		sender:   noopSender{},
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
	}
}

// WithHasher overrides the password hasher.
func (r *Reconciler) WithHasher(h PasswordHasher) *Reconciler {
	if h != nil {
		r.hasher = h
	}
	return r
}

// WithNotificationSender sets the sender used for joined notifications.
func (r *Reconciler) WithNotificationSender(s NotificationSender) *Reconciler {
	r.sender = normalizeSender(s)
	return r
}

// WithLogger overrides the logger used by the reconciler.
func (r *Reconciler) WithLogger(logger Logger) *Reconciler {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithActivitySink sets the sink used to emit reconciliation events.
func (r *Reconciler) WithActivitySink(sink ActivitySink) *Reconciler {
	r.activity = normalizeActivitySink(sink)
	return r
}

func (r *Reconciler) WithClock(now Clock) *Reconciler {
	if now != nil {
		r.now = now
	}
	return r
}

// Reconcile resolves assertion against the credential store. An exact
// credential match always signs in, whatever the intent. Rejections are
// returned as outcomes, errors are reserved for invalid input and
// infrastructure failures. When session is not nil, signed in and created
// outcomes are logged into it.
func (r *Reconciler) Reconcile(ctx context.Context, session Session, assertion IdentityAssertion, intent Intent) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during reconciliation")
	default:
	}

	a, err := r.normalize(assertion, intent)
	if err != nil {
		return Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.OperationTimeout)
	defer cancel()

	exact, err := r.lookupExact(ctx, a)
	if err != nil {
		return Outcome{}, err
	}

	// the other lookup only decides joins, elsewhere it is advisory
	others, err := r.lookupOthers(ctx, a)
	if err != nil {
		if intent == IntentJoin && !exact.Active() {
			return Outcome{}, err
		}
		r.logger.Warn("other provider lookup for %s failed: %v", a.Email, err)
		others = nil
	}

	outcome := Outcome{
		Provider:       a.Provider,
		Email:          a.Email,
		OtherProviders: providersOf(others),
	}

	if exact.Active() {
		return r.signIn(ctx, session, a, exact, outcome)
	}

	if intent != IntentJoin {
		outcome.Kind = OutcomeNotRegistered
		r.record(ctx, ActivityEventNotRegistered, a, "", nil)
		return outcome, nil
	}

	if len(others) > 0 {
		outcome.Kind = OutcomeConflict
		outcome.OtherProvider = others[0].Provider
		r.logger.Info("join conflict for %s: provider %s already registered", a.Email, outcome.OtherProvider)
		r.record(ctx, ActivityEventConflict, a, "", map[string]any{"other_provider": string(outcome.OtherProvider)})
		return outcome, nil
	}

	if exact != nil {
		return r.rejoin(ctx, session, a, exact, outcome)
	}

	return r.create(ctx, session, a, outcome)
}

func (r *Reconciler) normalize(a IdentityAssertion, intent Intent) (IdentityAssertion, error) {
	if !a.Provider.Valid() {
		return a, ValidationFailed("provider", "Unknown identity provider.")
	}
	if !intent.Valid() {
		return a, ValidationFailed("intent", "Unknown intent.")
	}

	a.Email = NormalizeEmail(a.Email)
	if err := ValidateEmail(a.Email); err != nil {
		return a, err
	}

	if a.Provider == ProviderEmail {
		if a.Password == "" {
			return a, ValidationFailed(FieldPassword, MsgPasswordEmpty)
		}
		a.ExternalID = ""
		return a, nil
	}

	if a.ExternalID == "" {
		return a, ProviderVerificationFailed(a.Provider, goerrors.New("missing subject identifier", goerrors.CategoryBadInput))
	}
	return a, nil
}

func (r *Reconciler) lookupExact(ctx context.Context, a IdentityAssertion) (*Credential, error) {
	var (
		cred *Credential
		err  error
	)
	if a.Provider == ProviderEmail {
		cred, err = r.repo.Credentials().FindByEmailProvider(ctx, a.Email, ProviderEmail)
	} else {
		cred, err = r.repo.Credentials().FindByProviderSubject(ctx, a.Provider, a.ExternalID)
	}
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up credential")
	}
	return cred, nil
}

func (r *Reconciler) lookupOthers(ctx context.Context, a IdentityAssertion) ([]*Credential, error) {
	creds, err := r.repo.Credentials().ListByEmail(ctx, a.Email)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up credentials by email")
	}

	var others []*Credential
	for _, c := range creds {
		if c.Provider != a.Provider && c.Active() {
			others = append(others, c)
		}
	}
	return others, nil
}

func (r *Reconciler) signIn(ctx context.Context, session Session, a IdentityAssertion, cred *Credential, outcome Outcome) (Outcome, error) {
	if a.Provider == ProviderEmail {
		if err := r.hasher.ComparePasswordAndHash(a.Password, cred.Secret); err != nil {
			outcome.Kind = OutcomeWrongPassword
			r.record(ctx, ActivityEventWrongPassword, a, cred.UserID.String(), nil)
			return outcome, nil
		}
	} else if r.cfg.RefreshProviderEmail && cred.Email != a.Email {
		r.refreshEmail(ctx, cred, a.Email)
	}

	outcome.Kind = OutcomeSignedIn
	outcome.Credential = cred

	if err := r.login(ctx, session, cred); err != nil {
		return Outcome{}, err
	}

	r.record(ctx, ActivityEventSignIn, a, cred.UserID.String(), nil)
	return outcome, nil
}

func (r *Reconciler) refreshEmail(ctx context.Context, cred *Credential, email string) {
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return r.repo.Credentials().UpdateEmailTx(ctx, tx, cred.ID, email)
	})
	if err != nil {
		r.logger.Warn("could not refresh %s credential email to %s: %v", cred.Provider, email, err)
		return
	}
	cred.Email = email
}

func (r *Reconciler) secretFor(a IdentityAssertion) (string, error) {
	if a.Provider != ProviderEmail {
		return a.ExternalID, nil
	}
	if err := r.policy.Validate(a.Password); err != nil {
		return "", err
	}
	return r.hasher.HashPassword(a.Password)
}

func (r *Reconciler) create(ctx context.Context, session Session, a IdentityAssertion, outcome Outcome) (Outcome, error) {
	secret, err := r.secretFor(a)
	if err != nil {
		return Outcome{}, err
	}

	user := &User{ID: uuid.New(), Email: a.Email}
	cred := &Credential{
		ID:       uuid.New(),
		Email:    a.Email,
		Provider: a.Provider,
		Secret:   secret,
		UserID:   user.ID,
		JoinedAt: r.now(),
	}

	err = r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := r.repo.Users().RegisterTx(ctx, tx, user)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user")
		}
		user = created

		storedCred, err := r.repo.Credentials().CreateTx(ctx, tx, cred)
		if err != nil {
			return err
		}
		cred = storedCred
		return nil
	})
	if err != nil {
		if _, ok := AsAuthError(err); ok {
			return Outcome{}, err
		}
		return Outcome{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create credential")
	}

	outcome.Kind = OutcomeCreated
	outcome.Credential = cred
	outcome.User = user

	if err := r.login(ctx, session, cred); err != nil {
		return Outcome{}, err
	}

	r.record(ctx, ActivityEventJoin, a, user.ID.String(), nil)
	notifyInformational(ctx, r.sender, r.logger, JoinedNotification(a.Email, a.Provider))
	return outcome, nil
}

func (r *Reconciler) rejoin(ctx context.Context, session Session, a IdentityAssertion, cred *Credential, outcome Outcome) (Outcome, error) {
	secret := cred.Secret
	if a.Provider == ProviderEmail {
		var err error
		if secret, err = r.secretFor(a); err != nil {
			return Outcome{}, err
		}
	}

	var user *User
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.repo.Credentials().UpdateSecretTx(ctx, tx, cred.ID, secret); err != nil {
			return err
		}
		u, err := r.repo.Users().FindByIDTx(ctx, tx, cred.UserID)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return Outcome{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reactivate credential")
	}

	cred.Secret = secret
	cred.UnjoinedAt = nil

	outcome.Kind = OutcomeCreated
	outcome.Rejoined = true
	outcome.Credential = cred
	outcome.User = user

	if err := r.login(ctx, session, cred); err != nil {
		return Outcome{}, err
	}

	r.record(ctx, ActivityEventRejoin, a, cred.UserID.String(), nil)
	notifyInformational(ctx, r.sender, r.logger, JoinedNotification(a.Email, a.Provider))
	return outcome, nil
}

func (r *Reconciler) login(ctx context.Context, session Session, cred *Credential) error {
	if session == nil {
		return nil
	}
	if err := session.Login(ctx, cred); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to establish session")
	}
	return nil
}

func (r *Reconciler) record(ctx context.Context, evt ActivityEventType, a IdentityAssertion, userID string, meta map[string]any) {
	recordActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType:  evt,
		Provider:   a.Provider,
		Email:      a.Email,
		UserID:     userID,
		Metadata:   meta,
		OccurredAt: r.now(),
	})
}

func providersOf(creds []*Credential) []Provider {
	var out []Provider
	seen := map[Provider]bool{}
	for _, c := range creds {
		if seen[c.Provider] {
			continue
		}
		seen[c.Provider] = true
		out = append(out, c.Provider)
	}
	return out
}
