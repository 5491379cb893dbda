package auth

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PasswordLifecycle drives the email join, reset, change and unjoin flows.
type PasswordLifecycle struct {
	repo     RepositoryManager
	tokens   *StateTokenService
	cfg      Config
	hasher   PasswordHasher
	policy   PasswordPolicy
	sender   NotificationSender
	logger   Logger
	activity ActivitySink
	now      Clock
}

func NewPasswordLifecycle(repo RepositoryManager, cfg Config) *PasswordLifecycle {
	cfg = cfg.withDefaults()
	return &PasswordLifecycle{
		repo:     repo,
		tokens:   NewStateTokenService(repo.StateTokens(), cfg),
		cfg:      cfg,
		hasher:   NewBcryptHasher(cfg.BcryptCost),
		policy:   NewPasswordPolicy(cfg.PasswordMinLength),
		sender:   noopSender{},
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
	}
}

func (l *PasswordLifecycle) WithHasher(h PasswordHasher) *PasswordLifecycle {
	if h != nil {
		l.hasher = h
	}
	return l
}

// WithNotificationSender sets the sender for invite, reset and
// informational messages.
func (l *PasswordLifecycle) WithNotificationSender(s NotificationSender) *PasswordLifecycle {
	l.sender = normalizeSender(s)
	return l
}

func (l *PasswordLifecycle) WithLogger(logger Logger) *PasswordLifecycle {
	if logger != nil {
		l.logger = logger
		l.tokens.WithLogger(logger)
	}
	return l
}

func (l *PasswordLifecycle) WithActivitySink(sink ActivitySink) *PasswordLifecycle {
	l.activity = normalizeActivitySink(sink)
	l.tokens.WithActivitySink(sink)
	return l
}

func (l *PasswordLifecycle) WithClock(now Clock) *PasswordLifecycle {
	if now != nil {
		l.now = now
		l.tokens.WithClock(now)
	}
	return l
}

// Tokens exposes the state token service used by the lifecycle.
func (l *PasswordLifecycle) Tokens() *StateTokenService {
	return l.tokens
}

type emailRegistrations struct {
	email  *Credential
	others []*Credential
}

func (l *PasswordLifecycle) registrations(ctx context.Context, email string) (emailRegistrations, error) {
	var out emailRegistrations
	creds, err := l.repo.Credentials().ListByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return out, nil
		}
		return out, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up credentials by email")
	}
	for _, c := range creds {
		switch {
		case c.Provider == ProviderEmail:
			out.email = c
		case c.Active():
			out.others = append(out.others, c)
		}
	}
	return out, nil
}

// RequestJoinOrReset issues a state token for email and mails the
// invite or reset link. Delivery failures are recorded on the token and
// returned as DeliveryFailed.
func (l *PasswordLifecycle) RequestJoinOrReset(ctx context.Context, email string, isNewUser bool) (*StateToken, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password request")
	default:
	}

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.OperationTimeout)
	defer cancel()

	regs, err := l.registrations(ctx, email)
	if err != nil {
		return nil, err
	}

	switch {
	case isNewUser && regs.email.Active():
		return nil, AlreadyRegistered(ProviderEmail, email)
	case !regs.email.Active() && len(regs.others) > 0:
		return nil, OtherRegistration(regs.others[0].Provider, email)
	case !isNewUser && !regs.email.Active():
		return nil, NotRegistered(ProviderEmail, email)
	}

	token, err := l.tokens.Issue(ctx, email, AsJoin(isNewUser))
	if err != nil {
		return nil, err
	}

	var n Notification
	if isNewUser {
		n = InviteNotification(BuildLink(l.cfg.JoinLinkBase, token.State), email)
	} else {
		n = PasswordResetNotification(BuildLink(l.cfg.ResetLinkBase, token.State), email)
	}

	deliveryID, sendErr := l.sender.Send(ctx, n)
	if err := l.tokens.RecordDelivery(ctx, token.State, deliveryID, sendErr); err != nil {
		l.logger.Warn("could not record %s delivery for %s: %v", n.Purpose, email, err)
	}

	if sendErr != nil {
		l.logger.Error("%s notification to %s failed: %v", n.Purpose, email, sendErr)
		l.record(ctx, ActivityEventDeliveryFailed, email, "", map[string]any{"purpose": string(n.Purpose)})
		return nil, DeliveryFailed(n.Purpose, email, sendErr)
	}

	return token, nil
}

// RedeemAndSetPassword validates password, consumes state and stores the
// new secret. It returns the user and whether it was created. The
// policy runs before the token is consumed so a rejected password does
// not burn the link.
func (l *PasswordLifecycle) RedeemAndSetPassword(ctx context.Context, session Session, state, password, confirmation string) (*User, bool, error) {
	if err := l.policy.ValidateWithConfirmation(password, confirmation, true); err != nil {
		return nil, false, err
	}

	hash, err := l.hasher.HashPassword(password)
	if err != nil {
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	return l.redeem(ctx, session, state, hash)
}

// RedeemPendingSecret consumes state and stores the hash captured when
// the token was issued. Tokens without a pending secret are rejected and
// stay redeemable through RedeemAndSetPassword.
func (l *PasswordLifecycle) RedeemPendingSecret(ctx context.Context, session Session, state string) (*User, bool, error) {
	return l.redeem(ctx, session, state, "")
}

// redeem checks the token without consuming it, then claims it and
// writes the credential. With a bun token store both happen in one
// transaction; other stores consume the token before the write.
func (l *PasswordLifecycle) redeem(ctx context.Context, session Session, state, hash string) (*User, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.OperationTimeout)
	defer cancel()

	peeked, err := l.tokens.Peek(ctx, state)
	if err != nil {
		return nil, false, err
	}

	if hash == "" {
		if peeked.PendingSecret == "" {
			return nil, false, ValidationFailed(FieldPassword, MsgPasswordEmpty)
		}
		hash = peeked.PendingSecret
	}

	regs, err := l.registrations(ctx, peeked.Email)
	if err != nil {
		return nil, false, err
	}

	if !regs.email.Active() && len(regs.others) > 0 {
		return nil, false, OtherRegistration(regs.others[0].Provider, peeked.Email)
	}

	var (
		token   *StateToken
		user    *User
		cred    *Credential
		created bool
	)

	apply := func(ctx context.Context, tx bun.IDB) error {
		if regs.email != nil {
			if err := l.repo.Credentials().UpdateSecretTx(ctx, tx, regs.email.ID, hash); err != nil {
				return err
			}
			u, err := l.repo.Users().FindByIDTx(ctx, tx, regs.email.UserID)
			if err != nil {
				return err
			}
			user, cred = u, regs.email
			return nil
		}
		u, c, err := l.insertEmailUser(ctx, tx, peeked.Email, hash)
		if err != nil {
			return err
		}
		user, cred, created = u, c, true
		return nil
	}

	if l.tokens.Transactional() {
		err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			t, err := l.tokens.RedeemTx(ctx, tx, state)
			if err != nil {
				return err
			}
			token = t
			return apply(ctx, tx)
		})
	} else {
		token, err = l.tokens.Redeem(ctx, state)
		if err == nil {
			err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				return apply(ctx, tx)
			})
		}
	}
	if err != nil {
		return nil, false, lifecycleError(err, "failed to set password")
	}

	if !created {
		cred.Secret = hash
		cred.UnjoinedAt = nil
	}

	if session != nil {
		if err := session.Login(ctx, cred); err != nil {
			return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to establish session")
		}
	}

	l.record(ctx, ActivityEventPasswordSet, token.Email, cred.UserID.String(), map[string]any{
		"created": created,
		"is_join": token.IsJoin,
	})

	if created {
		notifyInformational(ctx, l.sender, l.logger, JoinedNotification(token.Email, ProviderEmail))
	} else {
		notifyInformational(ctx, l.sender, l.logger, PasswordUpdatedNotification(token.Email))
	}

	return user, created, nil
}

func (l *PasswordLifecycle) insertEmailUser(ctx context.Context, tx bun.IDB, email, hash string) (*User, *Credential, error) {
	user, err := l.repo.Users().RegisterTx(ctx, tx, &User{ID: uuid.New(), Email: email})
	if err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user")
	}
	cred, err := l.repo.Credentials().CreateTx(ctx, tx, &Credential{
		ID:       uuid.New(),
		Email:    email,
		Provider: ProviderEmail,
		Secret:   hash,
		UserID:   user.ID,
		JoinedAt: l.now(),
	})
	if err != nil {
		return nil, nil, err
	}
	return user, cred, nil
}

// lifecycleError keeps engine and rich errors as they are and wraps
// anything else as internal.
func lifecycleError(err error, msg string) error {
	if _, ok := AsAuthError(err); ok {
		return err
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

func (l *PasswordLifecycle) current(ctx context.Context, session Session) (*Credential, error) {
	if session == nil {
		return nil, NotAuthenticated()
	}
	cred, err := session.CurrentCredential(ctx)
	if err != nil {
		if ae, ok := AsAuthError(err); ok && ae.Kind == KindNotAuthenticated {
			return nil, ae
		}
		l.logger.Debug("no session credential: %v", err)
		return nil, NotAuthenticated()
	}
	if !cred.Active() {
		return nil, NotAuthenticated()
	}
	return cred, nil
}

// ChangeAuthenticatedPassword sets the email password of the signed in
// member. Members that only joined through apple or google get an email
// credential attached to the same user.
func (l *PasswordLifecycle) ChangeAuthenticatedPassword(ctx context.Context, session Session, password, confirmation string) (*Credential, error) {
	current, err := l.current(ctx, session)
	if err != nil {
		return nil, err
	}

	if err := l.policy.ValidateWithConfirmation(password, confirmation, true); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.OperationTimeout)
	defer cancel()

	hash, err := l.hasher.HashPassword(password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	email := NormalizeEmail(current.Email)
	cred, err := l.repo.Credentials().FindByEmailProvider(ctx, email, ProviderEmail)
	if err != nil && !IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up email credential")
	}

	if cred != nil && cred.UserID != current.UserID {
		return nil, AlreadyRegistered(ProviderEmail, email)
	}

	err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if cred != nil {
			return l.repo.Credentials().UpdateSecretTx(ctx, tx, cred.ID, hash)
		}
		c, err := l.repo.Credentials().CreateTx(ctx, tx, &Credential{
			ID:       uuid.New(),
			Email:    email,
			Provider: ProviderEmail,
			Secret:   hash,
			UserID:   current.UserID,
			JoinedAt: l.now(),
		})
		if err != nil {
			return err
		}
		cred = c
		return nil
	})
	if err != nil {
		if _, ok := AsAuthError(err); ok {
			return nil, err
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to change password")
	}
	cred.Secret = hash
	cred.UnjoinedAt = nil

	l.record(ctx, ActivityEventPasswordChanged, email, current.UserID.String(), map[string]any{
		"session_provider": string(current.Provider),
	})
	notifyInformational(ctx, l.sender, l.logger, PasswordUpdatedNotification(email))

	return cred, nil
}

// Unjoin deactivates the session credential and signs the member out.
// Joining again with the same identity reactivates it.
func (l *PasswordLifecycle) Unjoin(ctx context.Context, session Session) error {
	current, err := l.current(ctx, session)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.OperationTimeout)
	defer cancel()

	now := l.now()
	err = l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return l.repo.Credentials().SetUnjoinedTx(ctx, tx, current.ID, &now)
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to unjoin credential")
	}

	l.record(ctx, ActivityEventUnjoin, current.Email, current.UserID.String(), map[string]any{
		"provider": string(current.Provider),
	})
	notifyInformational(ctx, l.sender, l.logger, QuitNotification(current.Email, current.Provider))

	if err := session.Logout(ctx, true); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to end session")
	}
	return nil
}

func (l *PasswordLifecycle) record(ctx context.Context, evt ActivityEventType, email, userID string, meta map[string]any) {
	recordActivity(ctx, l.activity, l.logger, ActivityEvent{
		EventType:  evt,
		Provider:   ProviderEmail,
		Email:      email,
		UserID:     userID,
		Metadata:   meta,
		OccurredAt: l.now(),
	})
}
