package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// GenerateState returns n random bytes encoded as base64 RawURL, which is
// safe inside a URL path segment.
func GenerateState(n int) (string, error) {
	if n < DefaultStateBytes {
		n = DefaultStateBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate state token")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type issueOptions struct {
	ttl           time.Duration
	pendingSecret string
	isJoin        bool
}

// IssueOption customizes a single Issue call
type IssueOption func(*issueOptions)

// WithTTL overrides the configured token lifetime.
func WithTTL(ttl time.Duration) IssueOption {
	return func(o *issueOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithPendingSecret stores an already hashed secret with the token.
func WithPendingSecret(hash string) IssueOption {
	return func(o *issueOptions) {
		o.pendingSecret = hash
	}
}

// AsJoin marks the token as an invitation rather than a reset.
func AsJoin(join bool) IssueOption {
	return func(o *issueOptions) {
		o.isJoin = join
	}
}

// StateTokenService issues and redeems one time state tokens
type StateTokenService struct {
	store    StateTokenStore
	cfg      Config
	now      Clock
	logger   Logger
	activity ActivitySink
}

func NewStateTokenService(store StateTokenStore, cfg Config) *StateTokenService {
	return &StateTokenService{
		store:    store,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}
}

// WithLogger overrides the logger used by the service.
func (s *StateTokenService) WithLogger(logger Logger) *StateTokenService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink sets the sink used to emit token events.
func (s *StateTokenService) WithActivitySink(sink ActivitySink) *StateTokenService {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithClock replaces the time source.
func (s *StateTokenService) WithClock(now Clock) *StateTokenService {
	if now != nil {
		s.now = now
	}
	return s
}

// Issue creates and persists a token for email and returns its state.
func (s *StateTokenService) Issue(ctx context.Context, email string, opts ...IssueOption) (*StateToken, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during token issue")
	default:
	}

	o := issueOptions{ttl: s.cfg.TokenTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	email = NormalizeEmail(email)
	if email == "" {
		return nil, ValidationFailed(FieldEmail, MsgEmailRequired)
	}

	state, err := GenerateState(s.cfg.StateBytes)
	if err != nil {
		return nil, err
	}

	if s.cfg.SupersedeOnIssue {
		n, err := s.store.DeleteByEmail(ctx, email)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to supersede state tokens")
		}
		if n > 0 {
			s.logger.Debug("superseded %d state token(s) for %s", n, email)
		}
	}

	now := s.now()
	token := &StateToken{
		ID:            uuid.New(),
		State:         state,
		Email:         email,
		IsJoin:        o.isJoin,
		PendingSecret: o.pendingSecret,
		ExpiresAt:     now.Add(o.ttl),
		CreatedAt:     now,
	}

	if err := s.store.Create(ctx, token); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist state token")
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:  ActivityEventTokenIssued,
		Provider:   ProviderEmail,
		Email:      email,
		Metadata:   map[string]any{"is_join": o.isJoin},
		OccurredAt: now,
	})

	return token, nil
}

// RecordDelivery stores the notification outcome on the token.
func (s *StateTokenService) RecordDelivery(ctx context.Context, state, deliveryID string, sendErr error) error {
	result := deliveryID
	var sentAt *time.Time
	if sendErr != nil {
		result = sendErr.Error()
	} else {
		now := s.now()
		sentAt = &now
	}
	if err := s.store.RecordDelivery(ctx, state, sentAt, result); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record token delivery")
	}
	return nil
}

// Redeem consumes state. Missing and expired tokens are both reported as
// TokenInvalidOrExpired, the reason is kept for logs.
func (s *StateTokenService) Redeem(ctx context.Context, state string) (*StateToken, error) {
	return s.redeem(ctx, state, s.store.Redeem)
}

// Transactional reports whether RedeemTx joins the caller transaction.
func (s *StateTokenService) Transactional() bool {
	_, ok := s.store.(TxStateTokenStore)
	return ok
}

// RedeemTx consumes state inside tx, the token survives when tx rolls
// back. Stores that cannot join a transaction redeem on their own.
func (s *StateTokenService) RedeemTx(ctx context.Context, tx bun.IDB, state string) (*StateToken, error) {
	txStore, ok := s.store.(TxStateTokenStore)
	if !ok {
		return s.Redeem(ctx, state)
	}
	return s.redeem(ctx, state, func(ctx context.Context, state string, now time.Time) (*StateToken, error) {
		return txStore.RedeemTx(ctx, tx, state, now)
	})
}

// Peek resolves state without consuming it.
func (s *StateTokenService) Peek(ctx context.Context, state string) (*StateToken, error) {
	if state == "" {
		return nil, TokenInvalidOrExpired(ReasonTokenNotFound)
	}
	token, err := s.store.Peek(ctx, state, s.now())
	if err != nil {
		return nil, s.rejected(ctx, err)
	}
	return token, nil
}

func (s *StateTokenService) redeem(ctx context.Context, state string, claim func(context.Context, string, time.Time) (*StateToken, error)) (*StateToken, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during token redeem")
	default:
	}

	if state == "" {
		return nil, TokenInvalidOrExpired(ReasonTokenNotFound)
	}

	token, err := claim(ctx, state, s.now())
	if err != nil {
		return nil, s.rejected(ctx, err)
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventTokenRedeemed,
		Provider:  ProviderEmail,
		Email:     token.Email,
		Metadata:  map[string]any{"is_join": token.IsJoin},
	})

	return token, nil
}

func (s *StateTokenService) rejected(ctx context.Context, err error) error {
	if ae, ok := AsAuthError(err); ok && ae.Kind == KindTokenInvalidOrExpired {
		s.logger.Info("state token rejected: %s", ae.Reason())
		recordActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivityEventTokenRejected,
			Provider:  ProviderEmail,
			Metadata:  map[string]any{"reason": ae.Reason()},
		})
		return TokenInvalidOrExpired(ae.Reason())
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to redeem state token")
}
