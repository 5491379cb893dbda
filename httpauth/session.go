package httpauth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

const DefaultSessionCookie = "auth_session"

// SessionClaims is the payload of the session cookie JWT.
type SessionClaims struct {
	jwt.RegisteredClaims
	CredentialID string        `json:"cid"`
	Email        string        `json:"em"`
	Provider     auth.Provider `json:"prv"`
}

// SessionConfig configures cookie sessions
type SessionConfig struct {
	SigningKey []byte
	CookieName string
	Issuer     string
	TTL        time.Duration
	Secure     bool
}

// Sessions issues JWT cookie sessions for router requests.
type Sessions struct {
	cfg         SessionConfig
	credentials auth.Credentials
	logger      auth.Logger
	now         func() time.Time
}

func NewSessions(cfg SessionConfig, credentials auth.Credentials) (*Sessions, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("session signing key must be at least 32 bytes", errors.CategoryBadInput)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultSessionCookie
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Sessions{
		cfg:         cfg,
		credentials: credentials,
		logger:      auth.DefaultLogger(),
		now:         time.Now,
	}, nil
}

func (s *Sessions) WithLogger(logger auth.Logger) *Sessions {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Sessions) WithClock(now func() time.Time) *Sessions {
	if now != nil {
		s.now = now
	}
	return s
}

const sessionLocalsKey = "auth_session"

// For returns the auth.Session bound to the request. Calls within one
// request share the same session.
func (s *Sessions) For(ctx router.Context) auth.Session {
	if cached, ok := ctx.Locals(sessionLocalsKey).(*cookieSession); ok {
		return cached
	}
	session := &cookieSession{sessions: s, ctx: ctx}
	ctx.Locals(sessionLocalsKey, session)
	return session
}

// Sign returns the signed session token for credential.
func (s *Sessions) Sign(credential *auth.Credential) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.cfg.TTL)
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   credential.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		CredentialID: credential.ID.String(),
		Email:        credential.Email,
		Provider:     credential.Provider,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign session")
	}
	return signed, expires, nil
}

// Parse validates a session token.
func (s *Sessions) Parse(raw string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryAuth, "invalid session").
			WithCode(errors.CodeUnauthorized)
	}
	return claims, nil
}

func (s *Sessions) setCookie(ctx router.Context, value string, expires time.Time) {
	ctx.Cookie(&router.Cookie{
		Name:     s.cfg.CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: "Lax",
	})
}

type cookieSession struct {
	sessions *Sessions
	ctx      router.Context
	current  *auth.Credential
	loaded   bool
}

func (s *cookieSession) Login(_ context.Context, credential *auth.Credential) error {
	if credential == nil {
		return errors.New("credential is required", errors.CategoryBadInput)
	}
	token, expires, err := s.sessions.Sign(credential)
	if err != nil {
		return err
	}
	s.sessions.setCookie(s.ctx, token, expires)
	s.current = credential
	s.loaded = true
	return nil
}

// Logout expires the session cookie. Cookie sessions are stateless so
// invalidateSession has nothing further to revoke.
func (s *cookieSession) Logout(_ context.Context, _ bool) error {
	s.sessions.setCookie(s.ctx, "", s.sessions.now().Add(-24*time.Hour))
	s.current = nil
	s.loaded = true
	return nil
}

func (s *cookieSession) CurrentCredential(ctx context.Context) (*auth.Credential, error) {
	if s.loaded {
		return s.current, nil
	}
	s.loaded = true

	raw := s.ctx.Cookies(s.sessions.cfg.CookieName)
	if raw == "" {
		return nil, nil
	}

	claims, err := s.sessions.Parse(raw)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(claims.CredentialID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryAuth, "invalid session credential")
	}

	credential, err := s.sessions.credentials.GetByID(ctx, id)
	if err != nil {
		if auth.IsNotFound(err) {
			s.sessions.logger.Info("session credential %s no longer exists", id)
			return nil, nil
		}
		return nil, err
	}
	if !credential.Active() {
		return nil, nil
	}

	s.current = credential
	return credential, nil
}
