package auth_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-auth-accounts/repository"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/mattn/go-sqlite3"
)

// MockSession implements auth.Session
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Login(ctx context.Context, credential *auth.Credential) error {
	args := m.Called(ctx, credential)
	return args.Error(0)
}

func (m *MockSession) Logout(ctx context.Context, invalidateSession bool) error {
	args := m.Called(ctx, invalidateSession)
	return args.Error(0)
}

func (m *MockSession) CurrentCredential(ctx context.Context) (*auth.Credential, error) {
	args := m.Called(ctx)
	cred, _ := args.Get(0).(*auth.Credential)
	return cred, args.Error(1)
}

// memorySession keeps the logged in credential in memory
type memorySession struct {
	credential  *auth.Credential
	logins      int
	invalidated bool
}

func (s *memorySession) Login(_ context.Context, credential *auth.Credential) error {
	s.credential = credential
	s.logins++
	return nil
}

func (s *memorySession) Logout(_ context.Context, invalidateSession bool) error {
	s.credential = nil
	s.invalidated = invalidateSession
	return nil
}

func (s *memorySession) CurrentCredential(context.Context) (*auth.Credential, error) {
	return s.credential, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []auth.Notification
	fail map[auth.Purpose]error
}

func (s *recordingSender) Send(_ context.Context, n auth.Notification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	if err := s.fail[n.Purpose]; err != nil {
		return "", err
	}
	return fmt.Sprintf("msg-%d", len(s.sent)), nil
}

func (s *recordingSender) purposes() []auth.Purpose {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Purpose, 0, len(s.sent))
	for _, n := range s.sent {
		out = append(out, n.Purpose)
	}
	return out
}

func (s *recordingSender) last() auth.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return auth.Notification{}
	}
	return s.sent[len(s.sent)-1]
}

type activityRecorder struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type logCall struct {
	level   string
	message string
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: fmt.Sprintf(format, args...)})
}

func (l *captureLogger) Debug(format string, args ...any) { l.record("debug", format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.record("info", format, args...) }
func (l *captureLogger) Warn(format string, args ...any)  { l.record("warn", format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.record("error", format, args...) }

const (
	sqliteCreateUsers = `CREATE TABLE users (
    id TEXT NOT NULL PRIMARY KEY,
    email TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`
	sqliteCreateCredentials = `CREATE TABLE credentials (
    id TEXT NOT NULL PRIMARY KEY,
    email TEXT NOT NULL,
    provider TEXT NOT NULL,
    secret TEXT NOT NULL,
    user_id TEXT NOT NULL,
    joined_at TIMESTAMP NOT NULL,
    unjoined_at TIMESTAMP NULL,
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE,
    CONSTRAINT uq_credentials_email_provider UNIQUE (email, provider)
);`
	sqliteCreateStateTokens = `CREATE TABLE state_tokens (
    id TEXT NOT NULL PRIMARY KEY,
    state TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL,
    is_join BOOLEAN NOT NULL DEFAULT FALSE,
    pending_secret TEXT,
    expires_at TIMESTAMP NOT NULL,
    sent_at TIMESTAMP NULL,
    issued_result TEXT,
    created_at TIMESTAMP NOT NULL
);`
	sqliteCreateCredentialsSubject = `CREATE UNIQUE INDEX uq_credentials_provider_subject ON credentials (provider, secret) WHERE provider <> 'email';`
)

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	for _, stmt := range []string{sqliteCreateUsers, sqliteCreateCredentials, sqliteCreateCredentialsSubject, sqliteCreateStateTokens} {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setupRepo(t *testing.T) (auth.RepositoryManager, *bun.DB) {
	t.Helper()
	db := setupDB(t)
	return repository.NewRepositoryManager(db), db
}

func testConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	cfg.JoinLinkBase = "https://club.example.com/join"
	cfg.ResetLinkBase = "https://club.example.com/password-reset"
	return cfg
}

func countRows(t *testing.T, db *bun.DB, model any) int {
	t.Helper()
	n, err := db.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}

// staleCredentials wraps a credential store to act like a lagging read
// replica: lookups miss while writes still reach the real table.
type staleCredentials struct {
	auth.Credentials
	stale    bool
	listErr  error
	writeErr error
}

func (c *staleCredentials) FindByProviderSubject(ctx context.Context, provider auth.Provider, externalID string) (*auth.Credential, error) {
	if c.stale {
		return nil, sql.ErrNoRows
	}
	return c.Credentials.FindByProviderSubject(ctx, provider, externalID)
}

func (c *staleCredentials) FindByEmailProvider(ctx context.Context, email string, provider auth.Provider) (*auth.Credential, error) {
	if c.stale {
		return nil, sql.ErrNoRows
	}
	return c.Credentials.FindByEmailProvider(ctx, email, provider)
}

func (c *staleCredentials) ListByEmail(ctx context.Context, email string) ([]*auth.Credential, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	if c.stale {
		return nil, nil
	}
	return c.Credentials.ListByEmail(ctx, email)
}

func (c *staleCredentials) CreateTx(ctx context.Context, tx bun.IDB, credential *auth.Credential) (*auth.Credential, error) {
	if c.writeErr != nil {
		return nil, c.writeErr
	}
	return c.Credentials.CreateTx(ctx, tx, credential)
}

type repoWithCredentials struct {
	auth.RepositoryManager
	credentials auth.Credentials
}

func (r repoWithCredentials) Credentials() auth.Credentials {
	return r.credentials
}
