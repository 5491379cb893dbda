package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/uptrace/bun"
)

type mngr struct {
	db          *bun.DB
	users       auth.Users
	credentials auth.Credentials
	stateTokens auth.StateTokenStore
}

// Option customizes the repository manager
type Option func(*mngr)

// WithStateTokenStore replaces the bun state token store, e.g. with the
// redis implementation.
func WithStateTokenStore(store auth.StateTokenStore) Option {
	return func(m *mngr) {
		if store != nil {
			m.stateTokens = store
		}
	}
}

func NewRepositoryManager(db *bun.DB, opts ...Option) auth.RepositoryManager {
	m := &mngr{
		db:          db,
		users:       auth.NewUsersRepository(db),
		credentials: NewCredentialsRepository(db),
		stateTokens: NewStateTokenRepository(db),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.credentials == nil {
		return errors.New("repository credentials should be initialized")
	}

	if m.stateTokens == nil {
		return errors.New("repository stateTokens should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() auth.Users {
	return m.users
}

func (m mngr) Credentials() auth.Credentials {
	return m.credentials
}

func (m mngr) StateTokens() auth.StateTokenStore {
	return m.stateTokens
}
