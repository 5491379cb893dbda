package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Credentials persists credentials. Lookups return a go-repository-bun
// not found error when nothing matches.
type Credentials interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Credential, error)
	FindByProviderSubject(ctx context.Context, provider Provider, externalID string) (*Credential, error)
	FindByEmailProvider(ctx context.Context, email string, provider Provider) (*Credential, error)
	ListByEmail(ctx context.Context, email string) ([]*Credential, error)

	CreateTx(ctx context.Context, tx bun.IDB, credential *Credential) (*Credential, error)
	// UpdateSecretTx replaces the secret and clears UnjoinedAt.
	UpdateSecretTx(ctx context.Context, tx bun.IDB, id uuid.UUID, secret string) error
	UpdateEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email string) error
	SetUnjoinedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at *time.Time) error
}

// StateTokenStore persists state tokens. It is storage agnostic so the
// redis implementation can serve it too.
type StateTokenStore interface {
	Create(ctx context.Context, token *StateToken) error
	// RecordDelivery stores the outcome of the notification for state.
	RecordDelivery(ctx context.Context, state string, sentAt *time.Time, result string) error
	// Redeem atomically resolves state and deletes every token sharing its
	// email. It returns a TokenInvalidOrExpired AuthError with the internal
	// reason when the token is missing or expired at now.
	Redeem(ctx context.Context, state string, now time.Time) (*StateToken, error)
	// Peek returns the token for state without consuming it, with the
	// same errors as Redeem.
	Peek(ctx context.Context, state string, now time.Time) (*StateToken, error)
	DeleteByEmail(ctx context.Context, email string) (int, error)
}

// TxStateTokenStore is implemented by stores that can redeem inside a
// RunInTx transaction. The token is then only consumed when the
// caller's writes commit.
type TxStateTokenStore interface {
	RedeemTx(ctx context.Context, tx bun.IDB, state string, now time.Time) (*StateToken, error)
}

type RepositoryManager interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Users() Users
	Credentials() Credentials
	StateTokens() StateTokenStore
}

// IsNotFound reports record not found errors from any store.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows)
}
