package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// StateTokenRepository implements auth.StateTokenStore using Bun.
type StateTokenRepository struct {
	db *bun.DB
}

var (
	_ auth.StateTokenStore   = (*StateTokenRepository)(nil)
	_ auth.TxStateTokenStore = (*StateTokenRepository)(nil)
)

func NewStateTokenRepository(db *bun.DB) *StateTokenRepository {
	return &StateTokenRepository{db: db}
}

func (r *StateTokenRepository) Create(ctx context.Context, token *auth.StateToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(token).Exec(ctx)
	return err
}

func (r *StateTokenRepository) RecordDelivery(ctx context.Context, state string, sentAt *time.Time, result string) error {
	q := r.db.NewUpdate().
		Model((*auth.StateToken)(nil)).
		Set("issued_result = ?", result)
	if sentAt != nil {
		q = q.Set("sent_at = ?", *sentAt)
	}
	_, err := q.Where("state = ?", state).Exec(ctx)
	return err
}

// Redeem claims state inside its own transaction. See RedeemTx.
func (r *StateTokenRepository) Redeem(ctx context.Context, state string, now time.Time) (*auth.StateToken, error) {
	var token *auth.StateToken
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = r.RedeemTx(ctx, tx, state, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// RedeemTx claims state inside tx. The delete of the row is the claim:
// when two requests race, only the one that removed the row wins. Every
// other token for the same email is deleted with it. Nothing is consumed
// if tx rolls back.
func (r *StateTokenRepository) RedeemTx(ctx context.Context, tx bun.IDB, state string, now time.Time) (*auth.StateToken, error) {
	record, err := r.find(ctx, tx, state, now)
	if err != nil {
		return nil, err
	}

	res, err := tx.NewDelete().
		Model((*auth.StateToken)(nil)).
		Where("state = ?", state).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, auth.TokenInvalidOrExpired(auth.ReasonTokenNotFound)
	}

	if _, err := tx.NewDelete().
		Model((*auth.StateToken)(nil)).
		Where("email = ?", record.Email).
		Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// Peek returns the live token for state without consuming it.
func (r *StateTokenRepository) Peek(ctx context.Context, state string, now time.Time) (*auth.StateToken, error) {
	return r.find(ctx, r.db, state, now)
}

func (r *StateTokenRepository) find(ctx context.Context, db bun.IDB, state string, now time.Time) (*auth.StateToken, error) {
	record := &auth.StateToken{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.state = ?", state).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.TokenInvalidOrExpired(auth.ReasonTokenNotFound)
		}
		return nil, err
	}
	if record.Expired(now) {
		return nil, auth.TokenInvalidOrExpired(auth.ReasonTokenExpired)
	}
	return record, nil
}

// DeleteByEmail removes every token issued for email.
func (r *StateTokenRepository) DeleteByEmail(ctx context.Context, email string) (int, error) {
	res, err := r.db.NewDelete().
		Model((*auth.StateToken)(nil)).
		Where("email = ?", auth.NormalizeEmail(email)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeExpired removes tokens that expired before now.
func (r *StateTokenRepository) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*auth.StateToken)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
