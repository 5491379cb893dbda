package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CredentialRepository implements auth.Credentials using Bun.
type CredentialRepository struct {
	db *bun.DB
}

var _ auth.Credentials = (*CredentialRepository)(nil)

// NewCredentialsRepository creates a new repository.
func NewCredentialsRepository(db *bun.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*auth.Credential, error) {
	return r.findOne(ctx, map[string]any{"id": id.String()}, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.id = ?", id)
	})
}

// FindByProviderSubject looks up an apple or google credential by the
// subject id the provider asserted.
func (r *CredentialRepository) FindByProviderSubject(ctx context.Context, provider auth.Provider, externalID string) (*auth.Credential, error) {
	meta := map[string]any{"provider": string(provider)}
	return r.findOne(ctx, meta, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.provider = ?", provider).
			Where("?TableAlias.secret = ?", externalID)
	})
}

func (r *CredentialRepository) FindByEmailProvider(ctx context.Context, email string, provider auth.Provider) (*auth.Credential, error) {
	email = auth.NormalizeEmail(email)
	meta := map[string]any{"provider": string(provider), "email": email}
	return r.findOne(ctx, meta, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.email = ?", email).
			Where("?TableAlias.provider = ?", provider)
	})
}

// ListByEmail returns every credential for email, unjoined ones included,
// oldest first.
func (r *CredentialRepository) ListByEmail(ctx context.Context, email string) ([]*auth.Credential, error) {
	var records []*auth.Credential
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.email = ?", auth.NormalizeEmail(email)).
		OrderExpr("?TableAlias.joined_at ASC").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*auth.Credential{}, nil
		}
		return nil, err
	}
	return records, nil
}

// CreateTx inserts credential. A unique constraint failure means another
// request registered the same identity first and is reported as
// AlreadyRegistered.
func (r *CredentialRepository) CreateTx(ctx context.Context, tx bun.IDB, credential *auth.Credential) (*auth.Credential, error) {
	if credential.ID == uuid.Nil {
		credential.ID = uuid.New()
	}
	credential.Email = auth.NormalizeEmail(credential.Email)
	if credential.JoinedAt.IsZero() {
		credential.JoinedAt = time.Now()
	}

	if _, err := tx.NewInsert().Model(credential).Exec(ctx); err != nil {
		if IsUniqueViolation(err) {
			return nil, auth.AlreadyRegistered(credential.Provider, credential.Email)
		}
		return nil, err
	}
	return credential, nil
}

func (r *CredentialRepository) UpdateSecretTx(ctx context.Context, tx bun.IDB, id uuid.UUID, secret string) error {
	res, err := tx.NewUpdate().
		Model((*auth.Credential)(nil)).
		Set("secret = ?", secret).
		Set("unjoined_at = NULL").
		Where("id = ?", id).
		Exec(ctx)
	return checkUpdated(res, err, id)
}

func (r *CredentialRepository) UpdateEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email string) error {
	email = auth.NormalizeEmail(email)
	res, err := tx.NewUpdate().
		Model((*auth.Credential)(nil)).
		Set("email = ?", email).
		Where("id = ?", id).
		Exec(ctx)
	if IsUniqueViolation(err) {
		return auth.AlreadyRegistered("", email)
	}
	return checkUpdated(res, err, id)
}

// SetUnjoinedTx marks the credential as unjoined at at, nil reactivates it.
func (r *CredentialRepository) SetUnjoinedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at *time.Time) error {
	q := tx.NewUpdate().Model((*auth.Credential)(nil))
	if at == nil {
		q = q.Set("unjoined_at = NULL")
	} else {
		q = q.Set("unjoined_at = ?", *at)
	}
	res, err := q.Where("id = ?", id).Exec(ctx)
	return checkUpdated(res, err, id)
}

func (r *CredentialRepository) findOne(ctx context.Context, meta map[string]any, where func(*bun.SelectQuery) *bun.SelectQuery) (*auth.Credential, error) {
	record := &auth.Credential{}
	err := where(r.db.NewSelect().Model(record)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound().WithMetadata(meta)
		}
		return nil, err
	}
	return record, nil
}

func checkUpdated(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.NewRecordNotFound().WithMetadata(map[string]any{
			"id": id.String(),
		})
	}
	return nil
}
