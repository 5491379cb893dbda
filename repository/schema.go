package repository

import (
	"context"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/uptrace/bun"
)

// CreateSchema creates the users, credentials and state_tokens tables
// and their indexes when missing. It works on postgres and sqlite.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*auth.User)(nil),
		(*auth.Credential)(nil),
		(*auth.StateToken)(nil),
	}
	for _, model := range models {
		q := db.NewCreateTable().Model(model).IfNotExists()
		if _, ok := model.(*auth.Credential); ok {
			q = q.ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`)
		}
		if _, err := q.Exec(ctx); err != nil {
			return err
		}
	}

	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().
			Model((*auth.Credential)(nil)).
			Index("uq_credentials_email_provider").
			Unique().
			IfNotExists().
			Column("email", "provider"),
		db.NewCreateIndex().
			Model((*auth.Credential)(nil)).
			Index("uq_credentials_provider_subject").
			Unique().
			IfNotExists().
			Column("provider", "secret").
			Where("provider <> 'email'"),
		db.NewCreateIndex().
			Model((*auth.StateToken)(nil)).
			Index("idx_state_tokens_email").
			IfNotExists().
			Column("email"),
	}
	for _, idx := range indexes {
		if _, err := idx.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
