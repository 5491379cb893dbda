package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

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
	sqliteCreateCredentialsSubject = `CREATE UNIQUE INDEX uq_credentials_provider_subject ON credentials (provider, secret) WHERE provider <> 'email';`
	sqliteCreateStateTokens        = `CREATE TABLE state_tokens (
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
)

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	for _, stmt := range []string{
		sqliteCreateUsers,
		sqliteCreateCredentials,
		sqliteCreateCredentialsSubject,
		sqliteCreateStateTokens,
	} {
		_, err = bunDB.ExecContext(context.Background(), stmt)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = bunDB.Close()
	})
	return bunDB
}
