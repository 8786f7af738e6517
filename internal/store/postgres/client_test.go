package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

func TestDSN(t *testing.T) {
	t.Run("explicit dsn wins", func(t *testing.T) {
		got := DSN(ClientConfig{DSN: "postgres://u:p@db/x", Host: "ignored"})
		assert.Equal(t, "postgres://u:p@db/x", got)
	})
	t.Run("discrete fields with defaults", func(t *testing.T) {
		got := DSN(ClientConfig{Host: "db", Database: "pricebet", User: "svc", Password: "pw"})
		assert.Equal(t, "postgres://svc:pw@db:5432/pricebet?sslmode=disable", got)
	})
	t.Run("ssl mode and port", func(t *testing.T) {
		got := DSN(ClientConfig{Host: "db", Port: 6432, Database: "d", User: "u", SSLMode: "require"})
		assert.Equal(t, "postgres://u:@db:6432/d?sslmode=require", got)
	})
}

func TestNotFound(t *testing.T) {
	assert.ErrorIs(t, notFound(pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, notFound(fmt.Errorf("scan: %w", pgx.ErrNoRows)), domain.ErrNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, notFound(other))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"migrations/001_init.sql",
		"migrations/002_audit_settlement_columns.sql",
	}, names)
}
