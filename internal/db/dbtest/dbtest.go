// Package dbtest provisions throwaway schemas for database-backed tests.
package dbtest

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"trends-importer/internal/config"
	"trends-importer/internal/db"
)

// New returns a database with the schema loaded into a fresh Postgres schema
// that is dropped when the test ends. The test is skipped unless
// TEST_DATABASE_URL is set.
func New(t *testing.T) *db.DB {
	t.Helper()
	base := os.Getenv("TEST_DATABASE_URL")
	if base == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, base)
	require.NoError(t, err)
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		admin.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
		admin.Close(ctx)
	})

	u, err := url.Parse(base)
	require.NoError(t, err)
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	d, err := db.New(ctx, config.DatabaseConfig{
		URL:         u.String(),
		MaxConns:    4,
		MinConns:    0,
		MaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	require.NoError(t, d.Init(ctx))
	return d
}
