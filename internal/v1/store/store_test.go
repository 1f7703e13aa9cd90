package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestGateway connects to the database named by TEST_DATABASE_URL with no
// idle connections. Tests that need the real schema skip when it is unset.
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	g, err := connect(context.Background(), dsn, 0)
	require.NoError(t, err)
	t.Cleanup(g.Close)

	return g
}

func TestIsUnknownDatabase(t *testing.T) {
	assert.False(t, isUnknownDatabase(nil))
	assert.False(t, isUnknownDatabase(errors.New("connection refused")))
	assert.False(t, isUnknownDatabase(&pgconn.PgError{Code: "28P01"}))

	missing := &pgconn.PgError{Code: sqlstateUnknownDatabase}
	assert.True(t, isUnknownDatabase(missing))
	assert.True(t, isUnknownDatabase(fmt.Errorf("ping database: %w", missing)))
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(names), 2)

	assert.True(t, sort.StringsAreSorted(names))
	for _, n := range names {
		assert.True(t, strings.HasSuffix(n, ".sql"), n)
	}
}

func TestOpen_BadDSN(t *testing.T) {
	_, err := open(context.Background(), "definitely not a dsn", 0)
	assert.Error(t, err)
}

func TestCreateDatabase_BadDSN(t *testing.T) {
	err := createDatabase(context.Background(), "definitely not a dsn")
	assert.Error(t, err)
}

func TestConnect_AppliesSchema(t *testing.T) {
	g := newTestGateway(t)

	// connect ran the embedded migrations; both tables must answer.
	var n int
	err := g.Pool().QueryRow(context.Background(), `SELECT count(*) FROM room`).Scan(&n)
	assert.NoError(t, err)

	err = g.Pool().QueryRow(context.Background(), `SELECT count(*) FROM message`).Scan(&n)
	assert.NoError(t, err)
}

func TestPing(t *testing.T) {
	g := newTestGateway(t)
	assert.NoError(t, g.Ping(context.Background()))
}
