package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/askscribe/internal/config"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "askscribe.db")
	conn, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, ApplyMigrations(conn, "sqlite"))
	// migrations are idempotent
	require.NoError(t, ApplyMigrations(conn, "sqlite"))

	var n int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n))
	require.Equal(t, 0, n)
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM document_chunks").Scan(&n))
	require.Equal(t, 0, n)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"})
	require.Error(t, err)
	require.Error(t, ApplyMigrations(nil, "mysql"))
}
