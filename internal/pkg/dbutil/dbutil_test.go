package dbutil

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestFinalizeRebindsPerDriver(t *testing.T) {
	query, args := Finalize("postgres", "SELECT * FROM chunks WHERE document_id = ? AND user_id = ?", []interface{}{1, "u"})
	require.Equal(t, "SELECT * FROM chunks WHERE document_id = $1 AND user_id = $2", query)
	require.Equal(t, []interface{}{1, "u"}, args)

	query, _ = Finalize("sqlite", "SELECT * FROM chunks WHERE document_id = ?", []interface{}{1})
	require.Equal(t, "SELECT * FROM chunks WHERE document_id = ?", query)
}

func TestFinalizeRewritesLimit(t *testing.T) {
	query, args := Finalize("sqlite", "SELECT * FROM documents WHERE processed = ? LIMIT ?,?", []interface{}{0, 10, 20})
	require.Equal(t, "SELECT * FROM documents WHERE processed = ? LIMIT ? OFFSET ?", query)
	require.Equal(t, []interface{}{0, 20, 10}, args)
}

func TestIsConflict(t *testing.T) {
	require.True(t, IsConflict(&pq.Error{Code: "23505"}))
	require.True(t, IsConflict(errors.New("constraint failed: UNIQUE constraint failed: chunks.document_id")))
	require.False(t, IsConflict(errors.New("boom")))
	require.False(t, IsConflict(nil))
}
