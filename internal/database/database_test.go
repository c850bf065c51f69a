package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBMigrationFailure(t *testing.T) {
	// A file that is not a sqlite database makes the first migration fail;
	// NewDB must surface the error and close the handle it opened.
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))

	db, err := NewDB(path)
	assert.Error(t, err)
	assert.Nil(t, db)
}

func TestNewDBReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Migrations are idempotent on an existing database.
	db, err = NewDB(path)
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}
