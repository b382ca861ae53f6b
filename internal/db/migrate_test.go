// Package db tests for database migration management.
package db

import (
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/ferrysync/backend/internal/errors"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestMigrator_Up verifies migrations apply in version order and are recorded.
func TestMigrator_Up(t *testing.T) {
	db := openMemory(t)
	files := fstest.MapFS{
		"V2__add_b.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"V1__add_a.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"V1__add_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"README.md":          {Data: []byte("ignored")},
		"Vx__bad.up.sql":     {Data: []byte("ignored")},
	}
	m := NewMigrator(db, files)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	applied, err := m.GetAppliedMigrations()
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "add_a", applied[0].Description)
	assert.Len(t, applied[0].Checksum, 64)

	// Idempotent
	require.NoError(t, m.Up())
}

// TestMigrator_Up_badSQL verifies a failing migration is reported and not recorded.
func TestMigrator_Up_badSQL(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, fstest.MapFS{
		"V1__broken.up.sql": {Data: []byte("CREATE TABL nope;")},
	})
	require.NoError(t, m.Initialize())

	err := m.Up()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMigration))

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

// TestMigrator_Down verifies the latest migration is rolled back.
func TestMigrator_Down(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, Migrations)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())

	require.NoError(t, m.Down())

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	var n int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name='kv_store'").Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Error(t, m.Down(), "nothing left to roll back")
}

// TestParseVersion verifies file name parsing.
func TestParseVersion(t *testing.T) {
	v, ok := parseVersion("V12__thing.up.sql")
	assert.True(t, ok)
	assert.Equal(t, 12, v)

	_, ok = parseVersion("V0__zero.up.sql")
	assert.False(t, ok)
	_, ok = parseVersion("nounderscore.up.sql")
	assert.False(t, ok)
}
