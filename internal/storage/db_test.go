package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db"), Profile: ProfileStandard, Name: "test"})
	require.NoError(t, err)
	require.NoError(t, InitSchema(db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesParentDirectoryAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "chain.db")

	db, err := Open(Config{Path: path, Name: "test"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Conn().Ping())
}

func TestOpen_DefaultsToStandardProfile(t *testing.T) {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "chain.db"), Name: "test"})
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, ProfileStandard, db.profile)
}

func TestInitSchema_IsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, InitSchema(db))
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	db := openTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`INSERT INTO incident_log (level, component, reason, occurred_at) VALUES ('INFO', 'test', 'ok', '2026-01-01T00:00:00Z')`)
		return execErr
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM incident_log`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	boom := errors.New("boom")

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, execErr := tx.Exec(`INSERT INTO incident_log (level, component, reason, occurred_at) VALUES ('INFO', 'test', 'ok', '2026-01-01T00:00:00Z')`); execErr != nil {
			return execErr
		}
		return boom
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM incident_log`).Scan(&count))
	assert.Equal(t, 0, count)
}
