package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hudlink/hudlink/internal/config"
)

func TestGetSqliteDB_InMemory(t *testing.T) {
	db, err := GetSqliteDB("")
	require.NoError(t, err)

	require.NoError(t, db.Exec("CREATE TABLE t (v INTEGER)").Error)
	require.NoError(t, db.Exec("INSERT INTO t VALUES (1)").Error)

	var n int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM t").Scan(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestOpen_Sqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	db, local, err := Open(config.JournalConfig{Type: "sqlite", Path: path}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, local)
	assert.Equal(t, "sqlite", db.Name())

	require.NoError(t, db.Exec("CREATE TABLE t (v INTEGER)").Error)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_PostgresFallsBackToSqlite(t *testing.T) {
	db, local, err := Open(config.JournalConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     "1", // nothing listens here
		Username: "u",
		Password: "p",
		Database: "d",
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, local)
	assert.Equal(t, "sqlite", db.Name())
}
