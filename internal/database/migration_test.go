package database

import (
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/lib/pq"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, "migrations")
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["000001_create_documents.up.sql"])
	assert.True(t, names["000001_create_documents.down.sql"])
}

func TestOpenMigrationSource_Embedded(t *testing.T) {
	src, name, err := openMigrationSource("")
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "iofs", name)
	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	_, err = src.Next(first)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCreateMigrationFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	up, down, err := CreateMigrationFile(dir, "Add Documents Hash", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240301123000_add_documents_hash.up.sql"), up)
	assert.Equal(t, filepath.Join(dir, "20240301123000_add_documents_hash.down.sql"), down)
	assert.FileExists(t, up)
	assert.FileExists(t, down)

	_, _, err = CreateMigrationFile(dir, "Add Documents Hash", now)
	assert.Error(t, err, "existing files must not be overwritten")

	_, _, err = CreateMigrationFile(dir, "  !!  ", now)
	assert.Error(t, err)
}

func TestMigrationManager(t *testing.T) {
	dbURL := os.Getenv("TEST_DB_URL")
	if dbURL == "" {
		t.Skip("Skipping migration test: TEST_DB_URL not set")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	mm, err := NewMigrationManager(db, "", logger)
	require.NoError(t, err)
	defer mm.Close()

	require.NoError(t, mm.Up())
	version, dirty, err := mm.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	pending, err := mm.Pending()
	require.NoError(t, err)
	assert.False(t, pending)
}
