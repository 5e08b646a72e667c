package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsEmbedded(t *testing.T) {
	migs, err := LoadMigrations(migrationFS)
	require.NoError(t, err)
	require.NotEmpty(t, migs)

	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, "core", migs[0].Name)
	assert.Contains(t, migs[0].SQL, "ux_appointments_active_slot")

	require.Len(t, migs, 2)
	assert.Equal(t, "movement_price", migs[1].Name)
	assert.Contains(t, migs[1].SQL, "stock_movements_out_price_check")
}

func TestLoadMigrationsOrderingAndSkips(t *testing.T) {
	files := fstest.MapFS{
		"migrations/010_late.sql":  {Data: []byte("SELECT 10")},
		"migrations/002_early.sql": {Data: []byte("SELECT 2")},
		"migrations/README.md":     {Data: []byte("docs")},
		"migrations/notes.sql":     {Data: []byte("SELECT 0")},
	}

	migs, err := LoadMigrations(files)
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 2, migs[0].Version)
	assert.Equal(t, "early", migs[0].Name)
	assert.Equal(t, 10, migs[1].Version)
}

func TestLoadMigrationsDuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"migrations/001_a.sql":  {Data: []byte("SELECT 1")},
		"migrations/0001_b.sql": {Data: []byte("SELECT 1")},
	}

	_, err := LoadMigrations(files)
	assert.Error(t, err)
}
