package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, migrationsDir+"/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		b, err := fs.ReadFile(migrations, f)
		require.NoError(t, err)
		assert.Contains(t, string(b), "-- +goose Up", f)
		assert.Contains(t, string(b), "-- +goose Down", f)
	}
}

func TestInitMigrationEnforcesOneOpenAssignment(t *testing.T) {
	b, err := fs.ReadFile(migrations, migrationsDir+"/00001_init.sql")
	require.NoError(t, err)
	sql := string(b)
	assert.True(t, strings.Contains(sql, "idx_tickets_number ON tickets (number)"))
	assert.Contains(t, sql, "WHERE unassigned_at IS NULL")
}

func TestSuggestedResolutionMigrationIsReversible(t *testing.T) {
	b, err := fs.ReadFile(migrations, migrationsDir+"/00003_suggested_resolution.sql")
	require.NoError(t, err)
	up, down, ok := strings.Cut(string(b), "-- +goose Down")
	require.True(t, ok)
	assert.Contains(t, up, "ADD COLUMN IF NOT EXISTS suggested_resolution TEXT")
	assert.Contains(t, down, "DROP COLUMN IF EXISTS suggested_resolution")
}
