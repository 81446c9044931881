package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames_Ordered(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, "001_schema.sql", names[0])
	assert.Equal(t, "002_team_encounters.sql", names[1])
}

func TestMigrations_Idempotent(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	for _, name := range names {
		sql, err := migrationsFS.ReadFile("migrations/" + name)
		require.NoError(t, err)
		body := string(sql)
		for _, stmt := range []string{"CREATE TABLE ", "CREATE INDEX ", "CREATE UNIQUE INDEX ", "CREATE EXTENSION "} {
			assert.Equal(t, strings.Count(body, stmt), strings.Count(body, stmt+"IF NOT EXISTS"), "%s: %q without IF NOT EXISTS", name, stmt)
		}
	}
}
