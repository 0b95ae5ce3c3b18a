package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesSorted(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_schema.sql", names[0])
	assert.IsNonDecreasing(t, names)
}

func TestSchemaCreatesTransactionsTable(t *testing.T) {
	raw, err := migrationsFS.ReadFile("migrations/001_schema.sql")
	require.NoError(t, err)
	sql := string(raw)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS ledger_transactions")
	for _, status := range []string{"pending", "confirmed", "reverted", "dropped"} {
		assert.True(t, strings.Contains(sql, "'"+status+"'"), status)
	}
}
