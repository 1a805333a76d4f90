package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://mm:pw@db:5432/mmengine?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "mmengine", User: "mm", Password: "pw"}))
	assert.Equal(t, "postgres://mm:pw@db:6432/mmengine?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, Database: "mmengine", User: "mm", Password: "pw", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}
