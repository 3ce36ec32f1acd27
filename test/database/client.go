// Package database wraps the shared test-database setup in the client type
// the services expect.
package database

import (
	"testing"

	"github.com/markdownflow/flowrun/pkg/database"
	"github.com/markdownflow/flowrun/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The schema and connection are automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	db := util.SetupTestDatabase(t)

	// Note: cleanup (schema drop and connection close) is handled by SetupTestDatabase
	return database.NewClientFromDB(db)
}
