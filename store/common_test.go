package store

import (
	"os"
	"testing"
)

// mysqlTestDSN returns the DSN for MySQL integration tests, or empty when
// no server is configured.
func mysqlTestDSN(t *testing.T) string {
	t.Helper()
	return os.Getenv("MYSQL_TEST_DSN")
}
