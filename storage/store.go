package storage

import (
	"fmt"

	"printvista/server/logger"
)

// Optional package-level logger injected by the application.
var Log *logger.Logger

// SetLogger injects the structured logger from the main application.
func SetLogger(l *logger.Logger) {
	Log = l
}

// NewStore creates a Store for the given driver. SQLite is the supported
// backend; the driver switch is kept so a PostgreSQL port can slot in.
func NewStore(driver, path string) (Store, error) {
	switch driver {
	case "", "sqlite", "sqlite3", "modernc", "modernc-sqlite":
		if path == "" {
			path = "printvista.db"
		}
		return NewSQLiteStore(path)

	case "postgres", "postgresql":
		return nil, fmt.Errorf("PostgreSQL support is not yet complete; use sqlite for now")

	default:
		return nil, fmt.Errorf("unsupported database driver: %q (supported: sqlite)", driver)
	}
}
