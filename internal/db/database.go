// Package db provides database access and persistence functionality.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // sqlite driver
)

// schema creates the cache table and the index backing "most recent row for
// a product id" lookups.
const schema = `
CREATE TABLE IF NOT EXISTS package_cache (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id    TEXT NOT NULL,
	content_id    TEXT NOT NULL,
	last_modified TEXT NOT NULL,
	files         TEXT NOT NULL,
	cached_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_package_cache_product
	ON package_cache (product_id, cached_at DESC);
`

// Database wraps the sqlite connection shared by the repositories.
type Database struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the sqlite database at path and applies
// the schema.
func Open(path string) (*Database, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: sqlDB, path: path}, nil
}

// DB returns the underlying sql.DB handle.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}
