package store

import (
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// OpenSQLite opens the database at path, creating the file when missing.
// ":memory:" opens a private in-memory database.
//
// The pool holds one connection: sqlite serialises writers anyway, and an
// in-memory database only lives as long as its connection. Code running
// inside Atomic must therefore only use the store it is handed.
func OpenSQLite(path string) (*bun.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?mode=rwc"
	}
	rawDB, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}
	rawDB.SetMaxOpenConns(1)
	rawDB.SetMaxIdleConns(1)
	rawDB.SetConnMaxLifetime(0)
	return bun.NewDB(rawDB, sqlitedialect.New()), nil
}
