package main

import (
	"github.com/banshee-data/process.report/internal/db"
)

// DefaultDBFile is where the station keeps its measurement history.
const DefaultDBFile = "process_data.db"

// openDatabase opens the station database. With autoMigrate the schema
// is brought up to date on open; without it an outdated schema is an
// error, pointing the operator at `process-report migrate up`.
func openDatabase(path string, autoMigrate bool) (*db.DB, error) {
	return db.NewDBWithMigrationCheck(path, autoMigrate)
}
