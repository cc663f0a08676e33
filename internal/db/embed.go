package db

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

//go:embed migrations
var migrationsFS embed.FS

// DevMode controls whether migrations are read from the local filesystem
// instead of the embedded copy. Set it before calling getMigrationsFS when
// iterating on migration files without rebuilding the binary.
var DevMode = false

// getMigrationsFS returns the migrations filesystem rooted at the directory
// containing the *.sql files.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		const devPath = "internal/db/migrations"
		if _, err := os.Stat(devPath); err != nil {
			return nil, fmt.Errorf("dev mode migrations not found at %s: %w", devPath, err)
		}
		return os.DirFS(devPath), nil
	}
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return sub, nil
}
