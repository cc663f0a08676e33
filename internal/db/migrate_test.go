package db

import (
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// setupMigrationTestDB creates a test database without applying any
// migrations or pragmas
func setupMigrationTestDB(t *testing.T) *DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	sqlDB, err := sql.Open("sqlite", fname)
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}

	return &DB{sqlDB}
}

// setupTestMigrations creates a temporary directory with test migration
// files and returns it as an fs.FS
func setupTestMigrations(t *testing.T) fs.FS {
	t.Helper()
	tmpDir := filepath.Join(t.TempDir(), "migrations")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		t.Fatalf("failed to create temp migrations dir: %v", err)
	}

	migrations := map[string]string{
		"000001_create_readings.up.sql": `
			CREATE TABLE IF NOT EXISTS gauge_readings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				value REAL NOT NULL
			);
		`,
		"000001_create_readings.down.sql": `
			DROP TABLE IF EXISTS gauge_readings;
		`,
		"000002_add_operator.up.sql": `
			ALTER TABLE gauge_readings ADD COLUMN operator TEXT;
		`,
		"000002_add_operator.down.sql": `
			-- SQLite doesn't support DROP COLUMN directly, so we recreate the table
			CREATE TABLE gauge_readings_new (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				value REAL NOT NULL
			);
			INSERT INTO gauge_readings_new (id, value) SELECT id, value FROM gauge_readings;
			DROP TABLE gauge_readings;
			ALTER TABLE gauge_readings_new RENAME TO gauge_readings;
		`,
	}

	for filename, content := range migrations {
		path := filepath.Join(tmpDir, filename)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write migration file %s: %v", filename, err)
		}
	}

	return os.DirFS(tmpDir)
}

func TestMigrateUp(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := setupTestMigrations(t)

	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}

	if dirty {
		t.Error("database should not be dirty after successful migration")
	}

	var hasOperator bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info('gauge_readings')
		WHERE name='operator'
	`).Scan(&hasOperator)
	if err != nil {
		t.Fatalf("failed to check operator column: %v", err)
	}

	if !hasOperator {
		t.Error("operator column should exist after second migration")
	}
}

func TestMigrateUp_Idempotency(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := setupTestMigrations(t)

	// Run migrations up twice
	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("first MigrateUp failed: %v", err)
	}

	err = db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	version, _, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 2 {
		t.Errorf("expected version 2 after idempotent up, got %d", version)
	}
}

func TestMigrateDown(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := setupTestMigrations(t)

	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	// Roll back one migration
	err = db.MigrateDown(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 1 {
		t.Errorf("expected version 1 after down migration, got %d", version)
	}

	if dirty {
		t.Error("database should not be dirty after successful down migration")
	}

	var hasOperator bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info('gauge_readings')
		WHERE name='operator'
	`).Scan(&hasOperator)
	if err != nil {
		t.Fatalf("failed to check operator column: %v", err)
	}

	if hasOperator {
		t.Error("operator column should not exist after rolling back second migration")
	}
}

func TestMigrateTo(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := setupTestMigrations(t)

	err := db.MigrateTo(migrationsFS, 1)
	if err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}

	version, _, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}

	err = db.MigrateTo(migrationsFS, 2)
	if err != nil {
		t.Fatalf("MigrateTo(2) failed: %v", err)
	}

	version, _, err = db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}
}

func TestMigrateForce(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := setupTestMigrations(t)

	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	err = db.MigrateForce(migrationsFS, 1)
	if err != nil {
		t.Fatalf("MigrateForce failed: %v", err)
	}

	version, _, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 1 {
		t.Errorf("expected version 1 after force, got %d", version)
	}
}

func TestBaselineAtVersion(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	err := db.BaselineAtVersion(2)
	if err != nil {
		t.Fatalf("BaselineAtVersion failed: %v", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_migrations LIMIT 1").Scan(&version)
	if err != nil {
		t.Fatalf("failed to read version: %v", err)
	}

	if version != 2 {
		t.Errorf("expected baseline version 2, got %d", version)
	}

	// Baselining an already-stamped database must fail
	err = db.BaselineAtVersion(3)
	if err == nil {
		t.Error("expected error when baselining already-migrated database")
	}
}

func TestGetMigrationStatus(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := setupTestMigrations(t)

	status, err := db.GetMigrationStatus(migrationsFS)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}

	if status["current_version"] != uint(0) {
		t.Errorf("expected version 0, got %v", status["current_version"])
	}

	if status["dirty"] != false {
		t.Error("expected dirty=false before migrations")
	}

	err = db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	status, err = db.GetMigrationStatus(migrationsFS)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}

	if status["current_version"] != uint(2) {
		t.Errorf("expected version 2, got %v", status["current_version"])
	}

	if status["schema_migrations_exists"] != true {
		t.Error("expected schema_migrations_exists=true after migrations")
	}
}

// TestCheckAndPromptMigrations_UpToDate verifies no error when database is current
func TestCheckAndPromptMigrations_UpToDate(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := setupTestMigrations(t)

	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	shouldExit, err := db.CheckAndPromptMigrations(migrationsFS)
	if err != nil {
		t.Errorf("Expected no error when up to date, got: %v", err)
	}
	if shouldExit {
		t.Error("Expected shouldExit to be false when up to date")
	}
}

// TestCheckAndPromptMigrations_OutOfDate verifies error when migrations are pending
func TestCheckAndPromptMigrations_OutOfDate(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := setupTestMigrations(t)

	// Apply only first migration
	err := db.MigrateTo(migrationsFS, 1)
	if err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}

	shouldExit, err := db.CheckAndPromptMigrations(migrationsFS)
	if err == nil {
		t.Error("Expected error when migrations are pending")
	}
	if !shouldExit {
		t.Error("Expected shouldExit to be true when migrations are pending")
	}
}

// TestCheckAndPromptMigrations_DirtyState verifies error when database is dirty
func TestCheckAndPromptMigrations_DirtyState(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := setupTestMigrations(t)

	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	_, err = db.Exec("UPDATE schema_migrations SET dirty = 1")
	if err != nil {
		t.Fatalf("Failed to set dirty state: %v", err)
	}

	shouldExit, err := db.CheckAndPromptMigrations(migrationsFS)
	if err == nil {
		t.Error("Expected error when database is dirty")
	}
	if !shouldExit {
		t.Error("Expected shouldExit to be true when database is dirty")
	}
}

// TestGetLatestMigrationVersion verifies we can detect the latest migration version
func TestGetLatestMigrationVersion(t *testing.T) {
	migrationsFS := setupTestMigrations(t)

	version, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion failed: %v", err)
	}

	// setupTestMigrations creates migrations 1 and 2
	if version != 2 {
		t.Errorf("Expected latest version 2, got %d", version)
	}
}

// TestGetLatestMigrationVersion_NoMigrations verifies error when no migrations exist
func TestGetLatestMigrationVersion_NoMigrations(t *testing.T) {
	tmpDir := t.TempDir()
	emptyFS := os.DirFS(tmpDir)

	_, err := GetLatestMigrationVersion(emptyFS)
	if err == nil {
		t.Error("Expected error when no migrations exist")
	}
}

// TestEmbeddedMigrationsComplete verifies the shipped migrations parse
// and pair up
func TestEmbeddedMigrationsComplete(t *testing.T) {
	origDevMode := DevMode
	DevMode = false
	defer func() { DevMode = origDevMode }()

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}

	ups, err := fs.Glob(migFS, "*.up.sql")
	if err != nil {
		t.Fatalf("failed to glob up migrations: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no embedded up migrations found")
	}

	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		if _, err := fs.Stat(migFS, down); err != nil {
			t.Errorf("migration %s has no matching down file: %v", up, err)
		}
	}

	latest, err := GetLatestMigrationVersion(migFS)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion failed: %v", err)
	}
	if latest != 3 {
		t.Errorf("expected latest embedded migration version 3, got %d", latest)
	}
}

// TestNewDBWithMigrationCheck_FreshDatabase verifies a fresh database is
// brought up to the latest version even without autoMigrate
func TestNewDBWithMigrationCheck_FreshDatabase(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "test.db")

	db, err := NewDBWithMigrationCheck(fname, false)
	if err != nil {
		t.Fatalf("NewDBWithMigrationCheck failed: %v", err)
	}
	defer db.Close()

	var version uint
	err = db.QueryRow("SELECT version FROM schema_migrations LIMIT 1").Scan(&version)
	if err != nil {
		t.Fatalf("Failed to read version: %v", err)
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("Failed to get migrations FS: %v", err)
	}

	latestVersion, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		t.Fatalf("Failed to get latest migration version: %v", err)
	}

	if version != latestVersion {
		t.Errorf("Expected version %d (latest), got %d", latestVersion, version)
	}
}

// TestNewDBWithMigrationCheck_OutOfDateDatabase verifies error on old database
func TestNewDBWithMigrationCheck_OutOfDateDatabase(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "test.db")

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("Failed to get migrations FS: %v", err)
	}

	// Create database and apply only the first migration
	sqlDB, err := sql.Open("sqlite", fname)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db := &DB{sqlDB}
	if err := db.MigrateTo(migrationsFS, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	db.Close()

	// Reopening without autoMigrate must refuse to run
	_, err = NewDBWithMigrationCheck(fname, false)
	if err == nil {
		t.Fatal("Expected error when reopening out-of-date database")
	}
}
