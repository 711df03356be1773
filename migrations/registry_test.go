package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	appstoreconnect "github.com/goliatone/go-appstore-connect"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func TestInstallationsMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := appstoreconnect.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_appstore_installations.up.sql",
		"data/sql/migrations/00001_appstore_installations.down.sql",
		"data/sql/migrations/sqlite/00001_appstore_installations.up.sql",
		"data/sql/migrations/sqlite/00001_appstore_installations.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteInstallationsMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-installations?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := appstoreconnect.GetMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	if err := execSQLMigration(
		context.Background(),
		db,
		sqliteMigrations,
		"00001_appstore_installations.up.sql",
	); err != nil {
		t.Fatalf("apply installations migration up: %v", err)
	}

	var tableCount int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"appstore_installations",
	).Scan(&tableCount); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if tableCount != 1 {
		t.Fatalf("expected appstore_installations table after up migration")
	}

	insertStatement := `
		INSERT INTO appstore_installations (
			id,
			vendor_id,
			install_user,
			domain,
			nonce,
			access_token,
			scope,
			installed_at,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"ins_1",
		"vendor_1",
		"usr_1",
		"acme",
		"0123456789abcdef0123456789abcdef",
		"tok_1",
		"BOOKINGS_READ",
		"2026-01-01T00:00:00Z",
		"2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("insert installation: %v", err)
	}

	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"ins_2",
		"vendor_1",
		"usr_2",
		"acme",
		"fedcba9876543210fedcba9876543210",
		"tok_2",
		"BOOKINGS_READ",
		"2026-01-02T00:00:00Z",
		"2026-01-02T00:00:00Z",
	); err == nil {
		t.Fatalf("expected unique vendor_id violation after up migration")
	}

	if err := execSQLMigration(
		context.Background(),
		db,
		sqliteMigrations,
		"00001_appstore_installations.down.sql",
	); err != nil {
		t.Fatalf("apply installations migration down: %v", err)
	}

	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"appstore_installations",
	).Scan(&tableCount); err != nil {
		t.Fatalf("query sqlite_master after down: %v", err)
	}
	if tableCount != 0 {
		t.Fatalf("expected appstore_installations to be dropped after down migration")
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
