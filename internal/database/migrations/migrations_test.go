package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Migrate up
	err := MigrateUp(db)
	if err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Verify tables were created
	tables := []string{"files", "file_backends", "sync_jobs", "conflicts", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Fresh database should need migration
	err := CheckDBMigrationStatus(db)
	if err == nil {
		t.Error("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}

	// Error should mention needing migration
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Migrate up
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Status should be OK now
	err := CheckDBMigrationStatus(db)
	if err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestStatus_Err(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		wantErr bool
	}{
		{name: "current", status: Status{Current: 1, Latest: 1}},
		{name: "never migrated", status: Status{Current: 0, Latest: 1}, wantErr: true},
		{name: "behind", status: Status{Current: 1, Latest: 3}, wantErr: true},
		{name: "ahead of binary", status: Status{Current: 4, Latest: 3}, wantErr: true},
		{name: "dirty", status: Status{Current: 1, Latest: 1, Dirty: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.status.Err(); (err != nil) != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadStatus(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	before, err := ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if before.Current != 0 || before.Latest == 0 {
		t.Errorf("ReadStatus() before migration = %+v, want current 0 and a latest version", before)
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	after, err := ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if after.Current != after.Latest || after.Dirty {
		t.Errorf("ReadStatus() after migration = %+v, want current == latest", after)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Run migration twice
	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}

	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}

	// Status should still be OK
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// A sub-state for a file that does not exist must be rejected.
	_, err := db.Exec(`
		INSERT INTO file_backends (file_id, backend, status)
		VALUES ('missing-file', 'local', 'completed')
	`)

	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_DeleteFileCascades(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	stmts := []string{
		`INSERT INTO files (id, owner_id, filename, original_filename, content_type, content_hash, size, modified_at, created_at, updated_at)
		 VALUES ('file-1', 'owner-1', 'a.txt', 'a.txt', 'text/plain', 'abc', 3, datetime('now'), datetime('now'), datetime('now'))`,
		`INSERT INTO file_backends (file_id, backend, status) VALUES ('file-1', 'local', 'completed')`,
		`INSERT INTO sync_jobs (id, owner_id, file_id, operation, targets, status, created_at)
		 VALUES ('job-1', 'owner-1', 'file-1', 'upload', 'google_drive', 'pending', datetime('now'))`,
		`INSERT INTO conflicts (id, file_id, conflict_type, storage_a, storage_b, detected_at)
		 VALUES ('c-1', 'file-1', 'hash_mismatch', 'google_drive', 'azure_blob', datetime('now'))`,
		`DELETE FROM files WHERE id = 'file-1'`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Exec() error = %v", err)
		}
	}

	for _, table := range []string{"file_backends", "sync_jobs", "conflicts"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s rows = %d, want 0 after file delete", table, n)
		}
	}
}

func TestSchema_OneOpenConflictPerPair(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO files (id, owner_id, filename, original_filename, content_type, content_hash, size, modified_at, created_at, updated_at)
		VALUES ('file-1', 'owner-1', 'a.txt', 'a.txt', 'text/plain', 'abc', 3, datetime('now'), datetime('now'), datetime('now'))`)
	if err != nil {
		t.Fatalf("insert file: %v", err)
	}

	insert := `INSERT INTO conflicts (id, file_id, conflict_type, storage_a, storage_b, resolved, detected_at)
		VALUES (?, 'file-1', 'hash_mismatch', 'google_drive', 'azure_blob', ?, datetime('now'))`

	if _, err := db.Exec(insert, "c-1", 0); err != nil {
		t.Fatalf("insert first open conflict: %v", err)
	}
	if _, err := db.Exec(insert, "c-2", 0); err == nil {
		t.Error("Expected unique constraint violation for second open conflict, but insert succeeded")
	}
	if _, err := db.Exec("UPDATE conflicts SET resolved = 1 WHERE id = 'c-1'"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := db.Exec(insert, "c-3", 0); err != nil {
		t.Errorf("insert after resolve: %v", err)
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}
