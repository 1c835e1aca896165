package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigrations(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
}

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0001_init.sql":   "CREATE TABLE clinics (id TEXT PRIMARY KEY);",
		"0002_queues.sql": "CREATE TABLE queue_days (clinic TEXT);",
		"0003_routes.sql": "CREATE TABLE routes (visitor_id TEXT);",
	})

	migrator := NewMigrator(nil, dir)
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 {
		t.Errorf("expected version 1, got %d", migrations[0].Version)
	}
	if migrations[0].Name != "0001_init.sql" {
		t.Errorf("expected name 0001_init.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE clinics (id TEXT PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[1].Version != 2 || migrations[2].Version != 3 {
		t.Errorf("unexpected version order: %d, %d", migrations[1].Version, migrations[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	dir := t.TempDir()
	// Written out of order to exercise the sort.
	writeMigrations(t, dir, map[string]string{
		"0010_late.sql":   "SELECT 10;",
		"0002_second.sql": "SELECT 2;",
		"0001_first.sql":  "SELECT 1;",
		"0005_middle.sql": "SELECT 5;",
	})

	migrator := NewMigrator(nil, dir)
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 4 {
		t.Fatalf("expected 4 migrations, got %d", len(migrations))
	}
	expectedVersions := []int{1, 2, 5, 10}
	for i, expected := range expectedVersions {
		if migrations[i].Version != expected {
			t.Errorf("migration[%d]: expected version %d, got %d", i, expected, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_InvalidFilename(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0001_valid.sql":      "SELECT 1;",
		"readme.sql":          "-- no version prefix",
		"notes.txt":           "not a sql file",
		"abc_invalid.sql":     "-- non-numeric prefix",
		"0002_also_valid.sql": "SELECT 2;",
	})

	migrator := NewMigrator(nil, dir)
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("unexpected versions: %d, %d", migrations[0].Version, migrations[1].Version)
	}
}

func TestLoadMigrations_EmptyDir(t *testing.T) {
	migrator := NewMigrator(nil, t.TempDir())
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations from empty dir, got %d", len(migrations))
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	migrator := NewMigrator(nil, "/nonexistent/path/that/does/not/exist")
	if _, err := migrator.LoadMigrations(); err == nil {
		t.Error("expected error for non-existent directory")
	}
}
