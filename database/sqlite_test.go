package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func openTestDatabase(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bills.db")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateCreatesFreshSchema(t *testing.T) {
	db := openTestDatabase(t)

	if err := Migrate(db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	columns, err := getTableColumns(db, "bills")
	if err != nil {
		t.Fatalf("failed to inspect schema: %v", err)
	}

	expected := []string{
		"id", "url", "name", "surname", "email", "code", "postal_code",
		"billing_period", "tariff_type", "price", "green_energy",
		"permanence", "price_review", "services", "provider", "captured_at",
	}
	for _, column := range expected {
		if _, ok := columns[column]; !ok {
			t.Errorf("missing column %s after migration", column)
		}
	}

	// Running again must be a no-op
	if err := Migrate(db); err != nil {
		t.Fatalf("repeated migration failed: %v", err)
	}
}

func TestMigrateUpgradesLegacySchemaInPlace(t *testing.T) {
	db := openTestDatabase(t)

	// A store created by an earlier release: no enrichment columns yet
	legacySchema := `
		CREATE TABLE bills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			code TEXT NOT NULL DEFAULT 'N/A',
			captured_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := db.Exec(legacySchema); err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}
	for i := 0; i < 3; i++ {
		_, err := db.Exec(
			"INSERT INTO bills (url, code) VALUES (?, ?)",
			fmt.Sprintf("https://comparador.cnmc.gob.es/ofertas?cp=2801%d", i),
			fmt.Sprintf("2801%d", i),
		)
		if err != nil {
			t.Fatalf("failed to seed legacy row: %v", err)
		}
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("migration of legacy schema failed: %v", err)
	}

	columns, err := getTableColumns(db, "bills")
	if err != nil {
		t.Fatalf("failed to inspect schema: %v", err)
	}
	for _, column := range []string{"name", "surname", "email", "postal_code", "tariff_type", "price", "green_energy", "provider"} {
		if _, ok := columns[column]; !ok {
			t.Errorf("legacy table missing column %s after migration", column)
		}
	}

	// Existing rows survive and pick up the declared defaults
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM bills").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 surviving rows, got %d", count)
	}

	var tariffType string
	var price float64
	err = db.QueryRow("SELECT tariff_type, price FROM bills WHERE code = '28010'").Scan(&tariffType, &price)
	if err != nil {
		t.Fatalf("failed to read migrated row: %v", err)
	}
	if tariffType != "N/A" {
		t.Errorf("expected sentinel tariff type on legacy row, got %q", tariffType)
	}
	if price != 0 {
		t.Errorf("expected zero price on legacy row, got %v", price)
	}
}

func TestUniqueURLConstraintIsEnforced(t *testing.T) {
	db := openTestDatabase(t)

	if err := Migrate(db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	const url = "https://comparador.cnmc.gob.es/ofertas?cp=28013"
	if _, err := db.Exec("INSERT INTO bills (url) VALUES (?)", url); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	_, err := db.Exec("INSERT INTO bills (url) VALUES (?)", url)
	if err == nil {
		t.Fatal("expected unique constraint violation on duplicate url")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("duplicate url error not classified as unique violation: %v", err)
	}
}

func TestIsUniqueViolationIgnoresOtherErrors(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Error("nil must not classify as unique violation")
	}
	if IsUniqueViolation(errors.New("connection reset")) {
		t.Error("arbitrary errors must not classify as unique violation")
	}
	if IsUniqueViolation(sql.ErrNoRows) {
		t.Error("sql.ErrNoRows must not classify as unique violation")
	}
}
