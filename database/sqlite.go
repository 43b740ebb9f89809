package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var DB *sql.DB

// Connect opens (creating if necessary) the local SQLite store file.
func Connect(databasePath string) error {
	if dir := filepath.Dir(databasePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", databasePath)

	var err error
	DB, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	// SQLite serializes writers at the engine level; a small pool is enough
	// for the request-scoped access pattern.
	DB.SetMaxOpenConns(4)
	DB.SetMaxIdleConns(2)
	DB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = DB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"database_path": databasePath,
		"journal_mode":  "WAL",
	}).Info("Connected to database successfully")

	return nil
}

func Close() {
	if DB != nil {
		DB.Close()
		logrus.Info("Database connection closed")
	}
}

// HealthCheck verifies the store is reachable
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database connection not established")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// billColumns declares the current bills schema. Migration computes the delta
// between this declaration and the live table and applies additive changes
// only, so a store created under an earlier, narrower schema keeps its rows.
var billColumns = []struct {
	Name       string
	Definition string
}{
	{"name", "TEXT NOT NULL DEFAULT ''"},
	{"surname", "TEXT NOT NULL DEFAULT ''"},
	{"email", "TEXT NOT NULL DEFAULT ''"},
	{"code", "TEXT NOT NULL DEFAULT 'N/A'"},
	{"postal_code", "TEXT NOT NULL DEFAULT 'N/A'"},
	{"billing_period", "TEXT NOT NULL DEFAULT 'N/A'"},
	{"tariff_type", "TEXT NOT NULL DEFAULT 'N/A'"},
	{"price", "REAL NOT NULL DEFAULT 0"},
	{"green_energy", "INTEGER NOT NULL DEFAULT 0"},
	{"permanence", "TEXT NOT NULL DEFAULT 'N/A'"},
	{"price_review", "TEXT NOT NULL DEFAULT 'N/A'"},
	{"services", "TEXT NOT NULL DEFAULT 'N/A'"},
	{"provider", "TEXT NOT NULL DEFAULT 'N/A'"},
	// ALTER TABLE cannot use CURRENT_TIMESTAMP as a default; legacy rows
	// that predate this column get the epoch sentinel instead.
	{"captured_at", "TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00'"},
}

// Migrate creates the bills table if absent and brings an existing table up to
// the current schema by adding any missing columns in place. The step is
// idempotent and never drops or rewrites rows.
func Migrate(db *sql.DB) error {
	createStatement := `
		CREATE TABLE IF NOT EXISTS bills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			surname TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT 'N/A',
			postal_code TEXT NOT NULL DEFAULT 'N/A',
			billing_period TEXT NOT NULL DEFAULT 'N/A',
			tariff_type TEXT NOT NULL DEFAULT 'N/A',
			price REAL NOT NULL DEFAULT 0,
			green_energy INTEGER NOT NULL DEFAULT 0,
			permanence TEXT NOT NULL DEFAULT 'N/A',
			price_review TEXT NOT NULL DEFAULT 'N/A',
			services TEXT NOT NULL DEFAULT 'N/A',
			provider TEXT NOT NULL DEFAULT 'N/A',
			captured_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := db.Exec(createStatement); err != nil {
		return fmt.Errorf("failed to create bills table: %w", err)
	}

	existingColumns, err := getTableColumns(db, "bills")
	if err != nil {
		return fmt.Errorf("failed to inspect bills schema: %w", err)
	}

	missingCount := 0
	for _, column := range billColumns {
		if _, exists := existingColumns[column.Name]; exists {
			continue
		}
		alterStatement := fmt.Sprintf("ALTER TABLE bills ADD COLUMN %s %s", column.Name, column.Definition)
		if _, err := db.Exec(alterStatement); err != nil {
			return fmt.Errorf("failed to add column %s: %w", column.Name, err)
		}
		missingCount++
		logrus.WithFields(logrus.Fields{
			"table":  "bills",
			"column": column.Name,
		}).Info("Added missing column during migration")
	}

	if err := createMissingIndexes(db); err != nil {
		return err
	}

	logrus.WithField("columns_added", missingCount).Info("Database migration completed successfully")
	return nil
}

// createMissingIndexes ensures the uniqueness backstop on url plus the lookup
// indexes used by search and the default sort order.
func createMissingIndexes(db *sql.DB) error {
	indexStatements := map[string]string{
		"idx_bills_url":         "CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_url ON bills(url)",
		"idx_bills_email":       "CREATE INDEX IF NOT EXISTS idx_bills_email ON bills(email)",
		"idx_bills_name":        "CREATE INDEX IF NOT EXISTS idx_bills_name ON bills(name)",
		"idx_bills_captured_at": "CREATE INDEX IF NOT EXISTS idx_bills_captured_at ON bills(captured_at DESC)",
	}

	for indexName, statement := range indexStatements {
		if _, err := db.Exec(statement); err != nil {
			return fmt.Errorf("failed to create index %s: %w", indexName, err)
		}
	}
	return nil
}

// getTableColumns returns a map of column names to their declared types
func getTableColumns(db *sql.DB, tableName string) (map[string]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			columnName   string
			columnType   string
			notNull      int
			defaultValue sql.NullString
			primaryKey   int
		)
		if err := rows.Scan(&cid, &columnName, &columnType, &notNull, &defaultValue, &primaryKey); err != nil {
			return nil, err
		}
		columns[columnName] = columnType
	}

	return columns, rows.Err()
}

// IsUniqueViolation reports whether err is a SQLite unique-constraint failure.
// The duplicate guard relies on this as the backstop for the check-then-insert
// race on the url column.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}
