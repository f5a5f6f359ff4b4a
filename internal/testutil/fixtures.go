// Package testutil holds fixtures shared by store, datastore and harness
// tests: temporary store paths and helpers that damage or restamp a store
// file from outside the datastore.
package testutil

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// StorePaths returns a persistent and a cache path inside a fresh temporary
// directory. Neither file exists yet.
func StorePaths(t testing.TB) (persistentPath, cachePath string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "persistent.db"), filepath.Join(dir, "cache.db")
}

// garbage is larger than one SQLite page and carries no database header.
var garbage = bytes.Repeat([]byte("not a database page "), 512)

// CorruptFile overwrites the file at path in place with bytes that are not a
// SQLite database. Open handles on the file see the damage on their next
// transaction.
func CorruptFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("corrupt %s: %w", path, err)
	}
	if _, err := f.Write(garbage); err != nil {
		f.Close()
		return fmt.Errorf("corrupt %s: %w", path, err)
	}
	return f.Close()
}

// StampVersion sets the schema version of the database at path without
// touching its tables.
func StampVersion(path string, version int) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("stamp %s: %w", path, err)
	}
	return nil
}

// SchemaVersion reads the schema version of the database at path.
func SchemaVersion(path string) (int, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read version of %s: %w", path, err)
	}
	return version, nil
}
