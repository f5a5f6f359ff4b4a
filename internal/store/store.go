package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/text/unicode/norm"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultBusyTimeout = 5 * time.Second
	DefaultJournalMode = "TRUNCATE"
)

// Options tunes the engine connection.
type Options struct {
	// BusyTimeout is how long SQLite waits on a lock before reporting
	// ErrCodeDatabaseLocked. Zero fails immediately; negative selects the default.
	BusyTimeout time.Duration

	// JournalMode is applied to both files after the schema gate passes.
	// One of DELETE, TRUNCATE, PERSIST, WAL. Empty selects the default.
	JournalMode string
}

func (o Options) withDefaults() Options {
	if o.BusyTimeout < 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
	if o.JournalMode == "" {
		o.JournalMode = DefaultJournalMode
	}
	o.JournalMode = strings.ToUpper(o.JournalMode)
	return o
}

// ValidateJournalMode rejects journal modes that cannot hold the
// all-or-nothing guarantees (OFF, MEMORY) or do not exist.
func ValidateJournalMode(mode string) error {
	switch strings.ToUpper(mode) {
	case "", "DELETE", "TRUNCATE", "PERSIST", "WAL":
		return nil
	default:
		return NewError(ErrCodeDatabaseError, "unsupported journal mode %q", mode)
	}
}

// Store is one engine connection holding both stores: the persistent file
// as the main database and the cache file attached as "cache".
//
// A Store is not safe for concurrent use; the connection is pinned so every
// transaction sees both schemas.
type Store struct {
	db   *sql.DB
	conn *sql.Conn

	persistentPath string
	cachePath      string

	persistent GateOutcome
	cache      GateOutcome
}

// Open opens or creates both stores and runs the schema gate for each inside
// one transaction.
//
// The connection is configured with:
//   - one pinned connection (attachments are per connection)
//   - busy_timeout from Options
//   - BEGIN IMMEDIATE for every transaction, so lock contention surfaces at
//     begin rather than mid-write
//   - the journal mode from Options, applied only after the gate commits
//
// Every error exit closes whatever was opened.
func Open(ctx context.Context, persistentPath, cachePath string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if err := ValidateJournalMode(opts.JournalMode); err != nil {
		return nil, err
	}

	persistentPath, err := CanonicalPath(persistentPath)
	if err != nil {
		return nil, err
	}
	cachePath, err = CanonicalPath(cachePath)
	if err != nil {
		return nil, err
	}
	if persistentPath == cachePath {
		return nil, NewError(ErrCodeDatabaseError, "persistent and cache paths must differ: %s", persistentPath)
	}

	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(opts.BusyTimeout.Milliseconds()))
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite3", persistentPath+"?"+params.Encode())
	if err != nil {
		return nil, Classify("open persistent store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, Classify("connect persistent store", err)
	}

	s := &Store{
		db:             db,
		conn:           conn,
		persistentPath: persistentPath,
		cachePath:      cachePath,
	}

	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS "+SchemaCache, cachePath); err != nil {
		s.Close()
		return nil, Classify("attach cache store", err)
	}

	if err := s.gate(ctx); err != nil {
		s.Close()
		return nil, err
	}

	for _, schema := range []string{SchemaPersistent, SchemaCache} {
		if err := setJournalMode(ctx, conn, schema, opts.JournalMode); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// setJournalMode switches schema to mode. SQLite answers with the mode in
// effect and keeps the old one when it cannot switch, so the answer is
// checked.
func setJournalMode(ctx context.Context, conn *sql.Conn, schema, mode string) error {
	var got string
	pragma := fmt.Sprintf("PRAGMA %s.journal_mode = %s", schema, mode)
	if err := conn.QueryRowContext(ctx, pragma).Scan(&got); err != nil {
		return Classify(fmt.Sprintf("set %s journal mode", schema), err)
	}
	return checkJournalMode(schema, mode, got)
}

func checkJournalMode(schema, want, got string) error {
	if !strings.EqualFold(want, got) {
		return NewError(ErrCodeDatabaseError, "set %s journal mode: requested %s, store is in %s", schema, want, got)
	}
	return nil
}

// gate runs both schema gates in a single transaction.
func (s *Store) gate(ctx context.Context) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() // No-op if committed

	s.persistent, err = persistentGate.Run(ctx, tx)
	if err != nil {
		return err
	}
	s.cache, err = cacheGate.Run(ctx, tx)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return Classify("commit schema", err)
	}
	return nil
}

// Close releases the pinned connection and the pool.
// Safe to call on an already closed Store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	var errs []error
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	errs = append(errs, s.db.Close())
	s.conn = nil
	s.db = nil

	if err := errors.Join(errs...); err != nil {
		return Classify("close store", err)
	}
	return nil
}

// Begin starts a transaction spanning both stores.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	if s.conn == nil {
		return nil, NewError(ErrCodeDatabaseError, "store is closed")
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, Classify("begin transaction", err)
	}
	return tx, nil
}

// Paths returns the canonical persistent and cache paths.
func (s *Store) Paths() (persistentPath, cachePath string) {
	return s.persistentPath, s.cachePath
}

// Gates returns what the schema gates did when the store was opened.
func (s *Store) Gates() (persistent, cache GateOutcome) {
	return s.persistent, s.cache
}

// CanonicalPath cleans a caller-supplied path and normalizes it to Unicode
// NFC, so the same file reached through differently composed names maps to
// one key.
func CanonicalPath(path string) (string, error) {
	if path == "" {
		return "", NewError(ErrCodeDatabaseError, "empty store path")
	}
	if strings.ContainsRune(path, '?') {
		return "", NewError(ErrCodeDatabaseError, "store path must not contain '?': %s", path)
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return "", NewError(ErrCodeDatabaseError, "store path must be a filesystem path: %s", path)
	}
	return norm.NFC.String(filepath.Clean(path)), nil
}

// journalSuffixes are the sibling files SQLite may keep next to a database.
var journalSuffixes = []string{"", "-journal", "-wal", "-shm"}

// RemoveFiles deletes the database files at the given paths together with
// their journals. Missing files are not an error.
func RemoveFiles(paths ...string) error {
	for _, path := range paths {
		for _, suffix := range journalSuffixes {
			if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return Classify(fmt.Sprintf("remove %s", path+suffix), err)
			}
		}
	}
	return nil
}
