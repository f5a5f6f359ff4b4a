package store

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesBothFiles(t *testing.T) {
	persistentPath, cachePath := testPaths(t)

	s, err := Open(context.Background(), persistentPath, cachePath, Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	for _, path := range []string{persistentPath, cachePath} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Errorf("database file %s was not created", path)
		}
	}

	persistent, cache := s.Gates()
	assert.True(t, persistent.Created)
	assert.True(t, cache.Created)
	assert.Equal(t, PersistentSchemaVersion, persistent.Version)
	assert.Equal(t, CacheSchemaVersion, cache.Version)
}

func TestOpen_OpensExistingStore(t *testing.T) {
	persistentPath, cachePath := testPaths(t)
	ctx := context.Background()

	s1, err := Open(ctx, persistentPath, cachePath, Options{})
	require.NoError(t, err)
	require.NoError(t, inTx(t, s1, func(tx *sql.Tx) error {
		return PutDevice(ctx, tx, []byte("device"))
	}))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, persistentPath, cachePath, Options{})
	require.NoError(t, err)
	defer s2.Close()

	persistent, cache := s2.Gates()
	assert.False(t, persistent.Created)
	assert.False(t, cache.Created)
	assert.Equal(t, PersistentSchemaVersion, persistent.Found)

	require.NoError(t, inTx(t, s2, func(tx *sql.Tx) error {
		got, err := GetDevice(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, []byte("device"), got)
		return nil
	}))
}

func TestOpen_Idempotent(t *testing.T) {
	persistentPath, cachePath := testPaths(t)

	for i := 0; i < 3; i++ {
		s, err := Open(context.Background(), persistentPath, cachePath, Options{})
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(context.Background(), "/nonexistent/dir/persistent.db", "/nonexistent/dir/cache.db", Options{})
	require.Error(t, err)
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
}

func TestOpen_InvalidCachePath(t *testing.T) {
	persistentPath, _ := testPaths(t)

	_, err := Open(context.Background(), persistentPath, "/nonexistent/dir/cache.db", Options{})
	require.Error(t, err)
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
}

func TestOpen_RejectsBadPaths(t *testing.T) {
	dir := t.TempDir()
	same := filepath.Join(dir, "store.db")

	tests := []struct {
		name       string
		persistent string
		cache      string
	}{
		{"empty persistent", "", filepath.Join(dir, "cache.db")},
		{"empty cache", filepath.Join(dir, "p.db"), ""},
		{"same file", same, same},
		{"same file after clean", same, filepath.Join(dir, ".", "store.db")},
		{"memory", ":memory:", filepath.Join(dir, "cache.db")},
		{"query string", filepath.Join(dir, "p.db?mode=ro"), filepath.Join(dir, "cache.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.persistent, tt.cache, Options{})
			require.Error(t, err)
			assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
		})
	}
}

func TestOpen_RejectsJournalMode(t *testing.T) {
	persistentPath, cachePath := testPaths(t)

	_, err := Open(context.Background(), persistentPath, cachePath, Options{JournalMode: "OFF"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported journal mode")

	_, statErr := os.Stat(persistentPath)
	assert.True(t, os.IsNotExist(statErr), "no file may be created for a rejected open")
}

func TestOpen_TooRecentLeavesFileUnchanged(t *testing.T) {
	persistentPath, cachePath := testPaths(t)
	ctx := context.Background()

	s, err := Open(ctx, persistentPath, cachePath, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	setUserVersion(t, persistentPath, PersistentSchemaVersion+1)
	before, err := os.ReadFile(persistentPath)
	require.NoError(t, err)

	_, err = Open(ctx, persistentPath, cachePath, Options{})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeDatabaseTooRecent), "got %v", err)

	after, err := os.ReadFile(persistentPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(before, after), "persistent file was modified")
}

func TestOpen_CacheTooRecent(t *testing.T) {
	persistentPath, cachePath := testPaths(t)
	ctx := context.Background()

	s, err := Open(ctx, persistentPath, cachePath, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	setUserVersion(t, cachePath, CacheSchemaVersion+5)
	before, err := os.ReadFile(cachePath)
	require.NoError(t, err)

	_, err = Open(ctx, persistentPath, cachePath, Options{})
	assert.Equal(t, ErrCodeDatabaseTooRecent, CodeOf(err))

	after, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOpen_PreVersioningStore(t *testing.T) {
	persistentPath, cachePath := testPaths(t)

	raw := openRaw(t, persistentPath)
	_, err := raw.Exec(`CREATE TABLE legacy (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = Open(context.Background(), persistentPath, cachePath, Options{})
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidDatabaseVersion, CodeOf(err))
}

func TestOpen_CorruptFile(t *testing.T) {
	persistentPath, cachePath := testPaths(t)

	garbage := bytes.Repeat([]byte("not a database file "), 400)
	require.NoError(t, os.WriteFile(persistentPath, garbage, 0600))

	_, err := Open(context.Background(), persistentPath, cachePath, Options{})
	require.Error(t, err)
	assert.Equal(t, ErrCodeDatabaseCorrupt, CodeOf(err))
}

func TestOpen_CorruptCacheFile(t *testing.T) {
	persistentPath, cachePath := testPaths(t)

	garbage := bytes.Repeat([]byte("not a database file "), 400)
	require.NoError(t, os.WriteFile(cachePath, garbage, 0600))

	_, err := Open(context.Background(), persistentPath, cachePath, Options{})
	require.Error(t, err)
	assert.Equal(t, ErrCodeDatabaseCorrupt, CodeOf(err))
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	err := s.Close()
	if err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	persistentPath, cachePath := testPaths(t)

	s, err := Open(context.Background(), persistentPath, cachePath, Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestBegin_AfterClose(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Begin(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
}

func TestBegin_LockedByOtherConnection(t *testing.T) {
	persistentPath, cachePath := testPaths(t)
	ctx := context.Background()

	s, err := Open(ctx, persistentPath, cachePath, Options{BusyTimeout: 0})
	require.NoError(t, err)
	defer s.Close()

	raw := openRaw(t, persistentPath)
	conn, err := raw.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE")
	require.NoError(t, err)

	_, err = s.Begin(ctx)
	require.Error(t, err)
	assert.Equal(t, ErrCodeDatabaseLocked, CodeOf(err))

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
}

// Pragma tests

func verifyPragma(t *testing.T, s *Store, pragma, expected string) {
	t.Helper()
	var value string
	err := s.conn.QueryRowContext(context.Background(), "PRAGMA "+pragma).Scan(&value)
	require.NoError(t, err)
	assert.Equal(t, expected, value, pragma)
}

func TestPragma_JournalModeDefault(t *testing.T) {
	s := createTestStore(t)

	verifyPragma(t, s, "main.journal_mode", "truncate")
	verifyPragma(t, s, "cache.journal_mode", "truncate")
}

func TestPragma_JournalModeWAL(t *testing.T) {
	persistentPath, cachePath := testPaths(t)

	s, err := Open(context.Background(), persistentPath, cachePath, Options{JournalMode: "wal"})
	require.NoError(t, err)
	defer s.Close()

	verifyPragma(t, s, "main.journal_mode", "wal")
	verifyPragma(t, s, "cache.journal_mode", "wal")
}

func TestSetJournalMode_RefusedSwitchIsAnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// In-memory databases cannot leave MEMORY mode; SQLite answers with the
	// old mode instead of an error.
	_, err := s.conn.ExecContext(ctx, "ATTACH DATABASE ':memory:' AS scratch")
	require.NoError(t, err)
	defer s.conn.ExecContext(ctx, "DETACH DATABASE scratch")

	err = setJournalMode(ctx, s.conn, "scratch", "WAL")
	require.Error(t, err)
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
	assert.Contains(t, err.Error(), "requested WAL, store is in memory")

	require.NoError(t, setJournalMode(ctx, s.conn, SchemaCache, "TRUNCATE"))
}

func TestCheckJournalMode(t *testing.T) {
	assert.NoError(t, checkJournalMode("main", "WAL", "wal"))
	assert.NoError(t, checkJournalMode("main", "TRUNCATE", "truncate"))

	err := checkJournalMode("cache", "WAL", "delete")
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)

	verifyPragma(t, s, "busy_timeout", "5000")
}

func TestPragma_UserVersion(t *testing.T) {
	s := createTestStore(t)

	verifyPragma(t, s, "main.user_version", "1")
	verifyPragma(t, s, "cache.user_version", "1")
}

// Path tests

func TestCanonicalPath_NormalizesToNFC(t *testing.T) {
	decomposed := filepath.Join("dir", "cafe\u0301.db")
	composed := filepath.Join("dir", "caf\u00e9.db")

	got, err := CanonicalPath(decomposed)
	require.NoError(t, err)
	assert.Equal(t, composed, got)
}

func TestCanonicalPath_Cleans(t *testing.T) {
	got, err := CanonicalPath("a/./b/../c.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("a", "c.db"), got)
}

func TestRemoveFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.db")
	for _, suffix := range []string{"", "-journal", "-wal"} {
		require.NoError(t, os.WriteFile(path+suffix, []byte("x"), 0600))
	}

	require.NoError(t, RemoveFiles(path, filepath.Join(dir, "missing.db")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
