package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// OnConflict selects what a cache write does with a key already present.
// The numeric values are part of the C boundary.
type OnConflict uint8

const (
	// OnConflictFail aborts the whole batch with ErrCodeConstraintFailed.
	OnConflictFail OnConflict = 0
	// OnConflictIgnore keeps the stored value.
	OnConflictIgnore OnConflict = 1
	// OnConflictReplace overwrites the stored value.
	OnConflictReplace OnConflict = 2
)

func (c OnConflict) String() string {
	switch c {
	case OnConflictFail:
		return "fail"
	case OnConflictIgnore:
		return "ignore"
	case OnConflictReplace:
		return "replace"
	default:
		return fmt.Sprintf("OnConflict(%d)", uint8(c))
	}
}

// ParseOnConflict accepts the names returned by OnConflict.String.
func ParseOnConflict(s string) (OnConflict, error) {
	for _, c := range []OnConflict{OnConflictFail, OnConflictIgnore, OnConflictReplace} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, NewError(ErrCodeDatabaseError, "unknown conflict policy %q", s)
}

// Valid reports whether c is one of the three policies.
func (c OnConflict) Valid() bool {
	return c <= OnConflictReplace
}

func (c OnConflict) insertSQL() string {
	switch c {
	case OnConflictIgnore:
		return `INSERT INTO cache.cache_values (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO NOTHING`
	case OnConflictReplace:
		return `INSERT INTO cache.cache_values (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	default:
		return `INSERT INTO cache.cache_values (key, value) VALUES (?, ?)`
	}
}

// Entry is one cache key/value pair.
type Entry struct {
	Key   []byte
	Value []byte
}

// Lookup is one slot of a find result. Found is false for unknown keys.
type Lookup struct {
	Value []byte
	Found bool
}

// PutCacheValues writes every entry through tx using the given policy.
// A conflict under OnConflictFail returns ErrCodeConstraintFailed; the
// caller rolls back so no entry of the batch survives.
func PutCacheValues(ctx context.Context, tx *sql.Tx, entries []Entry, onConflict OnConflict) error {
	if !onConflict.Valid() {
		return NewError(ErrCodeDatabaseError, "invalid conflict policy %d", uint8(onConflict))
	}
	if len(entries) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, onConflict.insertSQL())
	if err != nil {
		return Classify("prepare cache insert", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, blob(e.Key), blob(e.Value)); err != nil {
			return Classify(fmt.Sprintf("put cache value %d of %d", i+1, len(entries)), err)
		}
	}
	return nil
}

// FindCacheValues looks up every key through tx.
// The result has one slot per key, in key order; unknown keys yield a slot
// with Found == false.
func FindCacheValues(ctx context.Context, tx *sql.Tx, keys [][]byte) ([]Lookup, error) {
	lookups := make([]Lookup, len(keys))
	if len(keys) == 0 {
		return lookups, nil
	}

	stmt, err := tx.PrepareContext(ctx, `SELECT value FROM cache.cache_values WHERE key = ?`)
	if err != nil {
		return nil, Classify("prepare cache lookup", err)
	}
	defer stmt.Close()

	for i, key := range keys {
		var value []byte
		err := stmt.QueryRowContext(ctx, blob(key)).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, Classify(fmt.Sprintf("find cache value %d of %d", i+1, len(keys)), err)
		}
		lookups[i] = Lookup{Value: blob(value), Found: true}
	}
	return lookups, nil
}

// Info summarizes both stores.
type Info struct {
	PersistentPath       string `json:"persistent_path"`
	CachePath            string `json:"cache_path"`
	PersistentVersion    int    `json:"persistent_version"`
	CacheVersion         int    `json:"cache_version"`
	PersistentInstanceID string `json:"persistent_instance_id"`
	CacheInstanceID      string `json:"cache_instance_id"`
	HasDevice            bool   `json:"has_device"`
	CacheEntries         int64  `json:"cache_entries"`
}

// ReadInfo gathers Info through tx.
func (s *Store) ReadInfo(ctx context.Context, tx *sql.Tx) (Info, error) {
	info := Info{PersistentPath: s.persistentPath, CachePath: s.cachePath}

	var err error
	if info.PersistentVersion, err = readUserVersion(ctx, tx, SchemaPersistent); err != nil {
		return Info{}, Classify("read persistent schema version", err)
	}
	if info.CacheVersion, err = readUserVersion(ctx, tx, SchemaCache); err != nil {
		return Info{}, Classify("read cache schema version", err)
	}
	if info.PersistentInstanceID, err = readInstanceID(ctx, tx, SchemaPersistent); err != nil {
		return Info{}, err
	}
	if info.CacheInstanceID, err = readInstanceID(ctx, tx, SchemaCache); err != nil {
		return Info{}, err
	}

	var devices int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM main.device`).Scan(&devices); err != nil {
		return Info{}, Classify("count device records", err)
	}
	info.HasDevice = devices > 0

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache.cache_values`).Scan(&info.CacheEntries); err != nil {
		return Info{}, Classify("count cache values", err)
	}
	return info, nil
}

func readInstanceID(ctx context.Context, tx *sql.Tx, schema string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM %s.metadata WHERE name = ?`, schema), metadataInstanceID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", Classify(fmt.Sprintf("read %s instance id", schema), err)
	}
	return id, nil
}
