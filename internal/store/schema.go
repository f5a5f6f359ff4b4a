package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
)

//go:embed persistent.sql
var persistentSQL string

//go:embed cache.sql
var cacheSQL string

// Schema version tracking (both stores):
// 1 - Initial layout (metadata, device / cache_values)
const (
	PersistentSchemaVersion = 1
	CacheSchemaVersion      = 1
)

// Schema names of the two stores on the shared connection.
// The persistent file is the main database, the cache file is attached.
const (
	SchemaPersistent = "main"
	SchemaCache      = "cache"
)

// metadataInstanceID names the metadata row holding the store's instance id.
const metadataInstanceID = "instance_id"

// Migration upgrades a store from version From to From+1.
// Apply runs inside the open transaction; it must not commit.
type Migration struct {
	From  int
	Apply func(ctx context.Context, tx *sql.Tx, schema string) error
}

// Gate validates or initializes the on-disk schema version of one store.
type Gate struct {
	// Schema is the database name on the connection ("main" or "cache").
	Schema string

	// Version is the version the running code reads and writes.
	Version int

	// DDL creates a fresh store. It must create a metadata table.
	DDL string

	// Migrations lists in-place upgrade steps, one per source version.
	Migrations []Migration
}

// GateOutcome reports what a Gate did during open.
type GateOutcome struct {
	// Found is the version stamped in the file before the gate ran.
	Found int

	// Version is the version stamped after the gate ran.
	Version int

	// Created is true when the store was fresh and has been initialized.
	Created bool

	// Migrated lists the source versions of the migrations applied.
	Migrated []int
}

// persistentGate and cacheGate are the gates run by Open.
var (
	persistentGate = Gate{Schema: SchemaPersistent, Version: PersistentSchemaVersion, DDL: persistentSQL}
	cacheGate      = Gate{Schema: SchemaCache, Version: CacheSchemaVersion, DDL: cacheSQL}
)

// Run checks the stamped version against g.Version and brings the store to it.
//
//   - newer than expected: ErrCodeDatabaseTooRecent, nothing is read or written
//   - absent (0, no tables): DDL is applied and the version stamped
//   - older: each migration step is applied in order, or
//     ErrCodeInvalidDatabaseVersion if a step is missing
//
// Run only writes through tx, so a failed open leaves the file untouched once
// the caller rolls back.
func (g Gate) Run(ctx context.Context, tx *sql.Tx) (GateOutcome, error) {
	found, err := readUserVersion(ctx, tx, g.Schema)
	if err != nil {
		return GateOutcome{}, Classify(fmt.Sprintf("read %s schema version", g.Schema), err)
	}

	outcome := GateOutcome{Found: found, Version: found}

	if found > g.Version {
		return outcome, NewError(ErrCodeDatabaseTooRecent,
			"%s schema version %d is newer than supported version %d", g.Schema, found, g.Version)
	}
	if found == g.Version {
		return outcome, nil
	}

	if found == 0 {
		empty, err := isEmpty(ctx, tx, g.Schema)
		if err != nil {
			return outcome, Classify(fmt.Sprintf("inspect %s schema", g.Schema), err)
		}
		if empty {
			if err := g.create(ctx, tx); err != nil {
				return outcome, err
			}
			outcome.Created = true
			outcome.Version = g.Version
			return outcome, nil
		}
	}

	for v := found; v < g.Version; v++ {
		m, ok := g.migration(v)
		if !ok {
			return outcome, NewError(ErrCodeInvalidDatabaseVersion,
				"%s schema version %d cannot be migrated to version %d", g.Schema, found, g.Version)
		}
		if err := m.Apply(ctx, tx, g.Schema); err != nil {
			return outcome, Classify(fmt.Sprintf("migrate %s from version %d", g.Schema, v), err)
		}
		outcome.Migrated = append(outcome.Migrated, v)
	}

	if err := writeUserVersion(ctx, tx, g.Schema, g.Version); err != nil {
		return outcome, err
	}
	outcome.Version = g.Version
	return outcome, nil
}

// create applies the DDL, stamps a new instance id and the version.
func (g Gate) create(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, g.DDL); err != nil {
		return Classify(fmt.Sprintf("create %s schema", g.Schema), err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Classify("generate instance id", err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.metadata (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, g.Schema), metadataInstanceID, id.String())
	if err != nil {
		return Classify(fmt.Sprintf("stamp %s instance id", g.Schema), err)
	}

	return writeUserVersion(ctx, tx, g.Schema, g.Version)
}

func (g Gate) migration(from int) (Migration, bool) {
	for _, m := range g.Migrations {
		if m.From == from {
			return m, true
		}
	}
	return Migration{}, false
}

// readUserVersion reads PRAGMA <schema>.user_version.
func readUserVersion(ctx context.Context, tx *sql.Tx, schema string) (int, error) {
	var version int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("PRAGMA %s.user_version", schema)).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func writeUserVersion(ctx context.Context, tx *sql.Tx, schema string, version int) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA %s.user_version = %d", schema, version)); err != nil {
		return Classify(fmt.Sprintf("set %s schema version", schema), err)
	}
	return nil
}

// isEmpty reports whether the schema has no tables yet.
func isEmpty(ctx context.Context, tx *sql.Tx, schema string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s.sqlite_master WHERE type = 'table'", schema),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}
