// Package store provides the SQLite engine layer of the SDK datastore.
//
// One connection holds two independently addressable files:
//   - Persistent store (schema "main"): the single device record
//   - Cache store (schema "cache", attached): opaque key/value entries
//
// # Schema Gate
//
// Each file carries its schema version in PRAGMA user_version. Open runs a
// Gate per file inside one transaction: fresh files are created and stamped,
// older files are migrated step by step, newer files are refused before
// anything is written.
//
// # Error Taxonomy
//
// Every failure is an *Error carrying one Code. SQLite result codes are
// classified as:
//   - SQLITE_BUSY, SQLITE_LOCKED: DatabaseLocked
//   - SQLITE_CORRUPT, SQLITE_NOTADB: DatabaseCorrupt
//   - SQLITE_CONSTRAINT: ConstraintFailed
//   - anything else: DatabaseError
//
// This package does not retry. busy_timeout is the only waiting done on a
// lock, and it is configurable down to zero.
//
// # Database Configuration
//
//   - One pinned connection (ATTACH is per connection)
//   - BEGIN IMMEDIATE transactions (_txlock=immediate)
//   - journal_mode TRUNCATE by default, applied after the gate commits so a
//     refused file is left byte-for-byte unchanged
package store
