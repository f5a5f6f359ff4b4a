package datastore

import "github.com/roach88/sdkstore/internal/store"

// Re-exported store types, so callers of the façade need only this package.
type (
	Entry      = store.Entry
	Lookup     = store.Lookup
	OnConflict = store.OnConflict
	Info       = store.Info
	Code       = store.Code
	Error      = store.Error
)

const (
	OnConflictFail    = store.OnConflictFail
	OnConflictIgnore  = store.OnConflictIgnore
	OnConflictReplace = store.OnConflictReplace
)

const (
	ErrCodeInvalidDatabaseVersion = store.ErrCodeInvalidDatabaseVersion
	ErrCodeRecordNotFound         = store.ErrCodeRecordNotFound
	ErrCodeDatabaseError          = store.ErrCodeDatabaseError
	ErrCodeDatabaseLocked         = store.ErrCodeDatabaseLocked
	ErrCodeDatabaseCorrupt        = store.ErrCodeDatabaseCorrupt
	ErrCodeDatabaseTooRecent      = store.ErrCodeDatabaseTooRecent
	ErrCodeConstraintFailed       = store.ErrCodeConstraintFailed
)

// CodeOf returns the error code carried by err (DatabaseError if untyped).
func CodeOf(err error) Code {
	return store.CodeOf(err)
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return store.IsCode(err, code)
}

var errClosed = store.NewError(store.ErrCodeDatabaseError, "datastore is closed")
