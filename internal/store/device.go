package store

import (
	"context"
	"database/sql"
	"errors"
)

// PutDevice replaces the single device record.
// The previous value is discarded only when tx commits.
func PutDevice(ctx context.Context, tx *sql.Tx, serialized []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO main.device (id, serialized) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET serialized = excluded.serialized
	`, blob(serialized))
	if err != nil {
		return Classify("put device record", err)
	}
	return nil
}

// GetDevice returns the device record, or ErrCodeRecordNotFound if none has
// been set since the store was created.
func GetDevice(ctx context.Context, tx *sql.Tx) ([]byte, error) {
	var serialized []byte
	err := tx.QueryRowContext(ctx, `SELECT serialized FROM main.device WHERE id = 1`).Scan(&serialized)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrCodeRecordNotFound, "no device record")
	}
	if err != nil {
		return nil, Classify("get device record", err)
	}
	return blob(serialized), nil
}

// blob maps nil to an empty slice. The driver binds a nil []byte as NULL,
// which the NOT NULL columns would reject.
func blob(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
