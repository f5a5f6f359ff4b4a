package boundary

import (
	"unsafe"

	"github.com/roach88/sdkstore/internal/datastore"
	"github.com/roach88/sdkstore/internal/store"
)

// CopyBuffers copies count caller-owned buffers, described by parallel
// pointer and size arrays, into Go memory. A nil pointer is accepted only
// with size zero.
func CopyBuffers(ptrs []unsafe.Pointer, sizes []uint64) ([][]byte, error) {
	if len(ptrs) != len(sizes) {
		return nil, store.NewError(store.ErrCodeDatabaseError,
			"buffer arrays differ in length: %d pointers, %d sizes", len(ptrs), len(sizes))
	}
	out := make([][]byte, len(ptrs))
	for i, p := range ptrs {
		n := sizes[i]
		if p == nil {
			if n != 0 {
				return nil, store.NewError(store.ErrCodeDatabaseError, "buffer %d: nil pointer with size %d", i, n)
			}
			out[i] = []byte{}
			continue
		}
		out[i] = append([]byte(nil), unsafe.Slice((*byte)(p), n)...)
	}
	return out, nil
}

// Batch pairs keys with values. Keys repeated within one batch collapse to
// their last value, at the position of their first occurrence.
func Batch(keys, vals [][]byte) ([]datastore.Entry, error) {
	if len(keys) != len(vals) {
		return nil, store.NewError(store.ErrCodeDatabaseError,
			"batch has %d keys and %d values", len(keys), len(vals))
	}

	entries := make([]datastore.Entry, len(keys))
	for i, k := range keys {
		entries[i] = datastore.Entry{Key: k, Value: vals[i]}
	}
	return datastore.UniqueEntries(entries), nil
}

// ConflictPolicy validates a boundary conflict code.
func ConflictPolicy(code uint8) (datastore.OnConflict, error) {
	c := datastore.OnConflict(code)
	if !c.Valid() {
		return 0, store.NewError(store.ErrCodeDatabaseError, "unknown conflict policy code %d", code)
	}
	return c, nil
}
