package boundary

import (
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/roach88/sdkstore/internal/datastore"
	"github.com/roach88/sdkstore/internal/store"
)

var (
	optsMu sync.RWMutex
	opts   = datastore.DefaultOptions()
)

// Configure sets the options used by subsequent Open calls.
func Configure(o datastore.Options) {
	optsMu.Lock()
	defer optsMu.Unlock()
	opts = o
}

func currentOptions() datastore.Options {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts
}

func logger() *slog.Logger {
	if l := currentOptions().Logger; l != nil {
		return l
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// guard runs fn, turning a panic into DatabaseError.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger().Error("boundary call panicked", "op", op, "panic", r, "stack", string(debug.Stack()))
			err = store.NewError(store.ErrCodeDatabaseError, "%s: internal fault: %v", op, r)
		}
	}()
	return fn()
}

func lookup(h StoreHandle) (*datastore.Datastore, error) {
	ds, ok := stores.Load(h)
	if !ok {
		return nil, store.NewError(store.ErrCodeDatabaseError, "unknown store handle %d", h)
	}
	return ds, nil
}

// Open opens a datastore. On success the error handle is zero.
func Open(persistentPath, cachePath string) (StoreHandle, ErrorHandle) {
	var h StoreHandle
	err := guard("open", func() error {
		ds, err := datastore.Open(persistentPath, cachePath, currentOptions())
		if err != nil {
			return err
		}
		h = StoreHandle(nextToken())
		stores.Store(h, ds)
		return nil
	})
	return h, newErrorHandle(err)
}

// Close releases a store handle. It reports false for an unknown handle.
func Close(h StoreHandle) bool {
	ds, ok := stores.LoadAndDelete(h)
	if !ok {
		return false
	}
	err := guard("close", ds.Close)
	if err != nil {
		logger().Warn("close failed", "handle", uint64(h), "error", err)
	}
	return true
}

// Nuke wipes and recreates both stores behind h.
func Nuke(h StoreHandle) ErrorHandle {
	return newErrorHandle(guard("nuke", func() error {
		ds, err := lookup(h)
		if err != nil {
			return err
		}
		return ds.Nuke()
	}))
}

// PutDeviceRecord replaces the device record.
func PutDeviceRecord(h StoreHandle, serialized []byte) ErrorHandle {
	return newErrorHandle(guard("put device record", func() error {
		ds, err := lookup(h)
		if err != nil {
			return err
		}
		return ds.SetDeviceRecord(serialized)
	}))
}

// GetDeviceRecord returns a value handle holding the device record bytes or
// RecordNotFound.
func GetDeviceRecord(h StoreHandle) ValueHandle {
	var record []byte
	err := guard("get device record", func() error {
		ds, err := lookup(h)
		if err != nil {
			return err
		}
		record, err = ds.GetDeviceRecord()
		return err
	})
	if err != nil {
		return newValueHandle(errorValue(err))
	}
	return newValueHandle(&valueResult{bytes: record})
}

// PutCacheEntries writes keys[i] -> vals[i] for every i as one batch.
func PutCacheEntries(h StoreHandle, keys, vals [][]byte, onConflict uint8) ErrorHandle {
	return newErrorHandle(guard("put cache entries", func() error {
		policy, err := ConflictPolicy(onConflict)
		if err != nil {
			return err
		}
		entries, err := Batch(keys, vals)
		if err != nil {
			return err
		}
		ds, err := lookup(h)
		if err != nil {
			return err
		}
		return ds.PutCacheEntries(entries, policy)
	}))
}

// FindCacheEntries returns a value handle with one slot per key.
func FindCacheEntries(h StoreHandle, keys [][]byte) ValueHandle {
	var lookups []datastore.Lookup
	err := guard("find cache entries", func() error {
		ds, err := lookup(h)
		if err != nil {
			return err
		}
		lookups, err = ds.FindCacheEntries(keys)
		return err
	})
	if err != nil {
		return newValueHandle(errorValue(err))
	}

	slots := make([]Slot, len(lookups))
	for i, l := range lookups {
		slots[i] = Slot{Value: l.Value, Present: l.Found}
	}
	return newValueHandle(&valueResult{slots: slots})
}

// ErrorResult returns the code and message of an error handle. The zero
// handle and unknown handles report ok == false.
func ErrorResult(h ErrorHandle) (code store.Code, message string, ok bool) {
	r, ok := errs.Load(h)
	if !ok {
		return store.ErrCodeNone, "", false
	}
	return r.code, r.message, true
}

// ReleaseError frees an error handle. Releasing twice reports false.
func ReleaseError(h ErrorHandle) bool {
	_, ok := errs.LoadAndDelete(h)
	return ok
}

// ValueBytes returns the bytes of a single-value result.
func ValueBytes(h ValueHandle) ([]byte, bool) {
	v, ok := values.Load(h)
	if !ok || v.err != nil {
		return nil, false
	}
	return v.bytes, true
}

// ValueSlots returns the slots of a find result.
func ValueSlots(h ValueHandle) ([]Slot, bool) {
	v, ok := values.Load(h)
	if !ok || v.err != nil {
		return nil, false
	}
	return v.slots, true
}

// ValueError returns the error carried by a value handle. A successful
// result reports ErrCodeNone. An unknown handle reports DatabaseError.
func ValueError(h ValueHandle) (store.Code, string) {
	v, ok := values.Load(h)
	if !ok {
		return store.ErrCodeDatabaseError, fmt.Sprintf("unknown value handle %d", h)
	}
	if v.err == nil {
		return store.ErrCodeNone, ""
	}
	return v.err.code, v.err.message
}

// ReleaseValue frees a value handle and the bytes it owns. Releasing twice
// reports false.
func ReleaseValue(h ValueHandle) bool {
	_, ok := values.LoadAndDelete(h)
	return ok
}

// WriteMetrics writes datastore operation metrics in Prometheus text format.
func WriteMetrics(w io.Writer) {
	datastore.WriteMetrics(w)
}

// Reject returns an error handle for a call refused before it reached a
// datastore, such as one with malformed caller buffers.
func Reject(err error) ErrorHandle {
	return newErrorHandle(err)
}

// RejectValue is Reject for calls that return a value handle.
func RejectValue(err error) ValueHandle {
	return newValueHandle(errorValue(err))
}
