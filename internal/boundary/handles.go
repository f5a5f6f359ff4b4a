package boundary

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/sdkstore/internal/datastore"
	"github.com/roach88/sdkstore/internal/store"
)

// StoreHandle identifies an open datastore. Zero is never a valid handle.
type StoreHandle uint64

// ErrorHandle identifies an error result. Zero means success and needs no
// release.
type ErrorHandle uint64

// ValueHandle identifies a value result. Every value-returning call yields
// a non-zero handle that must be released with ReleaseValue.
type ValueHandle uint64

// Slot is one position of a find result.
type Slot struct {
	Value   []byte
	Present bool
}

type errorResult struct {
	code    store.Code
	message string
}

type valueResult struct {
	bytes []byte
	slots []Slot
	err   *errorResult
}

// tokens are shared across the three tables so a token is never reused for
// a different kind of handle.
var tokens atomic.Uint64

func nextToken() uint64 {
	return tokens.Add(1)
}

var (
	stores = xsync.NewMapOf[StoreHandle, *datastore.Datastore]()
	errs   = xsync.NewMapOf[ErrorHandle, errorResult]()
	values = xsync.NewMapOf[ValueHandle, *valueResult]()
)

func newErrorHandle(err error) ErrorHandle {
	if err == nil {
		return 0
	}
	h := ErrorHandle(nextToken())
	errs.Store(h, toResult(err))
	return h
}

func newValueHandle(v *valueResult) ValueHandle {
	h := ValueHandle(nextToken())
	values.Store(h, v)
	return h
}

func errorValue(err error) *valueResult {
	r := toResult(err)
	return &valueResult{err: &r}
}

// toResult flattens any error into one of the enumerated codes.
func toResult(err error) errorResult {
	return errorResult{code: store.CodeOf(err), message: err.Error()}
}

// Outstanding reports how many handles of each kind are live.
func Outstanding() (storeHandles, errorHandles, valueHandles int) {
	return stores.Size(), errs.Size(), values.Size()
}
