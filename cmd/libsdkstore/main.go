// Command libsdkstore builds the datastore as a C shared library:
//
//	go build -buildmode=c-shared -o libsdkstore.so ./cmd/libsdkstore
//
// Every call takes and returns opaque 64-bit handles. Error handle 0 means
// success. Bytes and strings returned to the caller are malloc'd copies the
// caller frees with sdkstore_free; result handles are freed with
// sdkstore_error_release and sdkstore_value_release.
//
// Options are read once, on the first open, from SDKSTORE_* environment
// variables and the YAML file named by SDKSTORE_CONFIG.
package main

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"log/slog"
	"math"
	"os"
	"sync"
	"unsafe"

	"github.com/spf13/pflag"

	"github.com/roach88/sdkstore/internal/boundary"
	"github.com/roach88/sdkstore/internal/config"
	"github.com/roach88/sdkstore/internal/store"
)

var configureOnce sync.Once

func configure() {
	configureOnce.Do(func() {
		fs := pflag.NewFlagSet("libsdkstore", pflag.ContinueOnError)
		config.SetupFlags(fs)

		cfg, err := config.Load(fs, os.Getenv("SDKSTORE_CONFIG"))
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		if err != nil {
			logger.Error("ignoring invalid configuration", "error", err)
			return
		}
		boundary.Configure(cfg.DatastoreOptions(logger))
	})
}

//export sdkstore_datastore_open
func sdkstore_datastore_open(persistentPath, cachePath *C.char, errOut *C.uint64_t) C.uint64_t {
	configure()

	var h boundary.StoreHandle
	var eh boundary.ErrorHandle
	if persistentPath == nil || cachePath == nil {
		eh = boundary.Reject(store.NewError(store.ErrCodeDatabaseError, "nil store path"))
	} else {
		h, eh = boundary.Open(C.GoString(persistentPath), C.GoString(cachePath))
	}
	if errOut != nil {
		*errOut = C.uint64_t(eh)
	} else {
		boundary.ReleaseError(eh)
	}
	return C.uint64_t(h)
}

//export sdkstore_datastore_close
func sdkstore_datastore_close(h C.uint64_t) C.uint8_t {
	return cBool(boundary.Close(boundary.StoreHandle(h)))
}

//export sdkstore_datastore_nuke
func sdkstore_datastore_nuke(h C.uint64_t) C.uint64_t {
	return C.uint64_t(boundary.Nuke(boundary.StoreHandle(h)))
}

//export sdkstore_put_serialized_device
func sdkstore_put_serialized_device(h C.uint64_t, data *C.uint8_t, size C.uint64_t) C.uint64_t {
	record, err := boundary.CopyBuffers([]unsafe.Pointer{unsafe.Pointer(data)}, []uint64{uint64(size)})
	if err != nil {
		return C.uint64_t(boundary.Reject(err))
	}
	return C.uint64_t(boundary.PutDeviceRecord(boundary.StoreHandle(h), record[0]))
}

//export sdkstore_find_serialized_device
func sdkstore_find_serialized_device(h C.uint64_t) C.uint64_t {
	return C.uint64_t(boundary.GetDeviceRecord(boundary.StoreHandle(h)))
}

//export sdkstore_put_cache_values
func sdkstore_put_cache_values(
	h C.uint64_t,
	keys **C.uint8_t, keySizes *C.uint64_t,
	vals **C.uint8_t, valSizes *C.uint64_t,
	count C.uint64_t, onConflict C.uint8_t,
) C.uint64_t {
	k, err := buffers(keys, keySizes, count)
	if err != nil {
		return C.uint64_t(boundary.Reject(err))
	}
	v, err := buffers(vals, valSizes, count)
	if err != nil {
		return C.uint64_t(boundary.Reject(err))
	}
	return C.uint64_t(boundary.PutCacheEntries(boundary.StoreHandle(h), k, v, uint8(onConflict)))
}

//export sdkstore_find_cache_values
func sdkstore_find_cache_values(h C.uint64_t, keys **C.uint8_t, keySizes *C.uint64_t, count C.uint64_t) C.uint64_t {
	k, err := buffers(keys, keySizes, count)
	if err != nil {
		return C.uint64_t(boundary.RejectValue(err))
	}
	return C.uint64_t(boundary.FindCacheEntries(boundary.StoreHandle(h), k))
}

//export sdkstore_error_code
func sdkstore_error_code(eh C.uint64_t) C.uint32_t {
	code, _, _ := boundary.ErrorResult(boundary.ErrorHandle(eh))
	return C.uint32_t(code)
}

//export sdkstore_error_message
func sdkstore_error_message(eh C.uint64_t) *C.char {
	_, msg, ok := boundary.ErrorResult(boundary.ErrorHandle(eh))
	if !ok {
		return nil
	}
	return C.CString(msg)
}

//export sdkstore_error_release
func sdkstore_error_release(eh C.uint64_t) C.uint8_t {
	return cBool(boundary.ReleaseError(boundary.ErrorHandle(eh)))
}

//export sdkstore_value_error_code
func sdkstore_value_error_code(vh C.uint64_t) C.uint32_t {
	code, _ := boundary.ValueError(boundary.ValueHandle(vh))
	return C.uint32_t(code)
}

//export sdkstore_value_error_message
func sdkstore_value_error_message(vh C.uint64_t) *C.char {
	code, msg := boundary.ValueError(boundary.ValueHandle(vh))
	if code == store.ErrCodeNone {
		return nil
	}
	return C.CString(msg)
}

//export sdkstore_value_bytes
func sdkstore_value_bytes(vh C.uint64_t, size *C.uint64_t) *C.uint8_t {
	b, ok := boundary.ValueBytes(boundary.ValueHandle(vh))
	if !ok {
		setSize(size, 0)
		return nil
	}
	return cBytes(b, size)
}

//export sdkstore_value_slot_count
func sdkstore_value_slot_count(vh C.uint64_t) C.uint64_t {
	slots, _ := boundary.ValueSlots(boundary.ValueHandle(vh))
	return C.uint64_t(len(slots))
}

// sdkstore_value_slot returns a copy of slot i and sets *present. An absent
// slot and an empty present value both return NULL with size 0; present
// tells them apart.
//
//export sdkstore_value_slot
func sdkstore_value_slot(vh C.uint64_t, i C.uint64_t, size *C.uint64_t, present *C.uint8_t) *C.uint8_t {
	slots, _ := boundary.ValueSlots(boundary.ValueHandle(vh))
	if uint64(i) >= uint64(len(slots)) || !slots[i].Present {
		setSize(size, 0)
		if present != nil {
			*present = 0
		}
		return nil
	}
	if present != nil {
		*present = 1
	}
	return cBytes(slots[i].Value, size)
}

//export sdkstore_value_release
func sdkstore_value_release(vh C.uint64_t) C.uint8_t {
	return cBool(boundary.ReleaseValue(boundary.ValueHandle(vh)))
}

//export sdkstore_free
func sdkstore_free(p unsafe.Pointer) {
	C.free(p)
}

// buffers copies count caller buffers described by parallel arrays.
func buffers(ptrs **C.uint8_t, sizes *C.uint64_t, count C.uint64_t) ([][]byte, error) {
	if uint64(count) > math.MaxInt32 {
		return nil, store.NewError(store.ErrCodeDatabaseError, "buffer count %d out of range", uint64(count))
	}
	n := int(count)
	if n == 0 {
		return [][]byte{}, nil
	}
	if ptrs == nil || sizes == nil {
		return nil, store.NewError(store.ErrCodeDatabaseError, "nil buffer array with count %d", n)
	}

	cptrs := unsafe.Slice(ptrs, n)
	csizes := unsafe.Slice(sizes, n)
	p := make([]unsafe.Pointer, n)
	s := make([]uint64, n)
	for i := range cptrs {
		p[i] = unsafe.Pointer(cptrs[i])
		s[i] = uint64(csizes[i])
	}
	return boundary.CopyBuffers(p, s)
}

func cBytes(b []byte, size *C.uint64_t) *C.uint8_t {
	setSize(size, len(b))
	if len(b) == 0 {
		return nil
	}
	return (*C.uint8_t)(C.CBytes(b))
}

func setSize(size *C.uint64_t, n int) {
	if size != nil {
		*size = C.uint64_t(n)
	}
}

func cBool(b bool) C.uint8_t {
	if b {
		return 1
	}
	return 0
}

func main() {}
