package main

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import "unsafe"

// cBuffers is a C-allocated pointer/size array pair as a caller of
// sdkstore_put_cache_values or sdkstore_find_cache_values builds it.
type cBuffers struct {
	ptrs  **C.uint8_t
	sizes *C.uint64_t
	count C.uint64_t
}

// newCBuffers copies bufs into C memory. Empty buffers get a NULL pointer.
func newCBuffers(bufs [][]byte) *cBuffers {
	n := len(bufs)
	if n == 0 {
		return &cBuffers{}
	}
	ptrs := (**C.uint8_t)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(uintptr(0)))))
	sizes := (*C.uint64_t)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(C.uint64_t(0)))))
	cptrs := unsafe.Slice(ptrs, n)
	csizes := unsafe.Slice(sizes, n)
	for i, b := range bufs {
		csizes[i] = C.uint64_t(len(b))
		cptrs[i] = nil
		if len(b) > 0 {
			cptrs[i] = (*C.uint8_t)(C.CBytes(b))
		}
	}
	return &cBuffers{ptrs: ptrs, sizes: sizes, count: C.uint64_t(n)}
}

func (b *cBuffers) free() {
	if b.ptrs == nil {
		return
	}
	for _, p := range unsafe.Slice(b.ptrs, int(b.count)) {
		C.free(unsafe.Pointer(p))
	}
	C.free(unsafe.Pointer(b.ptrs))
	C.free(unsafe.Pointer(b.sizes))
	b.ptrs, b.sizes = nil, nil
}

// openPaths calls sdkstore_datastore_open and returns the store and error
// handles.
func openPaths(persistentPath, cachePath *C.char) (h, eh C.uint64_t) {
	h = sdkstore_datastore_open(persistentPath, cachePath, &eh)
	return h, eh
}

func cOpen(persistentPath, cachePath string) (h, eh C.uint64_t) {
	p := C.CString(persistentPath)
	defer C.free(unsafe.Pointer(p))
	c := C.CString(cachePath)
	defer C.free(unsafe.Pointer(c))
	return openPaths(p, c)
}

func putDevice(h C.uint64_t, record []byte) C.uint64_t {
	if len(record) == 0 {
		return sdkstore_put_serialized_device(h, nil, 0)
	}
	data := C.CBytes(record)
	defer C.free(data)
	return sdkstore_put_serialized_device(h, (*C.uint8_t)(data), C.uint64_t(len(record)))
}

func putCache(h C.uint64_t, keys, vals [][]byte, onConflict uint8) C.uint64_t {
	k := newCBuffers(keys)
	defer k.free()
	v := newCBuffers(vals)
	defer v.free()
	return sdkstore_put_cache_values(h, k.ptrs, k.sizes, v.ptrs, v.sizes, k.count, C.uint8_t(onConflict))
}

func findCache(h C.uint64_t, keys [][]byte) C.uint64_t {
	k := newCBuffers(keys)
	defer k.free()
	return sdkstore_find_cache_values(h, k.ptrs, k.sizes, k.count)
}

// findCacheCount calls sdkstore_find_cache_values with NULL arrays and an
// arbitrary count.
func findCacheCount(h C.uint64_t, count uint64) C.uint64_t {
	return sdkstore_find_cache_values(h, nil, nil, C.uint64_t(count))
}

// valueBytes copies a single-value result back into Go memory.
func valueBytes(vh C.uint64_t) ([]byte, uint64) {
	var size C.uint64_t
	p := sdkstore_value_bytes(vh, &size)
	defer sdkstore_free(unsafe.Pointer(p))
	if p == nil {
		return nil, uint64(size)
	}
	return C.GoBytes(unsafe.Pointer(p), C.int(size)), uint64(size)
}

// slot copies slot i of a find result back into Go memory.
func slot(vh C.uint64_t, i uint64) ([]byte, uint64, bool) {
	var size C.uint64_t
	var present C.uint8_t
	p := sdkstore_value_slot(vh, C.uint64_t(i), &size, &present)
	defer sdkstore_free(unsafe.Pointer(p))
	if p == nil {
		return nil, uint64(size), present == 1
	}
	return C.GoBytes(unsafe.Pointer(p), C.int(size)), uint64(size), present == 1
}

// takeString copies and frees a string returned by the library.
func takeString(s *C.char) (string, bool) {
	if s == nil {
		return "", false
	}
	defer C.free(unsafe.Pointer(s))
	return C.GoString(s), true
}

func errorMessage(eh C.uint64_t) (string, bool) {
	return takeString(sdkstore_error_message(eh))
}

func valueErrorMessage(vh C.uint64_t) (string, bool) {
	return takeString(sdkstore_value_error_message(vh))
}
