// Package boundary exposes the datastore to foreign callers through opaque
// integer handles.
//
// Three handle tables are kept: store handles for open datastores, error
// handles for failed calls and value handles for results that carry bytes.
// Every handle is released explicitly (Close, ReleaseError, ReleaseValue);
// nothing is freed implicitly. Failures of any kind, panics included, come
// back as one of the store error codes.
//
// cmd/libsdkstore wraps this package in a C ABI.
package boundary
