package cli

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/roach88/sdkstore/internal/datastore"
)

// openDatastore opens the configured store pair.
func openDatastore(opts *RootOptions) (*datastore.Datastore, error) {
	cfg := opts.Config
	if err := cfg.RequirePaths(); err != nil {
		return nil, WrapExitError(ExitCommandError, "store paths not configured", err)
	}

	opts.Logger.Debug("opening datastore", "persistent_path", cfg.PersistentPath, "cache_path", cfg.CachePath)
	ds, err := datastore.Open(cfg.PersistentPath, cfg.CachePath, cfg.DatastoreOptions(opts.Logger))
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open datastore", err)
	}
	return ds, nil
}

// withDatastore runs fn on an open datastore and closes it afterwards.
func withDatastore(opts *RootOptions, fn func(ds *datastore.Datastore) error) error {
	ds, err := openDatastore(opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := ds.Close(); closeErr != nil {
			opts.Logger.Error("error closing datastore", "error", closeErr)
		}
	}()
	return fn(ds)
}

// Byte encodings accepted for keys, values and records on the command line.
const (
	EncodingHex    = "hex"
	EncodingBase64 = "base64"
	EncodingText   = "text"
)

func decodeArg(encoding, s string) ([]byte, error) {
	switch encoding {
	case EncodingHex:
		return hex.DecodeString(s)
	case EncodingBase64:
		return base64.StdEncoding.DecodeString(s)
	case EncodingText:
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("unknown encoding %q (hex|base64|text)", encoding)
	}
}

func encodeBytes(encoding string, b []byte) string {
	switch encoding {
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(b)
	case EncodingText:
		return string(b)
	default:
		return hex.EncodeToString(b)
	}
}

func decodeArgs(encoding string, args []string) ([][]byte, error) {
	out := make([][]byte, len(args))
	for i, a := range args {
		b, err := decodeArg(encoding, a)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("argument %d is not valid %s", i+1, encoding), err)
		}
		out[i] = b
	}
	return out, nil
}

// statusView is a one-line success payload.
type statusView struct {
	Message string `json:"message"`
	Count   int    `json:"count,omitempty"`
}

func (v statusView) String() string {
	return v.Message
}
