package datastore

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/sdkstore/internal/store"
)

// Options configures a Datastore.
type Options struct {
	// BusyTimeout bounds how long an operation waits on a lock held by
	// another connection before failing with DatabaseLocked.
	// Zero fails immediately; DefaultOptions uses store.DefaultBusyTimeout.
	BusyTimeout time.Duration

	// JournalMode is the SQLite journal mode for both files
	// (TRUNCATE when empty).
	JournalMode string

	// Logger receives lifecycle and failure logs. Nil discards them.
	Logger *slog.Logger
}

// DefaultOptions returns the options used by the boundary.
func DefaultOptions() Options {
	return Options{
		BusyTimeout: store.DefaultBusyTimeout,
		JournalMode: store.DefaultJournalMode,
	}
}

func (o Options) storeOptions() store.Options {
	return store.Options{BusyTimeout: o.BusyTimeout, JournalMode: o.JournalMode}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Datastore is an open handle on a persistent store and a cache store.
//
// Every method runs as exactly one transaction and blocks until it commits
// or fails. Methods are serialized by an internal mutex, so a handle may be
// shared between goroutines, but operations never interleave.
type Datastore struct {
	mu     sync.Mutex
	engine *store.Store

	persistentPath string
	cachePath      string

	opts   Options
	logger *slog.Logger
}

// Open opens or creates both stores, running the schema gate once.
//
// Errors: InvalidDatabaseVersion, DatabaseTooRecent, DatabaseCorrupt,
// DatabaseLocked, DatabaseError. A failed open releases everything it
// acquired.
func Open(persistentPath, cachePath string, opts Options) (*Datastore, error) {
	d := &Datastore{opts: opts, logger: opts.logger()}

	start := time.Now()
	engine, err := store.Open(context.Background(), persistentPath, cachePath, opts.storeOptions())
	observe(opOpen, start, err)
	if err != nil {
		d.logger.Warn("datastore open failed",
			"persistent_path", persistentPath,
			"cache_path", cachePath,
			"code", store.CodeOf(err),
			"error", err,
		)
		return nil, err
	}

	d.attach(engine)
	return d, nil
}

// attach installs an opened engine and registers its paths.
func (d *Datastore) attach(engine *store.Store) {
	d.engine = engine
	d.persistentPath, d.cachePath = engine.Paths()

	for _, path := range []string{d.persistentPath, d.cachePath} {
		if n := acquirePath(path); n > 1 {
			d.logger.Warn("store path already open in this process", "path", path, "handles", n)
		}
	}

	persistent, cache := engine.Gates()
	d.logger.Info("datastore opened",
		"persistent_path", d.persistentPath,
		"cache_path", d.cachePath,
		"persistent_version", persistent.Version,
		"cache_version", cache.Version,
		"persistent_created", persistent.Created,
		"cache_created", cache.Created,
	)
	if len(persistent.Migrated) > 0 || len(cache.Migrated) > 0 {
		d.logger.Info("datastore migrated",
			"persistent_from", persistent.Found,
			"cache_from", cache.Found,
		)
	}
}

// detach closes the engine and unregisters its paths.
func (d *Datastore) detach() error {
	releasePath(d.persistentPath)
	releasePath(d.cachePath)
	err := d.engine.Close()
	d.engine = nil
	return err
}

// Close releases the engine connection. Using the handle afterwards returns
// DatabaseError.
func (d *Datastore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine == nil {
		return nil
	}

	start := time.Now()
	err := d.detach()
	observe(opClose, start, err)
	if err != nil {
		d.logger.Warn("datastore close failed", "error", err)
		return err
	}
	d.logger.Info("datastore closed", "persistent_path", d.persistentPath)
	return nil
}

// Nuke deletes both stores and recreates them empty. The handle stays usable.
//
// The files are removed rather than emptied, so a corrupt store can be
// nuked. Nuke fails with DatabaseLocked while another handle in this
// process holds either path. If recreation fails the handle is left closed.
func (d *Datastore) Nuke() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	err := d.nuke()
	observe(opNuke, start, err)
	if err != nil {
		d.logger.Warn("datastore nuke failed", "code", store.CodeOf(err), "error", err)
		return err
	}
	d.logger.Info("datastore nuked", "persistent_path", d.persistentPath, "cache_path", d.cachePath)
	return nil
}

func (d *Datastore) nuke() error {
	if d.engine == nil {
		return errClosed
	}

	for _, path := range []string{d.persistentPath, d.cachePath} {
		if n := openCount(path); n > 1 {
			return store.NewError(store.ErrCodeDatabaseLocked,
				"nuke: %s is open by %d other handle(s) in this process", path, n-1)
		}
	}

	if err := d.detach(); err != nil {
		return err
	}
	if err := store.RemoveFiles(d.persistentPath, d.cachePath); err != nil {
		return err
	}

	engine, err := store.Open(context.Background(), d.persistentPath, d.cachePath, d.opts.storeOptions())
	if err != nil {
		return err
	}
	d.attach(engine)
	return nil
}

// SetDeviceRecord replaces the device record.
func (d *Datastore) SetDeviceRecord(serialized []byte) error {
	return d.do(opSetDevice, func(ctx context.Context, tx *sql.Tx) error {
		return store.PutDevice(ctx, tx, serialized)
	})
}

// GetDeviceRecord returns the device record, or RecordNotFound.
func (d *Datastore) GetDeviceRecord() ([]byte, error) {
	var serialized []byte
	err := d.do(opGetDevice, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		serialized, err = store.GetDevice(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return serialized, nil
}

// PutCacheEntries writes all entries in one transaction. The batch is a
// mapping: a key repeated in entries keeps its last value, at the position
// of its first occurrence.
//
// For keys already present, OnConflictIgnore keeps the stored value,
// OnConflictReplace overwrites it and OnConflictFail aborts the whole batch
// with ConstraintFailed, leaving the cache as it was.
func (d *Datastore) PutCacheEntries(entries []Entry, onConflict OnConflict) error {
	entries = UniqueEntries(entries)
	return d.do(opPutCache, func(ctx context.Context, tx *sql.Tx) error {
		return store.PutCacheValues(ctx, tx, entries, onConflict)
	})
}

// FindCacheEntries returns one Lookup per key, in key order. Unknown keys
// give Found == false; they are never an error.
func (d *Datastore) FindCacheEntries(keys [][]byte) ([]Lookup, error) {
	var lookups []Lookup
	err := d.do(opFindCache, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		lookups, err = store.FindCacheValues(ctx, tx, keys)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lookups, nil
}

// Info reports paths, versions, instance ids and record counts.
func (d *Datastore) Info() (Info, error) {
	var info Info
	err := d.do(opInfo, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		info, err = d.engine.ReadInfo(ctx, tx)
		return err
	})
	return info, err
}

// do runs fn as one transaction under the handle mutex.
func (d *Datastore) do(op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	err := d.inTx(context.Background(), op, fn)
	observe(op, start, err)
	if err != nil {
		level := slog.LevelWarn
		if store.IsCode(err, store.ErrCodeRecordNotFound) {
			level = slog.LevelDebug
		}
		d.logger.Log(context.Background(), level, "datastore operation failed",
			"op", op,
			"code", store.CodeOf(err),
			"error", err,
		)
	}
	return err
}

func (d *Datastore) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if d.engine == nil {
		return errClosed
	}

	tx, err := d.engine.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.Classify(op+": commit", err)
	}
	return nil
}

// EntriesFromMap converts a key/value mapping into a batch ordered by key.
func EntriesFromMap(m map[string][]byte) []Entry {
	entries := make([]Entry, 0, len(m))
	for k, v := range m {
		entries = append(entries, Entry{Key: []byte(k), Value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].Key) < string(entries[j].Key)
	})
	return entries
}

// UniqueEntries collapses repeated keys to their last value, kept at the
// position of the first occurrence. Entries without repeats come back
// unchanged.
func UniqueEntries(entries []Entry) []Entry {
	index := make(map[string]int, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if at, ok := index[string(e.Key)]; ok {
			out[at].Value = e.Value
			continue
		}
		index[string(e.Key)] = len(out)
		out = append(out, e)
	}
	return out
}
