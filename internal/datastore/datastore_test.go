package datastore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sdkstore/internal/store"
	"github.com/roach88/sdkstore/internal/testutil"
)

func openTestDatastore(t *testing.T) *Datastore {
	t.Helper()
	persistentPath, cachePath := testutil.StorePaths(t)
	ds, err := Open(persistentPath, cachePath, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func put(t *testing.T, ds *Datastore, onConflict OnConflict, kv ...string) error {
	t.Helper()
	require.Zero(t, len(kv)%2)
	var entries []Entry
	for i := 0; i < len(kv); i += 2 {
		entries = append(entries, Entry{Key: []byte(kv[i]), Value: []byte(kv[i+1])})
	}
	return ds.PutCacheEntries(entries, onConflict)
}

func find(t *testing.T, ds *Datastore, keys ...string) []Lookup {
	t.Helper()
	raw := make([][]byte, len(keys))
	for i, k := range keys {
		raw[i] = []byte(k)
	}
	lookups, err := ds.FindCacheEntries(raw)
	require.NoError(t, err)
	require.Len(t, lookups, len(keys))
	return lookups
}

func hit(v string) Lookup {
	return Lookup{Value: []byte(v), Found: true}
}

var miss = Lookup{}

// Device record

func TestDeviceRecord_RoundTrip(t *testing.T) {
	ds := openTestDatastore(t)

	record := []byte{0x01, 0x02, 0x00, 0xff}
	require.NoError(t, ds.SetDeviceRecord(record))

	got, err := ds.GetDeviceRecord()
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestDeviceRecord_NotFoundBeforeSet(t *testing.T) {
	ds := openTestDatastore(t)

	got, err := ds.GetDeviceRecord()
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, ErrCodeRecordNotFound, CodeOf(err))
}

func TestDeviceRecord_Overwrite(t *testing.T) {
	ds := openTestDatastore(t)

	require.NoError(t, ds.SetDeviceRecord([]byte("v1")))
	require.NoError(t, ds.SetDeviceRecord([]byte("v2")))

	got, err := ds.GetDeviceRecord()
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestDeviceRecord_SurvivesReopen(t *testing.T) {
	persistentPath, cachePath := testutil.StorePaths(t)

	ds, err := Open(persistentPath, cachePath, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, ds.SetDeviceRecord([]byte("identity")))
	require.NoError(t, put(t, ds, OnConflictFail, "k", "v"))
	require.NoError(t, ds.Close())

	ds, err = Open(persistentPath, cachePath, DefaultOptions())
	require.NoError(t, err)
	defer ds.Close()

	got, err := ds.GetDeviceRecord()
	require.NoError(t, err)
	assert.Equal(t, []byte("identity"), got)
	assert.Equal(t, []Lookup{hit("v")}, find(t, ds, "k"))
}

// Cache entries

func TestPutCacheEntries_ReplaceThenFindSameOrder(t *testing.T) {
	ds := openTestDatastore(t)

	var entries []Entry
	var keys [][]byte
	for i := 0; i < 50; i++ {
		k := []byte(fmt.Sprintf("key-%02d", i))
		entries = append(entries, Entry{Key: k, Value: []byte(fmt.Sprintf("value-%02d", i))})
		keys = append(keys, k)
	}
	require.NoError(t, ds.PutCacheEntries(entries, OnConflictReplace))

	// Query in reverse order; results follow the query.
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	lookups, err := ds.FindCacheEntries(keys)
	require.NoError(t, err)
	require.Len(t, lookups, len(keys))
	for i, l := range lookups {
		assert.True(t, l.Found)
		want := "value-" + strings.TrimPrefix(string(keys[i]), "key-")
		assert.Equal(t, want, string(l.Value))
	}
}

func TestPutCacheEntries_ConflictPolicies(t *testing.T) {
	tests := []struct {
		name       string
		onConflict OnConflict
		wantErr    Code
		want       []Lookup
	}{
		{"fail rolls back whole batch", OnConflictFail, ErrCodeConstraintFailed, []Lookup{hit("1"), miss}},
		{"ignore keeps existing", OnConflictIgnore, 0, []Lookup{hit("1"), hit("3")}},
		{"replace overwrites", OnConflictReplace, 0, []Lookup{hit("2"), hit("3")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := openTestDatastore(t)

			require.NoError(t, put(t, ds, tt.onConflict, "A", "1"))
			err := put(t, ds, tt.onConflict, "A", "2", "B", "3")
			assert.Equal(t, tt.wantErr, CodeOf(err))

			assert.Equal(t, tt.want, find(t, ds, "A", "B"))
		})
	}
}

func TestPutCacheEntries_FailLeavesStoreUnchanged(t *testing.T) {
	ds := openTestDatastore(t)
	require.NoError(t, put(t, ds, OnConflictFail, "m", "1"))

	before, err := ds.Info()
	require.NoError(t, err)

	err = put(t, ds, OnConflictFail, "a", "x", "b", "y", "m", "2", "z", "w")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConstraintFailed))

	after, err := ds.Info()
	require.NoError(t, err)
	assert.Equal(t, before.CacheEntries, after.CacheEntries)
	assert.Equal(t, []Lookup{miss, miss, hit("1"), miss}, find(t, ds, "a", "b", "m", "z"))
}

func TestPutCacheEntries_DuplicateKeysKeepLast(t *testing.T) {
	for _, onConflict := range []OnConflict{OnConflictFail, OnConflictIgnore, OnConflictReplace} {
		t.Run(onConflict.String(), func(t *testing.T) {
			ds := openTestDatastore(t)
			require.NoError(t, put(t, ds, onConflict, "A", "1", "B", "2", "A", "3"))
			assert.Equal(t, []Lookup{hit("3"), hit("2")}, find(t, ds, "A", "B"))
		})
	}
}

func TestUniqueEntries(t *testing.T) {
	e := func(k, v string) Entry { return Entry{Key: []byte(k), Value: []byte(v)} }

	assert.Equal(t,
		[]Entry{e("b", "3"), e("a", "5"), e("c", "4")},
		UniqueEntries([]Entry{e("b", "1"), e("a", "2"), e("b", "3"), e("c", "4"), e("a", "5")}),
	)
	assert.Equal(t, []Entry{e("x", "1")}, UniqueEntries([]Entry{e("x", "1")}))
	assert.Empty(t, UniqueEntries(nil))
}

func TestPutCacheEntries_InvalidPolicy(t *testing.T) {
	ds := openTestDatastore(t)

	err := put(t, ds, OnConflict(3), "a", "1")
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
	assert.Equal(t, []Lookup{miss}, find(t, ds, "a"))
}

func TestFindCacheEntries_MixedKnownAndUnknown(t *testing.T) {
	ds := openTestDatastore(t)
	require.NoError(t, put(t, ds, OnConflictFail, "known1", "v1", "known2", "v2"))

	got := find(t, ds, "unknown0", "known1", "unknown2", "known2", "unknown4")
	assert.Equal(t, []Lookup{miss, hit("v1"), miss, hit("v2"), miss}, got)
}

func TestFindCacheEntries_AllUnknown(t *testing.T) {
	ds := openTestDatastore(t)

	assert.Equal(t, []Lookup{miss, miss}, find(t, ds, "x", "y"))
}

func TestFindCacheEntries_NoKeys(t *testing.T) {
	ds := openTestDatastore(t)

	lookups, err := ds.FindCacheEntries(nil)
	require.NoError(t, err)
	assert.Empty(t, lookups)
}

func TestEntriesFromMap(t *testing.T) {
	entries := EntriesFromMap(map[string][]byte{"b": []byte("2"), "a": []byte("1")})
	assert.Equal(t, []Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}, entries)
}

// Nuke

func TestNuke_ClearsBothStores(t *testing.T) {
	ds := openTestDatastore(t)
	require.NoError(t, ds.SetDeviceRecord([]byte("identity")))
	require.NoError(t, put(t, ds, OnConflictFail, "k1", "v1", "k2", "v2"))

	before, err := ds.Info()
	require.NoError(t, err)

	require.NoError(t, ds.Nuke())

	_, err = ds.GetDeviceRecord()
	assert.Equal(t, ErrCodeRecordNotFound, CodeOf(err))
	assert.Equal(t, []Lookup{miss, miss}, find(t, ds, "k1", "k2"))

	after, err := ds.Info()
	require.NoError(t, err)
	assert.NotEqual(t, before.PersistentInstanceID, after.PersistentInstanceID)
	assert.NotEqual(t, before.CacheInstanceID, after.CacheInstanceID)
	assert.Equal(t, store.PersistentSchemaVersion, after.PersistentVersion)

	// Usable immediately.
	require.NoError(t, ds.SetDeviceRecord([]byte("new identity")))
	got, err := ds.GetDeviceRecord()
	require.NoError(t, err)
	assert.Equal(t, []byte("new identity"), got)
}

func TestNuke_RecoversCorruptStore(t *testing.T) {
	persistentPath, cachePath := testutil.StorePaths(t)
	ds, err := Open(persistentPath, cachePath, DefaultOptions())
	require.NoError(t, err)
	defer ds.Close()
	require.NoError(t, put(t, ds, OnConflictFail, "k", "v"))

	require.NoError(t, testutil.CorruptFile(cachePath))

	_, err = ds.FindCacheEntries([][]byte{[]byte("k")})
	require.Error(t, err)
	assert.Equal(t, ErrCodeDatabaseCorrupt, CodeOf(err))

	require.NoError(t, ds.Nuke())
	assert.Equal(t, []Lookup{miss}, find(t, ds, "k"))
}

func TestNuke_AfterClose(t *testing.T) {
	ds := openTestDatastore(t)
	require.NoError(t, ds.Close())

	err := ds.Nuke()
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
}

func TestNuke_RefusedWhileAnotherHandleHoldsPaths(t *testing.T) {
	persistentPath, cachePath := testutil.StorePaths(t)

	a, err := Open(persistentPath, cachePath, DefaultOptions())
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(persistentPath, cachePath, DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, put(t, b, OnConflictFail, "k", "old"))

	err = a.Nuke()
	require.Error(t, err)
	assert.Equal(t, ErrCodeDatabaseLocked, CodeOf(err))

	// Both handles still see one consistent store.
	require.NoError(t, put(t, b, OnConflictFail, "k2", "new"))
	assert.Equal(t, []Lookup{hit("old"), hit("new")}, find(t, a, "k", "k2"))
	assert.Equal(t, []Lookup{hit("old"), hit("new")}, find(t, b, "k", "k2"))

	require.NoError(t, b.Close())
	require.NoError(t, a.Nuke())
	assert.Equal(t, []Lookup{miss, miss}, find(t, a, "k", "k2"))
}

func TestNuke_RefusedWhenCachePathShared(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir+"/a.db", dir+"/cache.db", DefaultOptions())
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(dir+"/b.db", dir+"/cache.db", DefaultOptions())
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, ErrCodeDatabaseLocked, CodeOf(a.Nuke()))
}

// Open failures

func TestOpen_TooRecentLeavesFileUnchanged(t *testing.T) {
	persistentPath, cachePath := testutil.StorePaths(t)

	ds, err := Open(persistentPath, cachePath, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, ds.SetDeviceRecord([]byte("identity")))
	require.NoError(t, ds.Close())

	require.NoError(t, testutil.StampVersion(persistentPath, store.PersistentSchemaVersion+1))

	before, err := os.ReadFile(persistentPath)
	require.NoError(t, err)

	_, err = Open(persistentPath, cachePath, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, ErrCodeDatabaseTooRecent, CodeOf(err))

	after, err := os.ReadFile(persistentPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(before, after))
}

func TestOpen_CorruptPersistentStore(t *testing.T) {
	persistentPath, cachePath := testutil.StorePaths(t)
	require.NoError(t, os.WriteFile(persistentPath, bytes.Repeat([]byte{0xde, 0xad}, 4096), 0600))

	ds, err := Open(persistentPath, cachePath, DefaultOptions())
	assert.Nil(t, ds)
	assert.Equal(t, ErrCodeDatabaseCorrupt, CodeOf(err))
	assert.Zero(t, openCount(persistentPath), "failed open must not register the path")
}

// Locking

func TestOperations_LockContention(t *testing.T) {
	persistentPath, cachePath := testutil.StorePaths(t)
	opts := DefaultOptions()
	opts.BusyTimeout = 0

	ds, err := Open(persistentPath, cachePath, opts)
	require.NoError(t, err)
	defer ds.Close()

	raw, err := sql.Open("sqlite3", persistentPath)
	require.NoError(t, err)
	defer raw.Close()
	ctx := context.Background()
	conn, err := raw.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE")
	require.NoError(t, err)

	err = ds.SetDeviceRecord([]byte("blocked"))
	assert.Equal(t, ErrCodeDatabaseLocked, CodeOf(err))

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)

	// Not retried by the datastore; the caller retries.
	require.NoError(t, ds.SetDeviceRecord([]byte("written")))
}

func TestOpen_TwoHandlesSamePaths(t *testing.T) {
	persistentPath, cachePath := testutil.StorePaths(t)

	ds1, err := Open(persistentPath, cachePath, DefaultOptions())
	require.NoError(t, err)
	defer ds1.Close()

	ds2, err := Open(persistentPath, cachePath, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, openCount(ds1.persistentPath))

	require.NoError(t, ds1.SetDeviceRecord([]byte("from one")))
	got, err := ds2.GetDeviceRecord()
	require.NoError(t, err)
	assert.Equal(t, []byte("from one"), got)

	require.NoError(t, ds2.Close())
	assert.Equal(t, 1, openCount(ds1.persistentPath))
}

func TestOperations_ConcurrentCallsOnOneHandle(t *testing.T) {
	ds := openTestDatastore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte(fmt.Sprintf("k%d", i))
			if err := ds.PutCacheEntries([]Entry{{Key: key, Value: key}}, OnConflictFail); err != nil {
				errs <- err
				return
			}
			if _, err := ds.FindCacheEntries([][]byte{key}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	info, err := ds.Info()
	require.NoError(t, err)
	assert.Equal(t, int64(20), info.CacheEntries)
}

// Close

func TestClose_ThenUse(t *testing.T) {
	ds := openTestDatastore(t)
	require.NoError(t, ds.Close())

	assert.NoError(t, ds.Close())

	err := ds.SetDeviceRecord([]byte("x"))
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
	_, err = ds.FindCacheEntries([][]byte{[]byte("k")})
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
	_, err = ds.Info()
	assert.Equal(t, ErrCodeDatabaseError, CodeOf(err))
}

func TestClose_ReleasesPaths(t *testing.T) {
	persistentPath, cachePath := testutil.StorePaths(t)

	ds, err := Open(persistentPath, cachePath, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, openCount(ds.cachePath))

	require.NoError(t, ds.Close())
	assert.Zero(t, openCount(ds.cachePath))
}

// Ambient

func TestLogging_LifecycleAndFailures(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	persistentPath, cachePath := testutil.StorePaths(t)
	ds, err := Open(persistentPath, cachePath, opts)
	require.NoError(t, err)

	require.NoError(t, put(t, ds, OnConflictFail, "secret-key", "secret-value"))
	_ = put(t, ds, OnConflictFail, "secret-key", "secret-value")
	require.NoError(t, ds.Close())

	out := buf.String()
	assert.Contains(t, out, "datastore opened")
	assert.Contains(t, out, "code=ConstraintFailed")
	assert.Contains(t, out, "datastore closed")
	assert.NotContains(t, out, "secret-value")
}

func TestMetrics_CountsOperations(t *testing.T) {
	ds := openTestDatastore(t)

	before := OperationCount(opGetDevice, "RecordNotFound")
	_, _ = ds.GetDeviceRecord()
	_, _ = ds.GetDeviceRecord()
	assert.Equal(t, before+2, OperationCount(opGetDevice, "RecordNotFound"))

	var buf bytes.Buffer
	WriteMetrics(&buf)
	assert.Contains(t, buf.String(), `sdkstore_operations_total{op="get_device_record",code="RecordNotFound"}`)
}
