// Package datastore is the public operation surface of the SDK's local
// storage: open, close, nuke, device record get/set and batched cache
// put/find.
//
// Each call is one transaction on the engine connection owned by the
// handle. Nothing is retried here; DatabaseLocked is returned to the caller,
// who owns the retry policy. Corruption and version mismatches are terminal
// for the handle until the caller chooses to Nuke.
//
// Example:
//
//	ds, err := datastore.Open(persistentPath, cachePath, datastore.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer ds.Close()
//
//	err = ds.PutCacheEntries([]datastore.Entry{{Key: k, Value: v}}, datastore.OnConflictIgnore)
//	lookups, err := ds.FindCacheEntries([][]byte{k, missing})
//	// lookups[1].Found == false
package datastore
