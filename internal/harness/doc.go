// Package harness runs datastore scenarios described in YAML and checks
// their traces against golden files.
//
// # Scenario Format
//
//	name: conflict_fail
//	description: "A conflicting Fail batch leaves the cache unchanged"
//	flow:
//	  - op: put_cache_entries
//	    on_conflict: fail
//	    entries: [{key: A, value: "1"}]
//	  - op: put_cache_entries
//	    on_conflict: fail
//	    entries: [{key: A, value: "2"}, {key: B, value: "3"}]
//	    expect: {error: ConstraintFailed}
//	  - op: find_cache_entries
//	    keys: [A, B]
//	    expect: {values: ["1", null]}
//	assertions:
//	  - type: cache_count
//	    count: 1
//
// Ops: open, close, nuke, set_device_record, get_device_record,
// put_cache_entries, find_cache_entries, plus corrupt and stamp_version
// which damage or restamp a store file from outside the datastore.
// A step without expect must succeed.
//
// # Assertion Types
//
//   - device_record: the final device record, or absent
//   - cache_values: final values for a list of keys, null for absent
//   - cache_count: number of cache entries
//   - trace_count: how many times an op ran
//   - trace_order: ops appear in this order
//
// Every scenario runs on fresh store files in its own directory.
package harness
