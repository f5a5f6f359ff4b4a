package datastore

import "github.com/puzpuzpuz/xsync/v3"

// openPaths counts handles per canonical store path in this process.
// Two handles on one path are allowed; SQLite locking arbitrates them.
var openPaths = xsync.NewMapOf[string, int]()

// acquirePath registers one more handle on path and returns the new count.
func acquirePath(path string) int {
	n, _ := openPaths.Compute(path, func(old int, _ bool) (int, bool) {
		return old + 1, false
	})
	return n
}

func releasePath(path string) {
	openPaths.Compute(path, func(old int, loaded bool) (int, bool) {
		if !loaded || old <= 1 {
			return 0, true
		}
		return old - 1, false
	})
}

// openCount returns the number of handles holding path.
func openCount(path string) int {
	n, _ := openPaths.Load(path)
	return n
}
