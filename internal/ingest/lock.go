package ingest

import "sync"

// locationLocks serializes ingestion per storage location within the
// process. storage.Store adds a file lock for other processes.
var locationLocks sync.Map // map[string]*sync.Mutex

func lockLocation(root string) func() {
	v, _ := locationLocks.LoadOrStore(root, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
