package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// usageTTL bounds how often the data directory is walked. Ingest asks on
// every request, so the walk must not run that often.
const usageTTL = 10 * time.Second

// StorageMonitor reports how much of the storage budget the badger data
// directory uses. An empty directory means in-memory storage, which is
// never over budget.
type StorageMonitor struct {
	dir   string
	limit int64
	now   func() time.Time

	mu       sync.Mutex
	used     int64
	measured time.Time
}

// NewStorageMonitor watches dir against a limit in bytes. A limit <= 0
// disables the check.
func NewStorageMonitor(dir string, limit int64) *StorageMonitor {
	return &StorageMonitor{dir: dir, limit: limit, now: time.Now}
}

// GetUsage returns the allocated size of the data directory, measured at
// most once per usageTTL.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	if sm.dir == "" {
		return 0, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	if !sm.measured.IsZero() && now.Sub(sm.measured) < usageTTL {
		return sm.used, nil
	}
	used, err := dirUsage(sm.dir)
	if err != nil {
		return 0, err
	}
	sm.used, sm.measured = used, now
	return used, nil
}

func (sm *StorageMonitor) GetLimit() int64 { return sm.limit }

// CheckLimit reports whether there is room for more documents.
func (sm *StorageMonitor) CheckLimit() (bool, error) {
	used, err := sm.GetUsage()
	if err != nil {
		return false, err
	}
	return sm.limit <= 0 || used < sm.limit, nil
}

func dirUsage(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		switch {
		case err != nil:
			return err
		case info.Mode().IsRegular():
			total += diskUsage(path, info)
		}
		return nil
	})
	return total, err
}
