package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	domainStorage "github.com/orbitalweb/ow-agent/domains/storage"
)

var _ domainStorage.IPersistentStore = (*SQLiteStore)(nil)

var (
	storeMu sync.RWMutex
	stores  = make(map[string]*SQLiteStore)
)

// GetOrInitStore returns an initialized persistent store bound to the given
// database file, creating and migrating it on first use. Repeated callers for
// the same path share one handle.
func GetOrInitStore(ctx context.Context, dbPath string, partitions []domainStorage.PartitionSpec) (domainStorage.IPersistentStore, error) {
	trimmed := strings.TrimSpace(dbPath)
	if trimmed == "" {
		return nil, fmt.Errorf("dbPath cannot be blank")
	}

	storeMu.RLock()
	store, ok := stores[trimmed]
	storeMu.RUnlock()
	if ok && store != nil {
		return store, nil
	}

	storeMu.Lock()
	defer storeMu.Unlock()
	if store, ok := stores[trimmed]; ok && store != nil {
		return store, nil
	}

	store, err := NewSQLiteStore(trimmed, partitions)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		logrus.Errorf("[STORE] failed to initialize store at %s: %v", trimmed, err)
		return nil, err
	}

	stores[trimmed] = store
	logrus.Infof("[STORE] initialized persistent store at %s", trimmed)
	return store, nil
}

// CleanupStore closes the shared handle for the path and optionally removes
// the database file.
func CleanupStore(dbPath string, removeFile bool) error {
	trimmed := strings.TrimSpace(dbPath)
	if trimmed == "" {
		return fmt.Errorf("dbPath cannot be blank")
	}

	storeMu.Lock()
	store, ok := stores[trimmed]
	if ok {
		delete(stores, trimmed)
	}
	storeMu.Unlock()

	if ok && store != nil {
		if err := store.Close(); err != nil {
			logrus.Errorf("[STORE] failed to close store at %s: %v", trimmed, err)
		}
	}

	if removeFile {
		if err := os.Remove(trimmed); err != nil && !os.IsNotExist(err) {
			logrus.Errorf("[STORE] failed to remove store file %s: %v", trimmed, err)
			return err
		}
	}
	return nil
}
