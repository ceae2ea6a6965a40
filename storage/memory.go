package storage

import (
	"sync"
	"time"
)

// MemoryDB is used when no runtime directory is configured. It keeps the
// same TTL semantics as the BadgerDB store so callers can't tell the two
// apart, but everything is gone on restart. Goroutine safe; delivery workers
// and API reads hit it concurrently.
type MemoryDB struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	keyTTL  time.Duration
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryDB initializes the in-memory store.
func NewMemoryDB(conf *KVConfig) *MemoryDB {
	return &MemoryDB{
		entries: make(map[string]memoryEntry),
		keyTTL:  conf.KeyTTL,
	}
}

// Put upserts an entry, restarting its TTL.
func (db *MemoryDB) Put(entry KVEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.entries[string(entry.Key)] = memoryEntry{
		value:     append([]byte(nil), entry.Value...),
		expiresAt: time.Now().Add(db.keyTTL),
	}
	return nil
}

// Read returns an entry by key. Expired entries are misses even before
// Cleanup has removed them, matching Badger's behavior.
func (db *MemoryDB) Read(key []byte) (KVEntry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	e, ok := db.entries[string(key)]
	if !ok || time.Now().After(e.expiresAt) {
		return KVEntry{}, ErrNotFound
	}
	return KVEntry{
		Key:   key,
		Value: append([]byte(nil), e.value...),
	}, nil
}

// Cleanup drops expired entries so the map doesn't grow without bound.
func (db *MemoryDB) Cleanup() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now()
	for k, e := range db.entries {
		if now.After(e.expiresAt) {
			delete(db.entries, k)
		}
	}
	return nil
}

// Close is a no-op; there's nothing to flush.
func (db *MemoryDB) Close() error {
	return nil
}
