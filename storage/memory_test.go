package storage

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryDBReadWrite(t *testing.T) {
	db := NewMemoryDB(&KVConfig{KeyTTL: time.Duration(10) * time.Second})
	defer db.Close()

	kv := KVEntry{Key: []byte("Hello"), Value: []byte("World")}
	if err := db.Put(kv); err != nil {
		t.Fatal(err)
	}

	got, err := db.Read(kv.Key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Value) != "World" {
		t.Fatalf("expected %q, got %q", "World", got.Value)
	}
}

func TestMemoryDBMiss(t *testing.T) {
	db := NewMemoryDB(&KVConfig{KeyTTL: time.Duration(10) * time.Second})
	defer db.Close()

	if _, err := db.Read([]byte("absent")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryDBExpiry(t *testing.T) {
	db := NewMemoryDB(&KVConfig{KeyTTL: time.Duration(10) * time.Millisecond})
	defer db.Close()

	kv := KVEntry{Key: []byte("transient"), Value: []byte("x")}
	if err := db.Put(kv); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)

	// An expired key must read as a miss even before Cleanup runs.
	if _, err := db.Read(kv.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}

	if err := db.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if len(db.entries) != 0 {
		t.Fatalf("expected Cleanup to drop expired entries, %d remain", len(db.entries))
	}
}

// The interface must be satisfied by both implementations; a compile-time
// check keeps us honest when the interface changes.
var (
	_ KeyValue = (*BadgerDB)(nil)
	_ KeyValue = (*MemoryDB)(nil)
)
