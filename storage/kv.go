package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Read when no entry exists for the key. Callers
// branch on this (e.g. to answer 404), so both implementations must return
// it rather than their own flavor of a miss.
var ErrNotFound = errors.New("entry not found")

// KVConfig contains settings shared by KeyValue implementations
type KVConfig struct {
	// Dir is the BadgerDB directory. Leave empty to keep records in memory
	// only; they won't survive a restart.
	Dir string `yaml:"dir" env:"HTTP_RUNTIME_DIR"`
	// KeyTTL is how long each record is retained before it expires.
	KeyTTL time.Duration `yaml:"retention" env:"HTTP_RUNTIME_RETENTION"`
	// CleanupInterval is the cadence of the background Cleanup calls that
	// actually reclaim space from expired records.
	CleanupInterval time.Duration `yaml:"cleanupInterval" env:"HTTP_RUNTIME_CLEANUP_INTERVAL"`
}

// CheckAndSetDefaults validates c and either returns a copy of c with
// default settings applied or returns an error due to an invalid
// configuration. A zero KeyTTL would expire records the moment they are
// written, so it always gets a default.
func (c *KVConfig) CheckAndSetDefaults() (KVConfig, error) {
	if c.KeyTTL == 0 {
		c.KeyTTL = time.Duration(168) * time.Hour
	}
	if c.KeyTTL < 0 {
		return KVConfig{}, fmt.Errorf("record retention must be positive, got %v", c.KeyTTL)
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Duration(10) * time.Minute
	}
	if c.CleanupInterval < 0 {
		return KVConfig{}, fmt.Errorf("cleanup interval must be positive, got %v", c.CleanupInterval)
	}
	return *c, nil
}

// UnmarshalYAML parses the runtime-store section of a user-provided YAML
// configuration. Durations are spelled the Go way, e.g. "168h".
func (c *KVConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		Dir             string `yaml:"dir"`
		KeyTTL          string `yaml:"retention"`
		CleanupInterval string `yaml:"cleanupInterval"`
	}
	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("can't parse the runtime store config: %v", err)
	}

	c.Dir = raw.Dir

	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"retention", raw.KeyTTL, &c.KeyTTL},
		{"cleanupInterval", raw.CleanupInterval, &c.CleanupInterval},
	} {
		if d.value == "" {
			continue
		}
		pd, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("can't parse the user-provided %v as a duration: %v", d.name, err)
		}
		*d.dst = pd
	}

	return nil
}

// KeyValue exposes a common interface for performing CRUD operations on an
// underlying storage layer. Assumes some kind of KV store for delivery
// records.
//
// Implementations need to include connection logic in code to initialize
// a store.
type KeyValue interface {
	// Replace the value of an entry or create a new one if it doesn't exist
	Put(KVEntry) error
	// Return an entry given its key; ErrNotFound on a miss
	Read(key []byte) (KVEntry, error)
	// Cleanup performs routine deletion of old records. We assign
	// TTLs to KV pairs and delete them periodically.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// KVEntry is what we'll write to and read from the KV store
type KVEntry struct {
	Key   []byte
	Value []byte
}
