package storage

// storage contains the KeyValue interface for working with a persistent key/
// value store, plus two implementations: an embedded BadgerDB for real
// deployments and an in-memory map for runs without a runtime directory.
// Note that the storage package isn't designed to represent _what_ is stored
// in the database, and deals only in opaque binary data.
