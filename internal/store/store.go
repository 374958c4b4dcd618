// Package store is the shared state boundary of the server. Rooms and
// the connection index are JSON documents under plain keys; chat
// history lives in a separate append-only list namespace. The room
// coordinator talks only to the Store interface so the backing engine
// can be swapped without touching the room logic.
package store

import "errors"

// ErrKeyNotFound is returned by Get when no document exists for the key
var ErrKeyNotFound = errors.New("store: key not found")

// Batch groups document writes and deletes that must land atomically
type Batch struct {
	Set    map[string][]byte
	Delete []string
}

// Store is the shared key-value and list store used for all durable
// room and chat state.
//
// Documents and lists are distinct namespaces: a list keyed "chat:X"
// never collides with a document keyed "chat:X", and list keys are not
// reported by Keys.
type Store interface {
	// Get returns the document stored under key, or ErrKeyNotFound.
	Get(key string) ([]byte, error)
	// Set stores a document under key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes the document under key. Missing keys are not an error.
	Delete(key string) error
	// Exists reports whether a document is stored under key.
	Exists(key string) (bool, error)
	// Keys returns every document key with the given prefix ("" for all).
	Keys(prefix string) ([]string, error)
	// Apply performs all writes and deletes in the batch atomically.
	Apply(b Batch) error

	// ListAppend appends value to the list under key, creating the list
	// if needed. When limit > 0 the list is trimmed to its newest limit
	// entries after the append.
	ListAppend(key string, value []byte, limit int) error
	// ListRange returns the full list oldest-first, empty when the list
	// does not exist.
	ListRange(key string) ([][]byte, error)
	// ListLen returns the number of entries in the list under key.
	ListLen(key string) (int, error)
	// ListDelete removes the whole list under key.
	ListDelete(key string) error

	Close() error
}
