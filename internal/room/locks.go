package room

import "sync"

// keyedLocks serializes all mutations for a given room key. Every
// read-modify-write against a room document holds that room's lock for
// its full duration, so concurrent Join/Move/Chat/Disconnect on the
// same room cannot drop each other's updates. Entries are refcounted
// and removed when the last holder releases, keeping the map bounded
// by the number of rooms under concurrent mutation.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the key's lock is held and returns the release
// function.
func (l *keyedLocks) acquire(key string) func() {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}
