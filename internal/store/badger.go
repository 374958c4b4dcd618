package store

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Physical key layout inside Badger. Documents are stored under their
// key as-is; list entries live under "l:<key>:<seq>" with a zero-padded
// sequence so prefix iteration yields append order, and the next
// sequence number is kept under "l#:<key>". Document keys produced by
// this application (room codes, "conn:" index entries) never start with
// either list prefix.
const (
	listEntryPrefix   = "l:"
	listCounterPrefix = "l#:"
)

// BadgerStore persists room state in an embedded Badger database so it
// survives process restarts.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

// NewBadgerStore opens (or creates) the database at dir
func NewBadgerStore(dir string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db, log: log}, nil
}

func (s *BadgerStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *BadgerStore) Set(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Exists(key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return true, nil
}

func (s *BadgerStore) Keys(prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // key-only scan
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			key := string(it.Item().Key())
			if strings.HasPrefix(key, listEntryPrefix) || strings.HasPrefix(key, listCounterPrefix) {
				continue
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("keys %q: %w", prefix, err)
	}
	return keys, nil
}

func (s *BadgerStore) Apply(b Batch) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for key, value := range b.Set {
			if err := txn.Set([]byte(key), value); err != nil {
				return err
			}
		}
		for _, key := range b.Delete {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}

func (s *BadgerStore) ListAppend(key string, value []byte, limit int) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		seq, err := nextListSeq(txn, key)
		if err != nil {
			return err
		}
		if err := txn.Set(listEntryKey(key, seq), value); err != nil {
			return err
		}
		if limit > 0 {
			return trimList(txn, key, seq, limit)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list append %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) ListRange(key string) ([][]byte, error) {
	values := make([][]byte, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := listScanPrefix(key)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list range %s: %w", key, err)
	}
	return values, nil
}

func (s *BadgerStore) ListLen(key string) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := listScanPrefix(key)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list len %s: %w", key, err)
	}
	return n, nil
}

func (s *BadgerStore) ListDelete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		prefix := listScanPrefix(key)
		var doomed [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			doomed = append(doomed, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(listCounterKey(key))
	})
	if err != nil {
		return fmt.Errorf("list delete %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func listScanPrefix(key string) []byte {
	return []byte(listEntryPrefix + key + ":")
}

func listEntryKey(key string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", listEntryPrefix, key, seq))
}

func listCounterKey(key string) []byte {
	return []byte(listCounterPrefix + key)
}

// nextListSeq reads, increments and writes back the list's sequence
// counter within the caller's transaction.
func nextListSeq(txn *badger.Txn, key string) (uint64, error) {
	var seq uint64
	item, err := txn.Get(listCounterKey(key))
	switch err {
	case nil:
		err = item.Value(func(v []byte) error {
			if len(v) == 8 {
				seq = binary.BigEndian.Uint64(v)
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	case badger.ErrKeyNotFound:
		seq = 0
	default:
		return 0, err
	}

	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, seq+1)
	if err := txn.Set(listCounterKey(key), next); err != nil {
		return 0, err
	}
	return seq, nil
}

// trimList deletes the oldest entries until at most limit remain.
// lastSeq is the sequence just written, so entries older than
// lastSeq-limit+1 are out of the window.
func trimList(txn *badger.Txn, key string, lastSeq uint64, limit int) error {
	if lastSeq+1 <= uint64(limit) {
		return nil // fewer entries ever written than the cap
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	cutoff := string(listEntryKey(key, lastSeq-uint64(limit-1)))
	prefix := listScanPrefix(key)
	var doomed [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		k := it.Item().KeyCopy(nil)
		if string(k) >= cutoff {
			break
		}
		doomed = append(doomed, k)
	}
	it.Close()

	for _, k := range doomed {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
