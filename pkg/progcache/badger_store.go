package progcache

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerSourceStore persists emitted kernel source text on disk, so a
// restarted process can skip re-emitting a specialization it has already
// seen. It implements SourceStore.
type BadgerSourceStore struct {
	db *badger.DB
}

// OpenBadgerSourceStore opens (creating if absent) a badger database at
// dir for use as a Cache's SourceStore.
func OpenBadgerSourceStore(dir string) (*BadgerSourceStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("progcache: opening badger store: %w", err)
	}
	return &BadgerSourceStore{db: db}, nil
}

func (s *BadgerSourceStore) key(fingerprint uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], fingerprint)
	return b[:]
}

// Get returns the persisted source for fingerprint, if any.
func (s *BadgerSourceStore) Get(fingerprint uint64) (string, bool) {
	var source string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(fingerprint))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			source = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false
	}
	return source, true
}

// Put persists source under fingerprint.
func (s *BadgerSourceStore) Put(fingerprint uint64, source string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(fingerprint), []byte(source))
	})
}

// Close releases the underlying badger database.
func (s *BadgerSourceStore) Close() error {
	return s.db.Close()
}
