package chain

import (
	"fmt"
	"os"

	cm "github.com/chainmesh/chainmesh/src/common"
	"github.com/dgraph-io/badger"
)

const recordPrefix = "record"

// BadgerRecordStore is a durable implementation of RecordStore, backed by a
// badger key-value database. Writes go through to the database; reads are
// served from an in-memory cache first.
type BadgerRecordStore struct {
	cache *InmemRecordStore
	db    *badger.DB
	path  string
}

// NewBadgerRecordStore opens or creates a badger database at the given path
// and loads the records it contains into the cache.
func NewBadgerRecordStore(path string) (*BadgerRecordStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = false

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerRecordStore{
		cache: NewInmemRecordStore(),
		db:    handle,
		path:  path,
	}

	if err := store.loadCache(); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

// loadCache replays the database into the in-memory cache.
func (s *BadgerRecordStore) loadCache() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(recordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record Record
			err := it.Item().Value(func(val []byte) error {
				return record.Unmarshal(val)
			})
			if err != nil {
				return err
			}
			if err := s.cache.SetRecord(&record); err != nil {
				return err
			}
		}
		return nil
	})
}

func recordKey(hex string) []byte {
	return []byte(fmt.Sprintf("%s_%s", recordPrefix, hex))
}

// GetRecord returns the record identified by its hex hash, checking the cache
// before the database.
func (s *BadgerRecordStore) GetRecord(hex string) (*Record, error) {
	if record, err := s.cache.GetRecord(hex); err == nil {
		return record, nil
	}
	return s.dbGetRecord(hex)
}

// SetRecord stores a record in the cache and in the database.
func (s *BadgerRecordStore) SetRecord(record *Record) error {
	if err := s.cache.SetRecord(record); err != nil {
		return err
	}
	return s.dbSetRecord(record)
}

// HasRecord reports whether the store holds a record with the given hash.
func (s *BadgerRecordStore) HasRecord(hex string) bool {
	if s.cache.HasRecord(hex) {
		return true
	}
	_, err := s.dbGetRecord(hex)
	return err == nil
}

// Close closes the underlying database.
func (s *BadgerRecordStore) Close() error {
	return s.db.Close()
}

// StorePath returns the path of the underlying database.
func (s *BadgerRecordStore) StorePath() string {
	return s.path
}

/* DB Methods */

func (s *BadgerRecordStore) dbGetRecord(hex string) (*Record, error) {
	var record Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(hex))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return record.Unmarshal(val)
		})
	})

	if err != nil {
		return nil, cm.NewStoreErr("RecordStore", cm.KeyNotFound, hex)
	}

	return &record, nil
}

func (s *BadgerRecordStore) dbSetRecord(record *Record) error {
	val, err := record.Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(record.Hex()), val)
	})
}
