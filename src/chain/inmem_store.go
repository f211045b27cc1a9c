package chain

import (
	"sync"

	cm "github.com/chainmesh/chainmesh/src/common"
)

// InmemRecordStore implements RecordStore with a plain map. It loses
// everything on restart; the gossip layer re-fetches lost records from peers.
type InmemRecordStore struct {
	sync.RWMutex
	records map[string]*Record
}

// NewInmemRecordStore instantiates a new InmemRecordStore.
func NewInmemRecordStore() *InmemRecordStore {
	return &InmemRecordStore{
		records: make(map[string]*Record),
	}
}

// GetRecord returns the record identified by its hex hash.
func (s *InmemRecordStore) GetRecord(hex string) (*Record, error) {
	s.RLock()
	defer s.RUnlock()

	res, ok := s.records[hex]
	if !ok {
		return nil, cm.NewStoreErr("RecordStore", cm.KeyNotFound, hex)
	}
	return res, nil
}

// SetRecord stores a record under its hex hash. Storing the same record twice
// is a no-op because the key is derived from the content.
func (s *InmemRecordStore) SetRecord(record *Record) error {
	s.Lock()
	defer s.Unlock()

	s.records[record.Hex()] = record

	return nil
}

// HasRecord reports whether the store holds a record with the given hash.
func (s *InmemRecordStore) HasRecord(hex string) bool {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.records[hex]
	return ok
}

// Close implements RecordStore.
func (s *InmemRecordStore) Close() error {
	return nil
}

// StorePath implements RecordStore.
func (s *InmemRecordStore) StorePath() string {
	return ""
}
