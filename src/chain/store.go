package chain

// RecordStore is a content-addressed store of records, keyed by record hash.
// It is shared by all the chains of a community, so that competing versions
// of the same position coexist without overwriting one another.
type RecordStore interface {
	GetRecord(hex string) (*Record, error)
	SetRecord(record *Record) error
	HasRecord(hex string) bool
	Close() error
	StorePath() string
}
