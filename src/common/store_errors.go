package common

import "fmt"

// StoreErrType enumerates the reasons a store operation can fail.
type StoreErrType uint32

const (
	// KeyNotFound is returned when a queried item is not in the store.
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists is returned when writing an item that is already there.
	KeyAlreadyExists
	// UnknownParticipant is returned when a chain owner is not known.
	UnknownParticipant
	// Empty is returned when querying an empty store.
	Empty
)

// StoreErr is a typed error raised by backend stores.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a StoreErr for a given data type, error type, and key.
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface.
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case UnknownParticipant:
		m = "Unknown Participant"
	case Empty:
		m = "Empty"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErrType.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
