package chain

import "fmt"

// ValidationErrType enumerates the reasons a record can be rejected outright.
// Sequence gaps and linkage mismatches are deliberately absent: a gap is
// buffered pending state and a mismatch is a fork signal, neither is an error
// returned to the caller.
type ValidationErrType uint32

const (
	// InvalidSignature means the signature does not verify against the owner
	// key. The record is never stored.
	InvalidSignature ValidationErrType = iota
	// PayloadMismatch means the payload hash does not match the payload.
	PayloadMismatch
	// OwnerMismatch means the record was submitted to another owner's chain.
	OwnerMismatch
	// BadIndex means the sequence number is below the genesis index.
	BadIndex
)

// ValidationErr is raised when a record fails the acceptance rules of a chain.
type ValidationErr struct {
	errType ValidationErrType
	key     string
}

// NewValidationErr creates a new ValidationErr for the record identified by
// key.
func NewValidationErr(errType ValidationErrType, key string) ValidationErr {
	return ValidationErr{
		errType: errType,
		key:     key,
	}
}

// Error implements the error interface.
func (e ValidationErr) Error() string {
	m := ""
	switch e.errType {
	case InvalidSignature:
		m = "Invalid Signature"
	case PayloadMismatch:
		m = "Payload Mismatch"
	case OwnerMismatch:
		m = "Owner Mismatch"
	case BadIndex:
		m = "Bad Index"
	}

	return fmt.Sprintf("Record %s, %s", e.key, m)
}

// IsValidation checks that an error is of type ValidationErr and that its code
// matches the provided ValidationErrType.
func IsValidation(err error, t ValidationErrType) bool {
	validationErr, ok := err.(ValidationErr)
	return ok && validationErr.errType == t
}
