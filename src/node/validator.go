package node

import (
	"crypto/ecdsa"

	"github.com/chainmesh/chainmesh/src/common"
	"github.com/chainmesh/chainmesh/src/crypto/keys"
)

// Validator is the local member identity: the key pair that signs the node's
// own records, and a moniker for logs.
type Validator struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	id     uint32
	pubHex string
}

// NewValidator instantiates a Validator.
func NewValidator(key *ecdsa.PrivateKey, moniker string) *Validator {
	return &Validator{
		Key:     key,
		Moniker: moniker,
	}
}

// ID returns the validator's unique numeric ID, derived from the public key.
func (v *Validator) ID() uint32 {
	if v.id == 0 {
		v.id = common.Hash32(v.PublicKeyBytes())
	}
	return v.id
}

// PublicKeyBytes returns the validator's public key as a byte slice.
func (v *Validator) PublicKeyBytes() []byte {
	return keys.FromPublicKey(&v.Key.PublicKey)
}

// PublicKeyHex returns the validator's public key as a hex string.
func (v *Validator) PublicKeyHex() string {
	if v.pubHex == "" {
		v.pubHex = common.EncodeToString(v.PublicKeyBytes())
	}
	return v.pubHex
}
