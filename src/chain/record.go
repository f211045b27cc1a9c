package chain

import (
	"bytes"
	"crypto/ecdsa"

	"github.com/chainmesh/chainmesh/src/common"
	"github.com/chainmesh/chainmesh/src/crypto"
	"github.com/chainmesh/chainmesh/src/crypto/keys"
	"github.com/ugorji/go/codec"
)

// GenesisPrevHash is the sentinel value carried by the first record of a
// personal chain in place of a predecessor hash.
const GenesisPrevHash = ""

/*******************************************************************************
RecordBody
*******************************************************************************/

// RecordBody contains the content of a Record as well as the linkage
// information that ties it to its predecessor in the owner's personal chain.
type RecordBody struct {
	Owner       []byte //owner's public key
	Index       int    //position in the owner's chain, starting at 1
	PrevHash    string //hex hash of the record at Index-1, GenesisPrevHash at Index 1
	Payload     []byte //opaque application content
	PayloadHash string //hex hash of Payload
}

// Marshal returns the canonical JSON encoding of a RecordBody. Canonical
// encoding guarantees that equal bodies hash to equal values on every peer.
func (b *RecordBody) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(buf, jh)

	if err := enc.Encode(b); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal converts a canonical JSON encoded RecordBody to a RecordBody.
func (b *RecordBody) Unmarshal(data []byte) error {
	buf := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(buf, jh)

	return dec.Decode(b)
}

// Hash returns the SHA256 hash of the canonically encoded RecordBody.
func (b *RecordBody) Hash() ([]byte, error) {
	hashBytes, err := b.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(hashBytes), nil
}

// signableBody is the portion of a record covered by the owner's signature.
// The payload itself is bound through PayloadHash.
type signableBody struct {
	Index       int
	PrevHash    string
	PayloadHash string
}

/*******************************************************************************
Record
*******************************************************************************/

// Record is the immutable unit of a personal chain. It contains a RecordBody
// and a signature of (Index, PrevHash, PayloadHash) by the owner of the chain
// (whose public key is set in the RecordBody.Owner byte slice).
type Record struct {
	Body      RecordBody
	Signature string //owner's digital signature

	ownerHex string
	hash     []byte
	hex      string
}

// NewRecord instantiates a new unsigned Record.
func NewRecord(payload []byte, prevHash string, index int, owner []byte) *Record {
	body := RecordBody{
		Owner:       owner,
		Index:       index,
		PrevHash:    prevHash,
		Payload:     payload,
		PayloadHash: common.EncodeToString(crypto.SHA256(payload)),
	}
	return &Record{
		Body: body,
	}
}

// Owner returns the string representation of the owner's public key.
func (r *Record) Owner() string {
	if r.ownerHex == "" {
		r.ownerHex = common.EncodeToString(r.Body.Owner)
	}
	return r.ownerHex
}

// Index returns the Record's position in the owner's chain.
func (r *Record) Index() int {
	return r.Body.Index
}

// Payload returns the Record's application content.
func (r *Record) Payload() []byte {
	return r.Body.Payload
}

// signingHash is the digest covered by the signature.
func (r *Record) signingHash() ([]byte, error) {
	buf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(buf, jh)

	sb := signableBody{
		Index:       r.Body.Index,
		PrevHash:    r.Body.PrevHash,
		PayloadHash: r.Body.PayloadHash,
	}

	if err := enc.Encode(sb); err != nil {
		return nil, err
	}

	return crypto.SHA256(buf.Bytes()), nil
}

// Sign signs the record with an ecdsa signature from the owner's private key.
func (r *Record) Sign(privKey *ecdsa.PrivateKey) error {
	signBytes, err := r.signingHash()
	if err != nil {
		return err
	}

	R, S, err := keys.Sign(privKey, signBytes)
	if err != nil {
		return err
	}

	r.Signature = keys.EncodeSignature(R, S)

	return err
}

// Verify verifies the Record's signature against the owner's public key, and
// checks that PayloadHash matches the Payload.
func (r *Record) Verify() (bool, error) {
	if common.EncodeToString(crypto.SHA256(r.Body.Payload)) != r.Body.PayloadHash {
		return false, nil
	}

	pubKey := keys.ToPublicKey(r.Body.Owner)
	if pubKey == nil {
		return false, nil
	}

	signBytes, err := r.signingHash()
	if err != nil {
		return false, err
	}

	R, S, err := keys.DecodeSignature(r.Signature)
	if err != nil {
		return false, err
	}

	return keys.Verify(pubKey, signBytes, R, S), nil
}

// Hash returns the SHA256 hash of the RecordBody. Two records from the same
// owner claiming the same Index with different PrevHash or PayloadHash hash
// to different values, which is what makes forks detectable.
func (r *Record) Hash() ([]byte, error) {
	if len(r.hash) == 0 {
		hash, err := r.Body.Hash()
		if err != nil {
			return nil, err
		}
		r.hash = hash
	}
	return r.hash, nil
}

// Hex returns the hex string representation of the Record's hash.
func (r *Record) Hex() string {
	if r.hex == "" {
		hash, _ := r.Hash()
		r.hex = common.EncodeToString(hash)
	}
	return r.hex
}

// Marshal returns the canonical JSON encoding of the full Record, signature
// included. This is the storage and wire format.
func (r *Record) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(buf, jh)

	if err := enc.Encode(r); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal converts a canonical JSON encoded Record to a Record.
func (r *Record) Unmarshal(data []byte) error {
	buf := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(buf, jh)

	return dec.Decode(r)
}

// Equals returns true if both records carry the same body and signature.
func (r *Record) Equals(that *Record) bool {
	return bytes.Equal(r.Body.Owner, that.Body.Owner) &&
		r.Body.Index == that.Body.Index &&
		r.Body.PrevHash == that.Body.PrevHash &&
		r.Body.PayloadHash == that.Body.PayloadHash &&
		bytes.Equal(r.Body.Payload, that.Body.Payload) &&
		r.Signature == that.Signature
}
