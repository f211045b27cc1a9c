package peers

import (
	"bytes"
	"encoding/json"

	"github.com/chainmesh/chainmesh/src/common"
	"github.com/chainmesh/chainmesh/src/crypto"
)

// PeerSet is a set of Peers forming a community's gossip overlay.
type PeerSet struct {
	Peers    []*Peer          `json:"peers"`
	ByPubKey map[string]*Peer `json:"-"`
	ByID     map[uint32]*Peer `json:"-"`

	//cached values
	hash []byte
	hex  string
}

/* Constructors */

// NewPeerSet creates a new PeerSet from a list of Peers.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByPubKey: make(map[string]*Peer),
		ByID:     make(map[uint32]*Peer),
	}

	for _, peer := range peers {
		peerSet.ByPubKey[peer.PubKeyString()] = peer
		peerSet.ByID[peer.ID()] = peer
	}

	peerSet.Peers = peers

	return peerSet
}

// WithNewPeer returns a new PeerSet with a list of peers including the new
// one.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := peerSet.Peers

	//don't add it if it already exists
	if _, ok := peerSet.ByID[peer.ID()]; !ok {
		peers = append(peers, peer)
	}

	newPeerSet := NewPeerSet(peers)
	return newPeerSet
}

// WithRemovedPeer returns a new PeerSet with a list of peers excluding the
// provided one.
func (peerSet *PeerSet) WithRemovedPeer(peer *Peer) *PeerSet {
	peers := []*Peer{}
	for _, p := range peerSet.Peers {
		if p.PubKeyHex != peer.PubKeyHex {
			peers = append(peers, p)
		}
	}
	newPeerSet := NewPeerSet(peers)
	return newPeerSet
}

/* ToSlice Methods */

// PubKeys returns the PeerSet's slice of public keys.
func (peerSet *PeerSet) PubKeys() []string {
	res := []string{}

	for _, peer := range peerSet.Peers {
		res = append(res, peer.PubKeyString())
	}

	return res
}

// IDs returns the PeerSet's slice of IDs.
func (peerSet *PeerSet) IDs() []uint32 {
	res := []uint32{}

	for _, peer := range peerSet.Peers {
		res = append(res, peer.ID())
	}

	return res
}

/* Utilities */

// Len returns the number of Peers in the PeerSet.
func (peerSet *PeerSet) Len() int {
	return len(peerSet.ByPubKey)
}

// Hash uniquely identifies a PeerSet. It is computed by hashing (SHA256) the
// public keys together, one by one.
func (peerSet *PeerSet) Hash() ([]byte, error) {
	if len(peerSet.hash) == 0 {
		hash := []byte{}
		for _, p := range peerSet.Peers {
			pk := p.PubKeyBytes()
			hash = crypto.SimpleHashFromTwoHashes(hash, pk)
		}
		peerSet.hash = hash
	}
	return peerSet.hash, nil
}

// Hex is the hexadecimal representation of Hash.
func (peerSet *PeerSet) Hex() string {
	if len(peerSet.hex) == 0 {
		hash, _ := peerSet.Hash()
		peerSet.hex = common.EncodeToString(hash)
	}
	return peerSet.hex
}

// Marshal marshals the peerset.
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
