package peers

import (
	"github.com/chainmesh/chainmesh/src/common"
)

// Peer is a member of a community's gossip overlay. It associates a network
// address to the hex representation of the member's public key, which
// identifies the member's personal chain.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string

	id uint32
}

// NewPeer instantiates a new Peer.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	peer := &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}

	return peer
}

// ID returns a stable 32-bit identifier derived from the peer's public key. It
// is used in place of the full public key in gossip messages.
func (p *Peer) ID() uint32 {
	if p.id == 0 {
		pubKeyBytes := p.PubKeyBytes()
		p.id = common.Hash32(pubKeyBytes)
	}
	return p.id
}

// PubKeyString returns the upper-case hex representation of the public key
// with the 0X prefix.
func (p *Peer) PubKeyString() string {
	return p.PubKeyHex
}

// PubKeyBytes returns the byte representation of the peer's public key.
func (p *Peer) PubKeyBytes() []byte {
	res, _ := common.DecodeFromString(p.PubKeyHex)
	return res
}

// ExcludePeer returns a new list of peers excluding the one with the given ID.
func ExcludePeer(peers []*Peer, peerID uint32) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.ID() != peerID {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
